package ocpi

import (
	"encoding/json"
	"net/http"
	"time"
)

// OCPI status codes used by the node.
const (
	StatusSuccess              = 1000
	StatusClientError          = 2001
	StatusInvalidParameters    = 2002
	StatusNotEnoughInformation = 2003
	StatusServerError          = 3001
	StatusUnusableAPI          = 3002
	StatusUnknownReceiver      = 4001
	StatusForwardTimeout       = 4002
	StatusConnectionProblem    = 4003
)

// Response is the OCPI response envelope.
type Response struct {
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// Timestamp formats t the way OCPI expects.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// NewResponse builds a response envelope around data.
func NewResponse(statusCode int, message string, data any) (*Response, error) {
	resp := &Response{
		StatusCode:    statusCode,
		StatusMessage: message,
		Timestamp:     Timestamp(time.Now()),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		resp.Data = raw
	}
	return resp, nil
}

// Reply is a downstream response relayed to the original caller.
type Reply struct {
	HTTPStatus int
	Headers    http.Header
	Body       json.RawMessage
}

// ParseReply validates a downstream body as an OCPI response.
func ParseReply(status int, headers http.Header, body []byte) (*Reply, error) {
	var probe struct {
		StatusCode *int `json:"status_code"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, NewError(KindUpstream, "downstream returned a non-OCPI body", err)
	}
	if probe.StatusCode == nil {
		return nil, NewError(KindUpstream, "downstream response has no status_code", nil)
	}
	relayed := http.Header{}
	for _, h := range RelayedHeaders {
		if v := headers.Get(h); v != "" {
			relayed.Set(h, v)
		}
	}
	return &Reply{HTTPStatus: status, Headers: relayed, Body: json.RawMessage(body)}, nil
}
