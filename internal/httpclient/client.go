// Package httpclient performs the node's outbound hops: OCPI calls to
// local platforms, node-to-node messages and liveness probes.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// maxResponseSize bounds a downstream response body.
const maxResponseSize = 16 << 20

// NewHTTPClient builds the shared client. The timeout is the only bound
// on an in-flight forward.
func NewHTTPClient(timeout time.Duration, wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if wrap != nil {
		transport = wrap(transport)
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Call is one outbound OCPI request.
type Call struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Client sends calls and parses OCPI replies.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

func New(c *http.Client, log *zap.Logger) *Client {
	return &Client{http: c, log: log.With(zap.String("component", "httpclient"))}
}

// Do sends call and returns the downstream reply. Transport failures and
// replies that are not OCPI responses are KindUpstream errors.
func (c *Client) Do(ctx context.Context, call Call) (*ocpi.Reply, error) {
	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindServer, "build outbound request", err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(call.Body) > 0 && req.Header.Get(ocpi.HeaderContentType) == "" {
		req.Header.Set(ocpi.HeaderContentType, "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindUpstream, "downstream request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindUpstream, "read downstream response", err)
	}
	c.log.Debug("outbound call",
		zap.String("method", call.Method),
		zap.String("url", call.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	return ocpi.ParseReply(resp.StatusCode, resp.Header, data)
}

// PostMessage sends a serialized request envelope to another node.
func (c *Client) PostMessage(ctx context.Context, nodeURL string, envelope []byte, signature string) (*ocpi.Reply, error) {
	header := http.Header{}
	header.Set(ocpi.HeaderSignature, signature)
	header.Set(ocpi.HeaderContentType, "application/json")
	return c.Do(ctx, Call{
		Method: http.MethodPost,
		URL:    ocpi.JoinURL(nodeURL, "/ocn/message", ""),
		Header: header,
		Body:   envelope,
	})
}

// GetData performs an authorized GET against a platform and decodes the
// data field of a successful OCPI response into out.
func (c *Client) GetData(ctx context.Context, url, token string, out any) error {
	header := http.Header{}
	header.Set(ocpi.HeaderAuthorization, "Token "+token)
	reply, err := c.Do(ctx, Call{Method: http.MethodGet, URL: url, Header: header})
	if err != nil {
		return err
	}
	if reply.HTTPStatus >= http.StatusBadRequest {
		return ocpi.NewError(ocpi.KindUpstream, fmt.Sprintf("%s returned HTTP %d", url, reply.HTTPStatus), nil)
	}
	var env struct {
		StatusCode int             `json:"status_code"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(reply.Body, &env); err != nil {
		return ocpi.NewError(ocpi.KindUpstream, "decode OCPI response", err)
	}
	if env.StatusCode != ocpi.StatusSuccess {
		return ocpi.NewError(ocpi.KindUpstream, fmt.Sprintf("%s returned OCPI status %d", url, env.StatusCode), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return ocpi.NewError(ocpi.KindUpstream, "decode OCPI data", err)
	}
	return nil
}
