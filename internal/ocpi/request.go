package ocpi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"
)

// Headers is the routing header set of a request. Authorization is
// hop-scoped and never serialized into a node-to-node envelope.
type Headers struct {
	Authorization string `json:"-"`
	Signature     string `json:"signature,omitempty"`
	RequestID     string `json:"requestID"`
	CorrelationID string `json:"correlationID"`
	Sender        Role   `json:"sender"`
	Receiver      Role   `json:"receiver"`
}

// Request is the canonical in-flight representation of an OCPI call. It is
// the unit signed by the notary and the body of a node-to-node message.
type Request struct {
	Module        ModuleID          `json:"module"`
	Custom        bool              `json:"customModule,omitempty"`
	InterfaceRole InterfaceRole     `json:"interfaceRole"`
	Method        string            `json:"method"`
	Headers       Headers           `json:"headers"`
	URLPath       string            `json:"urlPath,omitempty"`
	Query         map[string]string `json:"queries,omitempty"`
	Body          json.RawMessage   `json:"body,omitempty"`

	// ProxyUID and ProxyResource ask the receiving node to register a
	// callback indirection under the given id.
	ProxyUID      string `json:"proxyUID,omitempty"`
	ProxyResource string `json:"proxyResource,omitempty"`
	// Proxied marks ProxyResource as an already resolved destination URL.
	Proxied bool `json:"proxied,omitempty"`
}

// Clone returns a deep copy safe to mutate.
func (r *Request) Clone() *Request {
	c := *r
	if r.Query != nil {
		c.Query = maps.Clone(r.Query)
	}
	if r.Body != nil {
		c.Body = bytes.Clone(r.Body)
	}
	return &c
}

// Behaviour returns the module table entry for this request.
func (r *Request) Behaviour() Behaviour {
	return BehaviourOf(r.Module, r.InterfaceRole, r.Custom)
}

// Encode serializes the request for a node-to-node message.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses a node-to-node message body.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request envelope: %w", err)
	}
	return &req, nil
}

type signableHeaders struct {
	CorrelationID   string `json:"x-correlation-id,omitempty"`
	FromCountryCode string `json:"ocpi-from-country-code,omitempty"`
	FromPartyID     string `json:"ocpi-from-party-id,omitempty"`
	ToCountryCode   string `json:"ocpi-to-country-code,omitempty"`
	ToPartyID       string `json:"ocpi-to-party-id,omitempty"`
}

type signable struct {
	Headers signableHeaders   `json:"headers"`
	Params  map[string]string `json:"params,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Signable returns the JSON view the notary signs: correlation and role
// headers, query parameters and body. Request ids and tokens change on every
// hop and are left out.
func (r *Request) Signable() ([]byte, error) {
	v := signable{
		Headers: signableHeaders{
			CorrelationID:   r.Headers.CorrelationID,
			FromCountryCode: r.Headers.Sender.CountryCode,
			FromPartyID:     r.Headers.Sender.PartyID,
			ToCountryCode:   r.Headers.Receiver.CountryCode,
			ToPartyID:       r.Headers.Receiver.PartyID,
		},
		Params: r.Query,
	}
	if len(bytes.TrimSpace(r.Body)) > 0 {
		v.Body = r.Body
	}
	return json.Marshal(v)
}

// QueryString encodes Query as a URL query.
func (r *Request) QueryString() string {
	if len(r.Query) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range r.Query {
		values.Set(k, v)
	}
	return values.Encode()
}

// JoinURL appends a path remainder and query to a base URL.
func JoinURL(base, path, query string) string {
	u := strings.TrimRight(base, "/")
	if p := strings.Trim(path, "/"); p != "" {
		u += "/" + p
	}
	if query != "" {
		u += "?" + query
	}
	return u
}

// BodyField reads a top-level string field of a JSON object body.
func BodyField(body json.RawMessage, field string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[field]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// SetBodyField replaces a top-level string field of a JSON object body.
// Numbers keep their literal form so unrelated signed values are unchanged.
func SetBodyField(body json.RawMessage, field, value string) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("body is not a JSON object")
	}
	obj[field] = value
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return out, nil
}
