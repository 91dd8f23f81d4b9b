package ocpi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleEqualityIsCaseInsensitive(t *testing.T) {
	a := NewRole("de", "abc")
	b := NewRole("DE", "ABC")

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "DE-ABC", a.Key())
	assert.False(t, a.Equal(NewRole("NL", "ABC")))
}

func TestRoleValidate(t *testing.T) {
	require.NoError(t, NewRole("DE", "ABC").Validate())
	assert.Error(t, NewRole("DEU", "ABC").Validate())
	assert.Error(t, NewRole("DE", "AB").Validate())
}

func TestBehaviourOf(t *testing.T) {
	assert.Equal(t, "response_url", BehaviourOf(ModuleCommands, InterfaceReceiver, false).CallbackField)
	assert.Empty(t, BehaviourOf(ModuleCommands, InterfaceSender, false).CallbackField)
	assert.True(t, BehaviourOf(ModuleLocations, InterfaceSender, false).Forwardable)
	assert.False(t, BehaviourOf(ModuleCredentials, InterfaceSender, false).Forwardable)
	assert.False(t, BehaviourOf("parking", InterfaceSender, false).Forwardable)
	assert.True(t, BehaviourOf("parking", InterfaceSender, true).Forwardable)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://x/locations/loc1", JoinURL("https://x/locations", "/loc1", ""))
	assert.Equal(t, "https://x/locations/loc1", JoinURL("https://x/locations/", "loc1", ""))
	assert.Equal(t, "https://x/locations?limit=10", JoinURL("https://x/locations", "", "limit=10"))
}

func TestSetBodyFieldKeepsNumbers(t *testing.T) {
	body := json.RawMessage(`{"response_url":"https://sender/cb","power":11.10,"nested":{"a":1}}`)

	out, err := SetBodyField(body, "response_url", "https://node/cb/1")
	require.NoError(t, err)

	got, ok := BodyField(out, "response_url")
	require.True(t, ok)
	assert.Equal(t, "https://node/cb/1", got)
	assert.Contains(t, string(out), `"power":11.10`)

	_, err = SetBodyField(json.RawMessage(`[1,2]`), "response_url", "x")
	assert.Error(t, err)
}

func TestSignableExcludesHopScopedHeaders(t *testing.T) {
	req := &Request{
		Module:        ModuleLocations,
		InterfaceRole: InterfaceReceiver,
		Method:        http.MethodGet,
		Headers: Headers{
			Authorization: "Token secret",
			RequestID:     "req-1",
			CorrelationID: "corr-1",
			Sender:        NewRole("DE", "AAA"),
			Receiver:      NewRole("NL", "BBB"),
		},
		Query: map[string]string{"limit": "10"},
	}

	data, err := req.Signable()
	require.NoError(t, err)

	assert.NotContains(t, string(data), "secret")
	assert.NotContains(t, string(data), "req-1")
	assert.Contains(t, string(data), `"ocpi-to-party-id":"BBB"`)
	assert.Contains(t, string(data), `"params":{"limit":"10"}`)
}

func TestRequestEncodingOmitsAuthorization(t *testing.T) {
	req := &Request{
		Module:        ModuleSessions,
		InterfaceRole: InterfaceSender,
		Method:        http.MethodGet,
		Headers: Headers{
			Authorization: "Token secret",
			RequestID:     "req-1",
			CorrelationID: "corr-1",
			Sender:        NewRole("DE", "AAA"),
			Receiver:      NewRole("NL", "BBB"),
		},
	}
	data, err := req.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	require.NoError(t, ValidateEnvelope(data))

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.Headers.Receiver, decoded.Headers.Receiver)
	assert.Empty(t, decoded.Headers.Authorization)
}

func TestValidateEnvelopeRejectsMissingHeaders(t *testing.T) {
	err := ValidateEnvelope([]byte(`{"module":"locations","interfaceRole":"SENDER","method":"GET"}`))
	assert.Error(t, err)

	err = ValidateEnvelope([]byte(`{"module":"locations","interfaceRole":"BOTH","method":"GET","headers":{}}`))
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	headers := http.Header{}
	headers.Set(HeaderLink, `<https://owner/next>; rel="next"`)
	headers.Set("Server", "nginx")

	reply, err := ParseReply(200, headers, []byte(`{"status_code":1000,"data":[]}`))
	require.NoError(t, err)
	assert.Equal(t, `<https://owner/next>; rel="next"`, reply.Headers.Get(HeaderLink))
	assert.Empty(t, reply.Headers.Get("Server"))

	_, err = ParseReply(200, headers, []byte(`<html>`))
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))

	_, err = ParseReply(200, headers, []byte(`{"data":[]}`))
	assert.Equal(t, KindUpstream, KindOf(err))
}

func TestErrorMapping(t *testing.T) {
	err := NewError(KindUnknownReceiver, "receiver not found", nil)
	assert.Equal(t, StatusUnknownReceiver, err.StatusCode())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())

	err = NewError(KindUpstream, "bad gateway", nil)
	assert.Equal(t, StatusUnusableAPI, err.StatusCode())
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())

	assert.Equal(t, KindServer, AsError(assert.AnError).Kind)
}
