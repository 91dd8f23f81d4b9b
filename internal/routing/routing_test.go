package routing

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/identity"
	"github.com/xelth-com/ocnnode/internal/metrics"
	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/notary"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/registry"
	"github.com/xelth-com/ocnnode/internal/store"
)

const publicURL = "https://node-a.example"

type fixture struct {
	svc      *Service
	store    *store.Store
	self     *identity.Signer
	other    *identity.Signer
	platform *models.Platform
}

var (
	localRole   = ocpi.NewRole("DE", "CPO")
	remoteRole  = ocpi.NewRole("NL", "MSP")
	plannedRole = ocpi.NewRole("DE", "NEW")
	ghostRole   = ocpi.NewRole("FR", "XXX")
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	self, err := identity.GenerateSigner()
	require.NoError(t, err)
	other, err := identity.GenerateSigner()
	require.NoError(t, err)

	st := store.NewMemory()
	p := &models.Platform{Status: models.StatusPlanned}
	require.NoError(t, st.Platforms.Create(ctx, p))
	p.TokenB, p.TokenC, p.Status = "outbound-b", "inbound-c", models.StatusConnected
	require.NoError(t, st.Platforms.Connect(ctx, p,
		[]models.PlatformRole{{CountryCode: localRole.CountryCode, PartyID: localRole.PartyID, Role: "CPO"}},
		[]models.Endpoint{{Identifier: "locations", InterfaceRole: "RECEIVER", URL: "https://x/locations"}},
	))

	holder := registry.NewHolder(registry.StaticSource{
		{CountryCode: "DE", PartyID: "CPO", PartyAddress: "0x01", OperatorAddress: self.Address(), NodeURL: publicURL},
		{CountryCode: "DE", PartyID: "NEW", PartyAddress: "0x02", OperatorAddress: self.Address(), NodeURL: publicURL},
		{CountryCode: "NL", PartyID: "MSP", PartyAddress: "0x03", OperatorAddress: other.Address(), NodeURL: "https://node-b.example"},
	}, time.Minute, zap.NewNop())
	_, err = holder.Refresh(ctx)
	require.NoError(t, err)

	svc := New(st, holder, self, publicURL, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	return &fixture{svc: svc, store: st, self: self, other: other, platform: p}
}

func request(receiver ocpi.Role) *ocpi.Request {
	return &ocpi.Request{
		Module:        ocpi.ModuleLocations,
		InterfaceRole: ocpi.InterfaceReceiver,
		Method:        http.MethodGet,
		URLPath:       "/loc1",
		Headers: ocpi.Headers{
			Authorization: "Token inbound-c",
			RequestID:     "req-1",
			CorrelationID: "corr-1",
			Sender:        localRole,
			Receiver:      receiver,
		},
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 3 {
		r, err := f.svc.Classify(ctx, ocpi.NewRole("de", "cpo"))
		require.NoError(t, err)
		assert.Equal(t, Local, r.Kind)
		assert.Equal(t, f.platform.ID, r.Platform.ID)

		r, err = f.svc.Classify(ctx, remoteRole)
		require.NoError(t, err)
		assert.Equal(t, Remote, r.Kind)
		assert.Equal(t, "https://node-b.example", r.Party.NodeURL)

		_, err = f.svc.Classify(ctx, ghostRole)
		assert.Equal(t, ocpi.KindUnknownReceiver, ocpi.KindOf(err))

		_, err = f.svc.Classify(ctx, plannedRole)
		assert.Equal(t, ocpi.KindUnknownReceiver, ocpi.KindOf(err), "a role assigned to this node is never sent over the network")
	}
}

func TestClassifySkipsSuspendedPlatform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Platforms.SetStatus(ctx, f.platform.ID, models.StatusSuspended))

	_, err := f.svc.Classify(ctx, localRole)
	assert.Equal(t, ocpi.KindUnknownReceiver, ocpi.KindOf(err))
}

func TestValidateSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.ValidateSender(ctx, "inbound-c", localRole)
	require.NoError(t, err)
	assert.Equal(t, f.platform.ID, p.ID)

	_, err = f.svc.ValidateSender(ctx, "outbound-b", localRole)
	assert.Equal(t, ocpi.KindUnauthorized, ocpi.KindOf(err))

	_, err = f.svc.ValidateSender(ctx, "inbound-c", remoteRole)
	assert.Equal(t, ocpi.KindUnauthorized, ocpi.KindOf(err))
}

func TestPrepareLocalRegeneratesHopHeaders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.PrepareLocal(ctx, request(localRole), ProxyNone, f.platform)
	require.NoError(t, err)
	assert.Equal(t, "https://x/locations/loc1", d.Call.URL)
	assert.Equal(t, "Token outbound-b", d.Call.Header.Get(ocpi.HeaderAuthorization))
	assert.NotEqual(t, "req-1", d.Call.Header.Get(ocpi.HeaderRequestID))
	assert.NotEmpty(t, d.Call.Header.Get(ocpi.HeaderRequestID))
	assert.Equal(t, "corr-1", d.Call.Header.Get(ocpi.HeaderCorrelationID))

	req := request(localRole)
	req.InterfaceRole = ocpi.InterfaceSender
	_, err = f.svc.PrepareLocal(ctx, req, ProxyNone, f.platform)
	assert.Equal(t, ocpi.KindClient, ocpi.KindOf(err))
}

func TestPrepareLocalProxied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.PutProxy(ctx, &models.ProxyResource{Resource: "https://owner/next?offset=10", Kind: models.ProxyPage}, remoteRole, localRole)
	require.NoError(t, err)

	req := request(localRole)
	req.URLPath = id
	d, err := f.svc.PrepareLocal(ctx, req, ProxyPage, f.platform)
	require.NoError(t, err)
	assert.Equal(t, "https://owner/next?offset=10", d.Call.URL)

	_, err = f.svc.PrepareLocal(ctx, req, ProxyPage, f.platform)
	assert.Equal(t, ocpi.KindClient, ocpi.KindOf(err), "page ids are consumed")

	carried := request(localRole)
	carried.Proxied = true
	carried.ProxyResource = "https://emsp/cb/7"
	d, err = f.svc.PrepareLocal(ctx, carried, ProxyNone, f.platform)
	require.NoError(t, err)
	assert.Equal(t, "https://emsp/cb/7", d.Call.URL)
}

func TestPrepareRemoteSignsMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.PrepareRemote(ctx, request(remoteRole), ProxyNone, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://node-b.example", d.Party.NodeURL)
	assert.NotContains(t, string(d.Body), "inbound-c")

	require.NoError(t, f.svc.VerifyMessage(ctx, d.Body, d.Signature, localRole))

	tampered := strings.Replace(string(d.Body), "loc1", "loc2", 1)
	err = f.svc.VerifyMessage(ctx, []byte(tampered), d.Signature, localRole)
	assert.Equal(t, ocpi.KindSignature, ocpi.KindOf(err))

	err = f.svc.VerifyMessage(ctx, d.Body, d.Signature, remoteRole)
	assert.Equal(t, ocpi.KindSignature, ocpi.KindOf(err), "signature must come from the sender's operator")
}

func TestPrepareRemoteRewriteKeepsSignatureValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender, err := identity.GenerateSigner()
	require.NoError(t, err)

	req := request(remoteRole)
	req.Module = ocpi.ModuleCommands
	req.Method = http.MethodPost
	req.Body = []byte(`{"response_url":"https://sender/cb","location_id":"L1"}`)
	signable, err := req.Signable()
	require.NoError(t, err)
	env, err := notary.Sign(signable, sender)
	require.NoError(t, err)
	req.Headers.Signature, err = env.Encode()
	require.NoError(t, err)

	d, err := f.svc.PrepareRemote(ctx, req, ProxyNone, func(nodeURL string) (*Rewrite, error) {
		return BodyFieldRewrite("response_url", nodeURL+"/cb/1"), nil
	})
	require.NoError(t, err)

	got, ok := ocpi.BodyField(d.Request.Body, "response_url")
	require.True(t, ok)
	assert.Equal(t, "https://node-b.example/cb/1", got)

	outEnv, err := notary.Decode(d.Request.Headers.Signature)
	require.NoError(t, err)
	outSignable, err := d.Request.Signable()
	require.NoError(t, err)
	v, err := outEnv.Verify(outSignable)
	require.NoError(t, err)
	assert.True(t, identity.SameAddress(sender.Address(), v.Original))
	assert.True(t, identity.SameAddress(f.self.Address(), v.Signatory))

	assert.Contains(t, string(req.Body), "https://sender/cb", "the caller's request is not mutated")
}

func TestApplyRewriteUnsigned(t *testing.T) {
	f := newFixture(t)
	req := request(localRole)
	require.NoError(t, f.svc.ApplyRewrite(req, ReceiverRewrite(remoteRole)))
	assert.Equal(t, remoteRole, req.Headers.Receiver)
	assert.Empty(t, req.Headers.Signature)
}

func TestApplyRewriteWithoutChangeKeepsSenderSignature(t *testing.T) {
	f := newFixture(t)
	sender, err := identity.GenerateSigner()
	require.NoError(t, err)

	req := request(remoteRole)
	signable, err := req.Signable()
	require.NoError(t, err)
	env, err := notary.Sign(signable, sender)
	require.NoError(t, err)
	req.Headers.Signature, err = env.Encode()
	require.NoError(t, err)
	signature := req.Headers.Signature

	require.NoError(t, f.svc.ApplyRewrite(req, ReceiverRewrite(remoteRole)))
	assert.Equal(t, signature, req.Headers.Signature)

	outEnv, err := notary.Decode(req.Headers.Signature)
	require.NoError(t, err)
	assert.Empty(t, outEnv.Rewrites)
	outSignable, err := req.Signable()
	require.NoError(t, err)
	v, err := outEnv.Verify(outSignable)
	require.NoError(t, err)
	assert.True(t, identity.SameAddress(sender.Address(), v.Original))
	assert.True(t, identity.SameAddress(sender.Address(), v.Signatory))
}

func TestPutProxyRejectsTakenID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.PutProxy(ctx, &models.ProxyResource{ID: "cb-1", Resource: "https://sender/cb", Kind: models.ProxyCallback}, localRole, remoteRole)
	require.NoError(t, err)
	assert.Equal(t, "cb-1", id)

	_, err = f.svc.PutProxy(ctx, &models.ProxyResource{ID: "cb-1", Resource: "https://other/cb", Kind: models.ProxyCallback}, localRole, remoteRole)
	require.Error(t, err)
	assert.Equal(t, ocpi.KindClient, ocpi.AsError(err).Kind)

	res, err := f.store.Proxies.Get(ctx, "cb-1")
	require.NoError(t, err)
	assert.Equal(t, "https://sender/cb", res.Resource)
}

func TestProxyPaginationHeadersNextRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := request(localRole)

	tests := []struct {
		link    string
		proxied bool
	}{
		{`<https://owner/p2>; rel="next"`, true},
		{`<https://owner/p2>; rel=next`, true},
		{`<https://owner/p2>; rel="next"; title="more"`, true},
		{`<https://owner/p2>; rel=nextpage`, false},
		{`<https://owner/p2>; rel="nextpage"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			h := http.Header{}
			h.Set(ocpi.HeaderLink, tt.link)
			out, err := f.svc.ProxyPaginationHeaders(ctx, h, req)
			require.NoError(t, err)
			if tt.proxied {
				assert.True(t, strings.HasPrefix(out.Get(ocpi.HeaderLink), "<"+publicURL), out.Get(ocpi.HeaderLink))
			} else {
				assert.Empty(t, out.Get(ocpi.HeaderLink))
			}
		})
	}
}

func TestProxyPaginationHeaders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h := http.Header{}
	h.Set(ocpi.HeaderLink, `<https://owner/next?offset=50>; rel="next"`)
	h.Set(ocpi.HeaderTotalCount, "120")
	h.Set(ocpi.HeaderLimit, "50")

	req := request(localRole)
	out, err := f.svc.ProxyPaginationHeaders(ctx, h, req)
	require.NoError(t, err)
	assert.Equal(t, "120", out.Get(ocpi.HeaderTotalCount))
	assert.Equal(t, "50", out.Get(ocpi.HeaderLimit))

	link := out.Get(ocpi.HeaderLink)
	prefix := "<" + publicURL + "/ocpi/receiver/2.2/locations/page/"
	require.True(t, strings.HasPrefix(link, prefix), link)
	id := strings.TrimSuffix(strings.TrimPrefix(link, prefix), `>; rel="next"`)

	res, err := f.store.Proxies.Take(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://owner/next?offset=50", res.Resource)
	assert.Equal(t, "DE", res.SenderCountryCode)

	none, err := f.svc.ProxyPaginationHeaders(ctx, http.Header{}, req)
	require.NoError(t, err)
	assert.Empty(t, none.Get(ocpi.HeaderLink))
}

func TestCallbackURLUsesOppositeInterface(t *testing.T) {
	f := newFixture(t)
	req := request(localRole)
	req.Module = ocpi.ModuleCommands
	assert.Equal(t, publicURL+"/ocpi/sender/2.2/commands/callback/abc", f.svc.CallbackURL(req, "abc"))

	req.Custom = true
	req.Module = "parking"
	assert.Equal(t, publicURL+"/ocpi/custom/sender/parking/callback/abc", f.svc.CallbackURL(req, "abc"))
}
