package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/events"
	"github.com/xelth-com/ocnnode/internal/httpclient"
	"github.com/xelth-com/ocnnode/internal/identity"
	"github.com/xelth-com/ocnnode/internal/metrics"
	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/notary"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/registry"
	"github.com/xelth-com/ocnnode/internal/routing"
	"github.com/xelth-com/ocnnode/internal/store"
	"github.com/xelth-com/ocnnode/internal/worker"
)

// node is one running OCN node: its /ocn/message endpoint is served by
// an httptest server.
type node struct {
	url     string
	signer  *identity.Signer
	store   *store.Store
	routing *routing.Service
	engine  *Engine
	events  *recorder
}

func startNode(t *testing.T) *node {
	t.Helper()
	signer, err := identity.GenerateSigner()
	require.NoError(t, err)
	n := &node{signer: signer, store: store.NewMemory(), events: &recorder{}}
	srv := httptest.NewServer(http.HandlerFunc(n.serveMessage))
	t.Cleanup(srv.Close)
	n.url = srv.URL
	return n
}

func (n *node) build(t *testing.T, parties []registry.Party, cfg Config) {
	t.Helper()
	holder := registry.NewHolder(registry.StaticSource(parties), time.Minute, zap.NewNop())
	_, err := holder.Refresh(context.Background())
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	n.routing = routing.New(n.store, holder, n.signer, n.url, m, zap.NewNop())
	pool := worker.New(2, 32, m, zap.NewNop())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	client := httpclient.New(httpclient.NewHTTPClient(5*time.Second, nil), zap.NewNop())
	n.engine = New(cfg, n.routing, n.store, client, pool, n.events, m, zap.NewNop())
}

func (n *node) serveMessage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	reply, err := n.engine.ForwardFromOcn(r.Context(), body, r.Header.Get(ocpi.HeaderSignature))
	if err != nil {
		e := ocpi.AsError(err)
		w.Header().Set(ocpi.HeaderContentType, "application/json")
		w.WriteHeader(e.HTTPStatus())
		_ = json.NewEncoder(w).Encode(map[string]any{"status_code": e.StatusCode(), "status_message": e.Error()})
		return
	}
	for k := range reply.Headers {
		w.Header().Set(k, reply.Headers.Get(k))
	}
	w.WriteHeader(reply.HTTPStatus)
	_, _ = w.Write(reply.Body)
}

func (n *node) party(role ocpi.Role, partyAddress string) registry.Party {
	return registry.Party{
		CountryCode:     role.CountryCode,
		PartyID:         role.PartyID,
		PartyAddress:    partyAddress,
		OperatorAddress: n.signer.Address(),
		NodeURL:         n.url,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// platform is a stub OCPI platform recording every call it receives.
type platform struct {
	srv   *httptest.Server
	mu    sync.Mutex
	calls []recorded
}

func newPlatform(t *testing.T, respond http.HandlerFunc) *platform {
	t.Helper()
	p := &platform{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.calls = append(p.calls, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: body})
		p.mu.Unlock()
		if respond != nil {
			respond(w, r)
			return
		}
		w.Header().Set(ocpi.HeaderContentType, "application/json")
		_, _ = w.Write([]byte(`{"status_code":1000,"data":{}}`))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *platform) Calls() []recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recorded(nil), p.calls...)
}

func (p *platform) URL(path string) string {
	return p.srv.URL + path
}

func connect(t *testing.T, st *store.Store, role ocpi.Role, tokenB, tokenC string, endpoints ...models.Endpoint) *models.Platform {
	t.Helper()
	ctx := context.Background()
	p := &models.Platform{Status: models.StatusPlanned}
	require.NoError(t, st.Platforms.Create(ctx, p))
	p.TokenB, p.TokenC, p.Status = tokenB, tokenC, models.StatusConnected
	require.NoError(t, st.Platforms.Connect(ctx, p,
		[]models.PlatformRole{{CountryCode: role.CountryCode, PartyID: role.PartyID}}, endpoints))
	return p
}

func endpoint(module ocpi.ModuleID, iface ocpi.InterfaceRole, url string) models.Endpoint {
	return models.Endpoint{Identifier: string(module), InterfaceRole: string(iface), URL: url}
}

func newRequest(module ocpi.ModuleID, iface ocpi.InterfaceRole, method, path string, sender, receiver ocpi.Role, token string) *ocpi.Request {
	return &ocpi.Request{
		Module:        module,
		InterfaceRole: iface,
		Method:        method,
		URLPath:       path,
		Headers: ocpi.Headers{
			Authorization: "Token " + token,
			RequestID:     "req-1",
			CorrelationID: "corr-1",
			Sender:        sender,
			Receiver:      receiver,
		},
	}
}

func sign(t *testing.T, req *ocpi.Request, signer *identity.Signer) {
	t.Helper()
	msg, err := req.Signable()
	require.NoError(t, err)
	env, err := notary.Sign(msg, signer)
	require.NoError(t, err)
	req.Headers.Signature, err = env.Encode()
	require.NoError(t, err)
}
