// Package forwarder is the request forwarding engine. Every entry point
// walks the same states and stops at the first failure:
//
//	Received → SenderValidated → AuthorizationChecked → SignatureVerified
//	→ Routed → Dispatched → ResponseRelayed
package forwarder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/events"
	"github.com/xelth-com/ocnnode/internal/httpclient"
	"github.com/xelth-com/ocnnode/internal/metrics"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/routing"
	"github.com/xelth-com/ocnnode/internal/store"
	"github.com/xelth-com/ocnnode/internal/worker"
)

// State is a step of the forwarding state machine.
type State string

const (
	Received             State = "Received"
	SenderValidated      State = "SenderValidated"
	AuthorizationChecked State = "AuthorizationChecked"
	SignatureVerified    State = "SignatureVerified"
	Routed               State = "Routed"
	Dispatched           State = "Dispatched"
	ResponseRelayed      State = "ResponseRelayed"
)

// Publisher receives an event for every relayed message.
type Publisher interface {
	Publish(ev events.Event) bool
}

// Config holds the node-wide forwarding policy.
type Config struct {
	// SignaturesRequired makes a message signature mandatory on every
	// request, whatever the receiver asks for.
	SignaturesRequired bool
}

// Engine forwards requests between platforms and nodes.
type Engine struct {
	cfg       Config
	routing   *routing.Service
	store     *store.Store
	client    *httpclient.Client
	pool      *worker.Pool
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	log       *zap.Logger
}

func New(cfg Config, r *routing.Service, st *store.Store, client *httpclient.Client, pool *worker.Pool, pub Publisher, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		routing:   r,
		store:     st,
		client:    client,
		pool:      pool,
		publisher: pub,
		metrics:   m,
		now:       time.Now,
		log:       log.With(zap.String("component", "forwarder")),
	}
}

// flow tracks one request through the state machine.
type flow struct {
	entry   string
	state   State
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (e *Engine) begin(entry string, req *ocpi.Request) *flow {
	f := &flow{
		entry: entry,
		log: e.log.With(
			zap.String("entry", entry),
			zap.String("correlation_id", req.Headers.CorrelationID),
			zap.String("module", string(req.Module)),
			zap.String("interface", string(req.InterfaceRole)),
			zap.Stringer("sender", req.Headers.Sender),
			zap.Stringer("receiver", req.Headers.Receiver),
		),
		metrics: e.metrics,
	}
	f.to(Received)
	return f
}

func (f *flow) to(s State) {
	f.state = s
	f.log.Debug("forwarding state", zap.String("state", string(s)))
}

// fail logs err at the current state and returns it unchanged.
func (f *flow) fail(err error) error {
	kind := ocpi.KindOf(err)
	f.log.Info("forwarding failed",
		zap.String("state", string(f.state)),
		zap.Stringer("kind", kind),
		zap.Error(err))
	if f.metrics != nil {
		f.metrics.ForwardFailures.WithLabelValues(kind.String()).Inc()
	}
	return err
}

func (f *flow) done(kind routing.Kind, module ocpi.ModuleID) {
	f.to(ResponseRelayed)
	if f.metrics != nil {
		f.metrics.Forwarded.WithLabelValues(f.entry, kind.String(), string(module)).Inc()
	}
}

// send performs the prepared hop.
func (e *Engine) send(ctx context.Context, hop *hop) (*ocpi.Reply, error) {
	if hop.local != nil {
		return e.client.Do(ctx, hop.local.Call)
	}
	return e.client.PostMessage(ctx, hop.remote.Party.NodeURL, hop.remote.Body, hop.remote.Signature)
}

// hop is a prepared outbound call, exactly one field is set.
type hop struct {
	local  *routing.LocalDispatch
	remote *routing.RemoteDispatch
}
