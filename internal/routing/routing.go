// Package routing decides where a request goes and prepares the outbound
// hop: a direct call to a local platform or an enveloped message to the
// node operating the receiver.
package routing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/identity"
	"github.com/xelth-com/ocnnode/internal/metrics"
	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/registry"
	"github.com/xelth-com/ocnnode/internal/store"
)

// Kind is the outcome of classifying a receiver.
type Kind int

const (
	Local Kind = iota + 1
	Remote
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	}
	return "unknown"
}

// Recipient is a classified receiver. Platform is set for Local, Party
// for Remote.
type Recipient struct {
	Kind     Kind
	Platform *models.Platform
	Party    registry.Party
}

// Proxy selects how the path remainder of a request is resolved.
type Proxy int

const (
	// ProxyNone resolves the receiver's declared endpoint.
	ProxyNone Proxy = iota
	// ProxyPage takes a pagination resource; it is consumed.
	ProxyPage
	// ProxyCallback reads a callback resource; it is retained.
	ProxyCallback
)

// Service is the routing service. It reads the registry through the
// holder and never writes to it.
type Service struct {
	store     *store.Store
	registry  *registry.Holder
	signer    *identity.Signer
	publicURL string
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(st *store.Store, reg *registry.Holder, signer *identity.Signer, publicURL string, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		store:     st,
		registry:  reg,
		signer:    signer,
		publicURL: publicURL,
		metrics:   m,
		log:       log.With(zap.String("component", "routing")),
	}
}

// Self identifies this node in the registry.
func (s *Service) Self() registry.Node {
	return registry.Node{Address: s.signer.Address(), URL: s.publicURL}
}

// Registry returns the current registry snapshot.
func (s *Service) Registry() *registry.Snapshot {
	return s.registry.Snapshot()
}

// Classify resolves receiver to a local platform or a remote node. A role
// the registry assigns to this node without a connected platform is
// unknown: sending it over the network would loop back here.
func (s *Service) Classify(ctx context.Context, receiver ocpi.Role) (Recipient, error) {
	p, err := s.store.Platforms.ByRole(ctx, receiver)
	switch {
	case err == nil && p.Reachable():
		return Recipient{Kind: Local, Platform: p}, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return Recipient{}, ocpi.NewError(ocpi.KindServer, "look up receiver platform", err)
	}

	party, err := s.registry.ResolveOrRefresh(ctx, receiver)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return Recipient{}, ocpi.NewError(ocpi.KindUnknownReceiver,
				fmt.Sprintf("receiver %s is not connected to this node or the network", receiver), nil)
		}
		return Recipient{}, ocpi.NewError(ocpi.KindServer, "resolve receiver", err)
	}
	if s.registry.Snapshot().IsLocalOperator(receiver, s.Self()) {
		return Recipient{}, ocpi.NewError(ocpi.KindUnknownReceiver,
			fmt.Sprintf("receiver %s is assigned to this node but not connected", receiver), nil)
	}
	return Recipient{Kind: Remote, Party: party}, nil
}

// ValidateSender checks that token is a platform's inbound token and the
// platform serves sender.
func (s *Service) ValidateSender(ctx context.Context, token string, sender ocpi.Role) (*models.Platform, error) {
	p, err := s.store.Platforms.ByTokenC(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ocpi.NewError(ocpi.KindUnauthorized, "unknown token", nil)
		}
		return nil, ocpi.NewError(ocpi.KindServer, "look up sender platform", err)
	}
	if !p.HasRole(sender) {
		return nil, ocpi.NewError(ocpi.KindUnauthorized,
			fmt.Sprintf("sender %s is not registered with this token", sender), nil)
	}
	return p, nil
}

// ValidateReceiver requires receiver to be a platform connected to this
// node. It guards messages arriving from other nodes.
func (s *Service) ValidateReceiver(ctx context.Context, receiver ocpi.Role) (*models.Platform, error) {
	p, err := s.store.Platforms.ByRole(ctx, receiver)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ocpi.NewError(ocpi.KindUnknownReceiver,
				fmt.Sprintf("receiver %s is not connected to this node", receiver), nil)
		}
		return nil, ocpi.NewError(ocpi.KindServer, "look up receiver platform", err)
	}
	if !p.Reachable() {
		return nil, ocpi.NewError(ocpi.KindUnknownReceiver,
			fmt.Sprintf("receiver %s is %s", receiver, p.Status), nil)
	}
	return p, nil
}

// resolveProxy returns the stored URL for the proxy id carried in the
// path remainder. Unknown ids fail closed.
func (s *Service) resolveProxy(ctx context.Context, req *ocpi.Request, proxy Proxy) (string, error) {
	id := trimID(req.URLPath)
	var (
		res *models.ProxyResource
		err error
	)
	switch proxy {
	case ProxyPage:
		res, err = s.store.Proxies.Take(ctx, id)
	case ProxyCallback:
		res, err = s.store.Proxies.Get(ctx, id)
	default:
		return "", fmt.Errorf("no proxy mode")
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ocpi.NewError(ocpi.KindClient, fmt.Sprintf("unknown resource %q", id), nil)
		}
		return "", ocpi.NewError(ocpi.KindServer, "resolve proxy resource", err)
	}
	return res.Resource, nil
}

// ResolveParty looks role up in the registry, refreshing once on a miss.
func (s *Service) ResolveParty(ctx context.Context, role ocpi.Role) (registry.Party, error) {
	return s.registry.ResolveOrRefresh(ctx, role)
}
