package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// Source fetches the full party list from wherever the registry lives.
type Source interface {
	Fetch(ctx context.Context) ([]Party, error)
}

// StaticSource serves a fixed party list.
type StaticSource []Party

func (s StaticSource) Fetch(context.Context) ([]Party, error) {
	return append([]Party(nil), s...), nil
}

// fetchTimeout bounds a shared registry fetch.
const fetchTimeout = 30 * time.Second

// Holder is the single owner of the current snapshot. Readers get the
// snapshot by reference; a refresh swaps it atomically.
type Holder struct {
	source  Source
	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	misses  *expirable.LRU[string, struct{}]
	log     *zap.Logger
}

// NewHolder creates a holder with an empty snapshot. Unknown roles trigger
// at most one on-demand refresh per missTTL.
func NewHolder(source Source, missTTL time.Duration, log *zap.Logger) *Holder {
	h := &Holder{
		source: source,
		misses: expirable.NewLRU[string, struct{}](4096, nil, missTTL),
		log:    log.With(zap.String("component", "registry")),
	}
	h.current.Store(Empty())
	return h
}

// Snapshot returns the current snapshot.
func (h *Holder) Snapshot() *Snapshot {
	return h.current.Load()
}

// Replace installs a snapshot directly.
func (h *Holder) Replace(s *Snapshot) {
	h.current.Store(s)
	h.misses.Purge()
}

// Refresh fetches a new snapshot. Concurrent callers share one fetch,
// which outlives a caller that gives up waiting.
func (h *Holder) Refresh(ctx context.Context) (*Snapshot, error) {
	ch := h.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		parties, err := h.source.Fetch(fetchCtx)
		if err != nil {
			return nil, fmt.Errorf("fetch registry: %w", err)
		}
		s, err := NewSnapshot(parties, time.Now())
		if err != nil {
			return nil, err
		}
		h.Replace(s)
		h.log.Debug("registry snapshot refreshed", zap.Int("parties", s.Len()))
		return s, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveOrRefresh resolves role, refreshing the snapshot once on a miss.
func (h *Holder) ResolveOrRefresh(ctx context.Context, role ocpi.Role) (Party, error) {
	p, err := h.Snapshot().Resolve(role)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return p, err
	}
	if h.misses.Contains(role.Key()) {
		return Party{}, err
	}
	h.misses.Add(role.Key(), struct{}{})

	s, rerr := h.Refresh(ctx)
	if rerr != nil {
		h.log.Warn("on-demand registry refresh failed", zap.Error(rerr))
		return Party{}, err
	}
	p, err = s.Resolve(role)
	if err != nil {
		// Replace purged the cache; remember the miss again.
		h.misses.Add(role.Key(), struct{}{})
	}
	return p, err
}
