package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/httpclient"
	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/registry"
	"github.com/xelth-com/ocnnode/internal/store"
)

// Liveness polls the versions endpoint of every connected or offline
// platform and toggles its status between CONNECTED and OFFLINE.
type Liveness struct {
	store  *store.Store
	client *httpclient.Client
	now    func() time.Time
	log    *zap.Logger
}

func NewLiveness(st *store.Store, client *httpclient.Client, now func() time.Time, log *zap.Logger) *Liveness {
	if now == nil {
		now = time.Now
	}
	return &Liveness{store: st, client: client, now: now, log: log.With(zap.String("task", "liveness"))}
}

// Run probes every platform once. Failing probes are collected into the
// returned error; they never stop the sweep.
func (l *Liveness) Run(ctx context.Context) error {
	platforms, err := l.store.Platforms.List(ctx)
	if err != nil {
		return fmt.Errorf("list platforms: %w", err)
	}

	var errs error
	for _, p := range platforms {
		if p.Status != models.StatusConnected && p.Status != models.StatusOffline {
			continue
		}
		if p.VersionsURL == "" {
			continue
		}
		if err := l.client.GetData(ctx, p.VersionsURL, p.TokenB, nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("platform %d: %w", p.ID, err))
			if p.Status != models.StatusOffline {
				l.log.Info("Platform went offline", zap.Uint("platform_id", p.ID), zap.Error(err))
				if err := l.store.Platforms.SetStatus(ctx, p.ID, models.StatusOffline); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("platform %d: set offline: %w", p.ID, err))
				}
			}
			continue
		}
		if p.Status == models.StatusOffline {
			l.log.Info("Platform back online", zap.Uint("platform_id", p.ID))
		}
		if err := l.store.Platforms.Touch(ctx, p.ID, l.now()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("platform %d: touch: %w", p.ID, err))
		}
	}
	return errs
}

// Discovery keeps the network role records in line with the registry:
// roles assigned to this node without a platform are PLANNED, recorded
// roles that left the registry are SUSPENDED. It sweeps the current
// snapshot; refreshing the registry is a task of its own.
type Discovery struct {
	store    *store.Store
	registry *registry.Holder
	self     registry.Node
	log      *zap.Logger
}

func NewDiscovery(st *store.Store, holder *registry.Holder, self registry.Node, log *zap.Logger) *Discovery {
	return &Discovery{
		store:    st,
		registry: holder,
		self:     self,
		log:      log.With(zap.String("task", "discovery")),
	}
}

func (d *Discovery) Run(ctx context.Context) error {
	var errs error
	snapshot := d.registry.Snapshot()

	planned := 0
	for _, party := range snapshot.Parties() {
		role := party.Role()
		if !snapshot.IsLocalOperator(role, d.self) {
			continue
		}
		_, err := d.store.Platforms.ByRole(ctx, role)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, store.ErrNotFound):
			errs = multierr.Append(errs, fmt.Errorf("look up %s: %w", role, err))
			continue
		}
		if err := d.store.NetworkRoles.Upsert(ctx, role, models.StatusPlanned); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plan %s: %w", role, err))
			continue
		}
		planned++
	}

	records, err := d.store.NetworkRoles.List(ctx)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list network roles: %w", err))
	}
	suspended := 0
	for _, rec := range records {
		if rec.Status == models.StatusSuspended {
			continue
		}
		role := ocpi.NewRole(rec.CountryCode, rec.PartyID)
		if _, err := snapshot.Resolve(role); !errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err := d.store.NetworkRoles.Upsert(ctx, role, models.StatusSuspended); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("suspend %s: %w", role, err))
			continue
		}
		suspended++
	}

	d.log.Debug("Discovery sweep",
		zap.Int("parties", snapshot.Len()),
		zap.Int("planned", planned),
		zap.Int("suspended", suspended))
	return errs
}
