package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// NewMemory returns repositories held in process memory. Records are
// copied on the way in and out so callers never share state.
func NewMemory() *Store {
	return &Store{
		Platforms:    &memPlatforms{platforms: map[uint]*models.Platform{}},
		NetworkRoles: &memNetworkRoles{roles: map[string]models.NetworkRole{}},
		Proxies:      &memProxies{resources: map[string]models.ProxyResource{}},
	}
}

type memPlatforms struct {
	mu        sync.RWMutex
	nextID    uint
	platforms map[uint]*models.Platform
}

func clonePlatform(p *models.Platform) *models.Platform {
	c := *p
	c.Roles = slices.Clone(p.Roles)
	c.Endpoints = slices.Clone(p.Endpoints)
	c.Rules = slices.Clone(p.Rules)
	c.Grants = slices.Clone(p.Grants)
	return &c
}

// view is what lookups return: endpoints are fetched separately.
func view(p *models.Platform) *models.Platform {
	c := clonePlatform(p)
	c.Endpoints = nil
	return c
}

func (s *memPlatforms) Create(_ context.Context, p *models.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalizeRoles(p.Roles)
	s.nextID++
	now := time.Now()
	p.ID = s.nextID
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = models.StatusPlanned
	}
	s.platforms[p.ID] = clonePlatform(p)
	return nil
}

func (s *memPlatforms) ByID(_ context.Context, id uint) (*models.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.platforms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return view(p), nil
}

func (s *memPlatforms) find(match func(*models.Platform) bool) (*models.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.sortedIDs() {
		if p := s.platforms[id]; match(p) {
			return view(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memPlatforms) sortedIDs() []uint {
	ids := make([]uint, 0, len(s.platforms))
	for id := range s.platforms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *memPlatforms) ByTokenA(_ context.Context, token string) (*models.Platform, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.find(func(p *models.Platform) bool { return p.TokenA == token })
}

func (s *memPlatforms) ByTokenC(_ context.Context, token string) (*models.Platform, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.find(func(p *models.Platform) bool { return p.TokenC == token })
}

func (s *memPlatforms) ByRole(_ context.Context, role ocpi.Role) (*models.Platform, error) {
	return s.find(func(p *models.Platform) bool { return p.HasRole(role) })
}

func (s *memPlatforms) List(context.Context) ([]models.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Platform, 0, len(s.platforms))
	for _, id := range s.sortedIDs() {
		out = append(out, *view(s.platforms[id]))
	}
	return out, nil
}

func (s *memPlatforms) Endpoint(_ context.Context, platformID uint, module ocpi.ModuleID, iface ocpi.InterfaceRole) (*models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.platforms[platformID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, e := range p.Endpoints {
		if e.Identifier == string(module) && e.InterfaceRole == string(iface) {
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memPlatforms) Endpoints(_ context.Context, platformID uint) ([]models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.platforms[platformID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(p.Endpoints), nil
}

func (s *memPlatforms) Connect(_ context.Context, p *models.Platform, roles []models.PlatformRole, endpoints []models.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.platforms[p.ID]
	if !ok {
		return ErrNotFound
	}
	normalizeRoles(roles)
	for i := range roles {
		roles[i].PlatformID = p.ID
	}
	for i := range endpoints {
		endpoints[i].PlatformID = p.ID
	}
	c := clonePlatform(p)
	c.Roles = slices.Clone(roles)
	c.Endpoints = slices.Clone(endpoints)
	c.Rules = existing.Rules
	c.Grants = existing.Grants
	c.UpdatedAt = time.Now()
	s.platforms[p.ID] = c
	p.Roles, p.Endpoints = roles, endpoints
	return nil
}

func (s *memPlatforms) update(id uint, fn func(*models.Platform)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.platforms[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	p.UpdatedAt = time.Now()
	return nil
}

func (s *memPlatforms) SetStatus(_ context.Context, id uint, status models.ConnectionStatus) error {
	return s.update(id, func(p *models.Platform) { p.Status = status })
}

func (s *memPlatforms) Touch(_ context.Context, id uint, at time.Time) error {
	return s.update(id, func(p *models.Platform) {
		p.LastUpdated = at
		p.Status = models.StatusConnected
	})
}

func (s *memPlatforms) Delete(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.platforms[id]; !ok {
		return ErrNotFound
	}
	delete(s.platforms, id)
	return nil
}

func (s *memPlatforms) SaveRules(_ context.Context, in *models.Platform) error {
	rules := slices.Clone(in.Rules)
	for i := range rules {
		rules[i].PlatformID = in.ID
	}
	return s.update(in.ID, func(p *models.Platform) {
		p.SignaturesRequired = in.SignaturesRequired
		p.WhitelistActive = in.WhitelistActive
		p.BlacklistActive = in.BlacklistActive
		p.Rules = rules
	})
}

func (s *memPlatforms) SaveGrants(_ context.Context, platformID uint, grants []models.ServiceGrant) error {
	grants = slices.Clone(grants)
	for i := range grants {
		grants[i].PlatformID = platformID
	}
	return s.update(platformID, func(p *models.Platform) { p.Grants = grants })
}

type memNetworkRoles struct {
	mu    sync.RWMutex
	roles map[string]models.NetworkRole
}

func (s *memNetworkRoles) List(context.Context) ([]models.NetworkRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.NetworkRole, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.NetworkRole) int {
		return cmp.Compare(ocpi.NewRole(a.CountryCode, a.PartyID).Key(), ocpi.NewRole(b.CountryCode, b.PartyID).Key())
	})
	return out, nil
}

func (s *memNetworkRoles) Upsert(_ context.Context, role ocpi.Role, status models.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role = role.Upper()
	now := time.Now()
	r, ok := s.roles[role.Key()]
	if !ok {
		r = models.NetworkRole{ID: uint(len(s.roles) + 1), CountryCode: role.CountryCode, PartyID: role.PartyID, CreatedAt: now}
	}
	r.Status = status
	r.UpdatedAt = now
	s.roles[role.Key()] = r
	return nil
}

func (s *memNetworkRoles) Delete(_ context.Context, role ocpi.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, role.Key())
	return nil
}

type memProxies struct {
	mu        sync.Mutex
	resources map[string]models.ProxyResource
}

func (s *memProxies) Put(_ context.Context, r *models.ProxyResource) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, ok := s.resources[r.ID]; ok {
		return "", ErrExists
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.resources[r.ID] = *r
	return r.ID, nil
}

func (s *memProxies) Get(_ context.Context, id string) (*models.ProxyResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *memProxies) Take(_ context.Context, id string) (*models.ProxyResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.resources, id)
	return &r, nil
}

func (s *memProxies) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, id)
	return nil
}
