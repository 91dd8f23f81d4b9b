package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
)

func seedPlatform(t *testing.T, s *Store) *models.Platform {
	t.Helper()
	p := &models.Platform{TokenA: "token-a", Status: models.StatusPlanned}
	require.NoError(t, s.Platforms.Create(context.Background(), p))
	p.TokenA = ""
	p.TokenB = "token-b"
	p.TokenC = "token-c"
	p.Status = models.StatusConnected
	require.NoError(t, s.Platforms.Connect(context.Background(), p,
		[]models.PlatformRole{{CountryCode: "de", PartyID: "abc", Role: "CPO"}},
		[]models.Endpoint{{Identifier: "locations", InterfaceRole: "SENDER", URL: "https://cpo/locations"}},
	))
	return p
}

func TestPlatformLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	p := seedPlatform(t, s)

	got, err := s.Platforms.ByTokenC(ctx, "token-c")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "DE", got.Roles[0].CountryCode, "roles are stored upper-cased")

	_, err = s.Platforms.ByTokenA(ctx, "token-a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Platforms.ByTokenC(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	byRole, err := s.Platforms.ByRole(ctx, ocpi.NewRole("DE", "ABC"))
	require.NoError(t, err)
	assert.Equal(t, p.ID, byRole.ID)

	e, err := s.Platforms.Endpoint(ctx, p.ID, ocpi.ModuleLocations, ocpi.InterfaceSender)
	require.NoError(t, err)
	assert.Equal(t, "https://cpo/locations", e.URL)

	_, err = s.Platforms.Endpoint(ctx, p.ID, ocpi.ModuleLocations, ocpi.InterfaceReceiver)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlatformMutationsDoNotLeak(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	p := seedPlatform(t, s)

	got, err := s.Platforms.ByID(ctx, p.ID)
	require.NoError(t, err)
	got.Roles[0].PartyID = "XXX"
	got.TokenC = "changed"

	again, err := s.Platforms.ByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ABC", again.Roles[0].PartyID)
	assert.Equal(t, "token-c", again.TokenC)
}

func TestTouchAndStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	p := seedPlatform(t, s)

	require.NoError(t, s.Platforms.SetStatus(ctx, p.ID, models.StatusOffline))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Platforms.Touch(ctx, p.ID, at))

	got, err := s.Platforms.ByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, got.Status)
	assert.Equal(t, at, got.LastUpdated)

	assert.ErrorIs(t, s.Platforms.Touch(ctx, 999, at), ErrNotFound)
}

func TestRulesAndGrants(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	p := seedPlatform(t, s)

	p.WhitelistActive = true
	p.Rules = []models.RuleEntry{{List: models.Whitelist, CountryCode: "NL", PartyID: "EMS"}}
	require.NoError(t, s.Platforms.SaveRules(ctx, p))
	require.NoError(t, s.Platforms.SaveGrants(ctx, p.ID, []models.ServiceGrant{{CountryCode: "FR", PartyID: "SRV"}}))

	got, err := s.Platforms.ByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.WhitelistActive)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, p.ID, got.Rules[0].PlatformID)
	require.Len(t, got.Grants, 1)
	assert.True(t, got.Permits(ocpi.NewRole("NL", "EMS"), "sessions"))
	assert.False(t, got.Permits(ocpi.NewRole("BE", "EMS"), "sessions"))
}

func TestDeletePlatform(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	p := seedPlatform(t, s)

	require.NoError(t, s.Platforms.Delete(ctx, p.ID))
	_, err := s.Platforms.ByRole(ctx, ocpi.NewRole("DE", "ABC"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Platforms.Delete(ctx, p.ID), ErrNotFound)
}

func TestNetworkRoles(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.NetworkRoles.Upsert(ctx, ocpi.NewRole("nl", "bbb"), models.StatusPlanned))
	require.NoError(t, s.NetworkRoles.Upsert(ctx, ocpi.NewRole("DE", "AAA"), models.StatusPlanned))
	require.NoError(t, s.NetworkRoles.Upsert(ctx, ocpi.NewRole("NL", "BBB"), models.StatusSuspended))

	roles, err := s.NetworkRoles.List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "DE", roles[0].CountryCode)
	assert.Equal(t, models.StatusSuspended, roles[1].Status)

	require.NoError(t, s.NetworkRoles.Delete(ctx, ocpi.NewRole("de", "aaa")))
	roles, err = s.NetworkRoles.List(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestProxyCallbackIsRetained(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	id, err := s.Proxies.Put(ctx, &models.ProxyResource{Resource: "https://emsp/cb", Kind: models.ProxyCallback})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	for range 2 {
		r, err := s.Proxies.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "https://emsp/cb", r.Resource)
	}

	explicit, err := s.Proxies.Put(ctx, &models.ProxyResource{ID: "given", Resource: "https://x", Kind: models.ProxyCallback})
	require.NoError(t, err)
	assert.Equal(t, "given", explicit)

	require.NoError(t, s.Proxies.Delete(ctx, id))
	_, err = s.Proxies.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProxyExplicitIDIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Proxies.Put(ctx, &models.ProxyResource{ID: "cb-1", Resource: "https://sender/cb", Kind: models.ProxyCallback})
	require.NoError(t, err)

	_, err = s.Proxies.Put(ctx, &models.ProxyResource{ID: "cb-1", Resource: "https://other/cb", Kind: models.ProxyCallback})
	assert.ErrorIs(t, err, ErrExists)

	r, err := s.Proxies.Get(ctx, "cb-1")
	require.NoError(t, err)
	assert.Equal(t, "https://sender/cb", r.Resource)
}

func TestProxyPageIsServedAtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	id, err := s.Proxies.Put(ctx, &models.ProxyResource{Resource: "https://cpo/locations?offset=50", Kind: models.ProxyPage})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		hits atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Proxies.Take(ctx, id); err == nil {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, hits.Load())

	_, err = s.Proxies.Take(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
