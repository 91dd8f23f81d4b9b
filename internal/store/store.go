// Package store persists platforms, network roles and proxy resources.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// ErrNotFound is returned for unknown ids, tokens and roles.
var ErrNotFound = errors.New("record not found")

// ErrExists is returned when an explicit id is already taken.
var ErrExists = errors.New("record already exists")

// Platforms stores locally connected platforms and their children.
// Lookups return the platform with roles, rules and grants loaded;
// endpoints are read separately with Endpoint.
type Platforms interface {
	Create(ctx context.Context, p *models.Platform) error
	ByID(ctx context.Context, id uint) (*models.Platform, error)
	ByTokenA(ctx context.Context, token string) (*models.Platform, error)
	ByTokenC(ctx context.Context, token string) (*models.Platform, error)
	ByRole(ctx context.Context, role ocpi.Role) (*models.Platform, error)
	List(ctx context.Context) ([]models.Platform, error)

	// Endpoint returns the URL the platform exposes for module and iface.
	Endpoint(ctx context.Context, platformID uint, module ocpi.ModuleID, iface ocpi.InterfaceRole) (*models.Endpoint, error)
	Endpoints(ctx context.Context, platformID uint) ([]models.Endpoint, error)

	// Connect stores the outcome of a credentials exchange: the platform's
	// scalar fields are saved and its roles and endpoints are replaced.
	Connect(ctx context.Context, p *models.Platform, roles []models.PlatformRole, endpoints []models.Endpoint) error
	SetStatus(ctx context.Context, id uint, status models.ConnectionStatus) error
	// Touch records that the platform was heard from at the given time.
	Touch(ctx context.Context, id uint, at time.Time) error
	Delete(ctx context.Context, id uint) error

	// SaveRules stores the signature and list flags of p and replaces its
	// rule entries.
	SaveRules(ctx context.Context, p *models.Platform) error
	SaveGrants(ctx context.Context, platformID uint, grants []models.ServiceGrant) error
}

// NetworkRoles tracks registry parties assigned to this node.
type NetworkRoles interface {
	List(ctx context.Context) ([]models.NetworkRole, error)
	Upsert(ctx context.Context, role ocpi.Role, status models.ConnectionStatus) error
	Delete(ctx context.Context, role ocpi.Role) error
}

// ProxyResources stores URL indirections. Take is an atomic read and
// delete so a page resource is served at most once.
type ProxyResources interface {
	// Put stores r. A random id is assigned when r.ID is empty; an
	// explicit id that is already stored fails with ErrExists.
	Put(ctx context.Context, r *models.ProxyResource) (string, error)
	Get(ctx context.Context, id string) (*models.ProxyResource, error)
	Take(ctx context.Context, id string) (*models.ProxyResource, error)
	Delete(ctx context.Context, id string) error
}

// Store bundles the repositories.
type Store struct {
	Platforms    Platforms
	NetworkRoles NetworkRoles
	Proxies      ProxyResources
}

func normalizeRoles(roles []models.PlatformRole) {
	for i := range roles {
		r := ocpi.NewRole(roles[i].CountryCode, roles[i].PartyID).Upper()
		roles[i].CountryCode, roles[i].PartyID = r.CountryCode, r.PartyID
	}
}
