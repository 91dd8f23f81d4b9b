// Package credentials implements the OCPI credentials exchange between a
// platform and this node: registration with a token A, token rotation and
// deregistration.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/httpclient"
	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/store"
)

// Version is the only OCPI version this node speaks.
const Version = "2.2"

// BusinessDetails names a party.
type BusinessDetails struct {
	Name string `json:"name"`
}

// Role is one role listed in a credentials object.
type Role struct {
	Role            string          `json:"role"`
	BusinessDetails BusinessDetails `json:"business_details"`
	PartyID         string          `json:"party_id"`
	CountryCode     string          `json:"country_code"`
}

// Credentials is the OCPI credentials object.
type Credentials struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Roles []Role `json:"roles"`
}

// VersionInfo is an entry of a versions list.
type VersionInfo struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// EndpointInfo is an entry of a version details document.
type EndpointInfo struct {
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
	URL        string `json:"url"`
}

// VersionDetail lists the endpoints of one version.
type VersionDetail struct {
	Version   string         `json:"version"`
	Endpoints []EndpointInfo `json:"endpoints"`
}

// Registration is an issued token A and where to use it.
type Registration struct {
	Token       string `json:"token"`
	VersionsURL string `json:"versions"`
}

// Config holds the node identity presented during the exchange.
type Config struct {
	PublicURL string
	// Secret signs registration tokens.
	Secret []byte
	// TokenTTL bounds how long a registration token can be used; zero
	// means no expiry.
	TokenTTL time.Duration
	Hub      ocpi.Role
	HubName  string
}

// Service runs the credentials exchange.
type Service struct {
	cfg    Config
	store  *store.Store
	client *httpclient.Client
	now    func() time.Time
	log    *zap.Logger
}

func New(cfg Config, st *store.Store, client *httpclient.Client, log *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  st,
		client: client,
		now:    time.Now,
		log:    log.With(zap.String("component", "credentials")),
	}
}

// IssueRegistrationToken plans a platform for roles and returns its token
// A. Roles already served by a connected platform are refused.
func (s *Service) IssueRegistrationToken(ctx context.Context, roles []ocpi.Role) (*Registration, error) {
	if len(roles) == 0 {
		return nil, ocpi.NewError(ocpi.KindClient, "at least one role is required", nil)
	}
	planned := make([]models.PlatformRole, 0, len(roles))
	for _, r := range roles {
		if err := r.Validate(); err != nil {
			return nil, ocpi.NewError(ocpi.KindClient, "invalid role", err)
		}
		p, err := s.store.Platforms.ByRole(ctx, r)
		switch {
		case err == nil && p.Status != models.StatusPlanned:
			return nil, ocpi.NewError(ocpi.KindClient, fmt.Sprintf("role %s is already connected", r), nil)
		case err == nil:
			// Re-issuing replaces the earlier plan.
			if err := s.store.Platforms.Delete(ctx, p.ID); err != nil {
				return nil, ocpi.NewError(ocpi.KindServer, "replace planned platform", err)
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, ocpi.NewError(ocpi.KindServer, "look up role", err)
		}
		planned = append(planned, models.PlatformRole{CountryCode: r.CountryCode, PartyID: r.PartyID})
	}

	token, err := generateRegistrationToken(roles, s.cfg.PublicURL, s.cfg.TokenTTL, s.now(), s.cfg.Secret)
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindServer, "sign registration token", err)
	}
	p := &models.Platform{TokenA: token, Status: models.StatusPlanned, Roles: planned}
	if err := s.store.Platforms.Create(ctx, p); err != nil {
		return nil, ocpi.NewError(ocpi.KindServer, "create planned platform", err)
	}
	for _, r := range roles {
		if err := s.store.NetworkRoles.Delete(ctx, r); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("Failed to clear network role", zap.Stringer("role", r), zap.Error(err))
		}
	}

	s.log.Info("Registration token issued", zap.Uint("platform_id", p.ID), zap.Int("roles", len(roles)))
	return &Registration{Token: token, VersionsURL: s.versionsURL()}, nil
}

// Register completes the exchange for the platform holding tokenA and
// returns the credentials the platform uses from now on.
func (s *Service) Register(ctx context.Context, tokenA string, creds Credentials) (*Credentials, error) {
	p, err := s.store.Platforms.ByTokenA(ctx, tokenA)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ocpi.NewError(ocpi.KindUnauthorized, "unknown registration token", nil)
		}
		return nil, ocpi.NewError(ocpi.KindServer, "look up platform", err)
	}
	if p.Status != models.StatusPlanned {
		return nil, ocpi.NewError(ocpi.KindClient, "platform is already registered", nil)
	}
	allowed, err := validateRegistrationToken(tokenA, s.cfg.Secret, s.now())
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindUnauthorized, "registration token rejected", err)
	}
	roles, err := rolesOf(creds, func(r ocpi.Role) bool { return slices.Contains(allowed, r.Key()) })
	if err != nil {
		return nil, err
	}

	endpoints, err := s.fetchEndpoints(ctx, creds)
	if err != nil {
		return nil, err
	}

	p.TokenA = ""
	p.TokenB = creds.Token
	p.TokenC = uuid.NewString()
	p.VersionsURL = creds.URL
	p.Status = models.StatusConnected
	p.LastUpdated = s.now()
	if err := s.store.Platforms.Connect(ctx, p, roles, endpoints); err != nil {
		return nil, ocpi.NewError(ocpi.KindServer, "store credentials", err)
	}

	s.log.Info("Platform registered",
		zap.Uint("platform_id", p.ID),
		zap.Int("roles", len(roles)),
		zap.Int("endpoints", len(endpoints)))
	return s.nodeCredentials(p.TokenC), nil
}

// Update refreshes the endpoints of the platform holding tokenC and
// rotates its token. A platform cannot add roles it was not registered with.
func (s *Service) Update(ctx context.Context, tokenC string, creds Credentials) (*Credentials, error) {
	p, err := s.platform(ctx, tokenC)
	if err != nil {
		return nil, err
	}
	roles, err := rolesOf(creds, p.HasRole)
	if err != nil {
		return nil, err
	}
	endpoints, err := s.fetchEndpoints(ctx, creds)
	if err != nil {
		return nil, err
	}

	p.TokenB = creds.Token
	p.TokenC = uuid.NewString()
	p.VersionsURL = creds.URL
	p.Status = models.StatusConnected
	p.LastUpdated = s.now()
	if err := s.store.Platforms.Connect(ctx, p, roles, endpoints); err != nil {
		return nil, ocpi.NewError(ocpi.KindServer, "store credentials", err)
	}
	s.log.Info("Platform credentials updated", zap.Uint("platform_id", p.ID))
	return s.nodeCredentials(p.TokenC), nil
}

// Get returns the node's credentials for the platform holding tokenC.
func (s *Service) Get(ctx context.Context, tokenC string) (*Credentials, error) {
	p, err := s.platform(ctx, tokenC)
	if err != nil {
		return nil, err
	}
	return s.nodeCredentials(p.TokenC), nil
}

// Delete deregisters the platform holding tokenC.
func (s *Service) Delete(ctx context.Context, tokenC string) error {
	p, err := s.platform(ctx, tokenC)
	if err != nil {
		return err
	}
	if err := s.store.Platforms.Delete(ctx, p.ID); err != nil {
		return ocpi.NewError(ocpi.KindServer, "delete platform", err)
	}
	s.log.Info("Platform deregistered", zap.Uint("platform_id", p.ID))
	return nil
}

// Authenticate accepts a token C, or the token A of a planned platform.
// Versions may be read with either.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Platform, error) {
	if token == "" {
		return nil, ocpi.NewError(ocpi.KindUnauthorized, "missing token", nil)
	}
	p, err := s.store.Platforms.ByTokenC(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		p, err = s.store.Platforms.ByTokenA(ctx, token)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ocpi.NewError(ocpi.KindUnauthorized, "unknown token", nil)
		}
		return nil, ocpi.NewError(ocpi.KindServer, "look up platform", err)
	}
	return p, nil
}

// Versions lists the versions this node supports.
func (s *Service) Versions() []VersionInfo {
	return []VersionInfo{{Version: Version, URL: ocpi.JoinURL(s.cfg.PublicURL, "/ocpi/"+Version, "")}}
}

// VersionDetail lists the endpoints this node exposes for Version.
func (s *Service) VersionDetail() VersionDetail {
	base := s.cfg.PublicURL
	endpoints := []EndpointInfo{
		{Identifier: string(ocpi.ModuleCredentials), Role: string(ocpi.InterfaceSender), URL: ocpi.JoinURL(base, "/ocpi/2.2/credentials", "")},
		{Identifier: string(ocpi.ModuleCredentials), Role: string(ocpi.InterfaceReceiver), URL: ocpi.JoinURL(base, "/ocpi/2.2/credentials", "")},
	}
	for _, m := range []ocpi.ModuleID{
		ocpi.ModuleCdrs, ocpi.ModuleChargingProfiles, ocpi.ModuleCommands,
		ocpi.ModuleLocations, ocpi.ModuleSessions, ocpi.ModuleTariffs, ocpi.ModuleTokens,
	} {
		for _, iface := range []ocpi.InterfaceRole{ocpi.InterfaceSender, ocpi.InterfaceReceiver} {
			endpoints = append(endpoints, EndpointInfo{
				Identifier: string(m),
				Role:       string(iface),
				URL:        ocpi.JoinURL(base, "/ocpi/"+iface.PathSegment()+"/2.2/"+string(m), ""),
			})
		}
	}
	endpoints = append(endpoints, EndpointInfo{
		Identifier: "ocnrules",
		Role:       string(ocpi.InterfaceReceiver),
		URL:        ocpi.JoinURL(base, "/ocpi/receiver/2.2/ocnrules", ""),
	})
	return VersionDetail{Version: Version, Endpoints: endpoints}
}

func (s *Service) platform(ctx context.Context, tokenC string) (*models.Platform, error) {
	if tokenC == "" {
		return nil, ocpi.NewError(ocpi.KindUnauthorized, "missing token", nil)
	}
	p, err := s.store.Platforms.ByTokenC(ctx, tokenC)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ocpi.NewError(ocpi.KindUnauthorized, "unknown token", nil)
		}
		return nil, ocpi.NewError(ocpi.KindServer, "look up platform", err)
	}
	return p, nil
}

// fetchEndpoints reads the platform's versions list and the endpoints of
// Version, authorizing with the token the platform gave the node.
func (s *Service) fetchEndpoints(ctx context.Context, creds Credentials) ([]models.Endpoint, error) {
	var versions []VersionInfo
	if err := s.client.GetData(ctx, creds.URL, creds.Token, &versions); err != nil {
		return nil, ocpi.NewError(ocpi.KindUpstream, "fetch platform versions", err)
	}
	idx := slices.IndexFunc(versions, func(v VersionInfo) bool { return v.Version == Version })
	if idx < 0 {
		return nil, ocpi.NewError(ocpi.KindClient, "platform does not support OCPI "+Version, nil)
	}

	var detail VersionDetail
	if err := s.client.GetData(ctx, versions[idx].URL, creds.Token, &detail); err != nil {
		return nil, ocpi.NewError(ocpi.KindUpstream, "fetch platform endpoints", err)
	}
	endpoints := make([]models.Endpoint, 0, len(detail.Endpoints))
	for _, e := range detail.Endpoints {
		iface, err := ocpi.ParseInterfaceRole(e.Role)
		if err != nil {
			s.log.Debug("Skipping endpoint", zap.String("identifier", e.Identifier), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, models.Endpoint{
			Identifier:    strings.ToLower(e.Identifier),
			InterfaceRole: string(iface),
			URL:           e.URL,
		})
	}
	return endpoints, nil
}

func (s *Service) nodeCredentials(token string) *Credentials {
	return &Credentials{
		Token: token,
		URL:   s.versionsURL(),
		Roles: []Role{{
			Role:            "HUB",
			BusinessDetails: BusinessDetails{Name: s.cfg.HubName},
			PartyID:         s.cfg.Hub.PartyID,
			CountryCode:     s.cfg.Hub.CountryCode,
		}},
	}
}

func (s *Service) versionsURL() string {
	return ocpi.JoinURL(s.cfg.PublicURL, "/ocpi/versions", "")
}

// rolesOf validates the credentials object and converts its roles. Every
// role must pass allowed.
func rolesOf(creds Credentials, allowed func(ocpi.Role) bool) ([]models.PlatformRole, error) {
	if creds.Token == "" || creds.URL == "" {
		return nil, ocpi.NewError(ocpi.KindClient, "credentials need a token and a url", nil)
	}
	if len(creds.Roles) == 0 {
		return nil, ocpi.NewError(ocpi.KindClient, "credentials list no roles", nil)
	}
	out := make([]models.PlatformRole, 0, len(creds.Roles))
	for _, cr := range creds.Roles {
		r := ocpi.NewRole(cr.CountryCode, cr.PartyID)
		if err := r.Validate(); err != nil {
			return nil, ocpi.NewError(ocpi.KindClient, "invalid role", err)
		}
		if !allowed(r) {
			return nil, ocpi.NewError(ocpi.KindUnauthorized, fmt.Sprintf("role %s is not covered by this token", r), nil)
		}
		out = append(out, models.PlatformRole{
			CountryCode:  r.CountryCode,
			PartyID:      r.PartyID,
			Role:         cr.Role,
			BusinessName: cr.BusinessDetails.Name,
		})
	}
	return out, nil
}
