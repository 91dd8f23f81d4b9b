package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// NewGorm returns repositories backed by db. The schema must already be
// migrated (see DB.Migrate in internal/database).
func NewGorm(db *gorm.DB) *Store {
	return &Store{
		Platforms:    &gormPlatforms{db: db},
		NetworkRoles: &gormNetworkRoles{db: db},
		Proxies:      &gormProxies{db: db},
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type gormPlatforms struct {
	db *gorm.DB
}

func (s *gormPlatforms) loaded(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Preload("Roles").Preload("Rules").Preload("Grants")
}

func (s *gormPlatforms) Create(ctx context.Context, p *models.Platform) error {
	normalizeRoles(p.Roles)
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create platform: %w", err)
	}
	return nil
}

func (s *gormPlatforms) ByID(ctx context.Context, id uint) (*models.Platform, error) {
	var p models.Platform
	if err := s.loaded(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *gormPlatforms) ByTokenA(ctx context.Context, token string) (*models.Platform, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var p models.Platform
	if err := s.loaded(ctx).Where("token_a = ?", token).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *gormPlatforms) ByTokenC(ctx context.Context, token string) (*models.Platform, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var p models.Platform
	if err := s.loaded(ctx).Where("token_c = ?", token).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *gormPlatforms) ByRole(ctx context.Context, role ocpi.Role) (*models.Platform, error) {
	role = role.Upper()
	var p models.Platform
	err := s.loaded(ctx).
		Joins("JOIN platform_roles ON platform_roles.platform_id = platforms.id").
		Where("platform_roles.country_code = ? AND platform_roles.party_id = ?", role.CountryCode, role.PartyID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *gormPlatforms) List(ctx context.Context) ([]models.Platform, error) {
	var out []models.Platform
	if err := s.loaded(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	return out, nil
}

func (s *gormPlatforms) Endpoint(ctx context.Context, platformID uint, module ocpi.ModuleID, iface ocpi.InterfaceRole) (*models.Endpoint, error) {
	var e models.Endpoint
	err := s.db.WithContext(ctx).
		Where("platform_id = ? AND identifier = ? AND interface_role = ?", platformID, string(module), string(iface)).
		First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *gormPlatforms) Endpoints(ctx context.Context, platformID uint) ([]models.Endpoint, error) {
	var out []models.Endpoint
	if err := s.db.WithContext(ctx).Where("platform_id = ?", platformID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	return out, nil
}

func (s *gormPlatforms) Connect(ctx context.Context, p *models.Platform, roles []models.PlatformRole, endpoints []models.Endpoint) error {
	normalizeRoles(roles)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(p).Error; err != nil {
			return fmt.Errorf("save platform: %w", err)
		}
		if err := tx.Where("platform_id = ?", p.ID).Delete(&models.PlatformRole{}).Error; err != nil {
			return fmt.Errorf("clear roles: %w", err)
		}
		if err := tx.Where("platform_id = ?", p.ID).Delete(&models.Endpoint{}).Error; err != nil {
			return fmt.Errorf("clear endpoints: %w", err)
		}
		for i := range roles {
			roles[i].ID = 0
			roles[i].PlatformID = p.ID
		}
		for i := range endpoints {
			endpoints[i].ID = 0
			endpoints[i].PlatformID = p.ID
		}
		if len(roles) > 0 {
			if err := tx.Create(&roles).Error; err != nil {
				return fmt.Errorf("store roles: %w", err)
			}
		}
		if len(endpoints) > 0 {
			if err := tx.Create(&endpoints).Error; err != nil {
				return fmt.Errorf("store endpoints: %w", err)
			}
		}
		p.Roles = roles
		p.Endpoints = endpoints
		return nil
	})
}

func (s *gormPlatforms) SetStatus(ctx context.Context, id uint, status models.ConnectionStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Platform{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("set platform status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormPlatforms) Touch(ctx context.Context, id uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Platform{}).Where("id = ?", id).
		Updates(map[string]any{"last_updated": at, "status": models.StatusConnected})
	if res.Error != nil {
		return fmt.Errorf("touch platform: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormPlatforms) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []any{&models.PlatformRole{}, &models.Endpoint{}, &models.RuleEntry{}, &models.ServiceGrant{}} {
			if err := tx.Where("platform_id = ?", id).Delete(child).Error; err != nil {
				return fmt.Errorf("delete platform children: %w", err)
			}
		}
		res := tx.Delete(&models.Platform{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete platform: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *gormPlatforms) SaveRules(ctx context.Context, p *models.Platform) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Platform{}).Where("id = ?", p.ID).Updates(map[string]any{
			"signatures_required": p.SignaturesRequired,
			"whitelist_active":    p.WhitelistActive,
			"blacklist_active":    p.BlacklistActive,
		})
		if res.Error != nil {
			return fmt.Errorf("save rule flags: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("platform_id = ?", p.ID).Delete(&models.RuleEntry{}).Error; err != nil {
			return fmt.Errorf("clear rules: %w", err)
		}
		for i := range p.Rules {
			p.Rules[i].ID = 0
			p.Rules[i].PlatformID = p.ID
		}
		if len(p.Rules) > 0 {
			if err := tx.Create(&p.Rules).Error; err != nil {
				return fmt.Errorf("store rules: %w", err)
			}
		}
		return nil
	})
}

func (s *gormPlatforms) SaveGrants(ctx context.Context, platformID uint, grants []models.ServiceGrant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("platform_id = ?", platformID).Delete(&models.ServiceGrant{}).Error; err != nil {
			return fmt.Errorf("clear grants: %w", err)
		}
		for i := range grants {
			grants[i].ID = 0
			grants[i].PlatformID = platformID
		}
		if len(grants) > 0 {
			if err := tx.Create(&grants).Error; err != nil {
				return fmt.Errorf("store grants: %w", err)
			}
		}
		return nil
	})
}

type gormNetworkRoles struct {
	db *gorm.DB
}

func (s *gormNetworkRoles) List(ctx context.Context) ([]models.NetworkRole, error) {
	var out []models.NetworkRole
	if err := s.db.WithContext(ctx).Order("country_code, party_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list network roles: %w", err)
	}
	return out, nil
}

func (s *gormNetworkRoles) Upsert(ctx context.Context, role ocpi.Role, status models.ConnectionStatus) error {
	role = role.Upper()
	nr := models.NetworkRole{CountryCode: role.CountryCode, PartyID: role.PartyID, Status: status}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "country_code"}, {Name: "party_id"}},
		DoUpdates: clause.Assignments(map[string]any{"status": status, "updated_at": time.Now()}),
	}).Create(&nr).Error
	if err != nil {
		return fmt.Errorf("upsert network role: %w", err)
	}
	return nil
}

func (s *gormNetworkRoles) Delete(ctx context.Context, role ocpi.Role) error {
	role = role.Upper()
	err := s.db.WithContext(ctx).
		Where("country_code = ? AND party_id = ?", role.CountryCode, role.PartyID).
		Delete(&models.NetworkRole{}).Error
	if err != nil {
		return fmt.Errorf("delete network role: %w", err)
	}
	return nil
}

type gormProxies struct {
	db *gorm.DB
}

func (s *gormProxies) Put(ctx context.Context, r *models.ProxyResource) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", ErrExists
		}
		return "", fmt.Errorf("store proxy resource: %w", err)
	}
	return r.ID, nil
}

func (s *gormProxies) Get(ctx context.Context, id string) (*models.ProxyResource, error) {
	var r models.ProxyResource
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *gormProxies) Take(ctx context.Context, id string) (*models.ProxyResource, error) {
	var r models.ProxyResource
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&r, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		res := tx.Delete(&models.ProxyResource{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete proxy resource: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *gormProxies) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.ProxyResource{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete proxy resource: %w", err)
	}
	return nil
}
