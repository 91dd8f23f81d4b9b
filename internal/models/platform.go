package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConnectionStatus is the state of a platform's connection to this node.
type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "CONNECTED"
	StatusOffline   ConnectionStatus = "OFFLINE"
	StatusPlanned   ConnectionStatus = "PLANNED"
	StatusSuspended ConnectionStatus = "SUSPENDED"
)

// Platform is a locally connected OCPI party (one or more roles sharing
// a set of tokens).
// TokenA registers the platform, TokenB is presented by the node to the
// platform, TokenC is presented by the platform to the node.
type Platform struct {
	ID                 uint             `gorm:"primaryKey" json:"id"`
	TokenA             string           `gorm:"index" json:"-"`
	TokenB             string           `json:"-"`
	TokenC             string           `gorm:"index" json:"-"`
	Status             ConnectionStatus `gorm:"default:'PLANNED'" json:"status"`
	VersionsURL        string           `json:"versionsUrl"`
	LastUpdated        time.Time        `json:"lastUpdated"`
	SignaturesRequired bool             `json:"signaturesRequired"`
	WhitelistActive    bool             `json:"whitelistActive"`
	BlacklistActive    bool             `json:"blacklistActive"`

	Roles     []PlatformRole `gorm:"constraint:OnDelete:CASCADE" json:"roles,omitempty"`
	Endpoints []Endpoint     `gorm:"constraint:OnDelete:CASCADE" json:"endpoints,omitempty"`
	Rules     []RuleEntry    `gorm:"constraint:OnDelete:CASCADE" json:"rules,omitempty"`
	Grants    []ServiceGrant `gorm:"constraint:OnDelete:CASCADE" json:"grants,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Platform
func (Platform) TableName() string { return "platforms" }

// PlatformRole is a role served by a platform.
type PlatformRole struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	PlatformID   uint   `gorm:"index" json:"-"`
	CountryCode  string `gorm:"index:idx_role_party" json:"country_code"`
	PartyID      string `gorm:"index:idx_role_party" json:"party_id"`
	Role         string `json:"role"`
	BusinessName string `json:"business_name,omitempty"`
}

func (PlatformRole) TableName() string { return "platform_roles" }

// Endpoint is the URL a platform exposes for one module interface.
type Endpoint struct {
	ID            uint   `gorm:"primaryKey" json:"-"`
	PlatformID    uint   `gorm:"index" json:"-"`
	Identifier    string `json:"identifier"`
	InterfaceRole string `json:"role"`
	URL           string `json:"url"`
}

func (Endpoint) TableName() string { return "endpoints" }

// RuleList names the list a RuleEntry belongs to.
type RuleList string

const (
	Whitelist RuleList = "WHITELIST"
	Blacklist RuleList = "BLACKLIST"
)

// RuleEntry allows or denies a counterparty. An empty module list
// applies to every module.
type RuleEntry struct {
	ID          uint                        `gorm:"primaryKey" json:"-"`
	PlatformID  uint                        `gorm:"index" json:"-"`
	List        RuleList                    `json:"list"`
	CountryCode string                      `json:"country_code"`
	PartyID     string                      `json:"party_id"`
	Modules     datatypes.JSONSlice[string] `json:"modules"`
}

func (RuleEntry) TableName() string { return "rule_entries" }

// ServiceGrant lets a service party receive copies of the platform's
// messages for the listed modules.
type ServiceGrant struct {
	ID          uint                        `gorm:"primaryKey" json:"-"`
	PlatformID  uint                        `gorm:"index" json:"-"`
	CountryCode string                      `json:"country_code"`
	PartyID     string                      `json:"party_id"`
	Modules     datatypes.JSONSlice[string] `json:"modules"`
}

func (ServiceGrant) TableName() string { return "service_grants" }
