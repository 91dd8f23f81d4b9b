package models

import "time"

// NetworkRole is a party listed in the registry as operated by this node
// that has not connected yet (PLANNED), or one that has since disappeared
// from the registry (SUSPENDED).
type NetworkRole struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	CountryCode string           `gorm:"uniqueIndex:idx_network_role" json:"country_code"`
	PartyID     string           `gorm:"uniqueIndex:idx_network_role" json:"party_id"`
	Status      ConnectionStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (NetworkRole) TableName() string { return "network_roles" }
