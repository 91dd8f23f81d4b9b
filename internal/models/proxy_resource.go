package models

import "time"

// ProxyKind tells how a proxy resource is consumed.
type ProxyKind string

const (
	// ProxyPage resources are deleted on first read.
	ProxyPage ProxyKind = "page"
	// ProxyCallback resources are kept until deleted explicitly.
	ProxyCallback ProxyKind = "callback"
)

// ProxyResource maps an id to a URL the requester cannot reach directly.
// The sender/receiver pair is recorded for audit and not checked on read.
type ProxyResource struct {
	ID                  string    `gorm:"primaryKey;size:64" json:"id"`
	Resource            string    `gorm:"type:text;not null" json:"resource"`
	Kind                ProxyKind `gorm:"size:16" json:"kind"`
	SenderCountryCode   string    `json:"senderCountryCode"`
	SenderPartyID       string    `json:"senderPartyId"`
	ReceiverCountryCode string    `json:"receiverCountryCode"`
	ReceiverPartyID     string    `json:"receiverPartyId"`
	CreatedAt           time.Time `json:"createdAt"`
}

func (ProxyResource) TableName() string { return "proxy_resources" }
