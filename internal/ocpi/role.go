package ocpi

import (
	"fmt"
	"strings"
)

// Role identifies a party on the network by country code and party id.
// Comparison is case-insensitive.
type Role struct {
	CountryCode string `json:"country_code" yaml:"country_code"`
	PartyID     string `json:"party_id" yaml:"party_id"`
}

// NewRole builds a Role from its two components.
func NewRole(countryCode, partyID string) Role {
	return Role{CountryCode: countryCode, PartyID: partyID}
}

// Key returns the normalised map key for the role, e.g. "DE-ABC".
func (r Role) Key() string {
	return strings.ToUpper(r.CountryCode) + "-" + strings.ToUpper(r.PartyID)
}

// Equal reports whether both roles name the same party.
func (r Role) Equal(other Role) bool {
	return strings.EqualFold(r.CountryCode, other.CountryCode) &&
		strings.EqualFold(r.PartyID, other.PartyID)
}

// IsZero reports whether neither component is set.
func (r Role) IsZero() bool {
	return r.CountryCode == "" && r.PartyID == ""
}

// Validate checks the OCPI shape: two-letter country code, three-character party id.
func (r Role) Validate() error {
	if len(r.CountryCode) != 2 {
		return fmt.Errorf("country code %q must have 2 characters", r.CountryCode)
	}
	if len(r.PartyID) != 3 {
		return fmt.Errorf("party id %q must have 3 characters", r.PartyID)
	}
	return nil
}

func (r Role) String() string {
	return r.Key()
}

// Upper returns the role with both components upper-cased, the form
// used for storage.
func (r Role) Upper() Role {
	return Role{CountryCode: strings.ToUpper(r.CountryCode), PartyID: strings.ToUpper(r.PartyID)}
}
