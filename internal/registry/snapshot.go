// Package registry exposes a read-only snapshot of the network registry:
// which node operates each party and which keys sign for them.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xelth-com/ocnnode/internal/identity"
	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// ErrNotFound is returned when a role is not listed in the registry.
var ErrNotFound = errors.New("role not found in registry")

// Party is one registry listing.
type Party struct {
	CountryCode     string `json:"country_code" yaml:"country_code"`
	PartyID         string `json:"party_id" yaml:"party_id"`
	PartyAddress    string `json:"party_address" yaml:"party_address"`
	OperatorAddress string `json:"operator_address" yaml:"operator_address"`
	NodeURL         string `json:"node_url" yaml:"node_url"`
}

// Role returns the party's role.
func (p Party) Role() ocpi.Role {
	return ocpi.NewRole(p.CountryCode, p.PartyID)
}

// Node identifies this node on the network.
type Node struct {
	Address string
	URL     string
}

// Snapshot is an immutable view of the registry at one point in time.
type Snapshot struct {
	parties   map[string]Party
	operators map[string]string
	takenAt   time.Time
}

// NewSnapshot indexes parties. A party without operator or node URL is
// rejected since it cannot be routed to.
func NewSnapshot(parties []Party, takenAt time.Time) (*Snapshot, error) {
	s := &Snapshot{
		parties:   make(map[string]Party, len(parties)),
		operators: make(map[string]string),
		takenAt:   takenAt,
	}
	for _, p := range parties {
		if p.OperatorAddress == "" || p.NodeURL == "" {
			return nil, fmt.Errorf("registry party %s has no operator", p.Role())
		}
		p.NodeURL = strings.TrimRight(p.NodeURL, "/")
		s.parties[p.Role().Key()] = p
		s.operators[normalizeAddress(p.OperatorAddress)] = p.NodeURL
	}
	return s, nil
}

// Empty returns a snapshot with no parties.
func Empty() *Snapshot {
	s, _ := NewSnapshot(nil, time.Time{})
	return s
}

// Resolve returns the listing of role.
func (s *Snapshot) Resolve(role ocpi.Role) (Party, error) {
	p, ok := s.parties[role.Key()]
	if !ok {
		return Party{}, fmt.Errorf("%w: %s", ErrNotFound, role)
	}
	return p, nil
}

// IsLocalOperator reports whether role is operated by self.
func (s *Snapshot) IsLocalOperator(role ocpi.Role, self Node) bool {
	p, err := s.Resolve(role)
	if err != nil {
		return false
	}
	return identity.SameAddress(p.OperatorAddress, self.Address) &&
		strings.EqualFold(p.NodeURL, strings.TrimRight(self.URL, "/"))
}

// IsOperator reports whether address operates at least one listed party.
func (s *Snapshot) IsOperator(address string) bool {
	_, ok := s.operators[normalizeAddress(address)]
	return ok
}

// Parties lists all parties ordered by role key.
func (s *Snapshot) Parties() []Party {
	out := make([]Party, 0, len(s.parties))
	for _, p := range s.parties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role().Key() < out[j].Role().Key() })
	return out
}

// Len returns the number of parties.
func (s *Snapshot) Len() int { return len(s.parties) }

// TakenAt returns when the snapshot was fetched.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

func normalizeAddress(a string) string {
	return strings.ToLower(strings.TrimPrefix(a, "0x"))
}
