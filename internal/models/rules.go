package models

import (
	"slices"
	"strings"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// HasRole reports whether the platform serves role.
func (p *Platform) HasRole(role ocpi.Role) bool {
	for _, r := range p.Roles {
		if r.OCPIRole().Equal(role) {
			return true
		}
	}
	return false
}

// Reachable reports whether the platform completed registration and has
// not been suspended. OFFLINE platforms remain reachable; liveness only
// reflects the last poll.
func (p *Platform) Reachable() bool {
	return p.TokenC != "" && (p.Status == StatusConnected || p.Status == StatusOffline)
}

// Permits applies the platform's whitelist or blacklist to a message
// from sender for module.
func (p *Platform) Permits(sender ocpi.Role, module string) bool {
	if p.WhitelistActive {
		for _, e := range p.Rules {
			if e.List == Whitelist && e.Matches(sender, module) {
				return true
			}
		}
		return false
	}
	if p.BlacklistActive {
		for _, e := range p.Rules {
			if e.List == Blacklist && e.Matches(sender, module) {
				return false
			}
		}
	}
	return true
}

// OCPIRole returns the role value.
func (r PlatformRole) OCPIRole() ocpi.Role {
	return ocpi.NewRole(r.CountryCode, r.PartyID)
}

// Matches reports whether the entry covers party for module.
func (e RuleEntry) Matches(party ocpi.Role, module string) bool {
	if !ocpi.NewRole(e.CountryCode, e.PartyID).Equal(party) {
		return false
	}
	return len(e.Modules) == 0 || slices.ContainsFunc(e.Modules, func(m string) bool {
		return strings.EqualFold(m, module)
	})
}

// Covers reports whether the grant includes module.
func (g ServiceGrant) Covers(module string) bool {
	return len(g.Modules) == 0 || slices.ContainsFunc(g.Modules, func(m string) bool {
		return strings.EqualFold(m, module)
	})
}

// OCPIRole returns the service role receiving copies.
func (g ServiceGrant) OCPIRole() ocpi.Role {
	return ocpi.NewRole(g.CountryCode, g.PartyID)
}
