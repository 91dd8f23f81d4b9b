package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/store"
)

type listKind int

const (
	listWhitelist listKind = iota
	listBlacklist
)

// RuleParty is a counterparty entry of a whitelist, blacklist or grant.
type RuleParty struct {
	CountryCode string   `json:"country_code"`
	PartyID     string   `json:"party_id"`
	Modules     []string `json:"modules"`
}

// RuleList is one list and whether it is enforced.
type RuleList struct {
	Active bool        `json:"active"`
	List   []RuleParty `json:"list"`
}

// Rules is the OCN rules object of a platform.
type Rules struct {
	Signatures bool        `json:"signatures"`
	Whitelist  RuleList    `json:"whitelist"`
	Blacklist  RuleList    `json:"blacklist"`
	Grants     []RuleParty `json:"grants"`
}

func rulesOf(p *models.Platform) Rules {
	out := Rules{
		Signatures: p.SignaturesRequired,
		Whitelist:  RuleList{Active: p.WhitelistActive, List: []RuleParty{}},
		Blacklist:  RuleList{Active: p.BlacklistActive, List: []RuleParty{}},
		Grants:     []RuleParty{},
	}
	for _, e := range p.Rules {
		rp := RuleParty{CountryCode: e.CountryCode, PartyID: e.PartyID, Modules: nonNil(e.Modules)}
		if e.List == models.Whitelist {
			out.Whitelist.List = append(out.Whitelist.List, rp)
		} else {
			out.Blacklist.List = append(out.Blacklist.List, rp)
		}
	}
	for _, g := range p.Grants {
		out.Grants = append(out.Grants, RuleParty{CountryCode: g.CountryCode, PartyID: g.PartyID, Modules: nonNil(g.Modules)})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// rulesPlatform resolves the platform the rules request is about from its
// token C.
func (r *Router) rulesPlatform(w http.ResponseWriter, req *http.Request) (*models.Platform, bool) {
	p, err := r.deps.Store.Platforms.ByTokenC(req.Context(), bearer(req))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, ocpi.NewError(ocpi.KindUnauthorized, "unknown token", nil))
		} else {
			respondError(w, ocpi.NewError(ocpi.KindServer, "look up platform", err))
		}
		return nil, false
	}
	return p, true
}

func (r *Router) getRules(w http.ResponseWriter, req *http.Request) {
	p, ok := r.rulesPlatform(w, req)
	if !ok {
		return
	}
	respondOCPI(w, rulesOf(p))
}

// putSignatures sets whether messages to the platform must be signed
func (r *Router) putSignatures(w http.ResponseWriter, req *http.Request) {
	p, ok := r.rulesPlatform(w, req)
	if !ok {
		return
	}
	var body struct {
		Signatures bool `json:"signatures"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "Invalid request payload", err))
		return
	}
	p.SignaturesRequired = body.Signatures
	r.saveRules(w, req, p)
}

// putList replaces and enables a list. Only one list can be active.
func (r *Router) putList(kind listKind) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		p, ok := r.rulesPlatform(w, req)
		if !ok {
			return
		}
		var body []RuleParty
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondError(w, ocpi.NewError(ocpi.KindClient, "Invalid request payload", err))
			return
		}

		list := models.Whitelist
		if kind == listBlacklist {
			list = models.Blacklist
		}
		if (kind == listWhitelist && p.BlacklistActive) || (kind == listBlacklist && p.WhitelistActive) {
			respondError(w, ocpi.NewError(ocpi.KindClient, "whitelist and blacklist cannot both be active", nil))
			return
		}

		rules := withoutList(p.Rules, list)
		for _, e := range body {
			role := ocpi.NewRole(e.CountryCode, e.PartyID)
			if err := role.Validate(); err != nil {
				respondError(w, ocpi.NewError(ocpi.KindClient, "invalid party", err))
				return
			}
			rules = append(rules, models.RuleEntry{
				List:        list,
				CountryCode: role.Upper().CountryCode,
				PartyID:     role.Upper().PartyID,
				Modules:     datatypes.JSONSlice[string](e.Modules),
			})
		}
		p.Rules = rules
		if kind == listWhitelist {
			p.WhitelistActive = true
		} else {
			p.BlacklistActive = true
		}
		r.saveRules(w, req, p)
	}
}

// deleteList disables a list and drops its entries
func (r *Router) deleteList(kind listKind) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		p, ok := r.rulesPlatform(w, req)
		if !ok {
			return
		}
		if kind == listWhitelist {
			p.WhitelistActive = false
			p.Rules = withoutList(p.Rules, models.Whitelist)
		} else {
			p.BlacklistActive = false
			p.Rules = withoutList(p.Rules, models.Blacklist)
		}
		r.saveRules(w, req, p)
	}
}

func withoutList(rules []models.RuleEntry, list models.RuleList) []models.RuleEntry {
	out := make([]models.RuleEntry, 0, len(rules))
	for _, e := range rules {
		if e.List != list {
			e.ID = 0
			out = append(out, e)
		}
	}
	return out
}

func (r *Router) saveRules(w http.ResponseWriter, req *http.Request, p *models.Platform) {
	if err := r.deps.Store.Platforms.SaveRules(req.Context(), p); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindServer, "save rules", err))
		return
	}
	respondOCPI(w, rulesOf(p))
}

// postGrant lets a service party receive copies of the platform's messages
func (r *Router) postGrant(w http.ResponseWriter, req *http.Request) {
	p, ok := r.rulesPlatform(w, req)
	if !ok {
		return
	}
	var body RuleParty
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "Invalid request payload", err))
		return
	}
	role := ocpi.NewRole(body.CountryCode, body.PartyID)
	if err := role.Validate(); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "invalid party", err))
		return
	}
	if p.HasRole(role) {
		respondError(w, ocpi.NewError(ocpi.KindClient, "a platform cannot grant itself", nil))
		return
	}

	grants := withoutGrant(p.Grants, role)
	grants = append(grants, models.ServiceGrant{
		CountryCode: role.Upper().CountryCode,
		PartyID:     role.Upper().PartyID,
		Modules:     datatypes.JSONSlice[string](body.Modules),
	})
	r.saveGrants(w, req, p, grants)
}

func (r *Router) deleteGrant(w http.ResponseWriter, req *http.Request) {
	p, ok := r.rulesPlatform(w, req)
	if !ok {
		return
	}
	vars := mux.Vars(req)
	r.saveGrants(w, req, p, withoutGrant(p.Grants, ocpi.NewRole(vars["country"], vars["party"])))
}

func withoutGrant(grants []models.ServiceGrant, role ocpi.Role) []models.ServiceGrant {
	out := make([]models.ServiceGrant, 0, len(grants))
	for _, g := range grants {
		if !g.OCPIRole().Equal(role) {
			g.ID = 0
			out = append(out, g)
		}
	}
	return out
}

func (r *Router) saveGrants(w http.ResponseWriter, req *http.Request, p *models.Platform, grants []models.ServiceGrant) {
	if err := r.deps.Store.Platforms.SaveGrants(req.Context(), p.ID, grants); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindServer, "save grants", err))
		return
	}
	p.Grants = grants
	respondOCPI(w, rulesOf(p))
}
