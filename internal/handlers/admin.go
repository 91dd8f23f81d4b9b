package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/events"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/store"
)

// generateRegistrationToken plans a platform and returns its token A
func (r *Router) generateRegistrationToken(w http.ResponseWriter, req *http.Request) {
	var roles []ocpi.Role
	if err := json.NewDecoder(req.Body).Decode(&roles); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "Invalid request payload", err))
		return
	}
	reg, err := r.deps.Credentials.IssueRegistrationToken(req.Context(), roles)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reg)
}

// listPlatforms returns all platforms with their endpoints
func (r *Router) listPlatforms(w http.ResponseWriter, req *http.Request) {
	platforms, err := r.deps.Store.Platforms.List(req.Context())
	if err != nil {
		respondError(w, ocpi.NewError(ocpi.KindServer, "Failed to fetch platforms", err))
		return
	}
	for i := range platforms {
		endpoints, err := r.deps.Store.Platforms.Endpoints(req.Context(), platforms[i].ID)
		if err != nil {
			respondError(w, ocpi.NewError(ocpi.KindServer, "Failed to fetch endpoints", err))
			return
		}
		platforms[i].Endpoints = endpoints
	}
	respondJSON(w, http.StatusOK, platforms)
}

// deletePlatform removes a platform with its roles and endpoints
func (r *Router) deletePlatform(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "Invalid platform id", err))
		return
	}
	if err := r.deps.Store.Platforms.Delete(req.Context(), uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "Platform not found"})
			return
		}
		respondError(w, ocpi.NewError(ocpi.KindServer, "Failed to delete platform", err))
		return
	}
	r.log.Info("Platform deleted by admin", zap.Uint64("platform_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// connectionStatus reports the status of the platform serving a role
func (r *Router) connectionStatus(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	role := ocpi.NewRole(vars["country"], vars["party"])
	p, err := r.deps.Store.Platforms.ByRole(req.Context(), role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "Role not connected"})
			return
		}
		respondError(w, ocpi.NewError(ocpi.KindServer, "Failed to fetch platform", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"role":        role.Upper(),
		"status":      p.Status,
		"lastUpdated": p.LastUpdated,
	})
}

func (r *Router) listNetworkRoles(w http.ResponseWriter, req *http.Request) {
	roles, err := r.deps.Store.NetworkRoles.List(req.Context())
	if err != nil {
		respondError(w, ocpi.NewError(ocpi.KindServer, "Failed to fetch network roles", err))
		return
	}
	respondJSON(w, http.StatusOK, roles)
}

// serveEvents streams forwarding events over a websocket
func (r *Router) serveEvents(w http.ResponseWriter, req *http.Request) {
	if r.deps.Events == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Events disabled"})
		return
	}
	events.ServeWs(r.deps.Events, w, req)
}
