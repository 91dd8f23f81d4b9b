package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/xelth-com/ocnnode/internal/credentials"
	"github.com/xelth-com/ocnnode/internal/ocpi"
)

func bearer(req *http.Request) string {
	return ocpi.TokenFromHeader(req.Header.Get(ocpi.HeaderAuthorization))
}

// getVersions lists supported versions to a platform holding token A or C
func (r *Router) getVersions(w http.ResponseWriter, req *http.Request) {
	if _, err := r.deps.Credentials.Authenticate(req.Context(), bearer(req)); err != nil {
		respondError(w, err)
		return
	}
	respondOCPI(w, r.deps.Credentials.Versions())
}

// getVersionDetail lists the node's 2.2 endpoints
func (r *Router) getVersionDetail(w http.ResponseWriter, req *http.Request) {
	if _, err := r.deps.Credentials.Authenticate(req.Context(), bearer(req)); err != nil {
		respondError(w, err)
		return
	}
	respondOCPI(w, r.deps.Credentials.VersionDetail())
}

func (r *Router) getCredentials(w http.ResponseWriter, req *http.Request) {
	creds, err := r.deps.Credentials.Get(req.Context(), bearer(req))
	if err != nil {
		respondError(w, err)
		return
	}
	respondOCPI(w, creds)
}

// postCredentials registers a platform with its token A
func (r *Router) postCredentials(w http.ResponseWriter, req *http.Request) {
	var body credentials.Credentials
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "Invalid credentials payload", err))
		return
	}
	creds, err := r.deps.Credentials.Register(req.Context(), bearer(req), body)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOCPI(w, creds)
}

// putCredentials rotates the token of a registered platform
func (r *Router) putCredentials(w http.ResponseWriter, req *http.Request) {
	var body credentials.Credentials
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "Invalid credentials payload", err))
		return
	}
	creds, err := r.deps.Credentials.Update(req.Context(), bearer(req), body)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOCPI(w, creds)
}

func (r *Router) deleteCredentials(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Credentials.Delete(req.Context(), bearer(req)); err != nil {
		respondError(w, err)
		return
	}
	respondOCPI(w, nil)
}
