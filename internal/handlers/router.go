package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/buildinfo"
	"github.com/xelth-com/ocnnode/internal/credentials"
	"github.com/xelth-com/ocnnode/internal/events"
	"github.com/xelth-com/ocnnode/internal/forwarder"
	"github.com/xelth-com/ocnnode/internal/metrics"
	"github.com/xelth-com/ocnnode/internal/middleware"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/routing"
	"github.com/xelth-com/ocnnode/internal/store"
)

// Deps are the services the HTTP surface calls into.
type Deps struct {
	Forwarder   *forwarder.Engine
	Routing     *routing.Service
	Credentials *credentials.Service
	Store       *store.Store
	Events      *events.Hub
	Metrics     *metrics.Metrics
	AdminKey    string
	Log         *zap.Logger
}

// Router wraps the mux router and the node services
type Router struct {
	*mux.Router
	deps Deps
	log  *zap.Logger
}

const ifacePattern = "{iface:(?:sender|receiver)}"

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		deps:   deps,
		log:    deps.Log.With(zap.String("component", "handlers")),
	}
	r.Use(middleware.RequestLogger(deps.Log))

	r.HandleFunc("/health", r.healthCheck).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Versions and credentials
	r.HandleFunc("/ocpi/versions", r.getVersions).Methods(http.MethodGet)
	r.HandleFunc("/ocpi/2.2", r.getVersionDetail).Methods(http.MethodGet)
	r.HandleFunc("/ocpi/2.2/credentials", r.getCredentials).Methods(http.MethodGet)
	r.HandleFunc("/ocpi/2.2/credentials", r.postCredentials).Methods(http.MethodPost)
	r.HandleFunc("/ocpi/2.2/credentials", r.putCredentials).Methods(http.MethodPut)
	r.HandleFunc("/ocpi/2.2/credentials", r.deleteCredentials).Methods(http.MethodDelete)

	// Node-to-node messages
	r.HandleFunc("/ocn/message", r.postMessage).Methods(http.MethodPost)

	// OCN rules, answered by the node itself
	rules := r.PathPrefix("/ocpi/receiver/2.2/ocnrules").Subrouter()
	rules.HandleFunc("", r.getRules).Methods(http.MethodGet)
	rules.HandleFunc("/signatures", r.putSignatures).Methods(http.MethodPut)
	rules.HandleFunc("/whitelist", r.putList(listWhitelist)).Methods(http.MethodPut)
	rules.HandleFunc("/whitelist", r.deleteList(listWhitelist)).Methods(http.MethodDelete)
	rules.HandleFunc("/blacklist", r.putList(listBlacklist)).Methods(http.MethodPut)
	rules.HandleFunc("/blacklist", r.deleteList(listBlacklist)).Methods(http.MethodDelete)
	rules.HandleFunc("/grants", r.postGrant).Methods(http.MethodPost)
	rules.HandleFunc("/grants/{country}/{party}", r.deleteGrant).Methods(http.MethodDelete)

	// Proxy indirections go before the catch-all module routes.
	for _, prefix := range []string{"/ocpi/" + ifacePattern + "/2.2/{module}", "/ocpi/custom/" + ifacePattern + "/{module}"} {
		r.HandleFunc(prefix+"/page/{id}", r.forwardPage).Methods(http.MethodGet)
		r.HandleFunc(prefix+"/callback/{id}", r.forwardCallback)
	}
	for _, prefix := range []string{"/ocpi/" + ifacePattern + "/2.2/{module}", "/ocpi/custom/" + ifacePattern + "/{module}"} {
		r.HandleFunc(prefix, r.forward)
		r.HandleFunc(prefix+"/{path:.*}", r.forward)
	}

	// Admin routes (protected)
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminAuth(deps.AdminKey))
	admin.HandleFunc("/generate-registration-token", r.generateRegistrationToken).Methods(http.MethodPost)
	admin.HandleFunc("/platforms", r.listPlatforms).Methods(http.MethodGet)
	admin.HandleFunc("/platforms/{id:[0-9]+}", r.deletePlatform).Methods(http.MethodDelete)
	admin.HandleFunc("/connection-status/{country}/{party}", r.connectionStatus).Methods(http.MethodGet)
	admin.HandleFunc("/network-roles", r.listNetworkRoles).Methods(http.MethodGet)
	admin.HandleFunc("/events", r.serveEvents).Methods(http.MethodGet)

	return r
}

// healthCheck returns the health status of the node
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	self := r.deps.Routing.Self()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"build":    buildinfo.Fields(),
		"address":  self.Address,
		"url":      self.URL,
		"registry": r.deps.Routing.Registry().Len(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondOCPI wraps data in an OCPI success envelope
func respondOCPI(w http.ResponseWriter, data interface{}) {
	resp, err := ocpi.NewResponse(ocpi.StatusSuccess, "Success", data)
	if err != nil {
		respondError(w, ocpi.NewError(ocpi.KindServer, "encode response", err))
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondError sends an OCPI error response
func respondError(w http.ResponseWriter, err error) {
	e := ocpi.AsError(err)
	respondJSON(w, e.HTTPStatus(), ocpi.Response{
		StatusCode:    e.StatusCode(),
		StatusMessage: e.Message,
		Timestamp:     ocpi.Timestamp(time.Now()),
	})
}

// relay writes a downstream reply unchanged
func relay(w http.ResponseWriter, reply *ocpi.Reply) {
	for k, vs := range reply.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.HTTPStatus)
	w.Write(reply.Body)
}
