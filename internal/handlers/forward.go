package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xelth-com/ocnnode/internal/forwarder"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/routing"
)

// maxRequestBody bounds an inbound OCPI or node-to-node body.
const maxRequestBody = 4 << 20

// forward relays a module request from a connected platform. Requests
// carrying a callback URL in the body take the async path.
func (r *Router) forward(w http.ResponseWriter, req *http.Request) {
	msg, err := parseRequest(req)
	if err != nil {
		respondError(w, err)
		return
	}
	b := msg.Behaviour()
	if !b.Forwardable {
		respondError(w, ocpi.NewError(ocpi.KindClient,
			fmt.Sprintf("module %s %s is not forwarded", msg.Module, msg.InterfaceRole), nil))
		return
	}

	responseURL, async := "", false
	if b.CallbackField != "" {
		responseURL, async = ocpi.BodyField(msg.Body, b.CallbackField)
	}

	var reply *ocpi.Reply
	if async {
		reply, err = r.deps.Forwarder.ForwardAsync(req.Context(), msg, responseURL, func(callbackURL string) *routing.Rewrite {
			return routing.BodyFieldRewrite(b.CallbackField, callbackURL)
		})
	} else {
		reply, err = r.deps.Forwarder.ForwardDefault(req.Context(), msg, forwarder.Options{FromLocalPlatform: true})
	}
	if err != nil {
		respondError(w, err)
		return
	}
	relay(w, reply)
}

// forwardPage serves the next page of a proxied list. The page id is
// consumed.
func (r *Router) forwardPage(w http.ResponseWriter, req *http.Request) {
	r.forwardProxied(w, req, routing.ProxyPage)
}

// forwardCallback relays an async result to the URL the sender gave.
func (r *Router) forwardCallback(w http.ResponseWriter, req *http.Request) {
	r.forwardProxied(w, req, routing.ProxyCallback)
}

func (r *Router) forwardProxied(w http.ResponseWriter, req *http.Request, proxy routing.Proxy) {
	msg, err := parseRequest(req)
	if err != nil {
		respondError(w, err)
		return
	}
	msg.URLPath = mux.Vars(req)["id"]
	reply, err := r.deps.Forwarder.ForwardDefault(req.Context(), msg, forwarder.Options{Proxy: proxy, FromLocalPlatform: true})
	if err != nil {
		respondError(w, err)
		return
	}
	relay(w, reply)
}

// postMessage handles a request envelope from another node.
func (r *Router) postMessage(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
	if err != nil {
		respondError(w, ocpi.NewError(ocpi.KindClient, "read message", err))
		return
	}
	reply, err := r.deps.Forwarder.ForwardFromOcn(req.Context(), body, req.Header.Get(ocpi.HeaderSignature))
	if err != nil {
		respondError(w, err)
		return
	}
	relay(w, reply)
}

// parseRequest builds the in-flight request from an OCPI module call.
func parseRequest(req *http.Request) (*ocpi.Request, error) {
	vars := mux.Vars(req)
	iface, err := ocpi.ParseInterfaceRole(vars["iface"])
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindClient, "invalid interface", err)
	}
	custom := strings.HasPrefix(req.URL.Path, "/ocpi/custom/")
	module := ocpi.ModuleID(vars["module"])
	if !custom {
		module = ocpi.ModuleID(strings.ToLower(vars["module"]))
	}

	h := req.Header
	headers := ocpi.Headers{
		Authorization: h.Get(ocpi.HeaderAuthorization),
		Signature:     h.Get(ocpi.HeaderSignature),
		RequestID:     h.Get(ocpi.HeaderRequestID),
		CorrelationID: h.Get(ocpi.HeaderCorrelationID),
		Sender:        ocpi.NewRole(h.Get(ocpi.HeaderFromCountryCode), h.Get(ocpi.HeaderFromPartyID)),
		Receiver:      ocpi.NewRole(h.Get(ocpi.HeaderToCountryCode), h.Get(ocpi.HeaderToPartyID)),
	}
	if headers.Authorization == "" {
		return nil, ocpi.NewError(ocpi.KindUnauthorized, "Authorization header required", nil)
	}
	if headers.RequestID == "" || headers.CorrelationID == "" {
		return nil, ocpi.NewError(ocpi.KindClient, "X-Request-ID and X-Correlation-ID headers are required", nil)
	}
	if err := headers.Sender.Validate(); err != nil {
		return nil, ocpi.NewError(ocpi.KindClient, "invalid OCPI-from headers", err)
	}
	if err := headers.Receiver.Validate(); err != nil {
		return nil, ocpi.NewError(ocpi.KindClient, "invalid OCPI-to headers", err)
	}

	var query map[string]string
	if values := req.URL.Query(); len(values) > 0 {
		query = make(map[string]string, len(values))
		for k := range values {
			query[k] = values.Get(k)
		}
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindClient, "read body", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = nil
	} else if !json.Valid(body) {
		return nil, ocpi.NewError(ocpi.KindClient, "body is not valid JSON", nil)
	}

	return &ocpi.Request{
		Module:        module,
		Custom:        custom,
		InterfaceRole: iface,
		Method:        req.Method,
		Headers:       headers,
		URLPath:       vars["path"],
		Query:         query,
		Body:          body,
	}, nil
}
