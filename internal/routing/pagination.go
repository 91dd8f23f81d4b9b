package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/store"
)

var nextLink = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?(?:[;,\s]|$)`)

// modulePath is the node-local path of a module interface.
func modulePath(req *ocpi.Request, iface ocpi.InterfaceRole) string {
	if req.Custom {
		return "/ocpi/custom/" + iface.PathSegment() + "/" + string(req.Module)
	}
	return "/ocpi/" + iface.PathSegment() + "/2.2/" + string(req.Module)
}

// PageURL is the node-local URL serving the page resource id.
func (s *Service) PageURL(req *ocpi.Request, id string) string {
	return ocpi.JoinURL(s.publicURL, modulePath(req, req.InterfaceRole)+"/page/"+id, "")
}

// CallbackURL is the URL on this node a receiver calls back on.
func (s *Service) CallbackURL(req *ocpi.Request, id string) string {
	return CallbackURLAt(s.publicURL, req, id)
}

// CallbackURLAt is the callback URL for id on the node at base. Callbacks
// land on the opposite interface of the request.
func CallbackURLAt(base string, req *ocpi.Request, id string) string {
	return ocpi.JoinURL(base, modulePath(req, req.InterfaceRole.Opposite())+"/callback/"+id, "")
}

// ProxyPaginationHeaders stores the next-page link of a response as a page
// resource owned by the request's sender and receiver, and points Link at
// this node. Count and limit headers pass through.
func (s *Service) ProxyPaginationHeaders(ctx context.Context, headers http.Header, req *ocpi.Request) (http.Header, error) {
	out := headers.Clone()
	if out == nil {
		return http.Header{}, nil
	}
	link := out.Get(ocpi.HeaderLink)
	if link == "" {
		return out, nil
	}
	m := nextLink.FindStringSubmatch(link)
	if m == nil {
		out.Del(ocpi.HeaderLink)
		return out, nil
	}
	id, err := s.PutProxy(ctx, &models.ProxyResource{
		Resource: m[1],
		Kind:     models.ProxyPage,
	}, req.Headers.Sender, req.Headers.Receiver)
	if err != nil {
		return nil, err
	}
	out.Set(ocpi.HeaderLink, "<"+s.PageURL(req, id)+`>; rel="next"`)
	return out, nil
}

// PutProxy stores a proxy resource owned by sender and receiver.
func (s *Service) PutProxy(ctx context.Context, r *models.ProxyResource, sender, receiver ocpi.Role) (string, error) {
	r.SenderCountryCode, r.SenderPartyID = sender.CountryCode, sender.PartyID
	r.ReceiverCountryCode, r.ReceiverPartyID = receiver.CountryCode, receiver.PartyID
	id, err := s.store.Proxies.Put(ctx, r)
	if errors.Is(err, store.ErrExists) {
		return "", ocpi.NewError(ocpi.KindClient, fmt.Sprintf("proxy resource %q already exists", r.ID), err)
	}
	if err != nil {
		return "", ocpi.NewError(ocpi.KindServer, "store proxy resource", err)
	}
	if s.metrics != nil {
		s.metrics.ProxyResources.WithLabelValues(string(r.Kind)).Inc()
	}
	return id, nil
}
