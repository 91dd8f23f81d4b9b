package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/xelth-com/ocnnode/internal/httpclient"
	"github.com/xelth-com/ocnnode/internal/identity"
	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/registry"
	"github.com/xelth-com/ocnnode/internal/store"
)

// LocalDispatch is a prepared call to a platform connected to this node.
type LocalDispatch struct {
	Platform *models.Platform
	Call     httpclient.Call
}

// RemoteDispatch is a prepared node-to-node message.
type RemoteDispatch struct {
	Party   registry.Party
	Request *ocpi.Request
	// Body is the serialized request; Signature is this node's signature
	// over its canonical form.
	Body      []byte
	Signature string
}

// RewriteFunc is called with the remote node's base URL once it is known
// and returns the change to apply before the request is signed.
type RewriteFunc func(nodeURL string) (*Rewrite, error)

// PrepareLocal builds the call to the receiving platform p. Request id
// and authorization are regenerated: the token is the one p expects from
// this node, never the sender's.
func (s *Service) PrepareLocal(ctx context.Context, req *ocpi.Request, proxy Proxy, p *models.Platform) (*LocalDispatch, error) {
	var target string
	switch {
	case proxy != ProxyNone:
		url, err := s.resolveProxy(ctx, req, proxy)
		if err != nil {
			return nil, err
		}
		target = ocpi.JoinURL(url, "", req.QueryString())
	case req.Proxied:
		if req.ProxyResource == "" {
			return nil, ocpi.NewError(ocpi.KindClient, "proxied request carries no resource", nil)
		}
		target = ocpi.JoinURL(req.ProxyResource, "", req.QueryString())
	default:
		e, err := s.store.Platforms.Endpoint(ctx, p.ID, req.Module, req.InterfaceRole)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ocpi.NewError(ocpi.KindClient,
					fmt.Sprintf("receiver has no %s %s endpoint", req.Module, req.InterfaceRole), nil)
			}
			return nil, ocpi.NewError(ocpi.KindServer, "look up receiver endpoint", err)
		}
		target = ocpi.JoinURL(e.URL, req.URLPath, req.QueryString())
	}

	header := http.Header{}
	header.Set(ocpi.HeaderAuthorization, "Token "+p.TokenB)
	header.Set(ocpi.HeaderRequestID, uuid.NewString())
	header.Set(ocpi.HeaderCorrelationID, req.Headers.CorrelationID)
	header.Set(ocpi.HeaderFromCountryCode, req.Headers.Sender.CountryCode)
	header.Set(ocpi.HeaderFromPartyID, req.Headers.Sender.PartyID)
	header.Set(ocpi.HeaderToCountryCode, req.Headers.Receiver.CountryCode)
	header.Set(ocpi.HeaderToPartyID, req.Headers.Receiver.PartyID)
	if req.Headers.Signature != "" {
		header.Set(ocpi.HeaderSignature, req.Headers.Signature)
	}

	return &LocalDispatch{
		Platform: p,
		Call: httpclient.Call{
			Method: req.Method,
			URL:    target,
			Header: header,
			Body:   req.Body,
		},
	}, nil
}

// PrepareRemote builds the message for the node operating the receiver.
// A proxied path is resolved here and shipped as an already resolved
// resource. rewrite, when set, runs once the node URL is known.
func (s *Service) PrepareRemote(ctx context.Context, req *ocpi.Request, proxy Proxy, rewrite RewriteFunc) (*RemoteDispatch, error) {
	party, err := s.registry.ResolveOrRefresh(ctx, req.Headers.Receiver)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ocpi.NewError(ocpi.KindUnknownReceiver,
				fmt.Sprintf("receiver %s is not on the network", req.Headers.Receiver), nil)
		}
		return nil, ocpi.NewError(ocpi.KindServer, "resolve receiver node", err)
	}

	out := req.Clone()
	out.Headers.Authorization = ""
	if proxy != ProxyNone {
		url, err := s.resolveProxy(ctx, req, proxy)
		if err != nil {
			return nil, err
		}
		out.ProxyResource = url
		out.Proxied = true
	}
	if rewrite != nil {
		rw, err := rewrite(party.NodeURL)
		if err != nil {
			return nil, err
		}
		if rw != nil {
			if err := s.ApplyRewrite(out, rw); err != nil {
				return nil, err
			}
		}
	}

	body, err := out.Encode()
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindServer, "encode message", err)
	}
	sig, err := s.SignMessage(body)
	if err != nil {
		return nil, err
	}
	return &RemoteDispatch{Party: party, Request: out, Body: body, Signature: sig}, nil
}

// SignMessage signs the canonical form of a node-to-node message body.
func (s *Service) SignMessage(body []byte) (string, error) {
	canonical, err := jcs.Transform(body)
	if err != nil {
		return "", ocpi.NewError(ocpi.KindServer, "canonicalize message", err)
	}
	sig, err := s.signer.Sign(canonical)
	if err != nil {
		return "", ocpi.NewError(ocpi.KindServer, "sign message", err)
	}
	return sig, nil
}

// VerifyMessage checks that signature over body was made by the node
// operating sender according to the registry.
func (s *Service) VerifyMessage(ctx context.Context, body []byte, signature string, sender ocpi.Role) error {
	if signature == "" {
		return ocpi.NewError(ocpi.KindSignature, "message signature missing", nil)
	}
	party, err := s.registry.ResolveOrRefresh(ctx, sender)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ocpi.NewError(ocpi.KindUnauthorized,
				fmt.Sprintf("sender %s is not registered on the network", sender), nil)
		}
		return ocpi.NewError(ocpi.KindServer, "resolve sender", err)
	}
	canonical, err := jcs.Transform(body)
	if err != nil {
		return ocpi.NewError(ocpi.KindClient, "message body is not valid JSON", err)
	}
	signer, err := identity.Recover(canonical, signature)
	if err != nil {
		return ocpi.NewError(ocpi.KindSignature, "message signature invalid", err)
	}
	if !identity.SameAddress(signer, party.OperatorAddress) {
		return ocpi.NewError(ocpi.KindSignature,
			fmt.Sprintf("message signed by %s, sender is operated by %s", signer, party.OperatorAddress), nil)
	}
	return nil
}

func trimID(path string) string {
	return strings.Trim(path, "/")
}
