package forwarder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/routing"
)

// Options select how ForwardDefault resolves and relays a request.
type Options struct {
	// Proxy resolves the path remainder as a proxy resource id.
	Proxy routing.Proxy
	// FromLocalPlatform is set when a platform connected to this node sent
	// the request. The sender token is then checked and pagination links
	// are proxied through this node.
	FromLocalPlatform bool
}

// ModifyFunc returns the change that puts a node-local callback URL into
// the request.
type ModifyFunc func(callbackURL string) *routing.Rewrite

type asyncCallback struct {
	responseURL string
	modify      ModifyFunc
}

// delivery carries the per-entry choices through the shared path.
type delivery struct {
	proxy      routing.Proxy
	relayPages bool
	origin     *models.Platform
	notify     bool
	async      *asyncCallback
	// carried is a callback indirection set up by the sending node. It is
	// stored once the request passed authorization and signature checks.
	carried *models.ProxyResource
	// ownSenderOnly refuses to send a message of a foreign sender to
	// another node: that node checks the message came from the sender's
	// operator.
	ownSenderOnly bool
}

// ForwardDefault forwards a synchronous request and returns the
// receiver's response.
func (e *Engine) ForwardDefault(ctx context.Context, req *ocpi.Request, opts Options) (*ocpi.Reply, error) {
	f := e.begin("default", req)
	var origin *models.Platform
	if opts.FromLocalPlatform {
		p, err := e.validateSender(ctx, req)
		if err != nil {
			return nil, f.fail(err)
		}
		origin = p
	}
	f.to(SenderValidated)
	return e.deliver(ctx, f, req, delivery{
		proxy:      opts.Proxy,
		relayPages: opts.FromLocalPlatform,
		origin:     origin,
		notify:     true,
	})
}

// ForwardAsync forwards a request whose body carries the sender's
// callback URL. The URL is replaced by one on the node the receiver is
// connected to, which maps back to responseURL.
func (e *Engine) ForwardAsync(ctx context.Context, req *ocpi.Request, responseURL string, modify ModifyFunc) (*ocpi.Reply, error) {
	f := e.begin("async", req)
	p, err := e.validateSender(ctx, req)
	if err != nil {
		return nil, f.fail(err)
	}
	f.to(SenderValidated)
	return e.deliver(ctx, f, req, delivery{
		relayPages: true,
		origin:     p,
		notify:     true,
		async:      &asyncCallback{responseURL: responseURL, modify: modify},
	})
}

// ForwardFromOcn handles a message sent by another node. The body must be
// a request envelope signed by the node operating the sender, and the
// receiver must be connected here.
func (e *Engine) ForwardFromOcn(ctx context.Context, body []byte, signature string) (*ocpi.Reply, error) {
	if err := ocpi.ValidateEnvelope(body); err != nil {
		return nil, ocpi.NewError(ocpi.KindClient, "invalid message envelope", err)
	}
	req, err := ocpi.DecodeRequest(body)
	if err != nil {
		return nil, ocpi.NewError(ocpi.KindClient, "invalid message envelope", err)
	}

	f := e.begin("ocn", req)
	if err := e.routing.VerifyMessage(ctx, body, signature, req.Headers.Sender); err != nil {
		return nil, f.fail(err)
	}
	if _, err := e.routing.ValidateReceiver(ctx, req.Headers.Receiver); err != nil {
		return nil, f.fail(err)
	}
	f.to(SenderValidated)

	d := delivery{notify: true}
	if req.ProxyUID != "" && req.ProxyResource != "" && !req.Proxied {
		d.carried = &models.ProxyResource{
			ID:       req.ProxyUID,
			Resource: req.ProxyResource,
			Kind:     models.ProxyCallback,
		}
	}
	return e.deliver(ctx, f, req, d)
}

// ForwardAgain sends an already validated request to another receiver.
// The receiver headers are rewritten and re-signed by this node; the
// sender is not validated again.
func (e *Engine) ForwardAgain(ctx context.Context, req *ocpi.Request, receiver ocpi.Role) (*ocpi.Reply, error) {
	out := req.Clone()
	out.Headers.Authorization = ""
	// Proxy resources belong to the original receiver.
	out.ProxyUID, out.ProxyResource, out.Proxied = "", "", false
	f := e.begin("again", out)
	if err := e.routing.ApplyRewrite(out, routing.ReceiverRewrite(receiver)); err != nil {
		return nil, f.fail(err)
	}
	f.log = f.log.With(zap.Stringer("copy_to", receiver))
	f.to(SenderValidated)
	return e.deliver(ctx, f, out, delivery{ownSenderOnly: true})
}

func (e *Engine) validateSender(ctx context.Context, req *ocpi.Request) (*models.Platform, error) {
	token := ocpi.TokenFromHeader(req.Headers.Authorization)
	p, err := e.routing.ValidateSender(ctx, token, req.Headers.Sender)
	if err != nil {
		return nil, err
	}
	e.renew(p.ID)
	return p, nil
}

// renew marks the platform as heard from, off the request path.
func (e *Engine) renew(platformID uint) {
	if e.pool == nil {
		return
	}
	at := e.now()
	e.pool.Submit("renew-connection", func(ctx context.Context) error {
		return e.store.Platforms.Touch(ctx, platformID, at)
	})
}

func (e *Engine) deliver(ctx context.Context, f *flow, req *ocpi.Request, d delivery) (*ocpi.Reply, error) {
	rcp, err := e.routing.Classify(ctx, req.Headers.Receiver)
	if err != nil {
		return nil, f.fail(err)
	}
	if d.ownSenderOnly && rcp.Kind == routing.Remote &&
		!e.routing.Registry().IsLocalOperator(req.Headers.Sender, e.routing.Self()) {
		return nil, f.fail(ocpi.NewError(ocpi.KindClient,
			fmt.Sprintf("sender %s is not operated by this node", req.Headers.Sender), nil))
	}
	if rcp.Kind == routing.Local && !rcp.Platform.Permits(req.Headers.Sender, string(req.Module)) {
		return nil, f.fail(ocpi.NewError(ocpi.KindForbidden,
			fmt.Sprintf("receiver does not accept %s messages from %s", req.Module, req.Headers.Sender), nil))
	}
	f.to(AuthorizationChecked)

	required := e.cfg.SignaturesRequired || (rcp.Kind == routing.Local && rcp.Platform.SignaturesRequired)
	if err := e.verifySignature(ctx, req, required); err != nil {
		return nil, f.fail(err)
	}
	f.to(SignatureVerified)

	if d.carried != nil {
		if _, err := e.routing.PutProxy(ctx, d.carried, req.Headers.Receiver, req.Headers.Sender); err != nil {
			return nil, f.fail(err)
		}
	}

	h, out, err := e.prepare(ctx, req, rcp, d)
	if err != nil {
		return nil, f.fail(err)
	}
	f.to(Routed)

	reply, err := e.send(ctx, h)
	if err != nil {
		return nil, f.fail(err)
	}
	f.to(Dispatched)

	if d.relayPages {
		headers, err := e.routing.ProxyPaginationHeaders(ctx, reply.Headers, req)
		if err != nil {
			return nil, f.fail(err)
		}
		reply.Headers = headers
	}
	f.done(rcp.Kind, req.Module)

	if d.notify {
		e.notify(out, rcp, d.origin, reply.HTTPStatus, d.proxy == routing.ProxyNone)
	}
	return reply, nil
}

// prepare builds the outbound hop and returns the request as sent.
func (e *Engine) prepare(ctx context.Context, req *ocpi.Request, rcp routing.Recipient, d delivery) (*hop, *ocpi.Request, error) {
	if rcp.Kind == routing.Local {
		out := req
		if d.async != nil {
			out = req.Clone()
			id, err := e.routing.PutProxy(ctx, &models.ProxyResource{
				Resource: d.async.responseURL,
				Kind:     models.ProxyCallback,
			}, req.Headers.Receiver, req.Headers.Sender)
			if err != nil {
				return nil, nil, err
			}
			if err := e.routing.ApplyRewrite(out, d.async.modify(e.routing.CallbackURL(req, id))); err != nil {
				return nil, nil, err
			}
		}
		ld, err := e.routing.PrepareLocal(ctx, out, d.proxy, rcp.Platform)
		if err != nil {
			return nil, nil, err
		}
		return &hop{local: ld}, out, nil
	}

	var rewrite routing.RewriteFunc
	if d.async != nil {
		rewrite = func(nodeURL string) (*routing.Rewrite, error) {
			id := uuid.NewString()
			inner := d.async.modify(routing.CallbackURLAt(nodeURL, req, id))
			return &routing.Rewrite{
				Paths: inner.Paths,
				Apply: func(r *ocpi.Request) error {
					if err := inner.Apply(r); err != nil {
						return err
					}
					r.ProxyUID = id
					r.ProxyResource = d.async.responseURL
					return nil
				},
			}, nil
		}
	}
	rd, err := e.routing.PrepareRemote(ctx, req, d.proxy, rewrite)
	if err != nil {
		return nil, nil, err
	}
	return &hop{remote: rd}, rd.Request, nil
}
