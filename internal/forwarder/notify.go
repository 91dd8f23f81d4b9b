package forwarder

import (
	"context"
	"net/http"
	"slices"

	"github.com/xelth-com/ocnnode/internal/events"
	"github.com/xelth-com/ocnnode/internal/models"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/routing"
)

// notify publishes an event for a relayed message and, when the message
// can be copied, queues copies for the service parties granted access by
// the local sender or receiver platform. Nothing here reaches the caller.
func (e *Engine) notify(req *ocpi.Request, rcp routing.Recipient, origin *models.Platform, status int, copyable bool) {
	if e.publisher != nil {
		e.publisher.Publish(events.Event{
			Type:          "forwarded",
			CorrelationID: req.Headers.CorrelationID,
			Module:        string(req.Module),
			InterfaceRole: string(req.InterfaceRole),
			Method:        req.Method,
			Sender:        req.Headers.Sender,
			Receiver:      req.Headers.Receiver,
			Recipient:     rcp.Kind.String(),
			Status:        status,
			At:            e.now(),
		})
	}
	if !copyable || req.Proxied || e.pool == nil || status >= http.StatusMultipleChoices {
		return
	}

	targets := grantTargets(req, origin, rcp)
	for _, role := range targets {
		msg := req.Clone()
		e.pool.Submit("forward-again", func(ctx context.Context) error {
			_, err := e.ForwardAgain(ctx, msg, role)
			return err
		})
	}
}

// grantTargets lists the grant holders interested in req, excluding the
// sender and the receiver themselves.
func grantTargets(req *ocpi.Request, origin *models.Platform, rcp routing.Recipient) []ocpi.Role {
	seen := map[string]ocpi.Role{}
	collect := func(p *models.Platform) {
		if p == nil {
			return
		}
		for _, g := range p.Grants {
			if !g.Covers(string(req.Module)) {
				continue
			}
			role := g.OCPIRole()
			if role.Equal(req.Headers.Sender) || role.Equal(req.Headers.Receiver) {
				continue
			}
			seen[role.Key()] = role
		}
	}
	collect(origin)
	if rcp.Kind == routing.Local {
		collect(rcp.Platform)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]ocpi.Role, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}
