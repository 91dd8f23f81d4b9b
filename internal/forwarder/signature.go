package forwarder

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/ocnnode/internal/identity"
	"github.com/xelth-com/ocnnode/internal/notary"
	"github.com/xelth-com/ocnnode/internal/ocpi"
	"github.com/xelth-com/ocnnode/internal/registry"
	"github.com/xelth-com/ocnnode/internal/routing"
)

// verifySignature checks the message signature of req. A present
// signature is always verified; a missing one fails only when required.
// The original signer must be the sender's registered party address and
// every rewrite must be signed by a registered node operator.
func (e *Engine) verifySignature(ctx context.Context, req *ocpi.Request, required bool) error {
	if req.Headers.Signature == "" {
		if required {
			return ocpi.NewError(ocpi.KindSignature, "message signature required", nil)
		}
		return nil
	}
	env, err := notary.Decode(req.Headers.Signature)
	if err != nil {
		return ocpi.NewError(ocpi.KindSignature, "decode message signature", err)
	}
	message, err := req.Signable()
	if err != nil {
		return ocpi.NewError(ocpi.KindServer, "encode signable view", err)
	}
	v, err := env.Verify(message)
	if err != nil {
		return routing.SignatureError("verify message signature", err)
	}

	party, err := e.routing.ResolveParty(ctx, req.Headers.Sender)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ocpi.NewError(ocpi.KindSignature,
				fmt.Sprintf("sender %s is not registered on the network", req.Headers.Sender), nil)
		}
		return ocpi.NewError(ocpi.KindServer, "resolve sender", err)
	}
	if !identity.SameAddress(v.Original, party.PartyAddress) {
		return ocpi.NewError(ocpi.KindSignature,
			fmt.Sprintf("message signed by %s, sender is registered as %s", v.Original, party.PartyAddress), nil)
	}
	snapshot := e.routing.Registry()
	for _, r := range v.Rewriters {
		if !snapshot.IsOperator(r) {
			return ocpi.NewError(ocpi.KindNotaryChain,
				fmt.Sprintf("message rewritten by %s, which operates no node", r), nil)
		}
	}
	return nil
}
