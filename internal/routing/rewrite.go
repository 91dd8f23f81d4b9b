package routing

import (
	"errors"

	"github.com/xelth-com/ocnnode/internal/notary"
	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// Rewrite is a change to signed fields of a request. Paths lists the
// notary paths Apply may touch.
type Rewrite struct {
	Paths []string
	Apply func(req *ocpi.Request) error
}

// ReceiverRewrite re-addresses a request to receiver.
func ReceiverRewrite(receiver ocpi.Role) *Rewrite {
	return &Rewrite{
		Paths: []string{ocpi.PathToCountryCode, ocpi.PathToPartyID},
		Apply: func(req *ocpi.Request) error {
			req.Headers.Receiver = receiver
			return nil
		},
	}
}

// BodyFieldRewrite replaces a top-level string field of the body.
func BodyFieldRewrite(field, value string) *Rewrite {
	return &Rewrite{
		Paths: []string{ocpi.BodyPath(field)},
		Apply: func(req *ocpi.Request) error {
			body, err := ocpi.SetBodyField(req.Body, field, value)
			if err != nil {
				return ocpi.NewError(ocpi.KindClient, "rewrite body", err)
			}
			req.Body = body
			return nil
		},
	}
}

// ApplyRewrite changes req and keeps its signature valid: the prior values
// of the changed paths are stashed on the rewrite stack and the request
// is re-signed by this node. Unsigned requests are changed in place.
func (s *Service) ApplyRewrite(req *ocpi.Request, rw *Rewrite) error {
	if req.Headers.Signature == "" {
		return rw.Apply(req)
	}
	env, err := notary.Decode(req.Headers.Signature)
	if err != nil {
		return ocpi.NewError(ocpi.KindSignature, "decode signature", err)
	}
	before, err := req.Signable()
	if err != nil {
		return ocpi.NewError(ocpi.KindServer, "encode signable view", err)
	}

	next := req.Clone()
	if err := rw.Apply(next); err != nil {
		return err
	}
	after, err := next.Signable()
	if err != nil {
		return ocpi.NewError(ocpi.KindServer, "encode signable view", err)
	}

	changed, err := changedPaths(before, after, rw.Paths)
	if err != nil {
		return ocpi.NewError(ocpi.KindClient, "read signed fields", err)
	}
	if len(changed) == 0 {
		// nothing signed moved, the sender's signature still holds
		*req = *next
		return nil
	}
	if err := env.Stash(before, changed); err != nil {
		return SignatureError("stash signature", err)
	}
	if err := env.Resign(after, s.signer); err != nil {
		return ocpi.NewError(ocpi.KindServer, "re-sign request", err)
	}
	encoded, err := env.Encode()
	if err != nil {
		return ocpi.NewError(ocpi.KindServer, "encode signature", err)
	}
	next.Headers.Signature = encoded
	*req = *next
	return nil
}

// changedPaths returns the paths among candidates whose value differs
// between the two messages.
func changedPaths(before, after []byte, candidates []string) ([]string, error) {
	prior, err := valuesOf(before)
	if err != nil {
		return nil, err
	}
	current, err := valuesOf(after)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range candidates {
		if prior[p] != current[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

func valuesOf(message []byte) (map[string]string, error) {
	fields, err := notary.Flatten(message)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Path] = f.Value
	}
	return m, nil
}

// SignatureError maps a notary failure onto the error taxonomy: a broken
// rewrite chain is reported apart from a plain signature mismatch.
func SignatureError(msg string, err error) error {
	if errors.Is(err, notary.ErrChain) {
		return ocpi.NewError(ocpi.KindNotaryChain, msg, err)
	}
	return ocpi.NewError(ocpi.KindSignature, msg, err)
}
