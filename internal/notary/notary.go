// Package notary produces and verifies field-selective signatures over JSON
// messages. A signature records which fields it covers, and hops that must
// change signed fields push the previous signature onto a rewrite stack so
// every change remains attributable to the signer of the state before it.
package notary

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/xelth-com/ocnnode/internal/identity"
)

var (
	ErrNotSigned         = errors.New("envelope is not signed")
	ErrFieldSet          = errors.New("signed field set does not match message")
	ErrHashMismatch      = errors.New("message hash mismatch")
	ErrSignatoryMismatch = errors.New("recovered signatory mismatch")
	ErrUnsignedRewrite   = errors.New("rewrite touches a field that was not signed")
	ErrChain             = errors.New("rewrite chain verification failed")
)

// Signer is the raw signing primitive, satisfied by *identity.Signer.
type Signer interface {
	Sign(data []byte) (string, error)
	Address() string
}

// Rewrite is one entry of the rewrite stack: the prior values of the
// rewritten fields and the signature that covered them.
type Rewrite struct {
	Rewrites  map[string]string `json:"rewrites"`
	Fields    []string          `json:"fields"`
	Hash      string            `json:"hash"`
	RSV       string            `json:"rsv"`
	Signatory string            `json:"signatory"`
}

// Envelope is the signature state attached to a message.
type Envelope struct {
	Fields    []string  `json:"fields"`
	Hash      string    `json:"hash"`
	RSV       string    `json:"rsv"`
	Signatory string    `json:"signatory"`
	Rewrites  []Rewrite `json:"rewrites,omitempty"`
}

// Verification reports who signed a verified message.
type Verification struct {
	// Signatory signed the message as it is now.
	Signatory string
	// Original signed the message before any rewrite.
	Original string
	// Rewriters lists the signatories of every rewritten state, newest first,
	// including Signatory when the stack is not empty.
	Rewriters []string
}

// signed is the part shared by an Envelope and a Rewrite entry.
type signed struct {
	fields    []string
	hash      string
	rsv       string
	signatory string
}

// Sign signs every non-empty field of message.
func Sign(message []byte, signer Signer) (*Envelope, error) {
	e := &Envelope{}
	if err := e.Resign(message, signer); err != nil {
		return nil, err
	}
	return e, nil
}

// Resign replaces the current signature with one over message, keeping the
// rewrite stack.
func (e *Envelope) Resign(message []byte, signer Signer) error {
	fields, err := Flatten(message)
	if err != nil {
		return err
	}
	paths := pathsOf(fields)
	digest, err := hashOf(paths, stateOf(fields))
	if err != nil {
		return err
	}
	rsv, err := signer.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign message hash: %w", err)
	}
	e.Fields = paths
	e.Hash = "0x" + hex.EncodeToString(digest)
	e.RSV = rsv
	e.Signatory = signer.Address()
	return nil
}

// Stash records the current signature and the current values of paths
// before the caller changes them. The envelope must verify against message
// and every path must already be signed.
func (e *Envelope) Stash(message []byte, paths []string) error {
	if len(paths) == 0 {
		return errors.New("stash needs at least one path")
	}
	if e.Hash == "" {
		return ErrNotSigned
	}
	fields, err := Flatten(message)
	if err != nil {
		return err
	}
	state := stateOf(fields)
	if err := checkSignature(e.current(), state); err != nil {
		return err
	}

	prior := make(map[string]string, len(paths))
	for _, p := range paths {
		if !slices.Contains(e.Fields, p) {
			return fmt.Errorf("%w: %s", ErrUnsignedRewrite, p)
		}
		prior[p] = state[p]
	}
	e.Rewrites = append(e.Rewrites, Rewrite{
		Rewrites:  prior,
		Fields:    slices.Clone(e.Fields),
		Hash:      e.Hash,
		RSV:       e.RSV,
		Signatory: e.Signatory,
	})
	return nil
}

// Verify checks the current signature against message and then the whole
// rewrite stack. It either validates the full chain or fails.
func (e *Envelope) Verify(message []byte) (*Verification, error) {
	if e.Hash == "" || e.RSV == "" {
		return nil, ErrNotSigned
	}
	fields, err := Flatten(message)
	if err != nil {
		return nil, err
	}
	state := stateOf(fields)
	if err := checkSignature(e.current(), state); err != nil {
		return nil, err
	}

	rewriters, err := verifyChain(state, e.Rewrites)
	if err != nil {
		return nil, err
	}

	v := &Verification{Signatory: e.Signatory, Original: e.Signatory}
	if len(e.Rewrites) > 0 {
		v.Original = e.Rewrites[0].Signatory
		v.Rewriters = append([]string{e.Signatory}, rewriters[:len(rewriters)-1]...)
	}
	return v, nil
}

func (e *Envelope) current() signed {
	return signed{fields: e.Fields, hash: e.Hash, rsv: e.RSV, signatory: e.Signatory}
}

func (r Rewrite) signed() signed {
	return signed{fields: r.Fields, hash: r.Hash, rsv: r.RSV, signatory: r.Signatory}
}

// checkSignature verifies one signature against a path→value state. The
// state must contain exactly the signed paths.
func checkSignature(s signed, state map[string]string) error {
	if len(s.fields) != len(state) {
		return fmt.Errorf("%w: %d signed, %d present", ErrFieldSet, len(s.fields), len(state))
	}
	digest, err := hashOf(s.fields, state)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimPrefix(s.hash, "0x"), hex.EncodeToString(digest)) {
		return ErrHashMismatch
	}
	addr, err := identity.Recover(digest, s.rsv)
	if err != nil {
		if errors.Is(err, identity.ErrMalformedSignature) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSignatoryMismatch, err)
	}
	if !identity.SameAddress(addr, s.signatory) {
		return ErrSignatoryMismatch
	}
	return nil
}

// hashOf concatenates the values of fields in order and hashes the result.
// Every field must be present exactly once.
func hashOf(fields []string, state map[string]string) ([]byte, error) {
	var buf strings.Builder
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			return nil, fmt.Errorf("%w: duplicate field %s", ErrFieldSet, f)
		}
		seen[f] = struct{}{}
		v, ok := state[f]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrFieldSet, f)
		}
		buf.WriteString(v)
	}
	return identity.Keccak256([]byte(buf.String())), nil
}
