// Package identity holds the node's secp256k1 signing key and the
// Ethereum-style sign/recover primitives used by the notary and by
// node-to-node messages.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const signatureLength = 65

var (
	// ErrMalformedSignature is returned when a signature cannot be decoded.
	// It is a hard error, distinct from a signature that does not verify.
	ErrMalformedSignature = errors.New("malformed signature")
	// ErrRecoveryFailed is returned when no public key can be recovered
	// from a well-formed signature.
	ErrRecoveryFailed = errors.New("signature recovery failed")
)

// Signer signs with the node's private key.
type Signer struct {
	key     *secp256k1.PrivateKey
	address string
}

// NewSigner wraps a private key.
func NewSigner(key *secp256k1.PrivateKey) *Signer {
	return &Signer{key: key, address: PublicKeyAddress(key.PubKey())}
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSigner(key), nil
}

// SignerFromHex parses a hex-encoded 32-byte private key.
func SignerFromHex(s string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(raw))
	}
	return NewSigner(secp256k1.PrivKeyFromBytes(raw)), nil
}

// Address returns the signer's 0x-prefixed address.
func (s *Signer) Address() string {
	return s.address
}

// PrivateKeyHex returns the hex encoding of the private key.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.key.Serialize())
}

// Sign produces a deterministic r‖s‖v signature over the prefixed-message
// hash of data, hex encoded with a 0x prefix.
func (s *Signer) Sign(data []byte) (string, error) {
	compact := ecdsa.SignCompact(s.key, prefixedHash(data), false)
	if len(compact) != signatureLength {
		return "", fmt.Errorf("unexpected compact signature length %d", len(compact))
	}
	// compact is v‖r‖s with v = 27 + recovery id.
	rsv := make([]byte, signatureLength)
	copy(rsv, compact[1:])
	rsv[64] = compact[0]
	return "0x" + hex.EncodeToString(rsv), nil
}

// Recover returns the address that produced rsv over data.
func Recover(data []byte, rsv string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(rsv, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != signatureLength {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, signatureLength, len(raw))
	}
	v := raw[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("%w: invalid recovery byte %d", ErrMalformedSignature, raw[64])
	}
	compact := make([]byte, signatureLength)
	compact[0] = v
	copy(compact[1:], raw[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, prefixedHash(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return PublicKeyAddress(pub), nil
}

// SameAddress compares two addresses ignoring case and the 0x prefix.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}

// PublicKeyAddress derives the Ethereum-style address of a public key.
func PublicKeyAddress(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	sum := Keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(sum[12:])
}

// Keccak256 hashes data with the legacy Keccak-256 used by Ethereum.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func prefixedHash(data []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(data))
	return Keccak256([]byte(prefix), data)
}
