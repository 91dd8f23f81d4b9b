package notary

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/xelth-com/ocnnode/internal/identity"
)

// maxDecodedSize bounds an inflated OCN-Signature header.
const maxDecodedSize = 1 << 20

// Encode serializes the envelope for the OCN-Signature header:
// base64 of the deflated JSON.
func (e *Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode parses an OCN-Signature header value. Any decoding failure is
// reported as identity.ErrMalformedSignature.
func Decode(header string) (*Envelope, error) {
	compressed, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", identity.ErrMalformedSignature, err)
	}
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	raw, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", identity.ErrMalformedSignature, err)
	}
	if len(raw) > maxDecodedSize {
		return nil, fmt.Errorf("%w: envelope too large", identity.ErrMalformedSignature)
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: json: %v", identity.ErrMalformedSignature, err)
	}
	return &e, nil
}
