package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultKeyDir = ".ocn"

// LoadOrGenerate returns the node signer. An explicit hex key wins; otherwise
// the key file is read, and if it does not exist a new key is generated and
// persisted so the node keeps its address across restarts.
func LoadOrGenerate(hexKey, keyFile string) (*Signer, error) {
	if hexKey != "" {
		return SignerFromHex(hexKey)
	}
	if keyFile == "" {
		keyFile = filepath.Join(defaultKeyDir, "signer.key")
	}

	data, err := os.ReadFile(keyFile)
	if err == nil {
		return SignerFromHex(strings.TrimSpace(string(data)))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	signer, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(signer.PrivateKeyHex()), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return signer, nil
}
