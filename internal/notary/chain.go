package notary

import (
	"fmt"
	"maps"
	"slices"
)

// applyRewrite reconstructs the state a rewrite entry was signed over by
// substituting its prior values into current. Recorded paths must have been
// signed before the rewrite and must actually differ from current.
func applyRewrite(current map[string]string, rw Rewrite) (map[string]string, error) {
	if len(rw.Rewrites) == 0 {
		return nil, fmt.Errorf("rewrite entry records no fields")
	}
	prior := maps.Clone(current)
	for path, value := range rw.Rewrites {
		if !slices.Contains(rw.Fields, path) {
			return nil, fmt.Errorf("%w: %s", ErrUnsignedRewrite, path)
		}
		if value == "" {
			return nil, fmt.Errorf("rewrite of %s records an empty prior value", path)
		}
		if cur, ok := current[path]; ok && cur == value {
			return nil, fmt.Errorf("rewrite of %s does not change its value", path)
		}
		prior[path] = value
	}
	return prior, nil
}

// verifyChain walks the rewrite stack from newest to oldest, reconstructing
// and verifying each prior state. It returns the signatories in walk order.
func verifyChain(state map[string]string, rewrites []Rewrite) ([]string, error) {
	signatories := make([]string, 0, len(rewrites))
	current := state
	for i := len(rewrites) - 1; i >= 0; i-- {
		prior, err := applyRewrite(current, rewrites[i])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrChain, i, err)
		}
		if err := checkSignature(rewrites[i].signed(), prior); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrChain, i, err)
		}
		signatories = append(signatories, rewrites[i].Signatory)
		current = prior
	}
	return signatories, nil
}
