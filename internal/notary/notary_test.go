package notary

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/ocnnode/internal/identity"
)

const message = `{"headers":{"x-correlation-id":"corr-1","ocpi-from-country-code":"DE","ocpi-from-party-id":"AAA","ocpi-to-country-code":"NL","ocpi-to-party-id":"BBB"},"body":{"response_url":"https://sender/cb","location_id":"loc1","evse":null,"connectors":[{"id":"1","power":11.10},{"id":"2","enabled":false}],"note":""}}`

func newSigner(t *testing.T) *identity.Signer {
	t.Helper()
	s, err := identity.GenerateSigner()
	require.NoError(t, err)
	return s
}

func TestFlattenOrderAndPaths(t *testing.T) {
	fields, err := Flatten([]byte(message))
	require.NoError(t, err)

	paths := pathsOf(fields)
	assert.Equal(t, []string{
		"$['headers']['x-correlation-id']",
		"$['headers']['ocpi-from-country-code']",
		"$['headers']['ocpi-from-party-id']",
		"$['headers']['ocpi-to-country-code']",
		"$['headers']['ocpi-to-party-id']",
		"$['body']['response_url']",
		"$['body']['location_id']",
		"$['body']['connectors'][0]['id']",
		"$['body']['connectors'][0]['power']",
		"$['body']['connectors'][1]['id']",
		"$['body']['connectors'][1]['enabled']",
	}, paths)

	state := stateOf(fields)
	assert.Equal(t, "11.10", state["$['body']['connectors'][0]['power']"])
	assert.Equal(t, "false", state["$['body']['connectors'][1]['enabled']"])
}

func TestFlattenRejectsDuplicatesAndTrailingData(t *testing.T) {
	_, err := Flatten([]byte(`{"a":"1","a":"2"}`))
	assert.Error(t, err)

	_, err = Flatten([]byte(`{"a":"1"} {"b":"2"}`))
	assert.Error(t, err)

	_, err = Flatten([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestFlattenEscapesQuotesInKeys(t *testing.T) {
	fields, err := Flatten([]byte(`{"it's":"x"}`))
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, `$['it\'s']`, fields[0].Path)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := newSigner(t)

	env, err := Sign([]byte(message), signer)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), env.Signatory)
	assert.Len(t, env.Fields, 11)
	assert.Empty(t, env.Rewrites)

	v, err := env.Verify([]byte(message))
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), v.Signatory)
	assert.Equal(t, signer.Address(), v.Original)
	assert.Empty(t, v.Rewriters)
}

func TestVerifyFailsOnMutation(t *testing.T) {
	signer := newSigner(t)
	env, err := Sign([]byte(message), signer)
	require.NoError(t, err)

	mutated := []byte(`{"headers":{"x-correlation-id":"corr-1","ocpi-from-country-code":"DE","ocpi-from-party-id":"AAA","ocpi-to-country-code":"NL","ocpi-to-party-id":"CCC"},"body":{"response_url":"https://sender/cb","location_id":"loc1","evse":null,"connectors":[{"id":"1","power":11.10},{"id":"2","enabled":false}],"note":""}}`)
	_, err = env.Verify(mutated)
	assert.ErrorIs(t, err, ErrHashMismatch)

	added := []byte(`{"headers":{"x-correlation-id":"corr-1","ocpi-from-country-code":"DE","ocpi-from-party-id":"AAA","ocpi-to-country-code":"NL","ocpi-to-party-id":"BBB"},"body":{"response_url":"https://sender/cb","location_id":"loc1","evse":"E1","connectors":[{"id":"1","power":11.10},{"id":"2","enabled":false}],"note":""}}`)
	_, err = env.Verify(added)
	assert.ErrorIs(t, err, ErrFieldSet)

	removed := []byte(`{"headers":{"x-correlation-id":"corr-1","ocpi-from-country-code":"DE","ocpi-from-party-id":"AAA","ocpi-to-country-code":"NL","ocpi-to-party-id":"BBB"},"body":{"response_url":"https://sender/cb","connectors":[{"id":"1","power":11.10},{"id":"2","enabled":false}]}}`)
	_, err = env.Verify(removed)
	assert.ErrorIs(t, err, ErrFieldSet)
}

func TestVerifyDetectsForeignSignatory(t *testing.T) {
	env, err := Sign([]byte(message), newSigner(t))
	require.NoError(t, err)

	env.Signatory = newSigner(t).Address()
	_, err = env.Verify([]byte(message))
	assert.ErrorIs(t, err, ErrSignatoryMismatch)
}

func TestVerifyMalformedSignatureIsHardError(t *testing.T) {
	env, err := Sign([]byte(message), newSigner(t))
	require.NoError(t, err)

	env.RSV = "0xdead"
	_, err = env.Verify([]byte(message))
	assert.ErrorIs(t, err, identity.ErrMalformedSignature)
}

const callbackPath = "$['body']['response_url']"

// rewrite stashes paths, applies replace to the message and re-signs.
func rewrite(t *testing.T, env *Envelope, msg []byte, paths []string, signer Signer, next []byte) {
	t.Helper()
	require.NoError(t, env.Stash(msg, paths))
	require.NoError(t, env.Resign(next, signer))
}

func replaceCallback(url string) []byte {
	return []byte(`{"headers":{"x-correlation-id":"corr-1","ocpi-from-country-code":"DE","ocpi-from-party-id":"AAA","ocpi-to-country-code":"NL","ocpi-to-party-id":"BBB"},"body":{"response_url":"` + url + `","location_id":"loc1","evse":null,"connectors":[{"id":"1","power":11.10},{"id":"2","enabled":false}],"note":""}}`)
}

func TestRewriteChainVerifies(t *testing.T) {
	platform := newSigner(t)
	node := newSigner(t)

	env, err := Sign([]byte(message), platform)
	require.NoError(t, err)

	rewritten := replaceCallback("https://node/ocpi/sender/2.2/commands/callback/1")
	rewrite(t, env, []byte(message), []string{callbackPath}, node, rewritten)

	require.Len(t, env.Rewrites, 1)
	assert.Equal(t, "https://sender/cb", env.Rewrites[0].Rewrites[callbackPath])

	v, err := env.Verify(rewritten)
	require.NoError(t, err)
	assert.Equal(t, node.Address(), v.Signatory)
	assert.Equal(t, platform.Address(), v.Original)
	assert.Equal(t, []string{node.Address()}, v.Rewriters)
}

func TestRewriteChainSurvivesHeaderRoundTrip(t *testing.T) {
	platform := newSigner(t)
	node := newSigner(t)

	env, err := Sign([]byte(message), platform)
	require.NoError(t, err)
	rewritten := replaceCallback("https://node/cb/1")
	rewrite(t, env, []byte(message), []string{callbackPath}, node, rewritten)

	header, err := env.Encode()
	require.NoError(t, err)

	decoded, err := Decode(header)
	require.NoError(t, err)
	_, err = decoded.Verify(rewritten)
	require.NoError(t, err)
}

func TestRewriteChainCorruptedStashFails(t *testing.T) {
	platform := newSigner(t)
	node := newSigner(t)
	attacker := newSigner(t)

	env, err := Sign([]byte(message), platform)
	require.NoError(t, err)
	rewritten := replaceCallback("https://node/cb/1")
	rewrite(t, env, []byte(message), []string{callbackPath}, node, rewritten)

	forged, err := Sign([]byte(message), attacker)
	require.NoError(t, err)
	env.Rewrites[0].RSV = forged.RSV

	_, err = env.Verify(rewritten)
	assert.ErrorIs(t, err, ErrChain)
}

func TestRewriteChainTamperedPriorValueFails(t *testing.T) {
	env, err := Sign([]byte(message), newSigner(t))
	require.NoError(t, err)
	rewritten := replaceCallback("https://node/cb/1")
	rewrite(t, env, []byte(message), []string{callbackPath}, newSigner(t), rewritten)

	env.Rewrites[0].Rewrites[callbackPath] = "https://evil/cb"
	_, err = env.Verify(rewritten)
	assert.ErrorIs(t, err, ErrChain)
}

func TestRewriteChainRejectsUnrecordedAddition(t *testing.T) {
	env, err := Sign([]byte(message), newSigner(t))
	require.NoError(t, err)

	// The hop changes the callback and also introduces evse, then re-signs.
	next := []byte(`{"headers":{"x-correlation-id":"corr-1","ocpi-from-country-code":"DE","ocpi-from-party-id":"AAA","ocpi-to-country-code":"NL","ocpi-to-party-id":"BBB"},"body":{"response_url":"https://node/cb/1","location_id":"loc1","evse":"E1","connectors":[{"id":"1","power":11.10},{"id":"2","enabled":false}],"note":""}}`)
	require.NoError(t, env.Stash([]byte(message), []string{callbackPath}))
	require.NoError(t, env.Resign(next, newSigner(t)))

	_, err = env.Verify(next)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChain)
}

func TestStashRejectsUnsignedPath(t *testing.T) {
	env, err := Sign([]byte(message), newSigner(t))
	require.NoError(t, err)

	err = env.Stash([]byte(message), []string{"$['body']['evse']"})
	assert.ErrorIs(t, err, ErrUnsignedRewrite)
	assert.Empty(t, env.Rewrites)
}

func TestStashRequiresValidCurrentSignature(t *testing.T) {
	env, err := Sign([]byte(message), newSigner(t))
	require.NoError(t, err)

	err = env.Stash(replaceCallback("https://other/cb"), []string{callbackPath})
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestRewriteSameFieldTwice(t *testing.T) {
	platform := newSigner(t)
	nodeA := newSigner(t)
	nodeB := newSigner(t)

	env, err := Sign([]byte(message), platform)
	require.NoError(t, err)

	first := replaceCallback("https://node-a/cb/1")
	rewrite(t, env, []byte(message), []string{callbackPath}, nodeA, first)

	second := replaceCallback("https://node-b/cb/2")
	rewrite(t, env, first, []string{callbackPath}, nodeB, second)

	require.Len(t, env.Rewrites, 2)
	v, err := env.Verify(second)
	require.NoError(t, err)
	assert.Equal(t, platform.Address(), v.Original)
	assert.Equal(t, []string{nodeB.Address(), nodeA.Address()}, v.Rewriters)

	_, err = env.Verify(first)
	assert.Error(t, err)
}

func TestApplyRewriteRejectsNoOpChange(t *testing.T) {
	current := map[string]string{"$['a']": "1"}
	_, err := applyRewrite(current, Rewrite{Rewrites: map[string]string{"$['a']": "1"}, Fields: []string{"$['a']"}})
	assert.Error(t, err)

	_, err = applyRewrite(current, Rewrite{Rewrites: map[string]string{"$['b']": "2"}, Fields: []string{"$['a']"}})
	assert.True(t, errors.Is(err, ErrUnsignedRewrite))

	prior, err := applyRewrite(current, Rewrite{Rewrites: map[string]string{"$['a']": "0"}, Fields: []string{"$['a']"}})
	require.NoError(t, err)
	assert.Equal(t, "0", prior["$['a']"])
	assert.Equal(t, "1", current["$['a']"], "current state is not modified")
}

func TestDecodeMalformedHeader(t *testing.T) {
	_, err := Decode("%%%")
	assert.ErrorIs(t, err, identity.ErrMalformedSignature)

	_, err = Decode("aGVsbG8=")
	assert.ErrorIs(t, err, identity.ErrMalformedSignature)
}

func FuzzSignVerify(f *testing.F) {
	f.Add([]byte(message))
	f.Add([]byte(`{"a":[1,2,{"b":null}],"c":true}`))
	f.Add([]byte(`[]`))

	signer, err := identity.GenerateSigner()
	if err != nil {
		f.Fatal(err)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		if _, err := Flatten(data); err != nil {
			return
		}
		env, err := Sign(data, signer)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := env.Verify(data); err != nil {
			t.Fatalf("verify: %v", err)
		}
	})
}
