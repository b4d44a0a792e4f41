package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
)

func TestPasswordPointDeterministic(t *testing.T) {
	p1 := PasswordPoint([]byte("alice123"))
	p2 := PasswordPoint([]byte("alice123"))
	p3 := PasswordPoint([]byte("alice124"))

	assert.True(t, p1.Equal(p2), "same input must map to the same point")
	assert.False(t, p1.Equal(p3), "different inputs must map to different points")
	assert.NoError(t, ValidatePoint(p1), "password point must be a valid group element")
}

func TestValidatePoint(t *testing.T) {
	assert.Error(t, ValidatePoint(nil), "nil point must be rejected")
	assert.Error(t, ValidatePoint(Suite.Point().Null()), "identity must be rejected")
	assert.NoError(t, ValidatePoint(Suite.Point().Base()), "base point must be accepted")
}

func TestDerivedKeyEncryptDecrypt(t *testing.T) {
	key := KeyFromPoint(Suite.Point().Mul(RandomScalar(), nil))
	plaintext := []byte("per-node partial result")

	ciphertext, err := key.Encrypt(plaintext)
	require.NoError(t, err, "encryption should succeed")

	decrypted, err := key.Decrypt(ciphertext)
	require.NoError(t, err, "decryption should succeed")
	assert.Equal(t, plaintext, decrypted)

	// A different key must fail authentication, not return garbage.
	other := KeyFromPoint(Suite.Point().Mul(RandomScalar(), nil))
	_, err = other.Decrypt(ciphertext)
	assert.Error(t, err, "decryption under the wrong key must fail")
}

func TestDerivedKeySubderivation(t *testing.T) {
	key := KeyFromPoint(Suite.Point().Base())

	a := key.Derive([]byte("node-a"))
	b := key.Derive([]byte("node-b"))
	a2 := key.Derive([]byte("node-a"))

	assert.Equal(t, a, a2, "sub-derivation must be deterministic")
	assert.NotEqual(t, a, b, "different contexts must yield different keys")
	assert.NotEqual(t, DerivedKey(key), a, "sub-key must differ from parent")
}

func TestDerivedKeyMAC(t *testing.T) {
	key := KeyFromPoint(Suite.Point().Base())
	tag := key.MAC([]byte("payload"), []byte("more"))

	assert.True(t, key.VerifyMAC(tag, []byte("payload"), []byte("more")))
	assert.False(t, key.VerifyMAC(tag, []byte("payload"), []byte("less")), "modified payload must fail")
	other := key.Derive([]byte("x"))
	assert.False(t, other.VerifyMAC(tag, []byte("payload"), []byte("more")), "wrong key must fail")
}

func TestSchnorrAggregation(t *testing.T) {
	// Three signers with additive key and nonce shares.
	n := 3
	keyShares := make([]kyber.Scalar, n)
	nonceShares := make([]kyber.Scalar, n)
	publicKey := Suite.Point().Null()
	nonceCommit := Suite.Point().Null()
	for i := 0; i < n; i++ {
		keyShares[i] = RandomScalar()
		nonceShares[i] = RandomScalar()
		publicKey = publicKey.Add(publicKey, Suite.Point().Mul(keyShares[i], nil))
		nonceCommit = nonceCommit.Add(nonceCommit, Suite.Point().Mul(nonceShares[i], nil))
	}

	msg := []byte("registration entry canonical bytes")
	partials := make([]kyber.Scalar, n)
	for i := 0; i < n; i++ {
		partials[i] = PartialSignature(nonceShares[i], keyShares[i], nonceCommit, publicKey, msg)
	}

	s, err := AggregateSignatures(partials)
	require.NoError(t, err)
	assert.NoError(t, VerifySignature(publicKey, nonceCommit, s, msg), "aggregated signature must verify")

	// Flipping any single partial must break verification.
	for i := 0; i < n; i++ {
		flipped := make([]kyber.Scalar, n)
		copy(flipped, partials)
		flipped[i] = Suite.Scalar().Add(partials[i], Suite.Scalar().One())
		bad, err := AggregateSignatures(flipped)
		require.NoError(t, err)
		assert.Error(t, VerifySignature(publicKey, nonceCommit, bad, msg), "flipped partial %d must fail", i)
	}

	_, err = AggregateSignatures(nil)
	assert.Error(t, err, "empty partial set must fail")
}

func TestSignatureEncoding(t *testing.T) {
	s := RandomScalar()
	r := Suite.Point().Mul(RandomScalar(), nil)

	sig := EncodeSignature(r, s)
	require.Len(t, sig, 64)

	r2, s2, err := DecodeSignature(sig)
	require.NoError(t, err)
	assert.True(t, r.Equal(r2))
	assert.True(t, s.Equal(s2))

	_, _, err = DecodeSignature(sig[:63])
	assert.Error(t, err, "truncated signature must be rejected")
}

func TestElGamalRoundtrip(t *testing.T) {
	priv := RandomScalar()
	pub := Suite.Point().Mul(priv, nil)
	msg := Suite.Point().Mul(RandomScalar(), nil)

	c1, c2 := ElGamalEncrypt(pub, msg)
	out := ElGamalDecrypt(priv, c1, c2)
	assert.True(t, msg.Equal(out), "decryption must recover the message point")

	wrong := ElGamalDecrypt(RandomScalar(), c1, c2)
	assert.False(t, msg.Equal(wrong), "wrong key must not recover the message")
}
