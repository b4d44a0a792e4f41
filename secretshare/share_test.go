package secretshare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
)

func testIDs(n int) []kyber.Scalar {
	ids := make([]kyber.Scalar, n)
	for i := range ids {
		ids[i] = cryptoutils.Suite.Scalar().SetInt64(int64(i + 1))
	}
	return ids
}

// subsets returns all index subsets of size k from [0, n).
func subsets(n, k int) [][]int {
	var out [][]int
	var rec func(start int, cur []int)
	rec = func(start int, cur []int) {
		if len(cur) == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := start; i < n; i++ {
			rec(i+1, append(cur, i))
		}
	}
	rec(0, nil)
	return out
}

func TestShareInterpolateRoundtrip(t *testing.T) {
	for _, tc := range []struct{ n, threshold int }{
		{1, 1}, {3, 2}, {5, 3}, {5, 5}, {7, 4},
	} {
		secret := cryptoutils.RandomScalar()
		ids := testIDs(tc.n)

		shares, err := Share(secret, ids, tc.threshold)
		require.NoError(t, err, "share n=%d t=%d", tc.n, tc.threshold)
		require.Len(t, shares, tc.n)

		// Every size-threshold subset must reconstruct the secret, not
		// just a prefix.
		for _, idx := range subsets(tc.n, tc.threshold) {
			subIDs := make([]kyber.Scalar, 0, tc.threshold)
			subShares := make([]kyber.Scalar, 0, tc.threshold)
			for _, i := range idx {
				subIDs = append(subIDs, ids[i])
				subShares = append(subShares, shares[i])
			}
			got, err := InterpolateScalar(subIDs, subShares)
			require.NoError(t, err)
			assert.True(t, secret.Equal(got), "subset %v must reconstruct the secret (n=%d t=%d)", idx, tc.n, tc.threshold)
		}
	}
}

func TestShareValidation(t *testing.T) {
	secret := cryptoutils.RandomScalar()
	ids := testIDs(3)

	_, err := Share(secret, ids, 0)
	assert.Error(t, err, "threshold below 1 must fail")

	_, err = Share(secret, ids, 4)
	assert.Error(t, err, "threshold above len(ids) must fail")

	dup := []kyber.Scalar{ids[0], ids[1], ids[0]}
	_, err = Share(secret, dup, 2)
	assert.Error(t, err, "duplicate ids must fail")

	withZero := []kyber.Scalar{ids[0], cryptoutils.Suite.Scalar().Zero()}
	_, err = Share(secret, withZero, 1)
	assert.Error(t, err, "zero id must fail")
}

func TestLagrangeCoefficient(t *testing.T) {
	ids := testIDs(3)

	// Coefficients at zero sum to one over any valid set.
	sum := cryptoutils.Suite.Scalar().Zero()
	for _, id := range ids {
		li, err := LagrangeCoefficient(id, ids)
		require.NoError(t, err)
		sum = sum.Add(sum, li)
	}
	assert.True(t, sum.Equal(cryptoutils.Suite.Scalar().One()), "lagrange coefficients must sum to 1")

	_, err := LagrangeCoefficient(ids[0], []kyber.Scalar{ids[0], ids[1], ids[0]})
	assert.Error(t, err, "duplicated id in set must fail")

	_, err = LagrangeCoefficient(cryptoutils.Suite.Scalar().SetInt64(99), ids)
	assert.Error(t, err, "id outside the set must fail")
}

func TestInterpolateInExponent(t *testing.T) {
	secret := cryptoutils.RandomScalar()
	ids := testIDs(4)
	threshold := 3

	shares, err := Share(secret, ids, threshold)
	require.NoError(t, err)

	// Each node applies its share to a common blinded base point.
	base := cryptoutils.PasswordPoint([]byte("alice123"))
	points := make([]kyber.Point, threshold)
	for i := 0; i < threshold; i++ {
		points[i] = cryptoutils.Suite.Point().Mul(shares[i], base)
	}

	got, err := InterpolatePoint(ids[:threshold], points)
	require.NoError(t, err)

	want := cryptoutils.Suite.Point().Mul(secret, base)
	assert.True(t, want.Equal(got), "exponent interpolation must equal base^secret")
}

func TestBlindUnblindCorrectness(t *testing.T) {
	// Unblinding sum Li*(g^r)^s_i by r^-1 must equal g^secret for any
	// nonzero blinding factor.
	secret := cryptoutils.RandomScalar()
	ids := testIDs(3)
	shares, err := Share(secret, ids, 3)
	require.NoError(t, err)

	g := cryptoutils.PasswordPoint([]byte("correct horse battery staple"))

	for trial := 0; trial < 4; trial++ {
		r := cryptoutils.RandomScalar()
		gR := cryptoutils.Suite.Point().Mul(r, g)

		partials := make([]kyber.Point, len(ids))
		for i := range ids {
			partials[i] = cryptoutils.Suite.Point().Mul(shares[i], gR)
		}

		blinded, err := InterpolatePoint(ids, partials)
		require.NoError(t, err)

		rInv := cryptoutils.Suite.Scalar().Inv(r)
		unblinded := cryptoutils.Suite.Point().Mul(rInv, blinded)

		want := cryptoutils.Suite.Point().Mul(secret, g)
		assert.True(t, want.Equal(unblinded), "trial %d: unblinded result must match g^secret", trial)
	}
}

func TestUnderThresholdYieldsUnrelatedValue(t *testing.T) {
	// Interpolating below the threshold must not reconstruct the secret,
	// and must not fail either: the engine provides no built-in
	// insufficiency detection.
	ids := testIDs(3)

	mismatches := 0
	const trials = 32
	for i := 0; i < trials; i++ {
		secret := cryptoutils.RandomScalar()
		shares, err := Share(secret, ids, 3)
		require.NoError(t, err)

		got, err := InterpolateScalar(ids[:2], shares[:2])
		require.NoError(t, err)
		if !secret.Equal(got) {
			mismatches++
		}
	}
	// Chance collisions are negligible in a 252-bit field.
	assert.Equal(t, trials, mismatches, "2-of-3 interpolation must not recover the secret")
}

func TestUnderThresholdDistribution(t *testing.T) {
	// The value recovered from T-1 shares of a fixed secret varies with
	// the polynomial's random coefficients: repeated sharings of the same
	// secret must interpolate to sub-threshold values indistinguishable
	// from uniform. Bucketing by the leading nibble and running a
	// chi-square test catches a biased draw that a distinctness check
	// would wave through.
	secret := cryptoutils.Suite.Scalar().SetInt64(42)
	ids := testIDs(3)

	const (
		trials  = 512
		buckets = 16
	)
	seen := make(map[string]struct{})
	var counts [buckets]int
	for i := 0; i < trials; i++ {
		shares, err := Share(secret, ids, 3)
		require.NoError(t, err)
		got, err := InterpolateScalar(ids[:2], shares[:2])
		require.NoError(t, err)
		seen[got.String()] = struct{}{}
		raw, err := got.MarshalBinary()
		require.NoError(t, err)
		counts[raw[0]>>4]++
	}
	assert.Equal(t, trials, len(seen), "sub-threshold values must be fresh per sharing")

	// Chi-square over 15 degrees of freedom; a bound of 50 keeps the
	// false failure rate around one in a hundred thousand.
	expected := float64(trials) / buckets
	chi2 := 0.0
	for _, observed := range counts {
		d := float64(observed) - expected
		chi2 += d * d / expected
	}
	assert.Less(t, chi2, 50.0, "sub-threshold values must be spread uniformly across buckets")
}
