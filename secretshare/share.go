// Package secretshare implements polynomial secret sharing and Lagrange
// reconstruction over the protocol's prime-order scalar field.
//
// The same interpolation applies to raw scalars (recovery, where clients
// hold literal shares) and to group elements "in the exponent" (every
// other flow, where nodes return a point already multiplied by their
// share). Both are weighted sums with the same Lagrange coefficients,
// which is what lets a client evaluate a linear functional of a shared
// secret without anyone reconstructing it.
package secretshare

import (
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// Share splits a secret into one share per id using a random polynomial
// of degree threshold-1 with the secret as constant term. Ids must be
// distinct nonzero scalars; threshold must be in [1, len(ids)].
func Share(secret kyber.Scalar, ids []kyber.Scalar, threshold int) ([]kyber.Scalar, error) {
	if threshold < 1 || threshold > len(ids) {
		return nil, interfaces.ErrInvalidThreshold
	}
	if err := validateIDs(ids); err != nil {
		return nil, err
	}

	// coeffs[0] is the secret; the rest are uniform nonzero scalars.
	coeffs := make([]kyber.Scalar, threshold)
	coeffs[0] = secret.Clone()
	for i := 1; i < threshold; i++ {
		coeffs[i] = cryptoutils.RandomScalar()
	}

	shares := make([]kyber.Scalar, len(ids))
	for i, id := range ids {
		shares[i] = evaluate(coeffs, id)
	}
	return shares, nil
}

// LagrangeCoefficient computes Li = prod_{j!=i} id_j / (id_j - id_i) for
// the given id over the full id set, using modular inversion only.
// Returns ErrSingularSet if the set contains the id more than once.
func LagrangeCoefficient(id kyber.Scalar, ids []kyber.Scalar) (kyber.Scalar, error) {
	num := cryptoutils.Suite.Scalar().One()
	den := cryptoutils.Suite.Scalar().One()
	zero := cryptoutils.Suite.Scalar().Zero()
	found := false

	for _, other := range ids {
		if other.Equal(id) {
			if found {
				return nil, fmt.Errorf("%w: id appears twice", interfaces.ErrSingularSet)
			}
			found = true
			continue
		}
		num = num.Mul(num, other)
		diff := cryptoutils.Suite.Scalar().Sub(other, id)
		if diff.Equal(zero) {
			return nil, fmt.Errorf("%w: coincident ids", interfaces.ErrSingularSet)
		}
		den = den.Mul(den, diff)
	}
	if !found {
		return nil, fmt.Errorf("%w: id not in set", interfaces.ErrInvalidInput)
	}

	return num.Div(num, den), nil
}

// InterpolateScalar reconstructs the polynomial's constant term from
// (id, share) pairs: sum Li * share_i. With fewer shares than the sharing
// threshold this silently yields an unrelated value; callers must verify
// the result independently.
func InterpolateScalar(ids, shares []kyber.Scalar) (kyber.Scalar, error) {
	if len(ids) != len(shares) || len(ids) == 0 {
		return nil, fmt.Errorf("%w: ids and shares must be non-empty and equal length", interfaces.ErrInvalidInput)
	}
	sum := cryptoutils.Suite.Scalar().Zero()
	for i, id := range ids {
		li, err := LagrangeCoefficient(id, ids)
		if err != nil {
			return nil, err
		}
		sum = sum.Add(sum, cryptoutils.Suite.Scalar().Mul(li, shares[i]))
	}
	return sum, nil
}

// InterpolatePoint reconstructs in the exponent: each point is understood
// to be some base already multiplied by one party's share, and the result
// is sum Li * point_i, i.e. the base multiplied by the shared secret.
func InterpolatePoint(ids []kyber.Scalar, points []kyber.Point) (kyber.Point, error) {
	if len(ids) != len(points) || len(ids) == 0 {
		return nil, fmt.Errorf("%w: ids and points must be non-empty and equal length", interfaces.ErrInvalidInput)
	}
	sum := cryptoutils.Suite.Point().Null()
	for i, id := range ids {
		li, err := LagrangeCoefficient(id, ids)
		if err != nil {
			return nil, err
		}
		sum = sum.Add(sum, cryptoutils.Suite.Point().Mul(li, points[i]))
	}
	return sum, nil
}

// evaluate computes the polynomial at x via Horner's rule.
func evaluate(coeffs []kyber.Scalar, x kyber.Scalar) kyber.Scalar {
	result := coeffs[len(coeffs)-1].Clone()
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = result.Mul(result, x)
		result = result.Add(result, coeffs[i])
	}
	return result
}

func validateIDs(ids []kyber.Scalar) error {
	zero := cryptoutils.Suite.Scalar().Zero()
	for i, id := range ids {
		if id.Equal(zero) {
			return fmt.Errorf("%w: zero id", interfaces.ErrInvalidInput)
		}
		for _, other := range ids[i+1:] {
			if id.Equal(other) {
				return fmt.Errorf("%w: duplicate id", interfaces.ErrInvalidInput)
			}
		}
	}
	return nil
}
