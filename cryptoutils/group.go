package cryptoutils

import (
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// Suite is the fixed prime-order group all protocol arithmetic runs over.
// Every scalar and point in this module belongs to this suite.
var Suite = edwards25519.NewBlakeSHA256Ed25519()

// RandomScalar draws a uniform nonzero scalar from the suite's secure
// random stream. Zero is rejected because blinding factors and polynomial
// coefficients must be invertible.
func RandomScalar() kyber.Scalar {
	s := Suite.Scalar().Pick(Suite.RandomStream())
	zero := Suite.Scalar().Zero()
	for s.Equal(zero) {
		s = Suite.Scalar().Pick(Suite.RandomStream())
	}
	return s
}

// PasswordPoint deterministically hashes arbitrary input onto the group.
// The same input always maps to the same point, and the discrete log of
// the result is unknown to everyone.
func PasswordPoint(input []byte) kyber.Point {
	return Suite.Point().Pick(Suite.XOF(input))
}

// IDScalar reduces an identifier's bytes into the scalar field to obtain
// an interpolation identity.
func IDScalar(id []byte) kyber.Scalar {
	return Suite.Scalar().SetBytes(id)
}

// ValidatePoint rejects the identity element and small-order points before
// any scalar multiplication, blocking invalid-curve and small-subgroup
// attacks at the boundary.
func ValidatePoint(p kyber.Point) error {
	if p == nil {
		return interfaces.ErrInvalidPoint
	}
	if p.Equal(Suite.Point().Null()) {
		return fmt.Errorf("%w: identity element", interfaces.ErrInvalidPoint)
	}
	if so, ok := p.(interface{ HasSmallOrder() bool }); ok && so.HasSmallOrder() {
		return fmt.Errorf("%w: small-order point", interfaces.ErrInvalidPoint)
	}
	return nil
}

// UnmarshalPoint decodes and validates a point from its 32-byte encoding.
func UnmarshalPoint(data []byte) (kyber.Point, error) {
	p := Suite.Point()
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidPoint, err)
	}
	if err := ValidatePoint(p); err != nil {
		return nil, err
	}
	return p, nil
}

// UnmarshalScalar decodes a scalar from its 32-byte encoding.
func UnmarshalScalar(data []byte) (kyber.Scalar, error) {
	s := Suite.Scalar()
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: invalid scalar encoding: %v", interfaces.ErrInvalidInput, err)
	}
	return s, nil
}

// MarshalPoint encodes a point into its 32-byte form.
func MarshalPoint(p kyber.Point) []byte {
	b, err := p.MarshalBinary()
	if err != nil {
		// Points produced by this module always marshal.
		panic(fmt.Sprintf("point marshal: %v", err))
	}
	return b
}

// MarshalScalar encodes a scalar into its 32-byte form.
func MarshalScalar(s kyber.Scalar) []byte {
	b, err := s.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("scalar marshal: %v", err))
	}
	return b
}
