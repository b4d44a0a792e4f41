package cryptoutils

import (
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// Multi-party Schnorr signing over a canonical message. Each custodian
// contributes s_i = nonceShare_i + H(R||A||M)*keyShare_i, where the shares
// are already scaled by the node's Lagrange coefficient when fewer than
// the full node set participates. The aggregated scalar together with the
// aggregated nonce commitment forms one signature verifiable under the
// aggregated public key.

// SignatureChallenge computes the challenge scalar H(R || A || M).
func SignatureChallenge(nonceCommit, publicKey kyber.Point, msg []byte) kyber.Scalar {
	h := Suite.Hash()
	h.Write(MarshalPoint(nonceCommit))
	h.Write(MarshalPoint(publicKey))
	h.Write(msg)
	return Suite.Scalar().SetBytes(h.Sum(nil))
}

// PartialSignature computes one custodian's signature contribution from
// its (Lagrange-scaled) nonce and key shares.
func PartialSignature(nonceShare, keyShare kyber.Scalar, nonceCommit, publicKey kyber.Point, msg []byte) kyber.Scalar {
	c := SignatureChallenge(nonceCommit, publicKey, msg)
	return Suite.Scalar().Add(nonceShare, Suite.Scalar().Mul(c, keyShare))
}

// AggregateSignatures folds partial signature scalars into the final
// signature scalar modulo the group order.
func AggregateSignatures(partials []kyber.Scalar) (kyber.Scalar, error) {
	if len(partials) == 0 {
		return nil, interfaces.ErrThresholdNotMet
	}
	sum := Suite.Scalar().Zero()
	for _, p := range partials {
		sum = sum.Add(sum, p)
	}
	return sum, nil
}

// VerifySignature performs the standard Schnorr check
// G*s == R + A*H(R||A||M).
func VerifySignature(publicKey, nonceCommit kyber.Point, s kyber.Scalar, msg []byte) error {
	if err := ValidatePoint(publicKey); err != nil {
		return err
	}
	c := SignatureChallenge(nonceCommit, publicKey, msg)
	left := Suite.Point().Mul(s, nil)
	right := Suite.Point().Add(nonceCommit, Suite.Point().Mul(c, publicKey))
	if !left.Equal(right) {
		return interfaces.ErrSignatureMismatch
	}
	return nil
}

// EncodeSignature packs (R, s) into the 64-byte wire form.
func EncodeSignature(nonceCommit kyber.Point, s kyber.Scalar) []byte {
	return append(MarshalPoint(nonceCommit), MarshalScalar(s)...)
}

// DecodeSignature unpacks a 64-byte signature into (R, s).
func DecodeSignature(sig []byte) (kyber.Point, kyber.Scalar, error) {
	if len(sig) != 64 {
		return nil, nil, fmt.Errorf("%w: signature must be 64 bytes", interfaces.ErrInvalidInput)
	}
	r, err := UnmarshalPoint(sig[:32])
	if err != nil {
		return nil, nil, err
	}
	s, err := UnmarshalScalar(sig[32:])
	if err != nil {
		return nil, nil, err
	}
	return r, s, nil
}
