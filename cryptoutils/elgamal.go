package cryptoutils

import "go.dedis.ch/kyber/v3"

// ElGamal encryption of group elements under the aggregated vault key.
// The vault secret is threshold-shared, so C1 is what the custodians
// partially decrypt while C2 never leaves the client.

// ElGamalEncrypt encrypts a message point to a public key, returning the
// ephemeral commitment C1 = G*k and the blinded message C2 = M + pub*k.
func ElGamalEncrypt(pub, msg kyber.Point) (c1, c2 kyber.Point) {
	k := RandomScalar()
	c1 = Suite.Point().Mul(k, nil)
	shared := Suite.Point().Mul(k, pub)
	c2 = Suite.Point().Add(msg, shared)
	return c1, c2
}

// ElGamalDecrypt recovers the message point with the full private scalar.
// The threshold path instead sums partial decryptions of C1 and subtracts.
func ElGamalDecrypt(priv kyber.Scalar, c1, c2 kyber.Point) kyber.Point {
	shared := Suite.Point().Mul(priv, c1)
	return Suite.Point().Sub(c2, shared)
}
