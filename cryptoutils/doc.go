// Package cryptoutils provides the cryptographic primitives the custody
// protocol is built from: the fixed edwards25519 suite with point
// validation, symmetric keys derived from group elements (HKDF
// sub-derivation, HMAC, AES-GCM), multi-party Schnorr signature
// contributions and aggregate verification, and ElGamal encryption of
// group elements for the threshold decryption flow.
package cryptoutils
