package dcrypt

import (
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// Ciphertext is a vault-sealed payload: an ElGamal encryption (C1, C2) of
// a random session point under the vault public key, and the payload
// encrypted under the key derived from that point. Only C1 is ever shown
// to custodians during threshold decryption.
type Ciphertext struct {
	C1, C2  kyber.Point
	Payload []byte
}

func (ct *Ciphertext) validate() error {
	if ct == nil {
		return fmt.Errorf("%w: nil ciphertext", interfaces.ErrInvalidInput)
	}
	if err := cryptoutils.ValidatePoint(ct.C1); err != nil {
		return fmt.Errorf("ciphertext C1: %w", err)
	}
	if err := cryptoutils.ValidatePoint(ct.C2); err != nil {
		return fmt.Errorf("ciphertext C2: %w", err)
	}
	if len(ct.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", interfaces.ErrInvalidInput)
	}
	return nil
}

// Seal encrypts a plaintext under a vault public key. A fresh session
// point keys the symmetric layer; the point itself is ElGamal-encrypted so
// it can later be recovered through threshold decryption.
func Seal(vaultPub kyber.Point, plaintext []byte) (*Ciphertext, error) {
	if err := cryptoutils.ValidatePoint(vaultPub); err != nil {
		return nil, fmt.Errorf("vault public key: %w", err)
	}
	session := cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil)
	c1, c2 := cryptoutils.ElGamalEncrypt(vaultPub, session)
	payload, err := cryptoutils.KeyFromPoint(session).Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{C1: c1, C2: c2, Payload: payload}, nil
}

// Open decrypts a ciphertext with the full vault secret, the non-threshold
// path used after RetrieveKey.
func Open(ct *Ciphertext, vaultSecret kyber.Scalar) ([]byte, error) {
	if err := ct.validate(); err != nil {
		return nil, err
	}
	session := cryptoutils.ElGamalDecrypt(vaultSecret, ct.C1, ct.C2)
	return cryptoutils.KeyFromPoint(session).Decrypt(ct.Payload)
}

// Encode serializes the ciphertext as C1 || C2 || payload.
func (ct *Ciphertext) Encode() []byte {
	out := make([]byte, 0, 64+len(ct.Payload))
	out = append(out, cryptoutils.MarshalPoint(ct.C1)...)
	out = append(out, cryptoutils.MarshalPoint(ct.C2)...)
	return append(out, ct.Payload...)
}

// DecodeCiphertext parses the wire form produced by Encode.
func DecodeCiphertext(data []byte) (*Ciphertext, error) {
	if len(data) <= 64 {
		return nil, fmt.Errorf("%w: ciphertext too short", interfaces.ErrInvalidInput)
	}
	c1, err := cryptoutils.UnmarshalPoint(data[:32])
	if err != nil {
		return nil, fmt.Errorf("ciphertext C1: %w", err)
	}
	c2, err := cryptoutils.UnmarshalPoint(data[32:64])
	if err != nil {
		return nil, fmt.Errorf("ciphertext C2: %w", err)
	}
	return &Ciphertext{C1: c1, C2: c2, Payload: append([]byte(nil), data[64:]...)}, nil
}
