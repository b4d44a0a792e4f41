package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/crypto/hkdf"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// DerivedKey is 32 bytes of symmetric key material obtained by hashing a
// recovered group element. It authenticates requests (HMAC) and protects
// node responses (AES-GCM). Clients hold derived keys only for the
// duration of one flow invocation.
type DerivedKey []byte

// KeyFromPoint derives a symmetric key from a group element via the fixed
// hash-to-key function. Both sides of every flow rely on this mapping
// being deterministic.
func KeyFromPoint(p kyber.Point) DerivedKey {
	sum := sha256.Sum256(MarshalPoint(p))
	return DerivedKey(sum[:])
}

// KeyFromBytes validates externally supplied key material.
func KeyFromBytes(b []byte) (DerivedKey, error) {
	if len(b) != sha256.Size {
		return nil, fmt.Errorf("%w: derived key must be %d bytes", interfaces.ErrInvalidInput, sha256.Size)
	}
	k := make(DerivedKey, len(b))
	copy(k, b)
	return k, nil
}

// Derive produces a per-context sub-key bound to info, typically a node
// identity buffer. Sub-keys of independent contexts are independent.
func (k DerivedKey) Derive(info []byte) DerivedKey {
	r := hkdf.New(sha256.New, k, nil, info)
	sub := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, sub); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return DerivedKey(sub)
}

// MAC computes an HMAC-SHA256 tag over the concatenation of the parts.
func (k DerivedKey) MAC(parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, k)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// VerifyMAC checks a tag produced by MAC in constant time.
func (k DerivedKey) VerifyMAC(tag []byte, parts ...[]byte) bool {
	return hmac.Equal(tag, k.MAC(parts...))
}

// Encrypt seals plaintext with AES-256-GCM under this key. The random
// nonce is prepended to the ciphertext.
func (k DerivedKey) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Authentication failure
// surfaces as ErrUnauthorized.
func (k DerivedKey) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", interfaces.ErrInvalidInput)
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", interfaces.ErrUnauthorized)
	}
	return plaintext, nil
}

func (k DerivedKey) aead() (cipher.AEAD, error) {
	if len(k) != 32 {
		return nil, fmt.Errorf("%w: derived key must be 32 bytes", interfaces.ErrInvalidInput)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
