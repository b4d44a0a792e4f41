// Package trantoken implements the short-lived transaction token that
// binds a custodian response to one protocol step. A token is issued by a
// node (or by a client holding a derived key), authenticated with
// HMAC-SHA256, and consumed at most once by the next call in the same
// flow. Authenticity and freshness are separate checks with separate
// failure classes: a bad tag means forgery, a stale timestamp means the
// round must be rerun.
package trantoken

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// DefaultWindow is how long a token stays fresh after issuance.
const DefaultWindow = 30 * time.Second

const (
	idSize    = 16
	sigSize   = 32
	tokenSize = idSize + 8 + sigSize
)

// Token is a signed capsule of {random id, issue time}. The optional
// payload is covered by the tag but never carried in the token itself;
// both sides reconstruct it from the request.
type Token struct {
	ID       [idSize]byte
	IssuedAt time.Time
	Sig      []byte
}

// New creates an unsigned token stamped with the current time.
func New() *Token {
	t := &Token{IssuedAt: time.Now().UTC().Truncate(time.Second)}
	if _, err := io.ReadFull(rand.Reader, t.ID[:]); err != nil {
		panic(fmt.Sprintf("token id generation: %v", err))
	}
	return t
}

// Copy returns a detached copy that can be re-signed under another key
// without touching the original.
func (t *Token) Copy() *Token {
	c := &Token{ID: t.ID, IssuedAt: t.IssuedAt}
	if t.Sig != nil {
		c.Sig = append([]byte(nil), t.Sig...)
	}
	return c
}

// Sign authenticates the token's id and timestamp, plus any payload
// parts, under the key. Returns the token for chaining.
func (t *Token) Sign(key cryptoutils.DerivedKey, payload ...[]byte) *Token {
	t.Sig = key.MAC(t.signedParts(payload)...)
	return t
}

// Check verifies the authentication tag against the key and payload.
func (t *Token) Check(key cryptoutils.DerivedKey, payload ...[]byte) bool {
	if len(t.Sig) != sigSize {
		return false
	}
	return key.VerifyMAC(t.Sig, t.signedParts(payload)...)
}

// OnTime reports whether the token is inside the freshness window. The
// small negative allowance absorbs clock skew between client and node.
func (t *Token) OnTime(window time.Duration) bool {
	age := time.Since(t.IssuedAt)
	return age >= -window/2 && age <= window
}

func (t *Token) signedParts(payload [][]byte) [][]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.IssuedAt.Unix()))
	parts := [][]byte{t.ID[:], ts[:]}
	return append(parts, payload...)
}

// Encode serializes the token as id || timestamp || tag.
func (t *Token) Encode() []byte {
	out := make([]byte, 0, tokenSize)
	out = append(out, t.ID[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.IssuedAt.Unix()))
	out = append(out, ts[:]...)
	return append(out, t.Sig...)
}

// EncodeString returns the base64url form used on the wire.
func (t *Token) EncodeString() string {
	return base64.RawURLEncoding.EncodeToString(t.Encode())
}

// Parse deserializes a signed token.
func Parse(data []byte) (*Token, error) {
	if len(data) != tokenSize {
		return nil, fmt.Errorf("%w: token must be %d bytes", interfaces.ErrInvalidInput, tokenSize)
	}
	t := &Token{}
	copy(t.ID[:], data[:idSize])
	t.IssuedAt = time.Unix(int64(binary.BigEndian.Uint64(data[idSize:idSize+8])), 0).UTC()
	t.Sig = append([]byte(nil), data[idSize+8:]...)
	return t, nil
}

// ParseString parses the base64url wire form.
func ParseString(s string) (*Token, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: token encoding: %v", interfaces.ErrInvalidInput, err)
	}
	return Parse(data)
}
