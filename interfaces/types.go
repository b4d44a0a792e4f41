package interfaces

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
)

// UserID identifies an account across all custodian nodes.
type UserID uuid.UUID

// NewUserIDFromString parses a UserID from its canonical UUID string form.
func NewUserIDFromString(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user id: %w", err)
	}
	return UserID(id), nil
}

// SeedUserID derives a stable UserID from an arbitrary username string.
func SeedUserID(name string) UserID {
	return UserID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))
}

// String returns the canonical UUID representation.
func (id UserID) String() string {
	return uuid.UUID(id).String()
}

// Bytes returns the raw 16-byte identifier.
func (id UserID) Bytes() []byte {
	b := uuid.UUID(id)
	return b[:]
}

// MarshalText implements encoding.TextMarshaler so the id travels as its
// canonical string in JSON.
func (id UserID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := NewUserIDFromString(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeID identifies a custodian node. Its byte representation, reduced
// into the scalar field, is the node's interpolation identity; the all-zero
// id is invalid because it collapses Lagrange interpolation.
type NodeID uuid.UUID

// NewNodeIDFromString parses a NodeID from its canonical UUID string form.
func NewNodeIDFromString(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid node id: %w", err)
	}
	return NodeID(id), nil
}

// String returns the canonical UUID representation.
func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

// Bytes returns the raw 16-byte identifier.
func (id NodeID) Bytes() []byte {
	b := uuid.UUID(id)
	return b[:]
}

// MarshalText implements encoding.TextMarshaler so the id travels as its
// canonical string in JSON.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(b []byte) error {
	parsed, err := NewNodeIDFromString(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ThresholdGroup describes the custodian set a secret is shared across.
type ThresholdGroup struct {
	// NodeIDs are the interpolation identities of all participating nodes.
	NodeIDs []NodeID

	// Threshold is the minimum number of cooperating nodes required to
	// derive or use a shared secret.
	Threshold int
}

// Validate checks the group invariants: 1 <= Threshold <= len(NodeIDs),
// all ids distinct and nonzero.
func (g ThresholdGroup) Validate() error {
	if g.Threshold < 1 || g.Threshold > len(g.NodeIDs) {
		return ErrInvalidThreshold
	}
	seen := make(map[NodeID]struct{}, len(g.NodeIDs))
	for _, id := range g.NodeIDs {
		if id == (NodeID{}) {
			return fmt.Errorf("%w: zero node id", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate node id %s", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// KeyShareRecord is the per-user state owned by exactly one custodian node.
// It is created on sign-up, mutated only by password change and recovery
// re-share, and marked stale rather than deleted when superseded.
type KeyShareRecord struct {
	// UserID keys the record in the node's share store.
	UserID UserID

	// AuthShare is the node's share of the password-authentication secret.
	AuthShare kyber.Scalar

	// MasterShare is the node's share of the master (vault-unlock) secret.
	MasterShare kyber.Scalar

	// SecondMasterShare is the node's share of the secondary master
	// secret used as the aggregated signature nonce.
	SecondMasterShare kyber.Scalar

	// AuthKey authenticates requests bound to the password-derived key.
	AuthKey []byte

	// MasterAuthKey authenticates requests bound to the master-derived
	// key (password change after recovery).
	MasterAuthKey []byte

	// Email receives the out-of-band recovery code for this node's share.
	Email string

	// Confirmed marks sign-up completion; unconfirmed records must not
	// be used for authentication.
	Confirmed bool

	// Stale marks a record superseded by a recovery re-share.
	Stale bool
}

// Validate checks that all share and key material is present.
func (r *KeyShareRecord) Validate() error {
	if r.UserID == (UserID{}) {
		return fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	if r.AuthShare == nil || r.MasterShare == nil || r.SecondMasterShare == nil {
		return fmt.Errorf("%w: missing share material", ErrInvalidInput)
	}
	if len(r.AuthKey) == 0 {
		return fmt.Errorf("%w: missing auth key", ErrInvalidInput)
	}
	return nil
}

// VaultKeyRecord is a node's share of a separately registered vault key,
// stored during the distributed key registration that follows sign-up.
type VaultKeyRecord struct {
	// UserID keys the record in the node's vault store.
	UserID UserID

	// KeyShare is the node's share of the vault private key.
	KeyShare kyber.Scalar

	// PublicKey is the registrant's long-term public key. Freshness
	// challenges are encrypted to it, so only the holder of the matching
	// private key can request partial decryptions.
	PublicKey kyber.Point

	// AuthKey authenticates retrieval and decryption requests.
	AuthKey []byte
}

// NodeInfo is the directory's description of one custodian node.
type NodeInfo struct {
	// ID is the node's interpolation identity.
	ID NodeID `json:"id"`

	// URL is the node's API base URL.
	URL string `json:"url"`

	// PublicKey is the node's long-term signing key, base64 encoded.
	PublicKey []byte `json:"public_key"`
}

// ErrShareNotFound is returned by share stores when no record exists for
// a user id. Handlers must map it to a generic authorization failure so
// account existence does not leak.
var ErrShareNotFound = errors.New("share record not found")
