// Package storage provides the custodian node's persistent stores for
// key share records and vault key records, with interchangeable backends
// (memory, file, HashiCorp Vault, S3) selected by location URI.
//
// Backends move opaque blobs; the typed stores layered on top handle
// encoding and create/update semantics. None of the backends serialize
// concurrent writers themselves: the node service holds a per-user lock
// around every mutation, and the stores rely on that.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// RecordKind namespaces the two record types a node persists.
type RecordKind int

const (
	// ShareRecordKind holds per-user key share records.
	ShareRecordKind RecordKind = iota
	// VaultRecordKind holds per-user vault key records.
	VaultRecordKind
)

// String returns the namespace prefix for the kind.
func (k RecordKind) String() string {
	switch k {
	case ShareRecordKind:
		return "shares"
	case VaultRecordKind:
		return "vault"
	default:
		return "unknown"
	}
}

// Backend moves opaque record blobs keyed by user id and record kind.
// Fetch returns interfaces.ErrShareNotFound when no blob exists.
type Backend interface {
	Fetch(ctx context.Context, user interfaces.UserID, kind RecordKind) ([]byte, error)
	Store(ctx context.Context, user interfaces.UserID, kind RecordKind, data []byte) error

	// Name identifies the backend in logs.
	Name() string
}

// shareRecordJSON is the wire/storage form of a KeyShareRecord. Scalars
// travel as their 32-byte encodings, which encoding/json base64s.
type shareRecordJSON struct {
	UserID            string `json:"user_id"`
	AuthShare         []byte `json:"auth_share"`
	MasterShare       []byte `json:"master_share"`
	SecondMasterShare []byte `json:"second_master_share"`
	AuthKey           []byte `json:"auth_key"`
	MasterAuthKey     []byte `json:"master_auth_key,omitempty"`
	Email             string `json:"email,omitempty"`
	Confirmed         bool   `json:"confirmed"`
	Stale             bool   `json:"stale"`
}

type vaultRecordJSON struct {
	UserID    string `json:"user_id"`
	KeyShare  []byte `json:"key_share"`
	PublicKey []byte `json:"public_key"`
	AuthKey   []byte `json:"auth_key"`
}

func encodeShareRecord(r *interfaces.KeyShareRecord) ([]byte, error) {
	return json.Marshal(shareRecordJSON{
		UserID:            r.UserID.String(),
		AuthShare:         cryptoutils.MarshalScalar(r.AuthShare),
		MasterShare:       cryptoutils.MarshalScalar(r.MasterShare),
		SecondMasterShare: cryptoutils.MarshalScalar(r.SecondMasterShare),
		AuthKey:           r.AuthKey,
		MasterAuthKey:     r.MasterAuthKey,
		Email:             r.Email,
		Confirmed:         r.Confirmed,
		Stale:             r.Stale,
	})
}

func decodeShareRecord(data []byte) (*interfaces.KeyShareRecord, error) {
	var raw shareRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode share record: %w", err)
	}
	uid, err := interfaces.NewUserIDFromString(raw.UserID)
	if err != nil {
		return nil, err
	}
	authShare, err := cryptoutils.UnmarshalScalar(raw.AuthShare)
	if err != nil {
		return nil, fmt.Errorf("auth share: %w", err)
	}
	masterShare, err := cryptoutils.UnmarshalScalar(raw.MasterShare)
	if err != nil {
		return nil, fmt.Errorf("master share: %w", err)
	}
	secondShare, err := cryptoutils.UnmarshalScalar(raw.SecondMasterShare)
	if err != nil {
		return nil, fmt.Errorf("second master share: %w", err)
	}
	return &interfaces.KeyShareRecord{
		UserID:            uid,
		AuthShare:         authShare,
		MasterShare:       masterShare,
		SecondMasterShare: secondShare,
		AuthKey:           raw.AuthKey,
		MasterAuthKey:     raw.MasterAuthKey,
		Email:             raw.Email,
		Confirmed:         raw.Confirmed,
		Stale:             raw.Stale,
	}, nil
}

func encodeVaultRecord(r *interfaces.VaultKeyRecord) ([]byte, error) {
	return json.Marshal(vaultRecordJSON{
		UserID:    r.UserID.String(),
		KeyShare:  cryptoutils.MarshalScalar(r.KeyShare),
		PublicKey: cryptoutils.MarshalPoint(r.PublicKey),
		AuthKey:   r.AuthKey,
	})
}

func decodeVaultRecord(data []byte) (*interfaces.VaultKeyRecord, error) {
	var raw vaultRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode vault record: %w", err)
	}
	uid, err := interfaces.NewUserIDFromString(raw.UserID)
	if err != nil {
		return nil, err
	}
	keyShare, err := cryptoutils.UnmarshalScalar(raw.KeyShare)
	if err != nil {
		return nil, fmt.Errorf("key share: %w", err)
	}
	pub, err := cryptoutils.UnmarshalPoint(raw.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	return &interfaces.VaultKeyRecord{
		UserID:    uid,
		KeyShare:  keyShare,
		PublicKey: pub,
		AuthKey:   raw.AuthKey,
	}, nil
}

// ShareStore adapts a Backend into the typed per-user share record store.
type ShareStore struct {
	backend Backend
}

// NewShareStore wraps a backend.
func NewShareStore(backend Backend) *ShareStore {
	return &ShareStore{backend: backend}
}

// Get retrieves and decodes a record.
func (s *ShareStore) Get(ctx context.Context, user interfaces.UserID) (*interfaces.KeyShareRecord, error) {
	data, err := s.backend.Fetch(ctx, user, ShareRecordKind)
	if err != nil {
		return nil, err
	}
	return decodeShareRecord(data)
}

// Create stores a record for a user that must not already have one.
func (s *ShareStore) Create(ctx context.Context, record *interfaces.KeyShareRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if _, err := s.backend.Fetch(ctx, record.UserID, ShareRecordKind); err == nil {
		return interfaces.ErrDuplicateRegistration
	}
	data, err := encodeShareRecord(record)
	if err != nil {
		return err
	}
	return s.backend.Store(ctx, record.UserID, ShareRecordKind, data)
}

// Update overwrites a record that must already exist.
func (s *ShareStore) Update(ctx context.Context, record *interfaces.KeyShareRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if _, err := s.backend.Fetch(ctx, record.UserID, ShareRecordKind); err != nil {
		return err
	}
	data, err := encodeShareRecord(record)
	if err != nil {
		return err
	}
	return s.backend.Store(ctx, record.UserID, ShareRecordKind, data)
}

// VaultStore adapts a Backend into the typed vault key record store.
type VaultStore struct {
	backend Backend
}

// NewVaultStore wraps a backend.
func NewVaultStore(backend Backend) *VaultStore {
	return &VaultStore{backend: backend}
}

// Get retrieves and decodes a vault record.
func (s *VaultStore) Get(ctx context.Context, user interfaces.UserID) (*interfaces.VaultKeyRecord, error) {
	data, err := s.backend.Fetch(ctx, user, VaultRecordKind)
	if err != nil {
		return nil, err
	}
	return decodeVaultRecord(data)
}

// Create stores a vault record for a user that must not already have one.
func (s *VaultStore) Create(ctx context.Context, record *interfaces.VaultKeyRecord) error {
	if _, err := s.backend.Fetch(ctx, record.UserID, VaultRecordKind); err == nil {
		return interfaces.ErrDuplicateRegistration
	}
	data, err := encodeVaultRecord(record)
	if err != nil {
		return err
	}
	return s.backend.Store(ctx, record.UserID, VaultRecordKind, data)
}
