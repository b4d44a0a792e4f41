package interfaces

import "context"

// ShareStore is the per-node persistent store for key share records,
// keyed by user id. Implementations must serialize mutations per user:
// Create and Update for the same user id must never interleave, and reads
// must return a consistent snapshot.
type ShareStore interface {
	// Get retrieves a record. Returns ErrShareNotFound if absent.
	Get(ctx context.Context, user UserID) (*KeyShareRecord, error)

	// Create stores a new record. Returns ErrDuplicateRegistration if a
	// record already exists for the user.
	Create(ctx context.Context, record *KeyShareRecord) error

	// Update overwrites an existing record. Returns ErrShareNotFound if
	// no record exists for the user.
	Update(ctx context.Context, record *KeyShareRecord) error
}

// VaultStore is the per-node persistent store for vault key shares.
type VaultStore interface {
	Get(ctx context.Context, user UserID) (*VaultKeyRecord, error)
	Create(ctx context.Context, record *VaultKeyRecord) error
}

// Directory resolves the active custodian node set. Node addresses and
// public keys are provisioned externally; the protocol only reads them.
type Directory interface {
	// Nodes returns the active custodian set in a stable order.
	Nodes(ctx context.Context) ([]NodeInfo, error)
}

// Mailer delivers out-of-band recovery codes. Only the recovery flow
// invokes it.
type Mailer interface {
	SendRecoveryCode(ctx context.Context, user UserID, email, code string) error
}
