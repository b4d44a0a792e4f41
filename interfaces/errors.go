package interfaces

import "errors"

// Protocol error taxonomy. Cryptographic and validation failures abort the
// whole flow; Expired is retryable with a fresh round, Unauthorized is
// terminal. Handlers map these onto HTTP status codes and never reveal
// which specific check rejected a request.
var (
	// ErrInvalidInput marks malformed ids, thresholds or encodings,
	// rejected before any cryptographic operation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPoint marks a group element that is not a valid point of
	// the prime-order subgroup. Checked before any scalar multiplication.
	ErrInvalidPoint = errors.New("invalid curve point")

	// ErrInvalidThreshold marks a threshold outside [1, len(ids)].
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrSingularSet marks an interpolation id set with duplicates.
	ErrSingularSet = errors.New("singular interpolation set")

	// ErrUnauthorized marks a token, signature or MAC failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrExpired marks an authentic but stale token. Distinct from
	// ErrUnauthorized: it implies clock or latency trouble, not forgery,
	// and callers should start a fresh round instead of retrying.
	ErrExpired = errors.New("token expired")

	// ErrThresholdNotMet marks fewer usable partial responses than the
	// group threshold requires.
	ErrThresholdNotMet = errors.New("threshold not met")

	// ErrDuplicateRegistration marks a sign-up for an existing account.
	ErrDuplicateRegistration = errors.New("account already registered")

	// ErrSignatureMismatch marks an aggregated signature that fails
	// verification against the aggregated public key.
	ErrSignatureMismatch = errors.New("aggregated signature mismatch")
)
