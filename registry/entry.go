// Package registry holds signed account registration entries and the
// custodian node directory.
//
// An Entry binds a user identifier to the aggregated master public key
// produced during sign-up. Each participating custodian contributes a partial
// Schnorr signature over the entry's canonical bytes; the orchestrating
// client aggregates them into a single signature that verifies under the
// aggregated public key. An entry is only accepted once that aggregate
// checks out and at least a threshold of partials is attached, so a stored
// entry is self-certifying: no custodian quorum is needed to audit it later.
package registry

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"go.dedis.ch/kyber/v3"
)

// PartialSignature is one custodian's contribution to an entry's aggregate
// signature. S holds the 32-byte partial response scalar.
type PartialSignature struct {
	NodeID interfaces.NodeID `json:"node_id"`
	S      []byte            `json:"s"`
}

// Entry is a registration record for a single user account.
type Entry struct {
	UserID    interfaces.UserID `json:"user_id"`
	PublicKey kyber.Point       `json:"-"`

	// NodeIDs lists the custodians that participated in the sign-up
	// ceremony, in the order used for the canonical encoding.
	NodeIDs []interfaces.NodeID `json:"node_ids"`

	Partials []PartialSignature `json:"partials"`

	// Signature is the 64-byte aggregate Schnorr signature (R followed by s)
	// over SignableBytes, verifiable under PublicKey.
	Signature []byte `json:"signature"`
}

// SignableBytes returns the canonical byte encoding of the entry's signed
// fields: user id, public key, then the participant ids in listed order with
// a count prefix. Signatures are not part of the encoding.
func (e *Entry) SignableBytes() []byte {
	var buf bytes.Buffer
	buf.Write(e.UserID.Bytes())
	buf.Write(cryptoutils.MarshalPoint(e.PublicKey))
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(e.NodeIDs)))
	buf.Write(count[:])
	for _, id := range e.NodeIDs {
		buf.Write(id.Bytes())
	}
	return buf.Bytes()
}

// Verify checks the entry is well formed, carries at least threshold partial
// signatures from distinct listed custodians, and that the aggregate
// signature verifies under the entry's public key.
func (e *Entry) Verify(threshold int) error {
	if err := cryptoutils.ValidatePoint(e.PublicKey); err != nil {
		return fmt.Errorf("entry public key: %w", err)
	}
	if threshold < 1 || len(e.NodeIDs) < threshold {
		return fmt.Errorf("%w: %d participants for threshold %d", interfaces.ErrInvalidThreshold, len(e.NodeIDs), threshold)
	}
	if len(e.Partials) < threshold {
		return fmt.Errorf("%w: %d partial signatures, need %d", interfaces.ErrThresholdNotMet, len(e.Partials), threshold)
	}

	listed := make(map[interfaces.NodeID]bool, len(e.NodeIDs))
	for _, id := range e.NodeIDs {
		if listed[id] {
			return fmt.Errorf("%w: duplicate participant %s", interfaces.ErrInvalidInput, id)
		}
		listed[id] = true
	}
	seen := make(map[interfaces.NodeID]bool, len(e.Partials))
	for _, p := range e.Partials {
		if !listed[p.NodeID] {
			return fmt.Errorf("%w: partial signature from unlisted custodian %s", interfaces.ErrInvalidInput, p.NodeID)
		}
		if seen[p.NodeID] {
			return fmt.Errorf("%w: duplicate partial signature from %s", interfaces.ErrInvalidInput, p.NodeID)
		}
		seen[p.NodeID] = true
		if _, err := cryptoutils.UnmarshalScalar(p.S); err != nil {
			return fmt.Errorf("partial signature from %s: %w", p.NodeID, err)
		}
	}

	r, s, err := cryptoutils.DecodeSignature(e.Signature)
	if err != nil {
		return fmt.Errorf("aggregate signature: %w", err)
	}
	if err := cryptoutils.VerifySignature(e.PublicKey, r, s, e.SignableBytes()); err != nil {
		return err
	}
	return nil
}

type entryJSON struct {
	UserID    interfaces.UserID  `json:"user_id"`
	PublicKey []byte             `json:"public_key"`
	NodeIDs   []interfaces.NodeID `json:"node_ids"`
	Partials  []PartialSignature `json:"partials"`
	Signature []byte             `json:"signature"`
}

// MarshalJSON encodes the entry with the public key as a 32-byte blob.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		UserID:    e.UserID,
		PublicKey: cryptoutils.MarshalPoint(e.PublicKey),
		NodeIDs:   e.NodeIDs,
		Partials:  e.Partials,
		Signature: e.Signature,
	})
}

// UnmarshalJSON decodes an entry, validating the embedded public key.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pub, err := cryptoutils.UnmarshalPoint(raw.PublicKey)
	if err != nil {
		return fmt.Errorf("entry public key: %w", err)
	}
	e.UserID = raw.UserID
	e.PublicKey = pub
	e.NodeIDs = raw.NodeIDs
	e.Partials = raw.Partials
	e.Signature = raw.Signature
	return nil
}
