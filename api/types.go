package api

import (
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// Wire types for the custodian node API. Points and scalars travel as
// their 32-byte encodings (base64 in JSON); transaction tokens travel in
// their base64url string form.

// TargetedShares is the wire form of one routed share bundle.
type TargetedShares struct {
	NodeID            interfaces.NodeID `json:"node_id"`
	AuthShare         []byte            `json:"auth_share"`
	MasterShare       []byte            `json:"master_share"`
	SecondMasterShare []byte            `json:"second_master_share"`
}

// Domain decodes the bundle's scalars.
func (d TargetedShares) Domain() (custodian.TargetedShares, error) {
	auth, err := cryptoutils.UnmarshalScalar(d.AuthShare)
	if err != nil {
		return custodian.TargetedShares{}, fmt.Errorf("auth share: %w", err)
	}
	master, err := cryptoutils.UnmarshalScalar(d.MasterShare)
	if err != nil {
		return custodian.TargetedShares{}, fmt.Errorf("master share: %w", err)
	}
	second, err := cryptoutils.UnmarshalScalar(d.SecondMasterShare)
	if err != nil {
		return custodian.TargetedShares{}, fmt.Errorf("second master share: %w", err)
	}
	return custodian.TargetedShares{
		NodeID:            d.NodeID,
		AuthShare:         auth,
		MasterShare:       master,
		SecondMasterShare: second,
	}, nil
}

// TargetedSharesWire encodes a domain bundle.
func TargetedSharesWire(s custodian.TargetedShares) TargetedShares {
	return TargetedShares{
		NodeID:            s.NodeID,
		AuthShare:         cryptoutils.MarshalScalar(s.AuthShare),
		MasterShare:       cryptoutils.MarshalScalar(s.MasterShare),
		SecondMasterShare: cryptoutils.MarshalScalar(s.SecondMasterShare),
	}
}

// RandomRequest asks a node for its sign-up contribution.
type RandomRequest struct {
	BlindedPassword []byte              `json:"blinded_password"`
	Vendor          []byte              `json:"vendor,omitempty"`
	NodeIDs         []interfaces.NodeID `json:"node_ids"`
	Threshold       int                 `json:"threshold"`
}

// RandomResponse is the wire form of a node's sign-up contribution.
type RandomResponse struct {
	Label               string           `json:"label"`
	AuthPartial         []byte           `json:"auth_partial"`
	MasterCommit        []byte           `json:"master_commit"`
	SecondMasterCommit  []byte           `json:"second_master_commit"`
	VendorMasterPartial []byte           `json:"vendor_master_partial,omitempty"`
	Shares              []TargetedShares `json:"shares"`
	RawAuthShare        []byte           `json:"raw_auth_share"`
	RawMasterShare      []byte           `json:"raw_master_share"`
}

// AddRandomRequest finalizes a node's sign-up state.
type AddRandomRequest struct {
	PartialMasterPub       []byte           `json:"partial_master_pub,omitempty"`
	PartialSecondMasterPub []byte           `json:"partial_second_master_pub,omitempty"`
	Shares                 []TargetedShares `json:"shares"`
	AuthKey                []byte           `json:"auth_key"`
	MasterAuthKey          []byte           `json:"master_auth_key"`
	Email                  string           `json:"email,omitempty"`
	EntryBytes             []byte           `json:"entry_bytes"`
	Lagrange               []byte           `json:"lagrange,omitempty"`
}

// AddRandomResponse carries the completed aggregates, the node's partial
// entry signature and the sealed transaction token.
type AddRandomResponse struct {
	MasterPub        []byte `json:"master_pub"`
	SecondMasterPub  []byte `json:"second_master_pub"`
	PartialSignature []byte `json:"partial_signature"`
	EncryptedToken   []byte `json:"encrypted_token"`
}

// SignEntryRequest asks for a fresh partial signature over an entry.
type SignEntryRequest struct {
	Token                  string `json:"token"`
	PartialMasterPub       []byte `json:"partial_master_pub,omitempty"`
	PartialSecondMasterPub []byte `json:"partial_second_master_pub,omitempty"`
	EntryBytes             []byte `json:"entry_bytes"`
	Lagrange               []byte `json:"lagrange,omitempty"`
}

// SignEntryResponse carries the partial signature scalar.
type SignEntryResponse struct {
	PartialSignature []byte `json:"partial_signature"`
}

// ApplyShareRequest is login's first round.
type ApplyShareRequest struct {
	BlindedPoint []byte `json:"blinded_point"`
	Lagrange     []byte `json:"lagrange,omitempty"`
}

// ApplyShareResponse returns the share-scaled point and an unsigned token.
type ApplyShareResponse struct {
	Partial []byte `json:"partial"`
	Token   string `json:"token"`
}

// AuthenticateRequest is login's second round.
type AuthenticateRequest struct {
	Point    []byte `json:"point"`
	Token    string `json:"token"`
	Lagrange []byte `json:"lagrange,omitempty"`
}

// AuthenticateResponse carries the sealed master-share partials: one over
// the client-supplied point, one over the standard base point.
type AuthenticateResponse struct {
	EncryptedPartial    []byte `json:"encrypted_partial"`
	EncryptedPubPartial []byte `json:"encrypted_pub_partial"`
}

// ChangeShareRequest replaces a node's auth share and key.
type ChangeShareRequest struct {
	NewAuthShare    []byte `json:"new_auth_share"`
	NewAuthKey      []byte `json:"new_auth_key"`
	Token           string `json:"token"`
	UsingMasterAuth bool   `json:"using_master_auth"`
}

// MarkStaleRequest supersedes a record after recovery.
type MarkStaleRequest struct {
	Token string `json:"token"`
}

// RegisterVaultKeyRequest stores a vault key share.
type RegisterVaultKeyRequest struct {
	KeyShare  []byte `json:"key_share"`
	PublicKey []byte `json:"public_key"`
	AuthKey   []byte `json:"auth_key"`
	Token     string `json:"token"`
}

// VaultShareRequest retrieves the sealed vault key share.
type VaultShareRequest struct {
	Token string `json:"token"`
}

// VaultShareResponse carries the sealed share.
type VaultShareResponse struct {
	EncryptedShare []byte `json:"encrypted_share"`
}

// ChallengeResponse is a sealed freshness challenge.
type ChallengeResponse struct {
	C1    []byte `json:"c1"`
	C2    []byte `json:"c2"`
	Token string `json:"token"`
}

// DecryptPartialRequest requests a partial decryption.
type DecryptPartialRequest struct {
	Ephemeral []byte `json:"ephemeral"`
	Token     string `json:"token"`
	Proof     []byte `json:"proof"`
	Lagrange  []byte `json:"lagrange,omitempty"`
}

// DecryptPartialResponse carries the sealed partial decryption.
type DecryptPartialResponse struct {
	EncryptedPartial []byte `json:"encrypted_partial"`
}

// OptionalScalar decodes a possibly absent scalar, used for the Lagrange
// coefficient parameters.
func OptionalScalar(b []byte) (kyber.Scalar, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return cryptoutils.UnmarshalScalar(b)
}

// OptionalScalarWire encodes a possibly nil scalar.
func OptionalScalarWire(s kyber.Scalar) []byte {
	if s == nil {
		return nil
	}
	return cryptoutils.MarshalScalar(s)
}

// OptionalPoint decodes a possibly absent point.
func OptionalPoint(b []byte) (kyber.Point, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return cryptoutils.UnmarshalPoint(b)
}

// OptionalPointWire encodes a possibly nil point.
func OptionalPointWire(p kyber.Point) []byte {
	if p == nil {
		return nil
	}
	return cryptoutils.MarshalPoint(p)
}

// ParseToken parses the wire form of a transaction token.
func ParseToken(s string) (*trantoken.Token, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing token", interfaces.ErrInvalidInput)
	}
	return trantoken.ParseString(s)
}
