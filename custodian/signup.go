package custodian

import (
	"context"
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/secretshare"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// TargetedShares is one node's polynomial evaluations destined for a single
// participant. During sign-up every node produces one of these per
// participant; the orchestrator routes each bundle to its target, which sums
// the evaluations it receives into its final shares.
type TargetedShares struct {
	NodeID interfaces.NodeID

	AuthShare         kyber.Scalar
	MasterShare       kyber.Scalar
	SecondMasterShare kyber.Scalar
}

// RandomRequest asks a node to contribute fresh randomness to a sign-up
// ceremony.
type RandomRequest struct {
	// BlindedPassword is the client's password point raised to a random
	// blinding exponent. The node only ever sees the blinded form.
	BlindedPassword kyber.Point

	// Vendor is an optional service point the master contribution is also
	// applied to, producing a vendor-scoped partial.
	Vendor kyber.Point

	// Group describes the full participant set and threshold.
	Group interfaces.ThresholdGroup
}

// RandomResponse is a node's sign-up contribution: three fresh secrets
// (auth, master, second master), their public commitments, the blinded
// password partial, and the per-participant share bundles for routing.
type RandomResponse struct {
	Label string

	AuthPartial           kyber.Point
	MasterCommit          kyber.Point
	SecondMasterCommit    kyber.Point
	VendorMasterPartial   kyber.Point

	// Shares holds one bundle per participant, including this node itself.
	Shares []TargetedShares

	// RawAuthShare and RawMasterShare are the unsharded contributions,
	// used when the ceremony runs in all-nodes (non-threshold) mode.
	RawAuthShare   kyber.Scalar
	RawMasterShare kyber.Scalar
}

// GetRandom draws three independent random secrets, shares each across the
// participant set, and returns the commitments and routed share bundles.
// The node persists nothing here: its own final shares only exist once the
// orchestrator delivers every participant's bundle back through AddRandom.
func (s *Service) GetRandom(ctx context.Context, req *RandomRequest) (resp *RandomResponse, err error) {
	defer func() { s.count("get_random", err) }()

	if err := req.Group.Validate(); err != nil {
		return nil, err
	}
	if err := cryptoutils.ValidatePoint(req.BlindedPassword); err != nil {
		return nil, fmt.Errorf("blinded password: %w", err)
	}
	if req.Vendor != nil {
		if err := cryptoutils.ValidatePoint(req.Vendor); err != nil {
			return nil, fmt.Errorf("vendor point: %w", err)
		}
	}
	if !groupContains(req.Group, s.cfg.ID) {
		return nil, fmt.Errorf("%w: node %s not in participant set", interfaces.ErrInvalidInput, s.cfg.ID)
	}

	auth := cryptoutils.RandomScalar()
	master := cryptoutils.RandomScalar()
	second := cryptoutils.RandomScalar()

	ids := make([]kyber.Scalar, len(req.Group.NodeIDs))
	for i, nid := range req.Group.NodeIDs {
		ids[i] = cryptoutils.IDScalar(nid.Bytes())
	}
	authShares, err := secretshare.Share(auth, ids, req.Group.Threshold)
	if err != nil {
		return nil, err
	}
	masterShares, err := secretshare.Share(master, ids, req.Group.Threshold)
	if err != nil {
		return nil, err
	}
	secondShares, err := secretshare.Share(second, ids, req.Group.Threshold)
	if err != nil {
		return nil, err
	}

	shares := make([]TargetedShares, len(req.Group.NodeIDs))
	for i, nid := range req.Group.NodeIDs {
		shares[i] = TargetedShares{
			NodeID:            nid,
			AuthShare:         authShares[i],
			MasterShare:       masterShares[i],
			SecondMasterShare: secondShares[i],
		}
	}

	resp = &RandomResponse{
		Label:              s.cfg.Label,
		AuthPartial:        cryptoutils.Suite.Point().Mul(auth, req.BlindedPassword),
		MasterCommit:       cryptoutils.Suite.Point().Mul(master, nil),
		SecondMasterCommit: cryptoutils.Suite.Point().Mul(second, nil),
		Shares:             shares,
		RawAuthShare:       auth,
		RawMasterShare:     master,
	}
	if req.Vendor != nil {
		resp.VendorMasterPartial = cryptoutils.Suite.Point().Mul(master, req.Vendor)
	}
	return resp, nil
}

// AddRandomRequest finalizes a node's sign-up state: the orchestrator
// forwards every participant's share bundle targeted at this node, the
// per-node authentication keys derived from the password, and the canonical
// bytes of the registration entry the node should co-sign.
type AddRandomRequest struct {
	UserID interfaces.UserID

	// PartialMasterPub and PartialSecondMasterPub are the sums of the
	// OTHER participants' commitments, aggregated client-side.
	PartialMasterPub       kyber.Point
	PartialSecondMasterPub kyber.Point

	// Shares are the bundles targeted at this node, one per participant.
	Shares []TargetedShares

	// AuthKey and MasterAuthKey are this node's derived authentication
	// keys; the node stores them and verifies later requests against them.
	AuthKey       []byte
	MasterAuthKey []byte

	Email string

	// EntryBytes is the canonical encoding of the registration entry.
	EntryBytes []byte

	// Lagrange is this node's coefficient for the participant set, or nil
	// in all-nodes mode.
	Lagrange kyber.Scalar
}

// AddRandomResponse carries the node's completed aggregates and its partial
// signature over the registration entry. The transaction token comes back
// encrypted under the auth key: only a client that actually derived the
// password key can open it and progress to SignEntry.
type AddRandomResponse struct {
	MasterPub       kyber.Point
	SecondMasterPub kyber.Point

	PartialSignature kyber.Scalar

	EncryptedToken []byte
}

// AddRandom sums the forwarded share bundles into this node's final shares,
// persists the key share record (unconfirmed), completes the public key
// aggregates with its own scaled contribution and co-signs the entry.
func (s *Service) AddRandom(ctx context.Context, req *AddRandomRequest) (resp *AddRandomResponse, err error) {
	defer func() { s.count("add_random", err) }()

	if len(req.Shares) == 0 {
		return nil, fmt.Errorf("%w: no share bundles", interfaces.ErrInvalidInput)
	}
	masterPartial, err := partialAggregate(req.PartialMasterPub)
	if err != nil {
		return nil, fmt.Errorf("partial master pub: %w", err)
	}
	secondPartial, err := partialAggregate(req.PartialSecondMasterPub)
	if err != nil {
		return nil, fmt.Errorf("partial second master pub: %w", err)
	}
	authKey, err := cryptoutils.KeyFromBytes(req.AuthKey)
	if err != nil {
		return nil, fmt.Errorf("auth key: %w", err)
	}
	if _, err := cryptoutils.KeyFromBytes(req.MasterAuthKey); err != nil {
		return nil, fmt.Errorf("master auth key: %w", err)
	}

	authShare := cryptoutils.Suite.Scalar().Zero()
	masterShare := cryptoutils.Suite.Scalar().Zero()
	secondShare := cryptoutils.Suite.Scalar().Zero()
	for _, bundle := range req.Shares {
		if bundle.AuthShare == nil || bundle.MasterShare == nil || bundle.SecondMasterShare == nil {
			return nil, fmt.Errorf("%w: incomplete share bundle from %s", interfaces.ErrInvalidInput, bundle.NodeID)
		}
		authShare.Add(authShare, bundle.AuthShare)
		masterShare.Add(masterShare, bundle.MasterShare)
		secondShare.Add(secondShare, bundle.SecondMasterShare)
	}

	record := &interfaces.KeyShareRecord{
		UserID:            req.UserID,
		AuthShare:         authShare,
		MasterShare:       masterShare,
		SecondMasterShare: secondShare,
		AuthKey:           req.AuthKey,
		MasterAuthKey:     req.MasterAuthKey,
		Email:             req.Email,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	unlock := s.lockUser(req.UserID)
	err = s.shares.Create(ctx, record)
	unlock()
	if err != nil {
		return nil, err
	}

	scaledMaster := scaled(masterShare, req.Lagrange)
	scaledSecond := scaled(secondShare, req.Lagrange)
	masterPub := cryptoutils.Suite.Point().Add(masterPartial,
		cryptoutils.Suite.Point().Mul(scaledMaster, nil))
	secondPub := cryptoutils.Suite.Point().Add(secondPartial,
		cryptoutils.Suite.Point().Mul(scaledSecond, nil))

	partial := cryptoutils.PartialSignature(scaledSecond, scaledMaster, secondPub, masterPub, req.EntryBytes)

	token := trantoken.New().Sign(s.cfg.TokenKey, req.UserID.Bytes())
	encToken, err := authKey.Encrypt(token.Encode())
	if err != nil {
		return nil, fmt.Errorf("sealing token: %w", err)
	}

	s.log.Info("stored sign-up record", "user", req.UserID)
	return &AddRandomResponse{
		MasterPub:        masterPub,
		SecondMasterPub:  secondPub,
		PartialSignature: partial,
		EncryptedToken:   encToken,
	}, nil
}

// SignEntryRequest asks the node for a fresh partial signature over a
// registration entry, authorized by the token issued during AddRandom.
type SignEntryRequest struct {
	UserID interfaces.UserID
	Token  *trantoken.Token

	PartialMasterPub       kyber.Point
	PartialSecondMasterPub kyber.Point

	EntryBytes []byte
	Lagrange   kyber.Scalar
}

// SignEntry verifies the sign-up token and co-signs the entry with the
// node's stored shares. Unlike AddRandom it reads the persisted record, so
// it also serves re-signing after the ceremony completed.
func (s *Service) SignEntry(ctx context.Context, req *SignEntryRequest) (partial kyber.Scalar, err error) {
	defer func() { s.count("sign_entry", err) }()

	if err := s.checkToken(req.Token, s.cfg.TokenKey, req.UserID.Bytes()); err != nil {
		return nil, err
	}
	masterPartial, err := partialAggregate(req.PartialMasterPub)
	if err != nil {
		return nil, fmt.Errorf("partial master pub: %w", err)
	}
	secondPartial, err := partialAggregate(req.PartialSecondMasterPub)
	if err != nil {
		return nil, fmt.Errorf("partial second master pub: %w", err)
	}

	record, err := s.shares.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
	}

	scaledMaster := scaled(record.MasterShare, req.Lagrange)
	scaledSecond := scaled(record.SecondMasterShare, req.Lagrange)
	masterPub := cryptoutils.Suite.Point().Add(masterPartial,
		cryptoutils.Suite.Point().Mul(scaledMaster, nil))
	secondPub := cryptoutils.Suite.Point().Add(secondPartial,
		cryptoutils.Suite.Point().Mul(scaledSecond, nil))

	return cryptoutils.PartialSignature(scaledSecond, scaledMaster, secondPub, masterPub, req.EntryBytes), nil
}

// Confirm marks a user's sign-up as complete. Until confirmed, the record
// never serves authentication traffic.
func (s *Service) Confirm(ctx context.Context, user interfaces.UserID) (err error) {
	defer func() { s.count("confirm", err) }()

	unlock := s.lockUser(user)
	defer unlock()

	record, err := s.shares.Get(ctx, user)
	if err != nil {
		return err
	}
	if record.Confirmed {
		return nil
	}
	record.Confirmed = true
	if err := s.shares.Update(ctx, record); err != nil {
		return err
	}
	s.log.Info("confirmed sign-up", "user", user)
	return nil
}

// partialAggregate validates an optional partial public key aggregate. Nil
// means no other participant contributed (single-custodian group) and maps
// to the identity element.
func partialAggregate(p kyber.Point) (kyber.Point, error) {
	if p == nil {
		return cryptoutils.Suite.Point().Null(), nil
	}
	if err := cryptoutils.ValidatePoint(p); err != nil {
		return nil, err
	}
	return p, nil
}

func groupContains(g interfaces.ThresholdGroup, id interfaces.NodeID) bool {
	for _, nid := range g.NodeIDs {
		if nid == id {
			return true
		}
	}
	return false
}
