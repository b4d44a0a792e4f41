package custodian

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// ApplyShareResponse is the first-round login reply: the blinded password
// point scaled by this node's auth share, plus an unsigned transaction
// token. The client signs the token with the per-node key it derives from
// the recovered password key, proving in the second round that unblinding
// succeeded.
type ApplyShareResponse struct {
	Partial kyber.Point
	Token   *trantoken.Token
}

// ApplyShare multiplies a client-supplied blinded point by the node's auth
// share. It requires a confirmed, non-stale record but performs no
// authentication itself; the returned token ties the follow-up call to this
// round's time window.
func (s *Service) ApplyShare(ctx context.Context, user interfaces.UserID, blinded kyber.Point, lagrange kyber.Scalar) (resp *ApplyShareResponse, err error) {
	defer func() { s.count("apply_share", err) }()

	if err := cryptoutils.ValidatePoint(blinded); err != nil {
		return nil, fmt.Errorf("blinded point: %w", err)
	}
	record, err := s.activeRecord(ctx, user)
	if err != nil {
		return nil, err
	}

	return &ApplyShareResponse{
		Partial: cryptoutils.Suite.Point().Mul(scaled(record.AuthShare, lagrange), blinded),
		Token:   trantoken.New(),
	}, nil
}

// AuthenticateResult carries the node's master-share partials, each sealed
// under the stored auth key: one over the client-supplied point and one
// over the standard base point. The base-point partial lets the client
// check the aggregate against the registered public key; the node never
// learns which point the client evaluated on.
type AuthenticateResult struct {
	EncryptedPartial    []byte
	EncryptedPubPartial []byte
}

// Authenticate is the second login round: after checking the token was
// signed with the stored auth key and is still fresh, the node multiplies
// the supplied point by its master share and returns the result encrypted
// under that same key. Only a client that derived the correct password key
// can produce the token or read the reply.
func (s *Service) Authenticate(ctx context.Context, user interfaces.UserID, point kyber.Point, token *trantoken.Token, lagrange kyber.Scalar) (res *AuthenticateResult, err error) {
	defer func() { s.count("authenticate", err) }()

	if err := cryptoutils.ValidatePoint(point); err != nil {
		return nil, fmt.Errorf("point: %w", err)
	}
	record, err := s.activeRecord(ctx, user)
	if err != nil {
		return nil, err
	}
	authKey, err := cryptoutils.KeyFromBytes(record.AuthKey)
	if err != nil {
		return nil, err
	}
	if err := s.checkToken(token, authKey, user.Bytes()); err != nil {
		return nil, err
	}

	share := scaled(record.MasterShare, lagrange)
	encPartial, err := authKey.Encrypt(cryptoutils.MarshalPoint(cryptoutils.Suite.Point().Mul(share, point)))
	if err != nil {
		return nil, err
	}
	encPubPartial, err := authKey.Encrypt(cryptoutils.MarshalPoint(cryptoutils.Suite.Point().Mul(share, nil)))
	if err != nil {
		return nil, err
	}
	return &AuthenticateResult{EncryptedPartial: encPartial, EncryptedPubPartial: encPubPartial}, nil
}

// ChangeShareRequest replaces a node's auth share and auth key, authorized
// by a token signed under the existing auth key (normal password change) or
// the master auth key (password reset after recovery).
type ChangeShareRequest struct {
	UserID interfaces.UserID

	NewAuthShare kyber.Scalar
	NewAuthKey   []byte

	Token *trantoken.Token

	// UsingMasterAuth selects the master auth key for token verification.
	UsingMasterAuth bool
}

// ChangeShare verifies the request token against the record's existing key
// material and overwrites the auth share and auth key. This is the only
// mutation path for a persisted record outside sign-up.
func (s *Service) ChangeShare(ctx context.Context, req *ChangeShareRequest) (err error) {
	defer func() { s.count("change_share", err) }()

	if req.NewAuthShare == nil {
		return fmt.Errorf("%w: new auth share must be set", interfaces.ErrInvalidInput)
	}
	if _, err := cryptoutils.KeyFromBytes(req.NewAuthKey); err != nil {
		return fmt.Errorf("new auth key: %w", err)
	}

	unlock := s.lockUser(req.UserID)
	defer unlock()

	record, err := s.shares.Get(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
	}
	if !record.Confirmed {
		return fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
	}

	keyBytes := record.AuthKey
	if req.UsingMasterAuth {
		keyBytes = record.MasterAuthKey
	}
	verifyKey, err := cryptoutils.KeyFromBytes(keyBytes)
	if err != nil {
		return interfaces.ErrUnauthorized
	}
	newShareBytes := cryptoutils.MarshalScalar(req.NewAuthShare)
	if err := s.checkToken(req.Token, verifyKey, req.UserID.Bytes(), newShareBytes, req.NewAuthKey); err != nil {
		return err
	}

	record.AuthShare = req.NewAuthShare
	record.AuthKey = req.NewAuthKey
	record.Stale = false
	if err := s.shares.Update(ctx, record); err != nil {
		return err
	}
	s.log.Info("replaced auth share", "user", req.UserID, "master_auth", req.UsingMasterAuth)
	return nil
}

// RecoveryCode formats a node's master share as the textual recovery code
// delivered out of band: the node id, a colon, then the base64url share.
func RecoveryCode(id interfaces.NodeID, share kyber.Scalar) string {
	return id.String() + ":" + base64.RawURLEncoding.EncodeToString(cryptoutils.MarshalScalar(share))
}

// Recover emails this node's recovery code to the record's address. The
// node reveals only its own share; reconstructing the master secret still
// takes a threshold of codes, collected from independently operated nodes.
func (s *Service) Recover(ctx context.Context, user interfaces.UserID) (err error) {
	defer func() { s.count("recover", err) }()

	if s.mailer == nil {
		return fmt.Errorf("%w: recovery disabled on this node", interfaces.ErrInvalidInput)
	}
	record, err := s.activeRecord(ctx, user)
	if err != nil {
		return err
	}
	if record.Email == "" {
		return fmt.Errorf("%w: no recovery address on file", interfaces.ErrUnauthorized)
	}

	code := RecoveryCode(s.cfg.ID, record.MasterShare)
	if err := s.mailer.SendRecoveryCode(ctx, user, record.Email, code); err != nil {
		return fmt.Errorf("sending recovery code: %w", err)
	}
	s.log.Info("sent recovery code", "user", user)
	return nil
}

// MarkStale flags a record as superseded after a recovery reconstruction.
// The token must be signed under the master auth key, which only a client
// that actually reconstructed the master secret can derive. The record
// stays in the store; ChangeShare with master-key authorization clears the
// flag once the user sets a new password.
func (s *Service) MarkStale(ctx context.Context, user interfaces.UserID, token *trantoken.Token) (err error) {
	defer func() { s.count("mark_stale", err) }()

	unlock := s.lockUser(user)
	defer unlock()

	record, err := s.shares.Get(ctx, user)
	if err != nil {
		return fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
	}
	masterKey, err := cryptoutils.KeyFromBytes(record.MasterAuthKey)
	if err != nil {
		return interfaces.ErrUnauthorized
	}
	if err := s.checkToken(token, masterKey, user.Bytes()); err != nil {
		return err
	}
	record.Stale = true
	return s.shares.Update(ctx, record)
}
