package custodian

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// VaultAuthContext is the derivation context separating vault auth keys
// from the login sub-keys derived from the same master key. A node extends
// its stored master auth key with it to verify vault registrations.
var VaultAuthContext = []byte("vault-auth")

// RegisterVaultKeyRequest stores a node's share of a separately generated
// vault key. PublicKey is the registrant's long-term key, not the vault
// key: it is what later freshness challenges are encrypted to. The token
// must be signed under the vault extension of the account's master auth
// key, so only a client that completed login for an existing account can
// register.
type RegisterVaultKeyRequest struct {
	UserID interfaces.UserID

	KeyShare  kyber.Scalar
	PublicKey kyber.Point
	AuthKey   []byte

	Token *trantoken.Token
}

// RegisterVaultKey persists a vault key share. The token is verified
// against this node's own key-share record, never against anything the
// request carries, and the user must hold a confirmed account. Duplicate
// registrations for a user id are rejected.
func (s *Service) RegisterVaultKey(ctx context.Context, req *RegisterVaultKeyRequest) (err error) {
	defer func() { s.count("register_vault_key", err) }()

	if s.vaults == nil {
		return fmt.Errorf("%w: vault storage disabled on this node", interfaces.ErrInvalidInput)
	}
	if req.KeyShare == nil {
		return fmt.Errorf("%w: key share must be set", interfaces.ErrInvalidInput)
	}
	if err := cryptoutils.ValidatePoint(req.PublicKey); err != nil {
		return fmt.Errorf("vault public key: %w", err)
	}
	if _, err := cryptoutils.KeyFromBytes(req.AuthKey); err != nil {
		return fmt.Errorf("auth key: %w", err)
	}
	account, err := s.activeRecord(ctx, req.UserID)
	if err != nil {
		return err
	}
	masterKey, err := cryptoutils.KeyFromBytes(account.MasterAuthKey)
	if err != nil {
		return interfaces.ErrUnauthorized
	}
	verifyKey := masterKey.Derive(VaultAuthContext)
	if err := s.checkToken(req.Token, verifyKey, req.UserID.Bytes(), cryptoutils.MarshalPoint(req.PublicKey), req.AuthKey); err != nil {
		return err
	}

	unlock := s.lockUser(req.UserID)
	defer unlock()

	err = s.vaults.Create(ctx, &interfaces.VaultKeyRecord{
		UserID:    req.UserID,
		KeyShare:  req.KeyShare,
		PublicKey: req.PublicKey,
		AuthKey:   req.AuthKey,
	})
	if err != nil {
		return err
	}
	s.log.Info("registered vault key share", "user", req.UserID)
	return nil
}

// VaultShare returns the node's stored vault key share, encrypted under the
// registered auth key. The token must be signed under that same key.
func (s *Service) VaultShare(ctx context.Context, user interfaces.UserID, token *trantoken.Token) (encryptedShare []byte, err error) {
	defer func() { s.count("vault_share", err) }()

	record, err := s.vaultRecord(ctx, user)
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
	return authKey.Encrypt(cryptoutils.MarshalScalar(record.KeyShare))
}

// ChallengeResponse is a node-issued freshness challenge for threshold
// decryption. The session point is ElGamal-encrypted under the user's vault
// public key: only the holder of the corresponding private key can recover
// it and derive the session key the follow-up proof must use.
type ChallengeResponse struct {
	C1, C2 kyber.Point
	Token  *trantoken.Token
}

// Challenge issues a decryption challenge. The node remembers the session
// key under the token id until the token expires or is consumed.
func (s *Service) Challenge(ctx context.Context, user interfaces.UserID) (resp *ChallengeResponse, err error) {
	defer func() { s.count("challenge", err) }()

	record, err := s.vaultRecord(ctx, user)
	if err != nil {
		return nil, err
	}

	session := cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil)
	c1, c2 := cryptoutils.ElGamalEncrypt(record.PublicKey, session)

	token := trantoken.New().Sign(s.cfg.TokenKey, user.Bytes())
	s.storeChallenge(token.ID, &pendingChallenge{
		user:       user,
		sessionKey: cryptoutils.KeyFromPoint(session),
		issuedAt:   token.IssuedAt,
	})

	return &ChallengeResponse{C1: c1, C2: c2, Token: token}, nil
}

// DecryptPartial returns the ciphertext's ephemeral point scaled by the
// node's vault key share, encrypted under the challenge session key. The
// proof must be the session-key MAC over the SHA-256 of the ephemeral
// point, which only a client that decrypted the challenge can compute.
// Challenges are single-use: the pending entry is consumed whether or not
// the proof verifies.
func (s *Service) DecryptPartial(ctx context.Context, user interfaces.UserID, ephemeral kyber.Point, token *trantoken.Token, proof []byte, lagrange kyber.Scalar) (encryptedPartial []byte, err error) {
	defer func() { s.count("decrypt_partial", err) }()

	if err := cryptoutils.ValidatePoint(ephemeral); err != nil {
		return nil, fmt.Errorf("ephemeral point: %w", err)
	}
	if token == nil {
		return nil, interfaces.ErrUnauthorized
	}

	pending := s.takeChallenge(token.ID)
	if pending == nil || pending.user != user {
		return nil, fmt.Errorf("%w: unknown challenge", interfaces.ErrUnauthorized)
	}
	if err := s.checkToken(token, s.cfg.TokenKey, user.Bytes()); err != nil {
		return nil, err
	}

	digest := sha256.Sum256(cryptoutils.MarshalPoint(ephemeral))
	if !pending.sessionKey.VerifyMAC(proof, digest[:]) {
		return nil, fmt.Errorf("%w: challenge proof rejected", interfaces.ErrUnauthorized)
	}

	record, err := s.vaultRecord(ctx, user)
	if err != nil {
		return nil, err
	}
	partial := cryptoutils.Suite.Point().Mul(scaled(record.KeyShare, lagrange), ephemeral)
	return pending.sessionKey.Encrypt(cryptoutils.MarshalPoint(partial))
}

func (s *Service) vaultRecord(ctx context.Context, user interfaces.UserID) (*interfaces.VaultKeyRecord, error) {
	if s.vaults == nil {
		return nil, fmt.Errorf("%w: vault storage disabled on this node", interfaces.ErrInvalidInput)
	}
	record, err := s.vaults.Get(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
	}
	return record, nil
}

func (s *Service) storeChallenge(id [16]byte, c *pendingChallenge) {
	s.challengeMu.Lock()
	defer s.challengeMu.Unlock()
	// Opportunistic pruning keeps the table bounded without a janitor.
	cutoff := time.Now().Add(-2 * s.window)
	for k, v := range s.challenges {
		if v.issuedAt.Before(cutoff) {
			delete(s.challenges, k)
		}
	}
	s.challenges[id] = c
}

func (s *Service) takeChallenge(id [16]byte) *pendingChallenge {
	s.challengeMu.Lock()
	defer s.challengeMu.Unlock()
	c := s.challenges[id]
	delete(s.challenges, id)
	return c
}
