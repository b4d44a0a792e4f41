// Package custodian implements the node-side half of the threshold
// authentication protocol. One Service instance runs per custodian node and
// owns that node's key share records: it contributes randomness during
// sign-up, applies its shares to client-supplied points during login,
// co-signs registration entries, and serves partial decryptions for vault
// ciphertexts. A node never talks to another node; all coordination happens
// through the client orchestrator.
package custodian

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

const lockStripes = 64

// Config carries a node's identity and long-term key material.
type Config struct {
	// ID is the node's interpolation identity, as listed in the directory.
	ID interfaces.NodeID

	// Label is the node's human-readable name, echoed in sign-up responses.
	Label string

	// PrivateKey is the node's long-term private key. Its public point is
	// published through the directory.
	PrivateKey kyber.Scalar

	// TokenKey signs the transaction tokens this node issues for itself.
	TokenKey cryptoutils.DerivedKey

	// TokenWindow bounds token freshness. Zero means trantoken.DefaultWindow.
	TokenWindow time.Duration
}

func (c *Config) validate() error {
	if c.ID == (interfaces.NodeID{}) {
		return fmt.Errorf("%w: node id must be set", interfaces.ErrInvalidInput)
	}
	if c.PrivateKey == nil {
		return fmt.Errorf("%w: node private key must be set", interfaces.ErrInvalidInput)
	}
	if len(c.TokenKey) != 32 {
		return fmt.Errorf("%w: token key must be 32 bytes", interfaces.ErrInvalidInput)
	}
	return nil
}

// Service implements the per-node protocol operations over the node's share
// and vault stores. All methods are safe for concurrent use; mutations to a
// user's record are serialized through striped per-user locks.
type Service struct {
	cfg    Config
	window time.Duration

	shares interfaces.ShareStore
	vaults interfaces.VaultStore
	mailer interfaces.Mailer

	log *slog.Logger
	ops *prometheus.CounterVec

	userLocks [lockStripes]sync.Mutex

	challengeMu sync.Mutex
	challenges  map[[16]byte]*pendingChallenge
}

type pendingChallenge struct {
	user       interfaces.UserID
	sessionKey cryptoutils.DerivedKey
	issuedAt   time.Time
}

// New creates a custodian node service. The mailer may be nil if recovery is
// disabled for this node; ops may be nil to skip metrics.
func New(cfg Config, shares interfaces.ShareStore, vaults interfaces.VaultStore, mailer interfaces.Mailer, log *slog.Logger, ops *prometheus.CounterVec) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if shares == nil {
		return nil, fmt.Errorf("%w: share store must be set", interfaces.ErrInvalidInput)
	}
	window := cfg.TokenWindow
	if window == 0 {
		window = trantoken.DefaultWindow
	}
	return &Service{
		cfg:        cfg,
		window:     window,
		shares:     shares,
		vaults:     vaults,
		mailer:     mailer,
		log:        log,
		ops:        ops,
		challenges: make(map[[16]byte]*pendingChallenge),
	}, nil
}

// Info returns the node's directory entry.
func (s *Service) Info() interfaces.NodeInfo {
	return interfaces.NodeInfo{
		ID:        s.cfg.ID,
		PublicKey: cryptoutils.MarshalPoint(cryptoutils.Suite.Point().Mul(s.cfg.PrivateKey, nil)),
	}
}

// IDScalar returns the node's interpolation identity as a field element.
func (s *Service) IDScalar() kyber.Scalar {
	return cryptoutils.IDScalar(s.cfg.ID.Bytes())
}

func (s *Service) lockUser(user interfaces.UserID) func() {
	h := fnv.New32a()
	h.Write(user.Bytes())
	m := &s.userLocks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func (s *Service) count(operation string, err error) {
	if s.ops == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.ops.WithLabelValues(operation, outcome).Inc()
}

// scaled multiplies a share by the optional Lagrange coefficient. A nil
// coefficient means the caller runs with the full node set and scales
// client-side, so the share passes through untouched.
func scaled(share, li kyber.Scalar) kyber.Scalar {
	if li == nil {
		return share.Clone()
	}
	return cryptoutils.Suite.Scalar().Mul(share, li)
}

// checkToken verifies a token's authenticity under key (bound to payload)
// and then its freshness. Authenticity failures map to ErrUnauthorized,
// stale tokens to ErrExpired; the two are distinct so callers can rerun a
// round instead of treating latency as forgery.
func (s *Service) checkToken(t *trantoken.Token, key cryptoutils.DerivedKey, payload ...[]byte) error {
	if t == nil || !t.Check(key, payload...) {
		return interfaces.ErrUnauthorized
	}
	if !t.OnTime(s.window) {
		return interfaces.ErrExpired
	}
	return nil
}

// activeRecord fetches a user's record and rejects records that must not
// serve authentication traffic. Store misses surface as ErrUnauthorized so
// probing cannot distinguish missing accounts from bad credentials.
func (s *Service) activeRecord(ctx context.Context, user interfaces.UserID) (*interfaces.KeyShareRecord, error) {
	record, err := s.shares.Get(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
	}
	if !record.Confirmed || record.Stale {
		return nil, fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
	}
	return record, nil
}
