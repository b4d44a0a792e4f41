package dauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/registry"
	"github.com/ruteri/custodian-auth-backend/storage"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

type recordingMailer struct {
	codes []string
}

func (m *recordingMailer) SendRecoveryCode(ctx context.Context, user interfaces.UserID, email, code string) error {
	m.codes = append(m.codes, code)
	return nil
}

type cluster struct {
	nodes    []NodeClient
	registry *registry.Registry
	mailers  []*recordingMailer
}

func newCluster(t *testing.T, n, threshold int) *cluster {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := &cluster{}
	var infos []interfaces.NodeInfo
	for i := 0; i < n; i++ {
		mailer := &recordingMailer{}
		svc, err := custodian.New(custodian.Config{
			ID:         interfaces.NodeID(interfaces.SeedUserID(fmt.Sprintf("cluster-node-%d", i+1))),
			Label:      fmt.Sprintf("custodian-%d", i+1),
			PrivateKey: cryptoutils.RandomScalar(),
			TokenKey:   cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil)),
		},
			storage.NewShareStore(storage.NewMemoryBackend()),
			storage.NewVaultStore(storage.NewMemoryBackend()),
			mailer, log, nil)
		require.NoError(t, err, "custodian construction must succeed")
		c.nodes = append(c.nodes, svc)
		c.mailers = append(c.mailers, mailer)
		infos = append(infos, svc.Info())
	}

	reg, err := registry.New(infos, threshold, log)
	require.NoError(t, err, "registry construction must succeed")
	c.registry = reg
	return c
}

func newTestFlow(t *testing.T, c *cluster, user string, threshold int) *Flow {
	t.Helper()
	flow, err := NewFlow(interfaces.SeedUserID(user), c.nodes, threshold, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "flow construction must succeed")
	return flow
}

func TestSignUpThenLogin(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 3)
	flow := newTestFlow(t, c, "alice", 3)

	res, err := flow.SignUp(ctx, []byte("alice123"), "alice@example.com", nil, c.registry)
	require.NoError(t, err, "sign-up must succeed")
	require.NotNil(t, res.MasterPublicKey)

	// The registration entry was admitted and is self-certifying.
	entry, err := c.registry.Get(ctx, flow.user)
	require.NoError(t, err, "entry must be registered")
	require.NoError(t, entry.Verify(3), "registered entry must verify")
	assert.True(t, entry.PublicKey.Equal(res.MasterPublicKey))

	// Login with the same password recovers the same master key.
	login, err := flow.LogIn(ctx, []byte("alice123"), entry.PublicKey)
	require.NoError(t, err, "login must succeed with the sign-up password")
	assert.True(t, login.MasterPublicKey.Equal(res.MasterPublicKey),
		"login must land on the aggregated public key")
	assert.Equal(t, []byte(res.MasterKey), []byte(login.MasterKey),
		"login must derive the sign-up master key")
	assert.Equal(t, []byte(res.PasswordKey), []byte(login.PasswordKey),
		"login must derive the sign-up password key")

	t.Run("wrong password rejected", func(t *testing.T) {
		_, err := flow.LogIn(ctx, []byte("alice124"), entry.PublicKey)
		require.Error(t, err, "wrong password must not log in")
	})

	t.Run("duplicate sign-up rejected", func(t *testing.T) {
		_, err := flow.SignUp(ctx, []byte("alice123"), "alice@example.com", nil, c.registry)
		require.Error(t, err, "second sign-up for the same user must fail")
	})
}

func TestSignUpWithVendorPoint(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 2)
	flow := newTestFlow(t, c, "vendor-user", 2)

	vendor := cryptoutils.PasswordPoint([]byte("vendor.example.com"))
	res, err := flow.SignUp(ctx, []byte("pw"), "u@example.com", vendor, c.registry)
	require.NoError(t, err, "sign-up must succeed")
	require.NotNil(t, res.VendorKey, "vendor partial aggregate must be returned")
	assert.False(t, res.VendorKey.Equal(cryptoutils.Suite.Point().Null()))
}

func TestReSignEntry(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 3)
	flow := newTestFlow(t, c, "bob", 3)

	res, err := flow.SignUp(ctx, []byte("hunter2"), "bob@example.com", nil, c.registry)
	require.NoError(t, err, "sign-up must succeed")

	sig, err := flow.ReSignEntry(ctx, res.Entry, res.Tokens, res.MasterTerms, res.SecondTerms)
	require.NoError(t, err, "re-signing must succeed within the token window")

	fresh := *res.Entry
	fresh.Signature = sig
	require.NoError(t, fresh.Verify(3), "re-signed entry must verify")
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 3)
	flow := newTestFlow(t, c, "carol", 3)

	res, err := flow.SignUp(ctx, []byte("first-password"), "carol@example.com", nil, c.registry)
	require.NoError(t, err, "sign-up must succeed")

	newKey, err := flow.ChangePassword(ctx, []byte("first-password"), []byte("second-password"))
	require.NoError(t, err, "password change must succeed")

	login, err := flow.LogIn(ctx, []byte("second-password"), res.MasterPublicKey)
	require.NoError(t, err, "login with the new password must succeed")
	assert.Equal(t, []byte(newKey), []byte(login.PasswordKey),
		"login must derive the key the change produced")
	assert.True(t, login.MasterPublicKey.Equal(res.MasterPublicKey),
		"master key must survive a password change")

	_, err = flow.LogIn(ctx, []byte("first-password"), res.MasterPublicKey)
	require.Error(t, err, "old password must stop working")

	_, err = flow.ChangePassword(ctx, []byte("first-password"), []byte("third-password"))
	require.Error(t, err, "change authorized by the old password must fail")
}

func TestRecovery(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 3)
	flow := newTestFlow(t, c, "dave", 3)

	res, err := flow.SignUp(ctx, []byte("forgotten"), "dave@example.com", nil, c.registry)
	require.NoError(t, err, "sign-up must succeed")

	require.NoError(t, flow.RequestRecovery(ctx), "recovery request must fan out")
	var codes []string
	for _, m := range c.mailers {
		require.Len(t, m.codes, 1, "each node must mail exactly one code")
		codes = append(codes, m.codes[0])
	}

	t.Run("under threshold reconstructs a wrong value", func(t *testing.T) {
		secret, err := Reconstruct(codes[:2])
		require.NoError(t, err, "interpolation itself cannot detect missing codes")
		assert.Error(t, VerifyReconstructed(secret, res.MasterPublicKey),
			"two of three codes must not yield the master secret")
	})

	secret, err := Reconstruct(codes)
	require.NoError(t, err, "full code set must reconstruct")
	require.NoError(t, VerifyReconstructed(secret, res.MasterPublicKey),
		"reconstructed secret must match the registered public key")

	_, err = flow.FinishRecovery(ctx, secret, res.MasterPublicKey, []byte("fresh-password"))
	require.NoError(t, err, "recovery completion must succeed")

	login, err := flow.LogIn(ctx, []byte("fresh-password"), res.MasterPublicKey)
	require.NoError(t, err, "login with the recovery password must succeed")
	assert.True(t, login.MasterPublicKey.Equal(res.MasterPublicKey))
	assert.Equal(t, []byte(res.MasterKey), []byte(login.MasterKey),
		"recovery must preserve the master key")

	_, err = flow.LogIn(ctx, []byte("forgotten"), res.MasterPublicKey)
	require.Error(t, err, "pre-recovery password must stop working")
}

// TestRegistryDataGrantsNoAuthority drives the strongest attack a reader
// of the registry can mount: derive key material from the published entry
// and use it on the master-authorized paths. None of it may authorize
// anything, and the account must come out untouched.
func TestRegistryDataGrantsNoAuthority(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 3)
	flow := newTestFlow(t, c, "victim", 3)

	res, err := flow.SignUp(ctx, []byte("victim-pw"), "victim@example.com", nil, c.registry)
	require.NoError(t, err, "sign-up must succeed")

	entry, err := c.registry.Get(ctx, flow.user)
	require.NoError(t, err, "entry must be public")

	// Everything below uses only the published entry.
	forged := cryptoutils.KeyFromPoint(entry.PublicKey)
	assert.NotEqual(t, []byte(forged), []byte(res.MasterKey),
		"master key must not be derivable from the registered public key")

	forgedKeys := flow.deriveNodeKeys(forged)
	err = c.nodes[0].MarkStale(ctx, flow.user, trantoken.New().Sign(forgedKeys[0], flow.user.Bytes()))
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized,
		"a token under an entry-derived key must not supersede the record")

	_, err = flow.ResetPassword(ctx, forged, []byte("hijacked"))
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized,
		"an entry-derived key must not reset the password")

	login, err := flow.LogIn(ctx, []byte("victim-pw"), entry.PublicKey)
	require.NoError(t, err, "the real password must still log in afterwards")
	assert.Equal(t, []byte(res.MasterKey), []byte(login.MasterKey))

	_, err = flow.LogIn(ctx, []byte("hijacked"), entry.PublicKey)
	require.Error(t, err, "the attacker's password must not have taken")
}

// failingNode wraps a healthy client and fails one operation, standing in
// for an unreachable custodian.
type failingNode struct {
	NodeClient
}

func (n *failingNode) GetRandom(ctx context.Context, req *custodian.RandomRequest) (*custodian.RandomResponse, error) {
	return nil, errors.New("connection refused")
}

func TestSingleNodeFailureFailsTheStep(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 3)

	nodes := append([]NodeClient{}, c.nodes...)
	nodes[1] = &failingNode{NodeClient: nodes[1]}
	flow, err := NewFlow(interfaces.SeedUserID("erin"), nodes, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = flow.SignUp(ctx, []byte("pw"), "erin@example.com", nil, c.registry)
	assert.ErrorIs(t, err, interfaces.ErrThresholdNotMet,
		"one unreachable custodian must fail the whole step")
}

func TestFanOutErrorClassification(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 3, 3)

	t.Run("unanimous class surfaces the sentinel", func(t *testing.T) {
		_, err := fanOut(ctx, c.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
			return struct{}{}, fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
		})
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		assert.NotErrorIs(t, err, interfaces.ErrThresholdNotMet,
			"a unanimous protocol error must pass through untouched")
	})

	t.Run("same class through different wrapping still passes", func(t *testing.T) {
		_, err := fanOut(ctx, c.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
			return struct{}{}, fmt.Errorf("node %s: %w", n.Info().ID, interfaces.ErrExpired)
		})
		assert.ErrorIs(t, err, interfaces.ErrExpired)
		assert.NotErrorIs(t, err, interfaces.ErrThresholdNotMet)
	})

	t.Run("matching text without a shared class stays a threshold error", func(t *testing.T) {
		_, err := fanOut(ctx, c.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
			return struct{}{}, errors.New("connection refused")
		})
		assert.ErrorIs(t, err, interfaces.ErrThresholdNotMet,
			"identical messages from untyped failures must not pass through")
	})

	t.Run("mixed classes with one message stay a threshold error", func(t *testing.T) {
		_, err := fanOut(ctx, c.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
			if n.Info().ID == c.nodes[0].Info().ID {
				return struct{}{}, fmt.Errorf("%w: no usable record", interfaces.ErrExpired)
			}
			return struct{}{}, fmt.Errorf("%w: no usable record", interfaces.ErrUnauthorized)
		})
		assert.ErrorIs(t, err, interfaces.ErrThresholdNotMet,
			"disagreeing classes must be reported as a partial failure")
	})
}
