package dcrypt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/storage"
)

// newVaultCluster builds custodians with a confirmed account for user on
// every node, the state vault registration requires. masterKey stands in
// for the key a login would have recovered.
func newVaultCluster(t *testing.T, n int, user interfaces.UserID, masterKey cryptoutils.DerivedKey) []NodeClient {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	nodes := make([]NodeClient, n)
	for i := range nodes {
		id := interfaces.NodeID(interfaces.SeedUserID(fmt.Sprintf("vault-node-%d", i+1)))
		shares := storage.NewShareStore(storage.NewMemoryBackend())
		require.NoError(t, shares.Create(context.Background(), &interfaces.KeyShareRecord{
			UserID:            user,
			AuthShare:         cryptoutils.RandomScalar(),
			MasterShare:       cryptoutils.RandomScalar(),
			SecondMasterShare: cryptoutils.RandomScalar(),
			AuthKey:           cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil)),
			MasterAuthKey:     masterKey.Derive(id.Bytes()),
			Confirmed:         true,
		}), "seeding account record must succeed")

		svc, err := custodian.New(custodian.Config{
			ID:         id,
			Label:      fmt.Sprintf("custodian-%d", i+1),
			PrivateKey: cryptoutils.RandomScalar(),
			TokenKey:   cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil)),
		},
			shares,
			storage.NewVaultStore(storage.NewMemoryBackend()),
			nil, log, nil)
		require.NoError(t, err, "custodian construction must succeed")
		nodes[i] = svc
	}
	return nodes
}

func TestVaultRoundtrip(t *testing.T) {
	ctx := context.Background()
	user := interfaces.SeedUserID("alice")

	// Long-term user keypair for freshness challenges, master key from a
	// prior login.
	challengePriv := cryptoutils.RandomScalar()
	challengePub := cryptoutils.Suite.Point().Mul(challengePriv, nil)
	masterKey := cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil))

	nodes := newVaultCluster(t, 3, user, masterKey)
	flow, err := NewFlow(user, nodes, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "flow construction must succeed")

	vaultPub, err := flow.RegisterVault(ctx, challengePub, masterKey)
	require.NoError(t, err, "vault registration must succeed")

	plaintext := []byte("the vault contents")
	ct, err := Seal(vaultPub, plaintext)
	require.NoError(t, err, "sealing must succeed")

	got, err := flow.Decrypt(ctx, ct, challengePriv)
	require.NoError(t, err, "threshold decryption must succeed")
	assert.Equal(t, plaintext, got, "decryption must recover the plaintext")

	t.Run("wrong challenge key rejected", func(t *testing.T) {
		_, err := flow.Decrypt(ctx, ct, cryptoutils.RandomScalar())
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized,
			"a caller without the challenge key must not decrypt")
	})

	t.Run("encode roundtrip decrypts", func(t *testing.T) {
		decoded, err := DecodeCiphertext(ct.Encode())
		require.NoError(t, err, "wire form must parse")
		got, err := flow.Decrypt(ctx, decoded, challengePriv)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	})

	t.Run("retrieve key opens directly", func(t *testing.T) {
		secret, err := flow.RetrieveKey(ctx, masterKey)
		require.NoError(t, err, "key retrieval must succeed")
		assert.True(t, cryptoutils.Suite.Point().Mul(secret, nil).Equal(vaultPub),
			"retrieved secret must match the vault public key")

		got, err := Open(ct, secret)
		require.NoError(t, err, "direct decryption must succeed")
		assert.Equal(t, plaintext, got)
	})

	t.Run("wrong master key cannot retrieve", func(t *testing.T) {
		bogus := cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil))
		_, err := flow.RetrieveKey(ctx, bogus)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	})

	t.Run("duplicate registration rejected", func(t *testing.T) {
		_, err := flow.RegisterVault(ctx, challengePub, masterKey)
		assert.ErrorIs(t, err, interfaces.ErrDuplicateRegistration)
	})

	t.Run("no account means no registration", func(t *testing.T) {
		squatter, err := NewFlow(interfaces.SeedUserID("mallory"), nodes, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
		require.NoError(t, err)
		chosen := cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil))
		_, err = squatter.RegisterVault(ctx, challengePub, chosen)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized,
			"a caller without an account on the nodes must not create a vault record")
	})
}

func TestSealRejectsBadInputs(t *testing.T) {
	_, err := Seal(cryptoutils.Suite.Point().Null(), []byte("data"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidPoint, "sealing to the identity must fail")

	_, err = DecodeCiphertext(make([]byte, 10))
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
}
