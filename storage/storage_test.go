package storage

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testShareRecord() *interfaces.KeyShareRecord {
	return &interfaces.KeyShareRecord{
		UserID:            interfaces.UserID(uuid.New()),
		AuthShare:         cryptoutils.RandomScalar(),
		MasterShare:       cryptoutils.RandomScalar(),
		SecondMasterShare: cryptoutils.RandomScalar(),
		AuthKey:           cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Base()),
		Email:             "user@example.com",
	}
}

func testBackends(t *testing.T) map[string]Backend {
	t.Helper()
	fileBackend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   fileBackend,
	}
}

func TestShareStoreRoundtrip(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewShareStore(backend)
			ctx := context.Background()
			record := testShareRecord()

			_, err := store.Get(ctx, record.UserID)
			assert.ErrorIs(t, err, interfaces.ErrShareNotFound, "missing record must report not found")

			require.NoError(t, store.Create(ctx, record), "create should succeed")

			got, err := store.Get(ctx, record.UserID)
			require.NoError(t, err)
			assert.True(t, record.AuthShare.Equal(got.AuthShare), "auth share must survive the roundtrip")
			assert.True(t, record.MasterShare.Equal(got.MasterShare))
			assert.True(t, record.SecondMasterShare.Equal(got.SecondMasterShare))
			assert.Equal(t, record.AuthKey, got.AuthKey)
			assert.Equal(t, record.Email, got.Email)
			assert.False(t, got.Confirmed)

			err = store.Create(ctx, record)
			assert.ErrorIs(t, err, interfaces.ErrDuplicateRegistration, "second create must fail")

			got.Confirmed = true
			require.NoError(t, store.Update(ctx, got))
			got2, err := store.Get(ctx, record.UserID)
			require.NoError(t, err)
			assert.True(t, got2.Confirmed, "update must persist")

			other := testShareRecord()
			err = store.Update(ctx, other)
			assert.ErrorIs(t, err, interfaces.ErrShareNotFound, "update of a missing record must fail")
		})
	}
}

func TestVaultKeyStoreRoundtrip(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewVaultStore(backend)
			ctx := context.Background()

			record := &interfaces.VaultKeyRecord{
				UserID:    interfaces.UserID(uuid.New()),
				KeyShare:  cryptoutils.RandomScalar(),
				PublicKey: cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil),
				AuthKey:   cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Base()),
			}

			require.NoError(t, store.Create(ctx, record))

			got, err := store.Get(ctx, record.UserID)
			require.NoError(t, err)
			assert.True(t, record.KeyShare.Equal(got.KeyShare))
			assert.True(t, record.PublicKey.Equal(got.PublicKey))

			err = store.Create(ctx, record)
			assert.ErrorIs(t, err, interfaces.ErrDuplicateRegistration)
		})
	}
}

func TestShareAndVaultNamespacesAreDistinct(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	record := testShareRecord()

	require.NoError(t, NewShareStore(backend).Create(ctx, record))
	_, err := NewVaultStore(backend).Get(ctx, record.UserID)
	assert.ErrorIs(t, err, interfaces.ErrShareNotFound, "vault namespace must not see share records")
}

func TestBackendFactory(t *testing.T) {
	factory := NewBackendFactory(testLogger())

	mem, err := factory.BackendFor("memory://")
	require.NoError(t, err)
	assert.Equal(t, "memory", mem.Name())

	dir := t.TempDir()
	file, err := factory.BackendFor("file://" + dir)
	require.NoError(t, err)
	assert.Contains(t, file.Name(), "file-")

	s3b, err := factory.BackendFor("s3://key:secret@bucket/prefix?region=eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "s3-bucket", s3b.Name())

	vaultBackend, err := factory.BackendFor("vault://token@localhost:8200/secret/custodian?insecure=true")
	require.NoError(t, err)
	assert.Equal(t, "vault-custodian", vaultBackend.Name())

	_, err = factory.BackendFor("vault://token@localhost:8200/onlymount")
	assert.Error(t, err, "vault URI without data path must fail")

	_, err = factory.BackendFor("ftp://nope")
	assert.Error(t, err, "unsupported scheme must fail")
}
