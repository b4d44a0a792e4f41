package custodianhandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/custodian-auth-backend/api/registryhandler"
	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/dauth"
	"github.com/ruteri/custodian-auth-backend/dcrypt"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/registry"
	"github.com/ruteri/custodian-auth-backend/storage"
)

type nopMailer struct{}

func (nopMailer) SendRecoveryCode(ctx context.Context, user interfaces.UserID, email, code string) error {
	return nil
}

// httpCluster runs custodian nodes and a registry behind real HTTP servers
// and exposes only their API clients, so the flows below exercise the full
// wire path.
type httpCluster struct {
	clients  []*Client
	registry *registryhandler.Client
}

func newHTTPCluster(t *testing.T, n, threshold int) *httpCluster {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	c := &httpCluster{}
	var infos []interfaces.NodeInfo
	for i := 0; i < n; i++ {
		svc, err := custodian.New(custodian.Config{
			ID:         interfaces.NodeID(interfaces.SeedUserID(fmt.Sprintf("http-node-%d", i+1))),
			Label:      fmt.Sprintf("custodian-%d", i+1),
			PrivateKey: cryptoutils.RandomScalar(),
			TokenKey:   cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil)),
		},
			storage.NewShareStore(storage.NewMemoryBackend()),
			storage.NewVaultStore(storage.NewMemoryBackend()),
			nopMailer{}, log, nil)
		require.NoError(t, err, "custodian construction must succeed")

		mux := chi.NewRouter()
		New(svc, log).RegisterRoutes(mux)
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)

		client, err := NewClient(ctx, srv.URL, srv.Client())
		require.NoError(t, err, "client must fetch node info")
		c.clients = append(c.clients, client)
		infos = append(infos, svc.Info())
	}

	reg, err := registry.New(infos, threshold, log)
	require.NoError(t, err, "registry construction must succeed")
	mux := chi.NewRouter()
	registryhandler.New(reg, log).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c.registry = registryhandler.NewClient(srv.URL, srv.Client())
	return c
}

func (c *httpCluster) authNodes() []dauth.NodeClient {
	nodes := make([]dauth.NodeClient, len(c.clients))
	for i, cl := range c.clients {
		nodes[i] = cl
	}
	return nodes
}

func (c *httpCluster) vaultNodes() []dcrypt.NodeClient {
	nodes := make([]dcrypt.NodeClient, len(c.clients))
	for i, cl := range c.clients {
		nodes[i] = cl
	}
	return nodes
}

func TestSignUpAndLoginOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newHTTPCluster(t, 3, 3)

	flow, err := dauth.NewFlow(interfaces.SeedUserID("http-alice"), c.authNodes(), 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "flow construction must succeed")

	res, err := flow.SignUp(ctx, []byte("over-the-wire"), "alice@example.com", nil, c.registry)
	require.NoError(t, err, "sign-up over HTTP must succeed")

	entry, err := c.registry.Get(ctx, interfaces.SeedUserID("http-alice"))
	require.NoError(t, err, "entry must be retrievable over HTTP")
	require.NoError(t, entry.Verify(3), "fetched entry must verify")
	assert.True(t, entry.PublicKey.Equal(res.MasterPublicKey))

	login, err := flow.LogIn(ctx, []byte("over-the-wire"), entry.PublicKey)
	require.NoError(t, err, "login over HTTP must succeed")
	assert.Equal(t, []byte(res.MasterKey), []byte(login.MasterKey),
		"login must derive the sign-up master key")

	_, err = flow.LogIn(ctx, []byte("wrong"), entry.PublicKey)
	require.Error(t, err, "wrong password must be rejected over HTTP")
}

func TestVaultOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newHTTPCluster(t, 3, 2)

	user := interfaces.SeedUserID("http-vault-user")
	auth, err := dauth.NewFlow(user, c.authNodes(), 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	res, err := auth.SignUp(ctx, []byte("vault-pw"), "v@example.com", nil, c.registry)
	require.NoError(t, err, "sign-up must succeed")

	vault, err := dcrypt.NewFlow(user, c.vaultNodes(), 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	challengePriv := cryptoutils.RandomScalar()
	challengePub := cryptoutils.Suite.Point().Mul(challengePriv, nil)
	vaultPub, err := vault.RegisterVault(ctx, challengePub, res.MasterKey)
	require.NoError(t, err, "vault registration over HTTP must succeed")

	ct, err := dcrypt.Seal(vaultPub, []byte("wire-sealed payload"))
	require.NoError(t, err)
	plain, err := vault.Decrypt(ctx, ct, challengePriv)
	require.NoError(t, err, "threshold decryption over HTTP must succeed")
	assert.Equal(t, []byte("wire-sealed payload"), plain)

	t.Run("wrong challenge key rejected", func(t *testing.T) {
		_, err := vault.Decrypt(ctx, ct, cryptoutils.RandomScalar())
		require.Error(t, err, "proof under the wrong key must fail")
		assert.True(t, errors.Is(err, interfaces.ErrUnauthorized) || errors.Is(err, interfaces.ErrThresholdNotMet))
	})
}

func TestErrorMappingOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newHTTPCluster(t, 1, 1)

	// No record exists: login round one must surface ErrUnauthorized
	// through the 401 mapping.
	blinded := cryptoutils.Suite.Point().Mul(cryptoutils.RandomScalar(), nil)
	_, err := c.clients[0].ApplyShare(ctx, interfaces.SeedUserID("nobody"), blinded, nil)
	require.ErrorIs(t, err, interfaces.ErrUnauthorized, "missing record must map to unauthorized")

	// Unknown registry entry maps to not-found.
	_, err = c.registry.Get(ctx, interfaces.SeedUserID("nobody"))
	require.ErrorIs(t, err, interfaces.ErrShareNotFound)

	// Malformed user id in the path maps to bad request.
	resp, err := http.Post(c.clients[0].baseURL+"/api/user/not-a-uuid/confirm", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
