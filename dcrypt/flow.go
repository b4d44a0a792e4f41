// Package dcrypt implements the client side of distributed vault
// encryption: registering a threshold-shared vault key across the
// custodian set, sealing data under its public key, and recovering
// plaintexts through per-node partial decryptions gated by freshness
// challenges. The vault private key never exists in one place after
// registration; decryption reconstructs only the ciphertext-specific
// shared point, in the exponent.
package dcrypt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/secretshare"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// NodeClient is the orchestrator's view of one custodian node's vault
// operations. The in-process service implements it directly; the HTTP
// client implements it over the node's API.
type NodeClient interface {
	Info() interfaces.NodeInfo

	RegisterVaultKey(ctx context.Context, req *custodian.RegisterVaultKeyRequest) error
	VaultShare(ctx context.Context, user interfaces.UserID, token *trantoken.Token) ([]byte, error)
	Challenge(ctx context.Context, user interfaces.UserID) (*custodian.ChallengeResponse, error)
	DecryptPartial(ctx context.Context, user interfaces.UserID, ephemeral kyber.Point, token *trantoken.Token, proof []byte, lagrange kyber.Scalar) ([]byte, error)
}

// Flow orchestrates one user's vault operations against a fixed custodian
// set.
type Flow struct {
	user  interfaces.UserID
	nodes []NodeClient
	group interfaces.ThresholdGroup
	ids   []kyber.Scalar
	log   *slog.Logger
}

// NewFlow builds a vault flow over the given custodian set.
func NewFlow(user interfaces.UserID, nodes []NodeClient, threshold int, log *slog.Logger) (*Flow, error) {
	group := interfaces.ThresholdGroup{Threshold: threshold}
	for _, n := range nodes {
		group.NodeIDs = append(group.NodeIDs, n.Info().ID)
	}
	if err := group.Validate(); err != nil {
		return nil, err
	}
	ids := make([]kyber.Scalar, len(nodes))
	for i, nid := range group.NodeIDs {
		ids[i] = cryptoutils.IDScalar(nid.Bytes())
	}
	return &Flow{user: user, nodes: nodes, group: group, ids: ids, log: log}, nil
}

// RegisterVault generates a fresh vault key, shares it across the
// custodian set and registers the shares. challengeKey is the user's
// long-term public key freshness challenges will be encrypted to;
// masterKey (from login) anchors the per-node auth keys. The full vault
// secret exists only inside this call; only its public key is returned.
func (f *Flow) RegisterVault(ctx context.Context, challengeKey kyber.Point, masterKey cryptoutils.DerivedKey) (kyber.Point, error) {
	if err := cryptoutils.ValidatePoint(challengeKey); err != nil {
		return nil, fmt.Errorf("challenge key: %w", err)
	}

	vaultSecret := cryptoutils.RandomScalar()
	vaultPub := cryptoutils.Suite.Point().Mul(vaultSecret, nil)
	shares, err := secretshare.Share(vaultSecret, f.ids, f.group.Threshold)
	if err != nil {
		return nil, err
	}

	authKeys := f.authKeys(masterKey)
	challengeKeyBytes := cryptoutils.MarshalPoint(challengeKey)
	_, err = fanOut(ctx, f, func(ctx context.Context, i int, n NodeClient) ([]byte, error) {
		return nil, n.RegisterVaultKey(ctx, &custodian.RegisterVaultKeyRequest{
			UserID:    f.user,
			KeyShare:  shares[i],
			PublicKey: challengeKey,
			AuthKey:   authKeys[i],
			Token:     trantoken.New().Sign(authKeys[i], f.user.Bytes(), challengeKeyBytes, authKeys[i]),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("registering vault key: %w", err)
	}

	f.log.Info("vault key registered", "user", f.user, "custodians", len(f.nodes))
	return vaultPub, nil
}

// RetrieveKey reassembles the raw vault secret from the custodians'
// stored shares. This escape hatch trades the threshold property for a
// usable key on the client; prefer Decrypt, which never reconstructs it.
func (f *Flow) RetrieveKey(ctx context.Context, masterKey cryptoutils.DerivedKey) (kyber.Scalar, error) {
	authKeys := f.authKeys(masterKey)
	sealed, err := fanOut(ctx, f, func(ctx context.Context, i int, n NodeClient) ([]byte, error) {
		return n.VaultShare(ctx, f.user, trantoken.New().Sign(authKeys[i], f.user.Bytes()))
	})
	if err != nil {
		return nil, fmt.Errorf("collecting vault shares: %w", err)
	}

	shares := make([]kyber.Scalar, len(sealed))
	for i, ct := range sealed {
		plain, err := authKeys[i].Decrypt(ct)
		if err != nil {
			return nil, fmt.Errorf("share from %s: %w", f.group.NodeIDs[i], err)
		}
		shares[i], err = cryptoutils.UnmarshalScalar(plain)
		if err != nil {
			return nil, fmt.Errorf("share from %s: %w", f.group.NodeIDs[i], err)
		}
	}
	return secretshare.InterpolateScalar(f.ids, shares)
}

// Decrypt recovers a plaintext sealed under the vault public key without
// reconstructing the vault secret. challengePriv is the private key
// matching the challenge key given at registration: each node's freshness
// challenge is decrypted with it, the resulting session key signs a proof
// over the ciphertext's ephemeral point, and the node answers with its
// partial decryption sealed under that session key.
func (f *Flow) Decrypt(ctx context.Context, ct *Ciphertext, challengePriv kyber.Scalar) ([]byte, error) {
	if err := ct.validate(); err != nil {
		return nil, err
	}

	challenges, err := fanOut(ctx, f, func(ctx context.Context, i int, n NodeClient) (*custodian.ChallengeResponse, error) {
		return n.Challenge(ctx, f.user)
	})
	if err != nil {
		return nil, fmt.Errorf("collecting challenges: %w", err)
	}

	digest := sha256.Sum256(cryptoutils.MarshalPoint(ct.C1))
	sessionKeys := make([]cryptoutils.DerivedKey, len(challenges))
	for i, ch := range challenges {
		session := cryptoutils.ElGamalDecrypt(challengePriv, ch.C1, ch.C2)
		sessionKeys[i] = cryptoutils.KeyFromPoint(session)
	}

	sealed, err := fanOut(ctx, f, func(ctx context.Context, i int, n NodeClient) ([]byte, error) {
		proof := sessionKeys[i].MAC(digest[:])
		return n.DecryptPartial(ctx, f.user, ct.C1, challenges[i].Token, proof, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("collecting partial decryptions: %w", err)
	}

	partials := make([]kyber.Point, len(sealed))
	for i, enc := range sealed {
		plain, err := sessionKeys[i].Decrypt(enc)
		if err != nil {
			return nil, fmt.Errorf("partial from %s: %w", f.group.NodeIDs[i], err)
		}
		partials[i], err = cryptoutils.UnmarshalPoint(plain)
		if err != nil {
			return nil, fmt.Errorf("partial from %s: %w", f.group.NodeIDs[i], err)
		}
	}

	// Interpolating the share-scaled ephemeral points yields C1 times the
	// vault secret, which is exactly the ElGamal shared term.
	shared, err := secretshare.InterpolatePoint(f.ids, partials)
	if err != nil {
		return nil, err
	}
	session := cryptoutils.Suite.Point().Sub(ct.C2, shared)
	return cryptoutils.KeyFromPoint(session).Decrypt(ct.Payload)
}

// authKeys extends each node's master auth sub-key with the vault context.
// A node holds the sub-key in its key-share record from sign-up, so it can
// derive the same key and verify requests without trusting anything the
// request carries.
func (f *Flow) authKeys(masterKey cryptoutils.DerivedKey) []cryptoutils.DerivedKey {
	keys := make([]cryptoutils.DerivedKey, len(f.nodes))
	for i, nid := range f.group.NodeIDs {
		keys[i] = masterKey.Derive(nid.Bytes()).Derive(custodian.VaultAuthContext)
	}
	return keys
}

// fanOut mirrors the authentication orchestrator's join-all scheduling:
// one concurrent call per node, every node must answer, failures surface
// as a threshold error.
func fanOut[T any](ctx context.Context, f *Flow, call func(ctx context.Context, i int, n NodeClient) (T, error)) ([]T, error) {
	values := make([]T, len(f.nodes))
	errs := make([]error, len(f.nodes))

	g, gctx := errgroup.WithContext(ctx)
	for i, node := range f.nodes {
		i, node := i, node
		g.Go(func() error {
			values[i], errs[i] = call(gctx, i, node)
			// Collect every node's outcome before deciding; returning the
			// error here would cancel the siblings mid-call.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	var first error
	for _, err := range errs {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	switch {
	case failed == 0:
		return values, nil
	case failed == len(f.nodes):
		return nil, first
	default:
		return nil, fmt.Errorf("%w: %d of %d custodians failed, first: %v",
			interfaces.ErrThresholdNotMet, failed, len(f.nodes), first)
	}
}
