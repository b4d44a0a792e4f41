package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/secretshare"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
)

// buildEntry runs a miniature sign-up ceremony: shares a master key and a
// nonce key among the given custodians and has each produce a partial
// signature over the entry's canonical bytes.
func buildEntry(t *testing.T, uid interfaces.UserID, nodeIDs []interfaces.NodeID, threshold int) *Entry {
	t.Helper()

	master := cryptoutils.RandomScalar()
	nonce := cryptoutils.RandomScalar()

	ids := make([]kyber.Scalar, len(nodeIDs))
	for i, nid := range nodeIDs {
		ids[i] = cryptoutils.IDScalar(nid.Bytes())
	}
	masterShares, err := secretshare.Share(master, ids, threshold)
	require.NoError(t, err, "sharing master key must succeed")
	nonceShares, err := secretshare.Share(nonce, ids, threshold)
	require.NoError(t, err, "sharing nonce key must succeed")

	pub := cryptoutils.Suite.Point().Mul(master, nil)
	noncePub := cryptoutils.Suite.Point().Mul(nonce, nil)

	entry := &Entry{UserID: uid, PublicKey: pub, NodeIDs: nodeIDs}
	msg := entry.SignableBytes()

	partials := make([]kyber.Scalar, len(nodeIDs))
	for i := range nodeIDs {
		li, err := secretshare.LagrangeCoefficient(ids[i], ids)
		require.NoError(t, err, "lagrange coefficient must exist")
		keyShare := cryptoutils.Suite.Scalar().Mul(masterShares[i], li)
		nonceShare := cryptoutils.Suite.Scalar().Mul(nonceShares[i], li)
		partials[i] = cryptoutils.PartialSignature(nonceShare, keyShare, noncePub, pub, msg)
		entry.Partials = append(entry.Partials, PartialSignature{
			NodeID: nodeIDs[i],
			S:      cryptoutils.MarshalScalar(partials[i]),
		})
	}

	s, err := cryptoutils.AggregateSignatures(partials)
	require.NoError(t, err, "aggregation must succeed")
	entry.Signature = cryptoutils.EncodeSignature(noncePub, s)
	return entry
}

func testNodeIDs(n int) []interfaces.NodeID {
	ids := make([]interfaces.NodeID, n)
	for i := range ids {
		ids[i] = interfaces.NodeID(interfaces.SeedUserID(fmt.Sprintf("custodian-%d", i+1)))
	}
	return ids
}

func TestEntryVerify(t *testing.T) {
	nodeIDs := testNodeIDs(3)
	uid := interfaces.SeedUserID("alice")
	entry := buildEntry(t, uid, nodeIDs, 3)

	require.NoError(t, entry.Verify(3), "well-formed entry must verify")

	t.Run("tampered user id", func(t *testing.T) {
		bad := *entry
		bad.UserID = interfaces.SeedUserID("mallory")
		assert.ErrorIs(t, bad.Verify(3), interfaces.ErrSignatureMismatch)
	})

	t.Run("missing partial", func(t *testing.T) {
		bad := *entry
		bad.Partials = entry.Partials[:2]
		assert.ErrorIs(t, bad.Verify(3), interfaces.ErrThresholdNotMet)
	})

	t.Run("duplicate partial", func(t *testing.T) {
		bad := *entry
		bad.Partials = append([]PartialSignature{entry.Partials[0]}, entry.Partials[0], entry.Partials[1])
		assert.ErrorIs(t, bad.Verify(3), interfaces.ErrInvalidInput)
	})

	t.Run("unlisted custodian", func(t *testing.T) {
		bad := *entry
		stranger := interfaces.NodeID(interfaces.SeedUserID("stranger"))
		bad.Partials = append([]PartialSignature{}, entry.Partials[:2]...)
		bad.Partials = append(bad.Partials, PartialSignature{NodeID: stranger, S: entry.Partials[2].S})
		assert.ErrorIs(t, bad.Verify(3), interfaces.ErrInvalidInput)
	})
}

func TestEntryJSONRoundtrip(t *testing.T) {
	entry := buildEntry(t, interfaces.SeedUserID("bob"), testNodeIDs(3), 2)

	data, err := json.Marshal(entry)
	require.NoError(t, err, "entry must marshal")

	var got Entry
	require.NoError(t, json.Unmarshal(data, &got), "entry must unmarshal")
	require.NoError(t, got.Verify(2), "decoded entry must still verify")
	assert.True(t, got.PublicKey.Equal(entry.PublicKey), "public key must survive the roundtrip")
}

func TestRegistryAddGet(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	nodeIDs := testNodeIDs(3)
	nodes := make([]interfaces.NodeInfo, len(nodeIDs))
	for i, id := range nodeIDs {
		nodes[i] = interfaces.NodeInfo{ID: id, URL: "http://localhost:0"}
	}

	reg, err := New(nodes, 2, log)
	require.NoError(t, err, "registry construction must succeed")

	uid := interfaces.SeedUserID("carol")
	entry := buildEntry(t, uid, nodeIDs, 2)
	require.NoError(t, reg.Add(context.Background(), entry), "verified entry must be accepted")

	got, err := reg.Get(context.Background(), uid)
	require.NoError(t, err, "stored entry must be retrievable")
	assert.True(t, got.PublicKey.Equal(entry.PublicKey))

	err = reg.Add(context.Background(), entry)
	assert.ErrorIs(t, err, interfaces.ErrDuplicateRegistration, "re-registration must be rejected")

	_, err = reg.Get(context.Background(), interfaces.SeedUserID("nobody"))
	assert.ErrorIs(t, err, interfaces.ErrShareNotFound)

	listed, err := reg.Nodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 3, "directory must list all nodes")
}
