package dauth

import (
	"fmt"
	"log/slog"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/secretshare"
)

// Flow orchestrates one user's protocol runs against a fixed custodian set.
// A Flow carries no secret state between invocations: every method derives
// what it needs, uses it, and drops it on return.
type Flow struct {
	user  interfaces.UserID
	nodes []NodeClient
	group interfaces.ThresholdGroup

	// ids and lagrange are the participant identities and their
	// coefficients for the full set, precomputed once since the set is
	// fixed for the Flow's lifetime.
	ids      []kyber.Scalar
	lagrange []kyber.Scalar

	log *slog.Logger
}

// NewFlow builds a flow over the given custodian set. The threshold applies
// to sign-up sharing; all flows still address every node, because the
// aggregation arithmetic runs over the fixed full id set.
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
	lagrange := make([]kyber.Scalar, len(nodes))
	for i, id := range ids {
		li, err := secretshare.LagrangeCoefficient(id, ids)
		if err != nil {
			return nil, fmt.Errorf("coefficient for node %s: %w", group.NodeIDs[i], err)
		}
		lagrange[i] = li
	}

	return &Flow{
		user:     user,
		nodes:    nodes,
		group:    group,
		ids:      ids,
		lagrange: lagrange,
		log:      log,
	}, nil
}

// masterBase is the group point the master secret is evaluated on for
// authentication: the user's identity hashed to the curve. It is distinct
// from the standard base point the registered public key lives over, so
// keys derived from the evaluation cannot be computed from registry data.
func (f *Flow) masterBase() kyber.Point {
	return cryptoutils.PasswordPoint(f.user.Bytes())
}

// blindPassword maps the password onto the group and blinds it with a fresh
// random exponent. The inverse removes the blind after aggregation.
func blindPassword(password []byte) (blinded kyber.Point, inverse kyber.Scalar) {
	r := cryptoutils.RandomScalar()
	point := cryptoutils.PasswordPoint(password)
	return cryptoutils.Suite.Point().Mul(r, point), cryptoutils.Suite.Scalar().Inv(r)
}

// interpolateEncrypted decrypts per-node sealed partials with the matching
// derived keys and interpolates the points in the exponent.
func (f *Flow) interpolateEncrypted(sealed [][]byte, keys []cryptoutils.DerivedKey) (kyber.Point, error) {
	points := make([]kyber.Point, len(sealed))
	for i, ct := range sealed {
		plain, err := keys[i].Decrypt(ct)
		if err != nil {
			return nil, fmt.Errorf("partial from %s: %w", f.group.NodeIDs[i], err)
		}
		p, err := cryptoutils.UnmarshalPoint(plain)
		if err != nil {
			return nil, fmt.Errorf("partial from %s: %w", f.group.NodeIDs[i], err)
		}
		points[i] = p
	}
	return secretshare.InterpolatePoint(f.ids, points)
}

// deriveNodeKeys derives one sub-key per node from a base key, bound to the
// node's identity bytes. Both sides derive the same keys independently.
func (f *Flow) deriveNodeKeys(base cryptoutils.DerivedKey) []cryptoutils.DerivedKey {
	keys := make([]cryptoutils.DerivedKey, len(f.nodes))
	for i, nid := range f.group.NodeIDs {
		keys[i] = base.Derive(nid.Bytes())
	}
	return keys
}
