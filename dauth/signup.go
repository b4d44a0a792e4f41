package dauth

import (
	"context"
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/registry"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// SignUpResult is what the orchestrator hands back after a completed
// sign-up ceremony. The caller should drop the key material as soon as the
// session ends; everything here is re-derivable through login.
type SignUpResult struct {
	// Entry is the verified registration record, already submitted when a
	// registrar was configured.
	Entry *registry.Entry

	// MasterPublicKey is the aggregated master public key. The matching
	// secret was jointly generated and never existed in one place.
	MasterPublicKey kyber.Point

	// MasterKey is the symmetric key derived from the master secret's
	// evaluation on the identity base. It cannot be recomputed from the
	// entry alone.
	MasterKey cryptoutils.DerivedKey

	// PasswordKey is the password-derived authentication key.
	PasswordKey cryptoutils.DerivedKey

	// VendorKey is the vendor-scoped master partial aggregate, present only
	// when a vendor point was supplied.
	VendorKey kyber.Point

	// Tokens are the decrypted per-node transaction tokens, usable for
	// entry re-signing within the freshness window.
	Tokens []*trantoken.Token

	// MasterTerms and SecondTerms are the per-node Lagrange-weighted
	// public contributions, as needed by ReSignEntry.
	MasterTerms []kyber.Point
	SecondTerms []kyber.Point
}

// SignUp runs the full sign-up ceremony: collects fresh randomness from
// every custodian, routes the share bundles, aggregates the jointly
// generated keys, has every node co-sign the registration entry, submits
// the entry and confirms the account.
//
// The auth and signing secrets are sums of independent per-node
// contributions and are never reconstructed by any party. The master
// secret exists in this orchestrator only for the duration of the
// ceremony, to seed the authentication keys from its evaluation on the
// identity base; afterwards it is recoverable only through the protocol.
func (f *Flow) SignUp(ctx context.Context, password []byte, email string, vendor kyber.Point, registrar EntryRegistrar) (*SignUpResult, error) {
	blinded, rInv := blindPassword(password)

	randoms, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (*custodian.RandomResponse, error) {
		return n.GetRandom(ctx, &custodian.RandomRequest{
			BlindedPassword: blinded,
			Vendor:          vendor,
			Group:           f.group,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("collecting randomness: %w", err)
	}
	for i, r := range randoms {
		if len(r.Shares) != len(f.nodes) {
			return nil, fmt.Errorf("%w: node %s returned %d share bundles for %d participants",
				interfaces.ErrInvalidInput, f.group.NodeIDs[i], len(r.Shares), len(f.nodes))
		}
	}

	// The password key is the blinded-partial sum with the blind removed:
	// the password point raised to the jointly generated auth secret.
	authSum := cryptoutils.Suite.Point().Null()
	for _, r := range randoms {
		authSum.Add(authSum, r.AuthPartial)
	}
	passwordKey := cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(rInv, authSum))

	// The aggregated public keys are plain sums of the per-node commitments.
	masterPub := cryptoutils.Suite.Point().Null()
	secondPub := cryptoutils.Suite.Point().Null()
	for _, r := range randoms {
		masterPub.Add(masterPub, r.MasterCommit)
		secondPub.Add(secondPub, r.SecondMasterCommit)
	}

	var vendorKey kyber.Point
	if vendor != nil {
		vendorKey = cryptoutils.Suite.Point().Null()
		for _, r := range randoms {
			vendorKey.Add(vendorKey, r.VendorMasterPartial)
		}
	}

	// Each node completes the aggregate from the scaled contributions of
	// the other participants. The per-node terms are committed here from
	// the routed bundles; their weighted sum must land back on the plain
	// commitment sum or a node misbehaved.
	masterTerms, err := f.scaledTerms(randoms, func(s custodian.TargetedShares) kyber.Scalar { return s.MasterShare })
	if err != nil {
		return nil, err
	}
	secondTerms, err := f.scaledTerms(randoms, func(s custodian.TargetedShares) kyber.Scalar { return s.SecondMasterShare })
	if err != nil {
		return nil, err
	}
	if !sumDistinct(masterTerms, -1).Equal(masterPub) || !sumDistinct(secondTerms, -1).Equal(secondPub) {
		return nil, fmt.Errorf("%w: share bundles inconsistent with commitments", interfaces.ErrInvalidInput)
	}

	entry := &registry.Entry{UserID: f.user, PublicKey: masterPub, NodeIDs: f.group.NodeIDs}
	entryBytes := entry.SignableBytes()

	// The master auth keys come from the secret's evaluation on the
	// identity base, not from the public commitment sum: keys anyone can
	// recompute from a registry entry must not authorize anything.
	cmk := cryptoutils.Suite.Scalar().Zero()
	for i, r := range randoms {
		if r.RawMasterShare == nil {
			return nil, fmt.Errorf("%w: node %s withheld its master contribution",
				interfaces.ErrInvalidInput, f.group.NodeIDs[i])
		}
		if !cryptoutils.Suite.Point().Mul(r.RawMasterShare, nil).Equal(r.MasterCommit) {
			return nil, fmt.Errorf("%w: node %s contribution does not match its commitment",
				interfaces.ErrInvalidInput, f.group.NodeIDs[i])
		}
		cmk.Add(cmk, r.RawMasterShare)
	}
	masterKey := cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(cmk, f.masterBase()))
	cmk.Zero()

	authKeys := f.deriveNodeKeys(passwordKey)
	masterKeys := f.deriveNodeKeys(masterKey)

	type indexed struct {
		i    int
		resp *custodian.AddRandomResponse
	}
	added, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (indexed, error) {
		i := f.nodeIndex(n)
		bundles := make([]custodian.TargetedShares, len(randoms))
		for j, r := range randoms {
			bundles[j] = r.Shares[i]
		}
		resp, err := n.AddRandom(ctx, &custodian.AddRandomRequest{
			UserID:                 f.user,
			PartialMasterPub:       partialFor(masterTerms, i),
			PartialSecondMasterPub: partialFor(secondTerms, i),
			Shares:                 bundles,
			AuthKey:                authKeys[i],
			MasterAuthKey:          masterKeys[i],
			Email:                  email,
			EntryBytes:             entryBytes,
			Lagrange:               f.lagrange[i],
		})
		return indexed{i: i, resp: resp}, err
	})
	if err != nil {
		return nil, fmt.Errorf("finalizing shares: %w", err)
	}

	partials := make([]kyber.Scalar, len(added))
	tokens := make([]*trantoken.Token, len(added))
	for _, a := range added {
		if !a.resp.MasterPub.Equal(masterPub) || !a.resp.SecondMasterPub.Equal(secondPub) {
			return nil, fmt.Errorf("%w: node %s disagrees on the aggregated key",
				interfaces.ErrInvalidInput, f.group.NodeIDs[a.i])
		}
		partials[a.i] = a.resp.PartialSignature
		entry.Partials = append(entry.Partials, registry.PartialSignature{
			NodeID: f.group.NodeIDs[a.i],
			S:      cryptoutils.MarshalScalar(a.resp.PartialSignature),
		})

		tokenBytes, err := authKeys[a.i].Decrypt(a.resp.EncryptedToken)
		if err != nil {
			return nil, fmt.Errorf("token from %s: %w", f.group.NodeIDs[a.i], err)
		}
		tokens[a.i], err = trantoken.Parse(tokenBytes)
		if err != nil {
			return nil, fmt.Errorf("token from %s: %w", f.group.NodeIDs[a.i], err)
		}
	}

	s, err := cryptoutils.AggregateSignatures(partials)
	if err != nil {
		return nil, err
	}
	if err := cryptoutils.VerifySignature(masterPub, secondPub, s, entryBytes); err != nil {
		return nil, err
	}
	entry.Signature = cryptoutils.EncodeSignature(secondPub, s)

	if registrar != nil {
		if err := registrar.Add(ctx, entry); err != nil {
			return nil, fmt.Errorf("registering entry: %w", err)
		}
	}

	if _, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
		return struct{}{}, n.Confirm(ctx, f.user)
	}); err != nil {
		return nil, fmt.Errorf("confirming sign-up: %w", err)
	}

	f.log.Info("sign-up completed", "user", f.user, "custodians", len(f.nodes))
	return &SignUpResult{
		Entry:           entry,
		MasterPublicKey: masterPub,
		MasterKey:       masterKey,
		PasswordKey:     passwordKey,
		VendorKey:       vendorKey,
		Tokens:          tokens,
		MasterTerms:     masterTerms,
		SecondTerms:     secondTerms,
	}, nil
}

// ReSignEntry collects fresh partial signatures over an entry from every
// node using sign-up transaction tokens, and returns the aggregate.
func (f *Flow) ReSignEntry(ctx context.Context, entry *registry.Entry, tokens []*trantoken.Token, masterTerms, secondTerms []kyber.Point) ([]byte, error) {
	if len(tokens) != len(f.nodes) {
		return nil, fmt.Errorf("%w: need one token per custodian", interfaces.ErrInvalidInput)
	}
	entryBytes := entry.SignableBytes()

	type indexed struct {
		i int
		s kyber.Scalar
	}
	signed, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (indexed, error) {
		i := f.nodeIndex(n)
		s, err := n.SignEntry(ctx, &custodian.SignEntryRequest{
			UserID:                 f.user,
			Token:                  tokens[i],
			PartialMasterPub:       partialFor(masterTerms, i),
			PartialSecondMasterPub: partialFor(secondTerms, i),
			EntryBytes:             entryBytes,
			Lagrange:               f.lagrange[i],
		})
		return indexed{i: i, s: s}, err
	})
	if err != nil {
		return nil, fmt.Errorf("collecting partial signatures: %w", err)
	}

	partials := make([]kyber.Scalar, len(signed))
	for _, r := range signed {
		partials[r.i] = r.s
	}
	s, err := cryptoutils.AggregateSignatures(partials)
	if err != nil {
		return nil, err
	}
	secondPub := sumDistinct(secondTerms, -1)
	if err := cryptoutils.VerifySignature(entry.PublicKey, secondPub, s, entryBytes); err != nil {
		return nil, err
	}
	return cryptoutils.EncodeSignature(secondPub, s), nil
}

// scaledTerms commits each participant's summed share scaled by its
// Lagrange coefficient. The weighted terms are what nodes fold into the
// aggregate during entry signing.
func (f *Flow) scaledTerms(randoms []*custodian.RandomResponse, pick func(custodian.TargetedShares) kyber.Scalar) ([]kyber.Point, error) {
	terms := make([]kyber.Point, len(f.nodes))
	for k := range f.nodes {
		sum := cryptoutils.Suite.Scalar().Zero()
		for _, r := range randoms {
			share := pick(r.Shares[k])
			if share == nil {
				return nil, fmt.Errorf("%w: missing share for node %s", interfaces.ErrInvalidInput, f.group.NodeIDs[k])
			}
			sum.Add(sum, share)
		}
		sum.Mul(sum, f.lagrange[k])
		terms[k] = cryptoutils.Suite.Point().Mul(sum, nil)
	}
	return terms, nil
}

// sumDistinct folds points into a running sum, skipping the point at the
// excluded index and any point equal to one already folded. The equality
// comparison guards a degenerate or adversarial draw where two custodians'
// terms collide; folding both would double count.
func sumDistinct(points []kyber.Point, exclude int) kyber.Point {
	sum := cryptoutils.Suite.Point().Null()
	var folded []kyber.Point
	for i, p := range points {
		if i == exclude {
			continue
		}
		dup := false
		for _, seen := range folded {
			if p.Equal(seen) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		folded = append(folded, p)
		sum.Add(sum, p)
	}
	return sum
}

// partialFor is the exclusion sum in the form nodes accept: nil instead of
// the identity element when no other participant contributed.
func partialFor(terms []kyber.Point, exclude int) kyber.Point {
	p := sumDistinct(terms, exclude)
	if p.Equal(cryptoutils.Suite.Point().Null()) {
		return nil
	}
	return p
}

// nodeIndex finds a node's position in the participant set.
func (f *Flow) nodeIndex(n NodeClient) int {
	id := n.Info().ID
	for i, nid := range f.group.NodeIDs {
		if nid == id {
			return i
		}
	}
	return -1
}
