package dauth

import (
	"context"
	"fmt"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/secretshare"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// LoginResult carries the keys a successful login recovers.
// MasterPublicKey is the registered public key, over the standard base
// point. MasterKey is the same value sign-up produced, derived from the
// master secret's evaluation on the identity base; the caller owns it for
// the session and must not persist it.
type LoginResult struct {
	MasterPublicKey kyber.Point
	MasterKey       cryptoutils.DerivedKey
	PasswordKey     cryptoutils.DerivedKey
}

// LogIn runs the two-round login protocol. Round one blinds the password,
// has every node apply its auth share and interpolates the password key in
// the exponent. Round two proves possession of that key by signing each
// node's token with the per-node sub-key, collects the master-share
// partials over a freshly blinded identity base and unblinds the
// aggregated master point. The master key comes from that evaluation, not
// from the registered public key, so nothing derivable from the registry
// authorizes master-level operations.
//
// expectedPub, when supplied (normally from the user's registration entry),
// pins the nodes' base-point partials to the registered public key.
func (f *Flow) LogIn(ctx context.Context, password []byte, expectedPub kyber.Point) (*LoginResult, error) {
	passwordKey, authKeys, tokens, err := f.passwordRound(ctx, password)
	if err != nil {
		return nil, err
	}

	// Blind the identity base so nodes never see which point the master
	// key ends up on.
	rho := cryptoutils.RandomScalar()
	rhoInv := cryptoutils.Suite.Scalar().Inv(rho)
	blindedBase := cryptoutils.Suite.Point().Mul(rho, f.masterBase())

	type indexed struct {
		i   int
		res *custodian.AuthenticateResult
	}
	replies, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (indexed, error) {
		i := f.nodeIndex(n)
		signed := tokens[i].Copy().Sign(authKeys[i], f.user.Bytes())
		res, err := n.Authenticate(ctx, f.user, blindedBase, signed, nil)
		return indexed{i: i, res: res}, err
	})
	if err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}

	sealed := make([][]byte, len(replies))
	sealedPub := make([][]byte, len(replies))
	for _, r := range replies {
		sealed[r.i] = r.res.EncryptedPartial
		sealedPub[r.i] = r.res.EncryptedPubPartial
	}
	blindedMaster, err := f.interpolateEncrypted(sealed, authKeys)
	if err != nil {
		return nil, err
	}
	masterPoint := cryptoutils.Suite.Point().Mul(rhoInv, blindedMaster)
	registeredPub, err := f.interpolateEncrypted(sealedPub, authKeys)
	if err != nil {
		return nil, err
	}

	if expectedPub != nil && !registeredPub.Equal(expectedPub) {
		return nil, fmt.Errorf("%w: recovered key does not match registered public key", interfaces.ErrUnauthorized)
	}

	f.log.Info("login completed", "user", f.user)
	return &LoginResult{
		MasterPublicKey: registeredPub,
		MasterKey:       cryptoutils.KeyFromPoint(masterPoint),
		PasswordKey:     passwordKey,
	}, nil
}

// passwordRound is login's first round, shared with password change: blind
// the password, fan out apply-share, interpolate in the exponent and
// unblind. It returns the password key, the per-node sub-keys, and each
// node's transaction token for the follow-up round.
func (f *Flow) passwordRound(ctx context.Context, password []byte) (cryptoutils.DerivedKey, []cryptoutils.DerivedKey, []*trantoken.Token, error) {
	blinded, rInv := blindPassword(password)

	type indexed struct {
		i    int
		resp *custodian.ApplyShareResponse
	}
	replies, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (indexed, error) {
		i := f.nodeIndex(n)
		resp, err := n.ApplyShare(ctx, f.user, blinded, nil)
		return indexed{i: i, resp: resp}, err
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("applying shares: %w", err)
	}

	partials := make([]kyber.Point, len(replies))
	tokens := make([]*trantoken.Token, len(replies))
	for _, r := range replies {
		partials[r.i] = r.resp.Partial
		tokens[r.i] = r.resp.Token
	}
	aggregated, err := secretshare.InterpolatePoint(f.ids, partials)
	if err != nil {
		return nil, nil, nil, err
	}
	passwordKey := cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(rInv, aggregated))
	return passwordKey, f.deriveNodeKeys(passwordKey), tokens, nil
}
