package dauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/secretshare"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// RequestRecovery asks every custodian to deliver its recovery code to the
// user's registered address. Each node mails only its own share; the codes
// travel over channels this system never sees.
func (f *Flow) RequestRecovery(ctx context.Context) error {
	_, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
		return struct{}{}, n.Recover(ctx, f.user)
	})
	if err != nil {
		return fmt.Errorf("requesting recovery codes: %w", err)
	}
	return nil
}

// ParseRecoveryCode splits a textual recovery code into the node's
// interpolation identity and its master share.
func ParseRecoveryCode(code string) (id, share kyber.Scalar, err error) {
	nodePart, sharePart, ok := strings.Cut(strings.TrimSpace(code), ":")
	if !ok {
		return nil, nil, fmt.Errorf("%w: recovery code must be id:share", interfaces.ErrInvalidInput)
	}
	nodeID, err := interfaces.NewNodeIDFromString(nodePart)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidInput, err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(sharePart)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: share encoding: %v", interfaces.ErrInvalidInput, err)
	}
	share, err = cryptoutils.UnmarshalScalar(raw)
	if err != nil {
		return nil, nil, err
	}
	return cryptoutils.IDScalar(nodeID.Bytes()), share, nil
}

// Reconstruct interpolates the master secret from textual recovery codes,
// entirely locally. Interpolation cannot tell whether enough codes were
// supplied: fewer than the threshold yields a silently wrong scalar, so
// callers must verify the result against the registered public key (see
// VerifyReconstructed) before trusting it.
func Reconstruct(codes []string) (kyber.Scalar, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no recovery codes", interfaces.ErrInvalidInput)
	}
	ids := make([]kyber.Scalar, len(codes))
	shares := make([]kyber.Scalar, len(codes))
	for i, code := range codes {
		id, share, err := ParseRecoveryCode(code)
		if err != nil {
			return nil, fmt.Errorf("code %d: %w", i+1, err)
		}
		ids[i] = id
		shares[i] = share
	}
	return secretshare.InterpolateScalar(ids, shares)
}

// VerifyReconstructed checks a reconstructed master secret against the
// registered public key.
func VerifyReconstructed(secret kyber.Scalar, registeredPub kyber.Point) error {
	if secret == nil || registeredPub == nil {
		return interfaces.ErrInvalidInput
	}
	if !cryptoutils.Suite.Point().Mul(secret, nil).Equal(registeredPub) {
		return fmt.Errorf("%w: reconstructed key does not match registered public key", interfaces.ErrUnauthorized)
	}
	return nil
}

// FinishRecovery completes a recovery: it verifies the reconstructed
// secret, marks every node's record superseded, and sets a new password
// authorized by the master key. The key is derived from the secret's
// evaluation on the identity base, the same value login recovers; holding
// the registered public key alone is not enough. Returns the new password
// key.
func (f *Flow) FinishRecovery(ctx context.Context, secret kyber.Scalar, registeredPub kyber.Point, newPassword []byte) (cryptoutils.DerivedKey, error) {
	if err := VerifyReconstructed(secret, registeredPub); err != nil {
		return nil, err
	}
	masterKey := cryptoutils.KeyFromPoint(cryptoutils.Suite.Point().Mul(secret, f.masterBase()))
	masterKeys := f.deriveNodeKeys(masterKey)

	_, err := fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
		i := f.nodeIndex(n)
		return struct{}{}, n.MarkStale(ctx, f.user, trantoken.New().Sign(masterKeys[i], f.user.Bytes()))
	})
	if err != nil {
		return nil, fmt.Errorf("superseding records: %w", err)
	}

	return f.pushNewPassword(ctx, masterKeys, newPassword, true)
}
