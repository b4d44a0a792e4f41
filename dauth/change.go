package dauth

import (
	"context"
	"fmt"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/secretshare"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// ChangePassword replaces the user's password. It first derives the old
// password key through the apply-share round, then re-shares a fresh auth
// secret for the new password and pushes the replacement to every node,
// each push authorized by a token under the node's existing auth key.
//
// Returns the new password key. There is no cross-node transaction: a node
// that fails mid-change leaves the set split between old and new password
// until the change is retried.
func (f *Flow) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) (cryptoutils.DerivedKey, error) {
	_, oldKeys, _, err := f.passwordRound(ctx, oldPassword)
	if err != nil {
		return nil, err
	}
	return f.pushNewPassword(ctx, oldKeys, newPassword, false)
}

// ResetPassword replaces the password using the master key instead of the
// old password, the path taken after a successful recovery reconstruction.
func (f *Flow) ResetPassword(ctx context.Context, masterKey cryptoutils.DerivedKey, newPassword []byte) (cryptoutils.DerivedKey, error) {
	return f.pushNewPassword(ctx, f.deriveNodeKeys(masterKey), newPassword, true)
}

// pushNewPassword generates and shares a fresh auth secret for the new
// password and replaces every node's share and derived key. The client
// picks the secret itself here: unlike sign-up there is no joint
// generation, because the password holder is the trust anchor of a change.
func (f *Flow) pushNewPassword(ctx context.Context, keys []cryptoutils.DerivedKey, newPassword []byte, usingMasterAuth bool) (cryptoutils.DerivedKey, error) {
	secret := cryptoutils.RandomScalar()
	shares, err := secretshare.Share(secret, f.ids, f.group.Threshold)
	if err != nil {
		return nil, err
	}

	newPoint := cryptoutils.Suite.Point().Mul(secret, cryptoutils.PasswordPoint(newPassword))
	newPasswordKey := cryptoutils.KeyFromPoint(newPoint)
	newKeys := f.deriveNodeKeys(newPasswordKey)

	_, err = fanOut(ctx, f.nodes, func(ctx context.Context, n NodeClient) (struct{}, error) {
		i := f.nodeIndex(n)
		shareBytes := cryptoutils.MarshalScalar(shares[i])
		return struct{}{}, n.ChangeShare(ctx, &custodian.ChangeShareRequest{
			UserID:          f.user,
			NewAuthShare:    shares[i],
			NewAuthKey:      newKeys[i],
			Token:           trantoken.New().Sign(keys[i], f.user.Bytes(), shareBytes, newKeys[i]),
			UsingMasterAuth: usingMasterAuth,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("replacing shares: %w", err)
	}

	f.log.Info("password changed", "user", f.user, "master_auth", usingMasterAuth)
	return newPasswordKey, nil
}
