package custodianhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/api"
	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// Client talks to a remote custodian node. It satisfies the orchestrators'
// node client interfaces, so flows run identically against in-process
// services and remote nodes.
type Client struct {
	baseURL string
	client  *http.Client
	info    interfaces.NodeInfo
}

// NewClient fetches the node's directory entry and returns a client bound
// to it. Pass nil to use http.DefaultClient.
func NewClient(ctx context.Context, baseURL string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{baseURL: baseURL, client: httpClient}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/node/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching node info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching node info: %w", api.ErrorFromStatus(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(&c.info); err != nil {
		return nil, fmt.Errorf("decoding node info: %w", err)
	}
	return c, nil
}

// Info returns the directory entry fetched at construction.
func (c *Client) Info() interfaces.NodeInfo {
	return c.info
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return api.ErrorFromStatus(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func userPath(user interfaces.UserID, op string) string {
	return "/api/user/" + user.String() + "/" + op
}

// GetRandom requests the node's sign-up contribution.
func (c *Client) GetRandom(ctx context.Context, req *custodian.RandomRequest) (*custodian.RandomResponse, error) {
	wire := &api.RandomRequest{
		BlindedPassword: cryptoutils.MarshalPoint(req.BlindedPassword),
		Vendor:          api.OptionalPointWire(req.Vendor),
		NodeIDs:         req.Group.NodeIDs,
		Threshold:       req.Group.Threshold,
	}
	var out api.RandomResponse
	if err := c.post(ctx, "/api/node/random", wire, &out); err != nil {
		return nil, err
	}

	resp := &custodian.RandomResponse{Label: out.Label}
	var err error
	if resp.AuthPartial, err = cryptoutils.UnmarshalPoint(out.AuthPartial); err != nil {
		return nil, err
	}
	if resp.MasterCommit, err = cryptoutils.UnmarshalPoint(out.MasterCommit); err != nil {
		return nil, err
	}
	if resp.SecondMasterCommit, err = cryptoutils.UnmarshalPoint(out.SecondMasterCommit); err != nil {
		return nil, err
	}
	if resp.VendorMasterPartial, err = api.OptionalPoint(out.VendorMasterPartial); err != nil {
		return nil, err
	}
	if resp.RawAuthShare, err = cryptoutils.UnmarshalScalar(out.RawAuthShare); err != nil {
		return nil, err
	}
	if resp.RawMasterShare, err = cryptoutils.UnmarshalScalar(out.RawMasterShare); err != nil {
		return nil, err
	}
	resp.Shares = make([]custodian.TargetedShares, len(out.Shares))
	for i, s := range out.Shares {
		if resp.Shares[i], err = s.Domain(); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// AddRandom delivers the routed share bundles and finalizes the node's
// sign-up state.
func (c *Client) AddRandom(ctx context.Context, req *custodian.AddRandomRequest) (*custodian.AddRandomResponse, error) {
	shares := make([]api.TargetedShares, len(req.Shares))
	for i, s := range req.Shares {
		shares[i] = api.TargetedSharesWire(s)
	}
	wire := &api.AddRandomRequest{
		PartialMasterPub:       api.OptionalPointWire(req.PartialMasterPub),
		PartialSecondMasterPub: api.OptionalPointWire(req.PartialSecondMasterPub),
		Shares:                 shares,
		AuthKey:                req.AuthKey,
		MasterAuthKey:          req.MasterAuthKey,
		Email:                  req.Email,
		EntryBytes:             req.EntryBytes,
		Lagrange:               api.OptionalScalarWire(req.Lagrange),
	}
	var out api.AddRandomResponse
	if err := c.post(ctx, userPath(req.UserID, "shares"), wire, &out); err != nil {
		return nil, err
	}

	resp := &custodian.AddRandomResponse{EncryptedToken: out.EncryptedToken}
	var err error
	if resp.MasterPub, err = cryptoutils.UnmarshalPoint(out.MasterPub); err != nil {
		return nil, err
	}
	if resp.SecondMasterPub, err = cryptoutils.UnmarshalPoint(out.SecondMasterPub); err != nil {
		return nil, err
	}
	if resp.PartialSignature, err = cryptoutils.UnmarshalScalar(out.PartialSignature); err != nil {
		return nil, err
	}
	return resp, nil
}

// SignEntry requests a fresh partial signature over an entry.
func (c *Client) SignEntry(ctx context.Context, req *custodian.SignEntryRequest) (kyber.Scalar, error) {
	wire := &api.SignEntryRequest{
		Token:                  req.Token.EncodeString(),
		PartialMasterPub:       api.OptionalPointWire(req.PartialMasterPub),
		PartialSecondMasterPub: api.OptionalPointWire(req.PartialSecondMasterPub),
		EntryBytes:             req.EntryBytes,
		Lagrange:               api.OptionalScalarWire(req.Lagrange),
	}
	var out api.SignEntryResponse
	if err := c.post(ctx, userPath(req.UserID, "sign-entry"), wire, &out); err != nil {
		return nil, err
	}
	return cryptoutils.UnmarshalScalar(out.PartialSignature)
}

// Confirm marks the user's sign-up as complete.
func (c *Client) Confirm(ctx context.Context, user interfaces.UserID) error {
	return c.post(ctx, userPath(user, "confirm"), nil, nil)
}

// ApplyShare runs login's first round against the node.
func (c *Client) ApplyShare(ctx context.Context, user interfaces.UserID, blinded kyber.Point, lagrange kyber.Scalar) (*custodian.ApplyShareResponse, error) {
	wire := &api.ApplyShareRequest{
		BlindedPoint: cryptoutils.MarshalPoint(blinded),
		Lagrange:     api.OptionalScalarWire(lagrange),
	}
	var out api.ApplyShareResponse
	if err := c.post(ctx, userPath(user, "apply"), wire, &out); err != nil {
		return nil, err
	}
	partial, err := cryptoutils.UnmarshalPoint(out.Partial)
	if err != nil {
		return nil, err
	}
	token, err := api.ParseToken(out.Token)
	if err != nil {
		return nil, err
	}
	return &custodian.ApplyShareResponse{Partial: partial, Token: token}, nil
}

// Authenticate runs login's second round against the node.
func (c *Client) Authenticate(ctx context.Context, user interfaces.UserID, point kyber.Point, token *trantoken.Token, lagrange kyber.Scalar) (*custodian.AuthenticateResult, error) {
	wire := &api.AuthenticateRequest{
		Point:    cryptoutils.MarshalPoint(point),
		Token:    token.EncodeString(),
		Lagrange: api.OptionalScalarWire(lagrange),
	}
	var out api.AuthenticateResponse
	if err := c.post(ctx, userPath(user, "authenticate"), wire, &out); err != nil {
		return nil, err
	}
	return &custodian.AuthenticateResult{
		EncryptedPartial:    out.EncryptedPartial,
		EncryptedPubPartial: out.EncryptedPubPartial,
	}, nil
}

// ChangeShare replaces the node's auth share and key.
func (c *Client) ChangeShare(ctx context.Context, req *custodian.ChangeShareRequest) error {
	wire := &api.ChangeShareRequest{
		NewAuthShare:    cryptoutils.MarshalScalar(req.NewAuthShare),
		NewAuthKey:      req.NewAuthKey,
		Token:           req.Token.EncodeString(),
		UsingMasterAuth: req.UsingMasterAuth,
	}
	return c.post(ctx, userPath(req.UserID, "change-share"), wire, nil)
}

// Recover asks the node to mail out its recovery code.
func (c *Client) Recover(ctx context.Context, user interfaces.UserID) error {
	return c.post(ctx, userPath(user, "recover"), nil, nil)
}

// MarkStale supersedes the user's record after recovery.
func (c *Client) MarkStale(ctx context.Context, user interfaces.UserID, token *trantoken.Token) error {
	wire := &api.MarkStaleRequest{Token: token.EncodeString()}
	return c.post(ctx, userPath(user, "mark-stale"), wire, nil)
}

// RegisterVaultKey stores a vault key share on the node.
func (c *Client) RegisterVaultKey(ctx context.Context, req *custodian.RegisterVaultKeyRequest) error {
	wire := &api.RegisterVaultKeyRequest{
		KeyShare:  cryptoutils.MarshalScalar(req.KeyShare),
		PublicKey: cryptoutils.MarshalPoint(req.PublicKey),
		AuthKey:   req.AuthKey,
		Token:     req.Token.EncodeString(),
	}
	return c.post(ctx, userPath(req.UserID, "vault"), wire, nil)
}

// VaultShare retrieves the sealed vault key share.
func (c *Client) VaultShare(ctx context.Context, user interfaces.UserID, token *trantoken.Token) ([]byte, error) {
	wire := &api.VaultShareRequest{Token: token.EncodeString()}
	var out api.VaultShareResponse
	if err := c.post(ctx, userPath(user, "vault/share"), wire, &out); err != nil {
		return nil, err
	}
	return out.EncryptedShare, nil
}

// Challenge requests a decryption challenge.
func (c *Client) Challenge(ctx context.Context, user interfaces.UserID) (*custodian.ChallengeResponse, error) {
	var out api.ChallengeResponse
	if err := c.post(ctx, userPath(user, "vault/challenge"), nil, &out); err != nil {
		return nil, err
	}
	c1, err := cryptoutils.UnmarshalPoint(out.C1)
	if err != nil {
		return nil, err
	}
	c2, err := cryptoutils.UnmarshalPoint(out.C2)
	if err != nil {
		return nil, err
	}
	token, err := api.ParseToken(out.Token)
	if err != nil {
		return nil, err
	}
	return &custodian.ChallengeResponse{C1: c1, C2: c2, Token: token}, nil
}

// DecryptPartial requests a partial decryption of a sealed vault payload.
func (c *Client) DecryptPartial(ctx context.Context, user interfaces.UserID, ephemeral kyber.Point, token *trantoken.Token, proof []byte, lagrange kyber.Scalar) ([]byte, error) {
	wire := &api.DecryptPartialRequest{
		Ephemeral: cryptoutils.MarshalPoint(ephemeral),
		Token:     token.EncodeString(),
		Proof:     proof,
		Lagrange:  api.OptionalScalarWire(lagrange),
	}
	var out api.DecryptPartialResponse
	if err := c.post(ctx, userPath(user, "vault/decrypt"), wire, &out); err != nil {
		return nil, err
	}
	return out.EncryptedPartial, nil
}
