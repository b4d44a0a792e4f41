// Package custodianhandler exposes a custodian node's operations over
// HTTP and provides the matching client.
package custodianhandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/api"
	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// Handler adapts a custodian service to the node HTTP API.
type Handler struct {
	service *custodian.Service
	log     *slog.Logger
}

// New returns a handler for the given service.
func New(service *custodian.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// RegisterRoutes mounts the node API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/node/info", h.handleInfo)
	r.Post("/api/node/random", h.handleGetRandom)
	r.Route("/api/user/{user_id}", func(r chi.Router) {
		r.Post("/shares", h.handleAddRandom)
		r.Post("/sign-entry", h.handleSignEntry)
		r.Post("/confirm", h.handleConfirm)
		r.Post("/apply", h.handleApplyShare)
		r.Post("/authenticate", h.handleAuthenticate)
		r.Post("/change-share", h.handleChangeShare)
		r.Post("/recover", h.handleRecover)
		r.Post("/mark-stale", h.handleMarkStale)
		r.Post("/vault", h.handleRegisterVaultKey)
		r.Post("/vault/share", h.handleVaultShare)
		r.Post("/vault/challenge", h.handleChallenge)
		r.Post("/vault/decrypt", h.handleDecryptPartial)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusFromError(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		h.log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response", "err", err)
	}
}

func decode[T any](r *http.Request) (*T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return nil, interfaces.ErrInvalidInput
	}
	return &v, nil
}

func userID(r *http.Request) (interfaces.UserID, error) {
	id, err := interfaces.NewUserIDFromString(chi.URLParam(r, "user_id"))
	if err != nil {
		return interfaces.UserID{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidInput, err)
	}
	return id, nil
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.service.Info())
}

func (h *Handler) handleGetRandom(w http.ResponseWriter, r *http.Request) {
	req, err := decode[api.RandomRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	blinded, err := cryptoutils.UnmarshalPoint(req.BlindedPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vendor, err := api.OptionalPoint(req.Vendor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.service.GetRandom(r.Context(), &custodian.RandomRequest{
		BlindedPassword: blinded,
		Vendor:          vendor,
		Group: interfaces.ThresholdGroup{
			NodeIDs:   req.NodeIDs,
			Threshold: req.Threshold,
		},
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	shares := make([]api.TargetedShares, len(resp.Shares))
	for i, s := range resp.Shares {
		shares[i] = api.TargetedSharesWire(s)
	}
	h.writeJSON(w, &api.RandomResponse{
		Label:               resp.Label,
		AuthPartial:         cryptoutils.MarshalPoint(resp.AuthPartial),
		MasterCommit:        cryptoutils.MarshalPoint(resp.MasterCommit),
		SecondMasterCommit:  cryptoutils.MarshalPoint(resp.SecondMasterCommit),
		VendorMasterPartial: api.OptionalPointWire(resp.VendorMasterPartial),
		Shares:              shares,
		RawAuthShare:        cryptoutils.MarshalScalar(resp.RawAuthShare),
		RawMasterShare:      cryptoutils.MarshalScalar(resp.RawMasterShare),
	})
}

func (h *Handler) handleAddRandom(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.AddRandomRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	domain := &custodian.AddRandomRequest{
		UserID:        user,
		AuthKey:       req.AuthKey,
		MasterAuthKey: req.MasterAuthKey,
		Email:         req.Email,
		EntryBytes:    req.EntryBytes,
	}
	if domain.PartialMasterPub, err = api.OptionalPoint(req.PartialMasterPub); err != nil {
		h.writeError(w, r, err)
		return
	}
	if domain.PartialSecondMasterPub, err = api.OptionalPoint(req.PartialSecondMasterPub); err != nil {
		h.writeError(w, r, err)
		return
	}
	if domain.Lagrange, err = api.OptionalScalar(req.Lagrange); err != nil {
		h.writeError(w, r, err)
		return
	}
	domain.Shares = make([]custodian.TargetedShares, len(req.Shares))
	for i, s := range req.Shares {
		if domain.Shares[i], err = s.Domain(); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	resp, err := h.service.AddRandom(r.Context(), domain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, &api.AddRandomResponse{
		MasterPub:        cryptoutils.MarshalPoint(resp.MasterPub),
		SecondMasterPub:  cryptoutils.MarshalPoint(resp.SecondMasterPub),
		PartialSignature: cryptoutils.MarshalScalar(resp.PartialSignature),
		EncryptedToken:   resp.EncryptedToken,
	})
}

func (h *Handler) handleSignEntry(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.SignEntryRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	domain := &custodian.SignEntryRequest{
		UserID:     user,
		EntryBytes: req.EntryBytes,
	}
	if domain.Token, err = api.ParseToken(req.Token); err != nil {
		h.writeError(w, r, err)
		return
	}
	if domain.PartialMasterPub, err = api.OptionalPoint(req.PartialMasterPub); err != nil {
		h.writeError(w, r, err)
		return
	}
	if domain.PartialSecondMasterPub, err = api.OptionalPoint(req.PartialSecondMasterPub); err != nil {
		h.writeError(w, r, err)
		return
	}
	if domain.Lagrange, err = api.OptionalScalar(req.Lagrange); err != nil {
		h.writeError(w, r, err)
		return
	}

	partial, err := h.service.SignEntry(r.Context(), domain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, &api.SignEntryResponse{PartialSignature: cryptoutils.MarshalScalar(partial)})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.Confirm(r.Context(), user); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleApplyShare(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.ApplyShareRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	blinded, err := cryptoutils.UnmarshalPoint(req.BlindedPoint)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lagrange, err := api.OptionalScalar(req.Lagrange)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.service.ApplyShare(r.Context(), user, blinded, lagrange)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, &api.ApplyShareResponse{
		Partial: cryptoutils.MarshalPoint(resp.Partial),
		Token:   resp.Token.EncodeString(),
	})
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.AuthenticateRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	point, err := cryptoutils.UnmarshalPoint(req.Point)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := api.ParseToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lagrange, err := api.OptionalScalar(req.Lagrange)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.service.Authenticate(r.Context(), user, point, token, lagrange)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, &api.AuthenticateResponse{
		EncryptedPartial:    res.EncryptedPartial,
		EncryptedPubPartial: res.EncryptedPubPartial,
	})
}

func (h *Handler) handleChangeShare(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.ChangeShareRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	newShare, err := cryptoutils.UnmarshalScalar(req.NewAuthShare)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := api.ParseToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.service.ChangeShare(r.Context(), &custodian.ChangeShareRequest{
		UserID:          user,
		NewAuthShare:    newShare,
		NewAuthKey:      req.NewAuthKey,
		Token:           token,
		UsingMasterAuth: req.UsingMasterAuth,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.Recover(r.Context(), user); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMarkStale(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.MarkStaleRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := api.ParseToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.MarkStale(r.Context(), user, token); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRegisterVaultKey(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.RegisterVaultKeyRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	share, err := cryptoutils.UnmarshalScalar(req.KeyShare)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pub, err := cryptoutils.UnmarshalPoint(req.PublicKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := api.ParseToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.service.RegisterVaultKey(r.Context(), &custodian.RegisterVaultKeyRequest{
		UserID:    user,
		KeyShare:  share,
		PublicKey: pub,
		AuthKey:   req.AuthKey,
		Token:     token,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleVaultShare(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.VaultShareRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := api.ParseToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sealed, err := h.service.VaultShare(r.Context(), user, token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, &api.VaultShareResponse{EncryptedShare: sealed})
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.service.Challenge(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, &api.ChallengeResponse{
		C1:    cryptoutils.MarshalPoint(resp.C1),
		C2:    cryptoutils.MarshalPoint(resp.C2),
		Token: resp.Token.EncodeString(),
	})
}

func (h *Handler) handleDecryptPartial(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := decode[api.DecryptPartialRequest](r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ephemeral, err := cryptoutils.UnmarshalPoint(req.Ephemeral)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := api.ParseToken(req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var lagrange kyber.Scalar
	if lagrange, err = api.OptionalScalar(req.Lagrange); err != nil {
		h.writeError(w, r, err)
		return
	}
	sealed, err := h.service.DecryptPartial(r.Context(), user, ephemeral, token, req.Proof, lagrange)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, &api.DecryptPartialResponse{EncryptedPartial: sealed})
}
