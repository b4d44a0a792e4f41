// Package registryhandler exposes the registration directory over HTTP
// and provides the matching client.
package registryhandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/custodian-auth-backend/api"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/registry"
)

// Handler adapts a registry to the directory HTTP API.
type Handler struct {
	registry *registry.Registry
	log      *slog.Logger
}

// New returns a handler for the given registry.
func New(reg *registry.Registry, log *slog.Logger) *Handler {
	return &Handler{registry: reg, log: log}
}

// RegisterRoutes mounts the registry API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/registry/nodes", h.handleNodes)
	r.Post("/api/registry/entries", h.handleAdd)
	r.Get("/api/registry/entries/{user_id}", h.handleGet)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusFromError(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "err", err)
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response", "err", err)
	}
}

func (h *Handler) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.registry.Nodes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, nodes)
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var entry registry.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		h.writeError(w, r, interfaces.ErrInvalidInput)
		return
	}
	if err := h.registry.Add(r.Context(), &entry); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, err := interfaces.NewUserIDFromString(chi.URLParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", interfaces.ErrInvalidInput, err))
		return
	}
	entry, err := h.registry.Get(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, entry)
}
