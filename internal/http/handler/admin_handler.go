package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokengate/tokengate/internal/http/response"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/service"
)

// AdminHandler exposes the pool mutations reserved for operators. Every
// route behind it requires the admin scope.
type AdminHandler struct {
	engine *service.Engine
}

func NewAdminHandler(engine *service.Engine) *AdminHandler {
	return &AdminHandler{engine: engine}
}

type addTokenRequest struct {
	Alias      string `json:"alias"`
	Value      string `json:"value"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	Shared     bool   `json:"shared,omitempty"`
}

func (h *AdminHandler) AddToken(w http.ResponseWriter, r *http.Request) {
	var req addTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	var err error
	if req.Shared {
		_, err = h.engine.AddShared(r.Context(), req.Alias, req.Value, ttl)
	} else {
		_, err = h.engine.AddToken(r.Context(), req.Alias, req.Value, ttl)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	observability.Audit(r, "token.add", "alias", req.Alias, "shared", req.Shared)
	response.JSON(w, r, http.StatusCreated, map[string]string{"alias": req.Alias, "state": "added"})
}

type removeTokenRequest struct {
	Alias string `json:"alias"`
	Value string `json:"value"`
}

func (h *AdminHandler) RemoveToken(w http.ResponseWriter, r *http.Request) {
	var req removeTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.RemoveToken(r.Context(), req.Alias, req.Value); err != nil {
		writeDomainError(w, r, err)
		return
	}
	observability.Audit(r, "token.remove", "alias", req.Alias)
	response.JSON(w, r, http.StatusOK, map[string]string{"alias": req.Alias, "state": "removed"})
}

type giveTokenRequest struct {
	Alias      string `json:"alias"`
	Value      string `json:"value"`
	UserID     string `json:"user_id"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

func (h *AdminHandler) GiveToken(w http.ResponseWriter, r *http.Request) {
	var req giveTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "user_id is required", nil)
		return
	}
	tok, err := h.engine.GiveToken(r.Context(), req.Alias, req.Value, req.UserID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	observability.Audit(r, "token.give", "alias", req.Alias, "user_id", req.UserID)
	response.JSON(w, r, http.StatusCreated, newTokenDTO(tok))
}

type revokeTokenRequest struct {
	UserID string `json:"user_id"`
	Value  string `json:"value"`
}

func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.RevokeToken(r.Context(), req.UserID, req.Value); err != nil {
		writeDomainError(w, r, err)
		return
	}
	observability.Audit(r, "token.revoke", "user_id", req.UserID)
	response.JSON(w, r, http.StatusOK, map[string]string{"state": "revoked"})
}

func (h *AdminHandler) ResetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "user_id is required", nil)
		return
	}
	if err := h.engine.ResetUser(r.Context(), userID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	observability.Audit(r, "user.reset", "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"user_id": userID, "state": "reset"})
}

func (h *AdminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("alias")
	if alias == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "alias is required", nil)
		return
	}
	tokens := h.engine.ListTokens(alias)
	dtos := make([]tokenDTO, 0, len(tokens))
	for _, tok := range tokens {
		dtos = append(dtos, newTokenDTO(tok))
	}
	response.JSON(w, r, http.StatusOK, dtos)
}

func (h *AdminHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.engine.ListSources())
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.ForceSweep(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]tokenDTO, 0, len(removed))
	for _, tok := range removed {
		dtos = append(dtos, newTokenDTO(tok))
	}
	observability.Audit(r, "pool.sweep", "removed", len(removed))
	response.JSON(w, r, http.StatusOK, map[string]any{"removed": len(removed), "tokens": dtos})
}
