package handler

import (
	"net/http"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/http/response"
	"github.com/tokengate/tokengate/internal/service"
)

type ClaimHandler struct {
	engine *service.Engine
}

func NewClaimHandler(engine *service.Engine) *ClaimHandler {
	return &ClaimHandler{engine: engine}
}

type claimRequest struct {
	UserID string `json:"user_id"`
	Alias  string `json:"alias"`
}

type claimResponse struct {
	Outcome                  string    `json:"outcome"`
	Token                    *tokenDTO `json:"token,omitempty"`
	Tier                     string    `json:"tier,omitempty"`
	CooldownRemainingSeconds int64     `json:"cooldown_remaining_seconds,omitempty"`
}

// Claim runs one claim attempt. Denials are regular 200 responses carrying
// the outcome; only infrastructure failures map to error statuses.
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Alias == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "user_id and alias are required", nil)
		return
	}

	result, err := h.engine.Claim(r.Context(), req.UserID, req.Alias)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := claimResponse{
		Outcome:                  string(result.Outcome),
		Tier:                     result.Tier,
		CooldownRemainingSeconds: seconds(result.CooldownRemaining),
	}
	if result.Token != nil {
		dto := newTokenDTO(*result.Token)
		resp.Token = &dto
	}
	response.JSON(w, r, http.StatusOK, resp)
}

type statusResponse struct {
	HasToken                 bool    `json:"has_token"`
	ExpiresAt                *string `json:"expires_at,omitempty"`
	CooldownRemainingSeconds int64   `json:"cooldown_remaining_seconds"`
}

func (h *ClaimHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	alias := r.URL.Query().Get("alias")
	if userID == "" || alias == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "user_id and alias are required", nil)
		return
	}

	status, err := h.engine.Status(r.Context(), userID, alias)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, newStatusResponse(status))
}

func newStatusResponse(s domain.Status) statusResponse {
	resp := statusResponse{
		HasToken:                 s.HasToken,
		CooldownRemainingSeconds: seconds(s.CooldownRemaining),
	}
	if s.ExpiresAt != nil {
		v := s.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.ExpiresAt = &v
	}
	return resp
}
