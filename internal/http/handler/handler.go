package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/http/response"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", map[string]string{"reason": err.Error()})
		return false
	}
	return true
}

// writeDomainError maps engine errors onto HTTP statuses. Business denials
// never reach here; they are carried inside a ClaimResult.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		response.Error(w, r, http.StatusNotFound, "TOKEN_NOT_FOUND", "token not found", nil)
	case errors.Is(err, domain.ErrSourceNotFound):
		response.Error(w, r, http.StatusNotFound, "SOURCE_NOT_FOUND", "unknown source alias", nil)
	case errors.Is(err, domain.ErrDuplicateToken):
		response.Error(w, r, http.StatusConflict, "DUPLICATE_TOKEN", "token already present", nil)
	case errors.Is(err, domain.ErrDedicatedHeld):
		response.Error(w, r, http.StatusConflict, "DEDICATED_HELD", "user already holds a dedicated token for this alias", nil)
	case errors.Is(err, domain.ErrSourceUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, "SOURCE_UNAVAILABLE", "backing source unavailable", nil)
	case errors.Is(err, domain.ErrEmptyTokenValue),
		errors.Is(err, domain.ErrEmptySourceAlias),
		errors.Is(err, domain.ErrExpiryBeforeIssue):
		response.Error(w, r, http.StatusBadRequest, "INVALID_TOKEN", err.Error(), nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

type tokenDTO struct {
	Value     string     `json:"value"`
	Alias     string     `json:"alias"`
	OwnerID   string     `json:"owner_id,omitempty"`
	Shared    bool       `json:"shared"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newTokenDTO(t domain.Token) tokenDTO {
	return tokenDTO{
		Value:     t.Value,
		Alias:     t.SourceAlias,
		OwnerID:   t.OwnerID,
		Shared:    t.Shared,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
}

func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d.Round(time.Second).Seconds())
}
