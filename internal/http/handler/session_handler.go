package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tokengate/tokengate/internal/http/response"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/service"
)

type SessionHandler struct {
	engine *service.Engine
}

func NewSessionHandler(engine *service.Engine) *SessionHandler {
	return &SessionHandler{engine: engine}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.engine.Sessions())
}

func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	if alias == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "alias is required", nil)
		return
	}
	session := h.engine.OpenSession(alias)
	observability.Audit(r, "session.open", "alias", alias)
	response.JSON(w, r, http.StatusOK, session)
}

func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	if alias == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "alias is required", nil)
		return
	}
	h.engine.CloseSession(alias)
	observability.Audit(r, "session.close", "alias", alias)
	response.JSON(w, r, http.StatusOK, map[string]string{"alias": alias, "state": "closed"})
}
