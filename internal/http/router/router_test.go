package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/http/handler"
	"github.com/tokengate/tokengate/internal/pool"
	"github.com/tokengate/tokengate/internal/security"
	"github.com/tokengate/tokengate/internal/service"
	"github.com/tokengate/tokengate/internal/source"
)

type staticRoles map[string][]string

func (s staticRoles) GetRoleIDs(_ context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

func newTestRouter(t *testing.T, roles staticRoles) (http.Handler, *service.Engine, *security.JWTManager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	src := source.NewFileSource("general", filepath.Join(t.TempDir(), "general.json"))
	p := pool.New([]source.Source{src}, logger)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("load pool: %v", err)
	}

	tiers := service.NewTierResolver(
		[]domain.Tier{{Name: "member", Rank: 1, TokenTTL: 24 * time.Hour, Shared: true}},
		map[string]string{"role-member": "member"},
	)
	cooldowns := service.NewCooldownTracker(service.NewInMemoryCooldownStore(), 7*24*time.Hour)
	sessions := service.NewSessionManager()
	coordinator := service.NewCoordinator(service.CoordinatorParams{
		Pool:      p,
		Tiers:     tiers,
		Cooldowns: cooldowns,
		Sessions:  sessions,
		Hasher:    security.NewTokenHasher("pepper"),
		Logger:    logger,
	})
	reaper := service.NewReaper(service.ReaperParams{Pool: p, Cooldowns: cooldowns, Logger: logger})
	engine := service.NewEngine(service.EngineParams{
		Coordinator: coordinator,
		Sessions:    sessions,
		Pool:        p,
		Cooldowns:   cooldowns,
		Roles:       roles,
		Reaper:      reaper,
		Logger:      logger,
	})

	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	h := NewRouter(Dependencies{
		ClaimHandler:      handler.NewClaimHandler(engine),
		SessionHandler:    handler.NewSessionHandler(engine),
		AdminHandler:      handler.NewAdminHandler(engine),
		JWTManager:        jwtMgr,
		APIRateLimitRPM:   1000,
		ClaimRateLimitRPM: 1000,
	})
	return h, engine, jwtMgr
}

func bearer(t *testing.T, jwtMgr *security.JWTManager, subject string, scopes []string) string {
	t.Helper()
	token, err := jwtMgr.Sign(subject, scopes, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func doJSON(t *testing.T, h http.Handler, method, path, auth string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope (%s): %v", rr.Body.String(), err)
	}
	return rr.Code, env
}

func TestRouterRejectsMissingToken(t *testing.T) {
	h, _, _ := newTestRouter(t, staticRoles{})
	code, env := doJSON(t, h, http.MethodGet, "/api/v1/status?user_id=u&alias=general", "", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("error=%+v", env.Error)
	}
}

func TestRouterAdminScopeEnforced(t *testing.T) {
	h, _, jwtMgr := newTestRouter(t, staticRoles{})
	auth := bearer(t, jwtMgr, "bot-1", []string{"claim"})
	code, _ := doJSON(t, h, http.MethodPost, "/api/v1/admin/sweep", auth, nil)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin scope, got %d", code)
	}
}

func TestRouterClaimFlow(t *testing.T) {
	roles := staticRoles{"user-1": {"role-member"}}
	h, engine, jwtMgr := newTestRouter(t, roles)
	admin := bearer(t, jwtMgr, "ops-1", []string{"claim", "admin"})
	bot := bearer(t, jwtMgr, "bot-1", []string{"claim"})

	code, _ := doJSON(t, h, http.MethodPost, "/api/v1/admin/tokens", admin,
		map[string]any{"alias": "general", "value": "sk-alpha", "shared": true})
	if code != http.StatusCreated {
		t.Fatalf("add token: expected 201, got %d", code)
	}

	// closed session denies without burning anything
	code, env := doJSON(t, h, http.MethodPost, "/api/v1/claims", bot,
		map[string]any{"user_id": "user-1", "alias": "general"})
	if code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d", code)
	}
	var result struct {
		Outcome string `json:"outcome"`
		Token   *struct {
			Value string `json:"value"`
		} `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != "session_closed" {
		t.Fatalf("outcome=%q want session_closed", result.Outcome)
	}

	code, _ = doJSON(t, h, http.MethodPut, "/api/v1/admin/sessions/general", admin, nil)
	if code != http.StatusOK {
		t.Fatalf("open session: expected 200, got %d", code)
	}

	code, env = doJSON(t, h, http.MethodPost, "/api/v1/claims", bot,
		map[string]any{"user_id": "user-1", "alias": "general"})
	if code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d", code)
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != "issued" || result.Token == nil || result.Token.Value != "sk-alpha" {
		t.Fatalf("result=%+v", result)
	}

	// the engine now reports a held token and an active cooldown
	status, err := engine.Status(context.Background(), "user-1", "general")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.HasToken || status.CooldownRemaining <= 0 {
		t.Fatalf("status=%+v", status)
	}

	// second claim is denied while the first token is held
	code, env = doJSON(t, h, http.MethodPost, "/api/v1/claims", bot,
		map[string]any{"user_id": "user-1", "alias": "general"})
	if code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d", code)
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != "already_holding" {
		t.Fatalf("outcome=%q want already_holding", result.Outcome)
	}
}

func TestRouterUnknownUserHasNoTier(t *testing.T) {
	h, engine, jwtMgr := newTestRouter(t, staticRoles{})
	engine.OpenSession("general")
	bot := bearer(t, jwtMgr, "bot-1", []string{"claim"})

	code, env := doJSON(t, h, http.MethodPost, "/api/v1/claims", bot,
		map[string]any{"user_id": "ghost", "alias": "general"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var result struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != "no_eligible_tier" {
		t.Fatalf("outcome=%q want no_eligible_tier", result.Outcome)
	}
}
