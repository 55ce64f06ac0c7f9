package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokengate/tokengate/internal/app"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/security"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	baseURL string
	client  *http.Client
	app     *app.App
	cfg     *config.Config
	jwt     *security.JWTManager
}

// newEngineTestServer stands up the full stack: a roles endpoint stub, a
// file-backed source in a temp dir and the real router. The returned config
// can be reused to rebuild the app against the same source files.
func newEngineTestServer(t *testing.T, roles map[string][]string) *testServer {
	t.Helper()

	rolesSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"role_ids": roles[userID]})
	}))
	t.Cleanup(rolesSrv.Close)

	cfg := &config.Config{
		Profile:           "integration",
		ListenAddr:        ":0",
		AuthSecret:        "abcdefghijklmnopqrstuvwxyz123456",
		AuthIssuer:        "tokengate",
		AuthAudience:      "tokengate-api",
		TokenPepper:       "pepper",
		CooldownWindow:    7 * 24 * time.Hour,
		ReaperInterval:    time.Minute,
		EventRetention:    time.Hour,
		SourceTimeout:     2 * time.Second,
		CooldownBackend:   "memory",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		RolesEndpoint:     rolesSrv.URL,
		APIRateLimitRPM:   10000,
		ClaimRateLimitRPM: 10000,
		Sources: []config.SourceConfig{
			{Alias: "general", Kind: "file", Location: filepath.Join(t.TempDir(), "general.json")},
		},
		Tiers: []config.TierConfig{
			{Name: "vip", Rank: 100, TokenTTL: 30 * 24 * time.Hour, Shared: true},
			{Name: "member", Rank: 10, TokenTTL: 24 * time.Hour, Shared: true},
		},
		Roles: map[string]string{"role-vip": "vip", "role-member": "member"},
	}
	return startServer(t, cfg)
}

func startServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.Build(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
		app:     a,
		cfg:     cfg,
		jwt:     security.NewJWTManager(cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthSecret),
	}
}

func (s *testServer) token(t *testing.T, subject string, scopes []string) string {
	t.Helper()
	raw, err := s.jwt.Sign(subject, scopes, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func (s *testServer) do(t *testing.T, method, path, auth string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.baseURL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope for %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}
