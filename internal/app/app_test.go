package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Profile:           "test",
		ListenAddr:        ":0",
		AuthSecret:        "abcdefghijklmnopqrstuvwxyz123456",
		AuthIssuer:        "tokengate",
		AuthAudience:      "tokengate-api",
		CooldownWindow:    7 * 24 * time.Hour,
		ReaperInterval:    time.Minute,
		EventRetention:    time.Hour,
		SourceTimeout:     time.Second,
		CooldownBackend:   "memory",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		APIRateLimitRPM:   100,
		ClaimRateLimitRPM: 100,
		Sources: []config.SourceConfig{
			{Alias: "general", Kind: "file", Location: filepath.Join(t.TempDir(), "general.json")},
		},
		Tiers: []config.TierConfig{
			{Name: "member", Rank: 1, TokenTTL: 24 * time.Hour, Shared: true},
		},
		Roles: map[string]string{"role-member": "member"},
	}
}

func TestBuildAssemblesWorkingEngine(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Build(ctx, testConfig(t), logger, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if a.Server.Addr != ":0" || a.Server.Handler == nil {
		t.Fatalf("server=%+v", a.Server)
	}

	if _, err := a.Engine.AddShared(ctx, "general", "sk-a", 0); err != nil {
		t.Fatalf("add shared: %v", err)
	}
	tokens := a.Engine.ListTokens("general")
	if len(tokens) != 1 || tokens[0].Value != "sk-a" {
		t.Fatalf("tokens=%v", tokens)
	}

	// no roles endpoint configured: claims resolve to no tier
	a.Engine.OpenSession("general")
	result, err := a.Engine.Claim(ctx, "u1", "general")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Outcome != domain.OutcomeNoEligibleTier {
		t.Fatalf("outcome=%q", result.Outcome)
	}
}

func TestBuildRejectsUnknownSourceKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources[0].Kind = "ftp"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Build(context.Background(), cfg, logger, nil); err == nil {
		t.Fatal("expected error for unknown source kind")
	}
}

func TestBuildRejectsUnknownCooldownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.CooldownBackend = "etcd"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Build(context.Background(), cfg, logger, nil); err == nil {
		t.Fatal("expected error for unknown cooldown backend")
	}
}
