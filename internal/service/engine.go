package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/pool"
)

// Engine is the single entry point the transport layer talks to. It wires
// the coordinator, session manager, pool and reaper behind the operations
// the command/UI layer may invoke.
type Engine struct {
	coordinator *Coordinator
	sessions    *SessionManager
	pool        *pool.Pool
	cooldowns   *CooldownTracker
	roles       RolesClient
	reaper      *Reaper
	logger      *slog.Logger
}

type EngineParams struct {
	Coordinator *Coordinator
	Sessions    *SessionManager
	Pool        *pool.Pool
	Cooldowns   *CooldownTracker
	Roles       RolesClient
	Reaper      *Reaper
	Logger      *slog.Logger
}

func NewEngine(p EngineParams) *Engine {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Engine{
		coordinator: p.Coordinator,
		sessions:    p.Sessions,
		pool:        p.Pool,
		cooldowns:   p.Cooldowns,
		roles:       p.Roles,
		reaper:      p.Reaper,
		logger:      p.Logger,
	}
}

func (e *Engine) OpenSession(alias string) domain.ClaimSession {
	session := e.sessions.Open(alias)
	e.logger.Info("claim session opened", "alias", alias)
	return session
}

func (e *Engine) CloseSession(alias string) {
	e.sessions.Close(alias)
	e.logger.Info("claim session closed", "alias", alias)
}

func (e *Engine) Sessions() []domain.ClaimSession { return e.sessions.Sessions() }

// Claim fetches the user's roles from the platform collaborator and runs the
// claim sequence.
func (e *Engine) Claim(ctx context.Context, userID, alias string) (domain.ClaimResult, error) {
	roleIDs, err := e.roles.GetRoleIDs(ctx, userID)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	return e.coordinator.Claim(ctx, userID, alias, roleIDs)
}

func (e *Engine) Status(ctx context.Context, userID, alias string) (domain.Status, error) {
	return e.coordinator.Status(ctx, userID, alias)
}

// Admin operations. These bypass claim semantics and are audited by the
// transport layer.

func (e *Engine) AddToken(ctx context.Context, alias, value string, ttl time.Duration) (domain.Token, error) {
	tok, err := e.pool.Add(ctx, alias, value, ttl, false)
	e.recordAdmin(ctx, "add_token", err)
	return tok, err
}

func (e *Engine) AddShared(ctx context.Context, alias, value string, ttl time.Duration) (domain.Token, error) {
	tok, err := e.pool.Add(ctx, alias, value, ttl, true)
	e.recordAdmin(ctx, "add_shared", err)
	return tok, err
}

func (e *Engine) RemoveToken(ctx context.Context, alias, value string) error {
	err := e.pool.Remove(ctx, alias, value)
	e.recordAdmin(ctx, "remove_token", err)
	return err
}

func (e *Engine) GiveToken(ctx context.Context, alias, value, userID string, ttl time.Duration) (domain.Token, error) {
	tok, err := e.pool.Give(ctx, alias, value, userID, ttl)
	e.recordAdmin(ctx, "give_token", err)
	return tok, err
}

func (e *Engine) RevokeToken(ctx context.Context, userID, value string) error {
	err := e.pool.Revoke(ctx, userID, value)
	e.recordAdmin(ctx, "revoke_token", err)
	return err
}

func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	err := e.cooldowns.Reset(ctx, userID)
	e.recordAdmin(ctx, "reset_user", err)
	return err
}

func (e *Engine) ListTokens(alias string) []domain.Token { return e.pool.List(alias) }

func (e *Engine) ListSources() []domain.SourceInfo { return e.pool.Sources() }

func (e *Engine) ForceSweep(ctx context.Context) ([]domain.Token, error) {
	removed, err := e.reaper.Sweep(ctx)
	e.recordAdmin(ctx, "force_sweep", err)
	return removed, err
}

func (e *Engine) recordAdmin(ctx context.Context, action string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordAdminMutation(ctx, action, status)
}
