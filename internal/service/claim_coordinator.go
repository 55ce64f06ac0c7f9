package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/pool"
	"github.com/tokengate/tokengate/internal/repository"
	"github.com/tokengate/tokengate/internal/security"
)

// Coordinator runs the claim state machine. One engine-wide mutex serializes
// the cooldown-check-then-commit sequence; claim volume is low enough that a
// coarse lock beats per-user striping.
type Coordinator struct {
	mu        sync.Mutex
	pool      *pool.Pool
	tiers     *TierResolver
	cooldowns *CooldownTracker
	sessions  *SessionManager
	events    repository.ClaimEventRepository
	notifier  Notifier
	hasher    *security.TokenHasher
	logger    *slog.Logger
	now       func() time.Time
}

type CoordinatorParams struct {
	Pool      *pool.Pool
	Tiers     *TierResolver
	Cooldowns *CooldownTracker
	Sessions  *SessionManager
	Events    repository.ClaimEventRepository
	Notifier  Notifier
	Hasher    *security.TokenHasher
	Logger    *slog.Logger
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	if p.Notifier == nil {
		p.Notifier = NewNoopNotifier()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Coordinator{
		pool:      p.Pool,
		tiers:     p.Tiers,
		cooldowns: p.Cooldowns,
		sessions:  p.Sessions,
		events:    p.Events,
		notifier:  p.Notifier,
		hasher:    p.Hasher,
		logger:    p.Logger,
		now:       time.Now,
	}
}

// Claim executes the full claim sequence for one user. Business denials come
// back as a ClaimResult; only source or store failures surface as errors, and
// those leave every piece of state as if the claim never started.
func (c *Coordinator) Claim(ctx context.Context, userID, alias string, roleIDs []string) (domain.ClaimResult, error) {
	if !c.sessions.IsAccepting(alias) {
		return c.finish(ctx, userID, alias, "", domain.ClaimResult{Outcome: domain.OutcomeSessionClosed}), nil
	}

	tier, err := c.tiers.Resolve(roleIDs)
	if err != nil {
		if errors.Is(err, domain.ErrNoEligibleTier) {
			return c.finish(ctx, userID, alias, "", domain.ClaimResult{Outcome: domain.OutcomeNoEligibleTier}), nil
		}
		return domain.ClaimResult{}, err
	}

	drawAlias := tier.SourceAlias
	if drawAlias == "" {
		drawAlias = alias
	}

	now := c.now().UTC()
	if _, holding := c.pool.HolderOf(drawAlias, userID, now); holding {
		return c.finish(ctx, userID, alias, tier.Name, domain.ClaimResult{Outcome: domain.OutcomeAlreadyHolding, Tier: tier.Name}), nil
	}

	result, err := c.issue(ctx, userID, drawAlias, tier, now)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	result = c.finish(ctx, userID, alias, tier.Name, result)

	if result.Issued() {
		// Delivery is fire-and-forget: a failed DM never unwinds the claim.
		if err := c.notifier.Deliver(ctx, userID, *result.Token); err != nil {
			c.logger.Warn("token delivery failed", "user_id", userID, "alias", alias, "error", err)
		}
	}
	return result, nil
}

// issue holds steps 4-7 of the claim sequence: cooldown check, draw+assign,
// cooldown record. The mutex keeps two concurrent claims by the same user
// from both observing "allowed".
func (c *Coordinator) issue(ctx context.Context, userID, drawAlias string, tier domain.Tier, now time.Time) (domain.ClaimResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining, err := c.cooldowns.Check(ctx, userID)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	if remaining > 0 {
		return domain.ClaimResult{Outcome: domain.OutcomeCooldown, Tier: tier.Name, CooldownRemaining: remaining}, nil
	}

	// Re-check under the lock: a racing claim by the same user may have
	// been issued between the outer holder check and here.
	if _, holding := c.pool.HolderOf(drawAlias, userID, now); holding {
		return domain.ClaimResult{Outcome: domain.OutcomeAlreadyHolding, Tier: tier.Name}, nil
	}

	token, err := c.pool.Issue(ctx, drawAlias, userID, tier.Shared, tier.TokenTTL)
	if err != nil {
		if errors.Is(err, domain.ErrNoTokensAvailable) {
			// A failed draw must not burn the user's cooldown.
			return domain.ClaimResult{Outcome: domain.OutcomeNoTokensAvailable, Tier: tier.Name}, nil
		}
		return domain.ClaimResult{}, err
	}

	if err := c.cooldowns.RecordClaim(ctx, userID, now); err != nil {
		// The token is already durable; surface the fault but keep the
		// issuance rather than stranding an assigned token.
		c.logger.Error("cooldown record failed after issuance", "user_id", userID, "error", err)
	}
	return domain.ClaimResult{Outcome: domain.OutcomeIssued, Tier: tier.Name, Token: &token}, nil
}

func (c *Coordinator) finish(ctx context.Context, userID, alias, tier string, result domain.ClaimResult) domain.ClaimResult {
	observability.RecordClaimAttempt(ctx, alias, string(result.Outcome))
	if c.events != nil {
		event := &domain.ClaimEvent{
			UserID:     userID,
			Alias:      alias,
			Tier:       tier,
			Outcome:    string(result.Outcome),
			OccurredAt: c.now().UTC(),
		}
		if result.Token != nil && c.hasher != nil {
			event.TokenHash = c.hasher.Hash(result.Token.Value)
		}
		if err := c.events.Append(event); err != nil {
			c.logger.Warn("claim ledger append failed", "user_id", userID, "error", err)
		}
	}
	return result
}

// Status reports the user's standing for one alias.
func (c *Coordinator) Status(ctx context.Context, userID, alias string) (domain.Status, error) {
	remaining, err := c.cooldowns.Check(ctx, userID)
	if err != nil {
		return domain.Status{}, err
	}
	status := domain.Status{CooldownRemaining: remaining}
	if token, ok := c.pool.HolderOf(alias, userID, c.now().UTC()); ok {
		status.HasToken = true
		status.ExpiresAt = token.ExpiresAt
	}
	return status, nil
}
