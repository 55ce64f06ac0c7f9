package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/pool"
	"github.com/tokengate/tokengate/internal/repository"
)

const defaultEventRetention = 90 * 24 * time.Hour

// Reaper periodically retires expired tokens and tells users whose cooldown
// has also elapsed that they may claim again. Sweeps are idempotent, so a
// flush failure simply leaves the work for the next tick.
type Reaper struct {
	pool      *pool.Pool
	cooldowns *CooldownTracker
	notifier  Notifier
	events    repository.ClaimEventRepository
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	notified map[string]time.Time
}

type ReaperParams struct {
	Pool           *pool.Pool
	Cooldowns      *CooldownTracker
	Notifier       Notifier
	Events         repository.ClaimEventRepository
	Interval       time.Duration
	EventRetention time.Duration
	Logger         *slog.Logger
}

func NewReaper(p ReaperParams) *Reaper {
	if p.Interval <= 0 {
		p.Interval = 5 * time.Minute
	}
	if p.EventRetention <= 0 {
		p.EventRetention = defaultEventRetention
	}
	if p.Notifier == nil {
		p.Notifier = NewNoopNotifier()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Reaper{
		pool:      p.Pool,
		cooldowns: p.Cooldowns,
		notifier:  p.Notifier,
		events:    p.Events,
		interval:  p.Interval,
		retention: p.EventRetention,
		logger:    p.Logger,
		now:       time.Now,
		notified:  make(map[string]time.Time),
	}
}

// Run blocks until the context is cancelled, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed, will retry next tick", "error", err)
			}
		}
	}
}

// Sweep runs one pass: retire expired tokens, notify completed cooldowns,
// prune the claim ledger. Safe to call concurrently with claims; pool and
// stores serialize internally.
func (r *Reaper) Sweep(ctx context.Context) ([]domain.Token, error) {
	now := r.now().UTC()
	removed, err := r.pool.SweepExpired(ctx, now)
	observability.RecordSweep(ctx, len(removed), err == nil)
	if len(removed) > 0 {
		r.logger.Info("expired tokens swept", "count", len(removed))
	}

	r.notifyCompletedCooldowns(ctx, removed, now)
	r.pruneLedger(now)
	return removed, err
}

func (r *Reaper) notifyCompletedCooldowns(ctx context.Context, removed []domain.Token, now time.Time) {
	seen := make(map[string]struct{}, len(removed))
	for _, token := range removed {
		if token.OwnerID == "" {
			continue
		}
		if _, dup := seen[token.OwnerID]; dup {
			continue
		}
		seen[token.OwnerID] = struct{}{}

		last, ok, err := r.cooldowns.Last(ctx, token.OwnerID)
		if err != nil {
			r.logger.Warn("cooldown lookup failed during sweep", "user_id", token.OwnerID, "error", err)
			continue
		}
		if ok && now.Sub(last) < r.cooldowns.Window() {
			continue
		}
		if !r.markNotified(token.OwnerID, last) {
			continue
		}
		if err := r.notifier.SendNotice(ctx, token.OwnerID, "Your cooldown has ended - you can claim a new token."); err != nil {
			r.logger.Warn("cooldown notice failed", "user_id", token.OwnerID, "error", err)
			continue
		}
		observability.RecordCooldownNotice(ctx)
	}
}

// markNotified returns false when the user was already notified for this
// cooldown cycle. The last-claim timestamp keys the cycle, so a fresh claim
// re-arms the notice.
func (r *Reaper) markNotified(userID string, lastClaim time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.notified[userID]; ok && prev.Equal(lastClaim) {
		return false
	}
	r.notified[userID] = lastClaim
	return true
}

func (r *Reaper) pruneLedger(now time.Time) {
	if r.events == nil {
		return
	}
	pruned, err := r.events.PruneOlderThan(now.Add(-r.retention))
	if err != nil {
		r.logger.Warn("claim ledger prune failed", "error", err)
		return
	}
	if pruned > 0 {
		r.logger.Debug("claim ledger pruned", "rows", pruned)
	}
}
