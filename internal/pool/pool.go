// Package pool owns the in-memory authoritative view of every tracked token.
// Each mutation is flushed to the alias's backing source before the in-memory
// state is replaced; a failed flush leaves memory untouched so the caller can
// retry safely.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/source"
)

type Pool struct {
	mu      sync.Mutex
	sources map[string]source.Source
	tokens  map[string][]domain.Token
	logger  *slog.Logger
}

func New(sources []source.Source, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	byAlias := make(map[string]source.Source, len(sources))
	tokens := make(map[string][]domain.Token, len(sources))
	for _, src := range sources {
		byAlias[src.Alias()] = src
		tokens[src.Alias()] = nil
	}
	return &Pool{sources: byAlias, tokens: tokens, logger: logger}
}

// Load rebuilds the in-memory view from every configured source. Called once
// at startup; a source that cannot be read fails the load.
func (p *Pool) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for alias, src := range p.sources {
		tokens, err := src.Load(ctx)
		if err != nil {
			return fmt.Errorf("load source %q: %w", alias, err)
		}
		for i := range tokens {
			tokens[i].SourceAlias = alias
		}
		p.tokens[alias] = tokens
		p.logger.Info("source loaded", "alias", alias, "tokens", len(tokens))
	}
	return nil
}

// Draw selects an available token for the alias without assigning it.
// Selection is deterministic for a given snapshot: lowest value first.
func (p *Pool) Draw(alias string, shared bool) (domain.Token, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, _, ok := p.selectAvailable(alias, shared)
	return tok, ok
}

func (p *Pool) selectAvailable(alias string, shared bool) (domain.Token, int, bool) {
	entries, ok := p.tokens[alias]
	if !ok {
		return domain.Token{}, -1, false
	}
	best := -1
	for i, tok := range entries {
		if !tok.Available() || tok.Shared != shared {
			continue
		}
		if best == -1 || tok.Value < entries[best].Value {
			best = i
		}
	}
	if best == -1 {
		return domain.Token{}, -1, false
	}
	return entries[best], best, true
}

// Issue draws and assigns in one critical section, preserving the
// at-most-one-issuance property under concurrent claims. A zero ttl issues a
// token with no expiry.
func (p *Pool) Issue(ctx context.Context, alias, userID string, shared bool, ttl time.Duration) (domain.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sources[alias]; !ok {
		return domain.Token{}, domain.ErrSourceNotFound
	}
	_, idx, ok := p.selectAvailable(alias, shared)
	if !ok {
		return domain.Token{}, domain.ErrNoTokensAvailable
	}
	return p.assignLocked(ctx, alias, idx, userID, ttl, shared)
}

// Assign sets the owner and expiry of a specific token value, then flushes.
func (p *Pool) Assign(ctx context.Context, alias, value, userID string, ttl time.Duration) (domain.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, ok := p.tokens[alias]
	if !ok {
		return domain.Token{}, domain.ErrSourceNotFound
	}
	idx := indexOf(entries, value)
	if idx == -1 {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	return p.assignLocked(ctx, alias, idx, userID, ttl, entries[idx].Shared)
}

func (p *Pool) assignLocked(ctx context.Context, alias string, idx int, userID string, ttl time.Duration, shared bool) (domain.Token, error) {
	entries := p.tokens[alias]

	if !shared {
		for i, tok := range entries {
			if i != idx && tok.OwnerID == userID && !tok.Shared && !tok.Expired(time.Now()) {
				return domain.Token{}, domain.ErrDedicatedHeld
			}
		}
	}

	staged := cloneEntries(entries)
	now := time.Now().UTC()
	staged[idx].OwnerID = userID
	staged[idx].IssuedAt = now
	staged[idx].ExpiresAt = nil
	if ttl > 0 {
		expiry := now.Add(ttl)
		staged[idx].ExpiresAt = &expiry
	}

	if err := p.flushLocked(ctx, alias, staged); err != nil {
		return domain.Token{}, err
	}
	p.tokens[alias] = staged
	return staged[idx], nil
}

// Revoke clears ownership of a token the user holds and returns it to the
// shared available pool.
func (p *Pool) Revoke(ctx context.Context, userID, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for alias, entries := range p.tokens {
		idx := indexOf(entries, value)
		if idx == -1 {
			continue
		}
		if entries[idx].OwnerID != userID {
			return domain.ErrTokenNotFound
		}
		staged := cloneEntries(entries)
		staged[idx].OwnerID = ""
		staged[idx].ExpiresAt = nil
		staged[idx].Shared = true
		if err := p.flushLocked(ctx, alias, staged); err != nil {
			return err
		}
		p.tokens[alias] = staged
		return nil
	}
	return domain.ErrTokenNotFound
}

// Add inserts a raw token into an alias, bypassing claim semantics.
func (p *Pool) Add(ctx context.Context, alias, value string, ttl time.Duration, shared bool) (domain.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sources[alias]; !ok {
		return domain.Token{}, domain.ErrSourceNotFound
	}
	if p.containsLocked(value) {
		return domain.Token{}, domain.ErrDuplicateToken
	}

	now := time.Now().UTC()
	tok := domain.Token{Value: value, SourceAlias: alias, IssuedAt: now, Shared: shared}
	if ttl > 0 {
		expiry := now.Add(ttl)
		tok.ExpiresAt = &expiry
	}
	if err := tok.Validate(); err != nil {
		return domain.Token{}, err
	}

	staged := append(cloneEntries(p.tokens[alias]), tok)
	if err := p.flushLocked(ctx, alias, staged); err != nil {
		return domain.Token{}, err
	}
	p.tokens[alias] = staged
	return tok, nil
}

// Give creates a dedicated token pre-assigned to one user. At most one
// dedicated token per user per alias may exist at a time.
func (p *Pool) Give(ctx context.Context, alias, value, userID string, ttl time.Duration) (domain.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sources[alias]; !ok {
		return domain.Token{}, domain.ErrSourceNotFound
	}
	if p.containsLocked(value) {
		return domain.Token{}, domain.ErrDuplicateToken
	}
	for _, tok := range p.tokens[alias] {
		if tok.OwnerID == userID && !tok.Shared && !tok.Expired(time.Now()) {
			return domain.Token{}, domain.ErrDedicatedHeld
		}
	}

	now := time.Now().UTC()
	tok := domain.Token{Value: value, SourceAlias: alias, OwnerID: userID, IssuedAt: now, Shared: false}
	if ttl > 0 {
		expiry := now.Add(ttl)
		tok.ExpiresAt = &expiry
	}
	if err := tok.Validate(); err != nil {
		return domain.Token{}, err
	}

	staged := append(cloneEntries(p.tokens[alias]), tok)
	if err := p.flushLocked(ctx, alias, staged); err != nil {
		return domain.Token{}, err
	}
	p.tokens[alias] = staged
	return tok, nil
}

// Remove deletes a token value from an alias regardless of ownership.
func (p *Pool) Remove(ctx context.Context, alias, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, ok := p.tokens[alias]
	if !ok {
		return domain.ErrSourceNotFound
	}
	idx := indexOf(entries, value)
	if idx == -1 {
		return domain.ErrTokenNotFound
	}

	staged := cloneEntries(entries)
	staged = append(staged[:idx], staged[idx+1:]...)
	if err := p.flushLocked(ctx, alias, staged); err != nil {
		return err
	}
	p.tokens[alias] = staged
	return nil
}

// SweepExpired removes every token whose expiry has passed. Removal is
// committed per alias, so a flush failure on one source leaves its expired
// tokens in memory to be retried on the next sweep. The returned slice holds
// only the tokens whose removal was durably committed.
func (p *Pool) SweepExpired(ctx context.Context, now time.Time) ([]domain.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []domain.Token
	var errs []error
	for alias, entries := range p.tokens {
		var kept, expired []domain.Token
		for _, tok := range entries {
			if tok.Expired(now) {
				expired = append(expired, tok)
			} else {
				kept = append(kept, tok)
			}
		}
		if len(expired) == 0 {
			continue
		}
		if err := p.flushLocked(ctx, alias, kept); err != nil {
			errs = append(errs, fmt.Errorf("sweep %q: %w", alias, err))
			continue
		}
		p.tokens[alias] = kept
		removed = append(removed, expired...)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Value < removed[j].Value })
	return removed, errors.Join(errs...)
}

// HolderOf reports the unexpired token the user currently owns for an alias.
func (p *Pool) HolderOf(alias, userID string, now time.Time) (domain.Token, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tok := range p.tokens[alias] {
		if tok.OwnerID == userID && !tok.Expired(now) {
			return tok, true
		}
	}
	return domain.Token{}, false
}

// List snapshots the tracked tokens. An empty alias lists every alias.
func (p *Pool) List(alias string) []domain.Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Token
	for a, entries := range p.tokens {
		if alias != "" && a != alias {
			continue
		}
		out = append(out, cloneEntries(entries)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceAlias != out[j].SourceAlias {
			return out[i].SourceAlias < out[j].SourceAlias
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Sources describes the configured backing stores.
func (p *Pool) Sources() []domain.SourceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.SourceInfo, 0, len(p.sources))
	for alias, src := range p.sources {
		out = append(out, domain.SourceInfo{Alias: alias, Kind: src.Kind(), Location: src.Location()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

func (p *Pool) containsLocked(value string) bool {
	for _, entries := range p.tokens {
		if indexOf(entries, value) != -1 {
			return true
		}
	}
	return false
}

func (p *Pool) flushLocked(ctx context.Context, alias string, staged []domain.Token) error {
	src, ok := p.sources[alias]
	if !ok {
		return domain.ErrSourceNotFound
	}
	if err := src.Store(ctx, staged); err != nil {
		p.logger.Error("source flush failed", "alias", alias, "error", err)
		return err
	}
	return nil
}

func indexOf(entries []domain.Token, value string) int {
	for i, tok := range entries {
		if tok.Value == value {
			return i
		}
	}
	return -1
}

func cloneEntries(entries []domain.Token) []domain.Token {
	out := make([]domain.Token, len(entries))
	copy(out, entries)
	return out
}
