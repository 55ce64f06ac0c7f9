package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/source"
)

// memorySource keeps the flushed document in memory and can be told to fail.
type memorySource struct {
	mu     sync.Mutex
	alias  string
	stored []domain.Token
	fail   bool
	stores int
}

func newMemorySource(alias string, tokens ...domain.Token) *memorySource {
	return &memorySource{alias: alias, stored: tokens}
}

func (s *memorySource) Alias() string           { return s.alias }
func (s *memorySource) Kind() domain.SourceKind { return domain.SourceKindFile }
func (s *memorySource) Location() string        { return "memory://" + s.alias }

func (s *memorySource) Load(context.Context) ([]domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Token, len(s.stored))
	copy(out, s.stored)
	return out, nil
}

func (s *memorySource) Store(_ context.Context, tokens []domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores++
	if s.fail {
		return domain.ErrSourceUnavailable
	}
	s.stored = make([]domain.Token, len(tokens))
	copy(s.stored, tokens)
	return nil
}

func (s *memorySource) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

var _ source.Source = (*memorySource)(nil)

func sharedToken(alias, value string) domain.Token {
	return domain.Token{Value: value, SourceAlias: alias, IssuedAt: time.Now().UTC(), Shared: true}
}

func newPoolForTest(t *testing.T, sources ...source.Source) *Pool {
	t.Helper()
	p := New(sources, nil)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return p
}

func TestPoolAddRemoveRoundTrip(t *testing.T) {
	src := newMemorySource("vip")
	p := newPoolForTest(t, src)
	ctx := context.Background()

	if _, err := p.Add(ctx, "vip", "tok-1", 0, true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := p.Add(ctx, "vip", "tok-1", 0, true); !errors.Is(err, domain.ErrDuplicateToken) {
		t.Fatalf("duplicate add: %v, want ErrDuplicateToken", err)
	}

	listed := p.List("vip")
	if len(listed) != 1 || listed[0].Value != "tok-1" {
		t.Fatalf("list after add: %+v", listed)
	}

	if err := p.Remove(ctx, "vip", "tok-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.Remove(ctx, "vip", "tok-1"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("remove missing: %v, want ErrTokenNotFound", err)
	}
	if got := p.List("vip"); len(got) != 0 {
		t.Fatalf("list after remove: %+v", got)
	}
}

func TestPoolIssueAssignsOwnerAndExpiry(t *testing.T) {
	src := newMemorySource("vip", sharedToken("vip", "tok-b"), sharedToken("vip", "tok-a"))
	p := newPoolForTest(t, src)

	before := time.Now()
	tok, err := p.Issue(context.Background(), "vip", "user-1", true, 24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Value != "tok-a" {
		t.Fatalf("expected deterministic lowest-value draw, got %q", tok.Value)
	}
	if tok.OwnerID != "user-1" {
		t.Fatalf("owner not set: %+v", tok)
	}
	if tok.ExpiresAt == nil {
		t.Fatal("expiry not set")
	}
	wantExpiry := before.Add(24 * time.Hour)
	if tok.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || tok.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Fatalf("expiry %v not near now+24h", tok.ExpiresAt)
	}

	// issued token must be durably mirrored
	stored, _ := src.Load(context.Background())
	var found bool
	for _, s := range stored {
		if s.Value == "tok-a" && s.OwnerID == "user-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("flushed document missing assignment: %+v", stored)
	}
}

func TestPoolIssueEmpty(t *testing.T) {
	p := newPoolForTest(t, newMemorySource("vip"))
	if _, err := p.Issue(context.Background(), "vip", "user-1", true, 0); !errors.Is(err, domain.ErrNoTokensAvailable) {
		t.Fatalf("issue from empty pool: %v, want ErrNoTokensAvailable", err)
	}
	if _, err := p.Issue(context.Background(), "ghost", "user-1", true, 0); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("issue from unknown alias: %v, want ErrSourceNotFound", err)
	}
}

func TestPoolFlushFailureRollsBack(t *testing.T) {
	src := newMemorySource("vip", sharedToken("vip", "tok-1"))
	p := newPoolForTest(t, src)
	src.setFail(true)

	if _, err := p.Issue(context.Background(), "vip", "user-1", true, 0); !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("issue with failing source: %v, want ErrSourceUnavailable", err)
	}

	// in-memory state unchanged, retry succeeds once the source recovers
	src.setFail(false)
	tok, err := p.Issue(context.Background(), "vip", "user-1", true, 0)
	if err != nil {
		t.Fatalf("retry issue: %v", err)
	}
	if tok.Value != "tok-1" || tok.OwnerID != "user-1" {
		t.Fatalf("unexpected token after retry: %+v", tok)
	}
}

func TestPoolRevoke(t *testing.T) {
	src := newMemorySource("vip")
	p := newPoolForTest(t, src)
	ctx := context.Background()

	if _, err := p.Give(ctx, "vip", "tok-d", "user-1", time.Hour); err != nil {
		t.Fatalf("give: %v", err)
	}
	if _, err := p.Give(ctx, "vip", "tok-d2", "user-1", time.Hour); !errors.Is(err, domain.ErrDedicatedHeld) {
		t.Fatalf("second dedicated give: %v, want ErrDedicatedHeld", err)
	}

	if err := p.Revoke(ctx, "user-2", "tok-d"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("revoke by non-owner: %v, want ErrTokenNotFound", err)
	}
	if err := p.Revoke(ctx, "user-1", "tok-d"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	listed := p.List("vip")
	if len(listed) != 1 {
		t.Fatalf("list after revoke: %+v", listed)
	}
	if listed[0].OwnerID != "" || !listed[0].Shared || listed[0].ExpiresAt != nil {
		t.Fatalf("revoked token not returned to available pool: %+v", listed[0])
	}
}

func TestPoolSweepExpiredIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	expired := domain.Token{Value: "old", SourceAlias: "vip", OwnerID: "user-1", IssuedAt: now.Add(-time.Hour), ExpiresAt: &past, Shared: true}
	live := domain.Token{Value: "new", SourceAlias: "vip", OwnerID: "user-2", IssuedAt: now, ExpiresAt: &future, Shared: true}

	src := newMemorySource("vip", expired, live)
	p := newPoolForTest(t, src)

	removed, err := p.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(removed) != 1 || removed[0].Value != "old" {
		t.Fatalf("sweep removed %+v, want [old]", removed)
	}

	removed, err = p.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("second sweep must be empty, got %+v", removed)
	}
}

func TestPoolSweepRetriesAfterFlushFailure(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	expired := domain.Token{Value: "old", SourceAlias: "vip", IssuedAt: now.Add(-time.Hour), ExpiresAt: &past, Shared: true}

	src := newMemorySource("vip", expired)
	p := newPoolForTest(t, src)
	src.setFail(true)

	removed, err := p.SweepExpired(context.Background(), now)
	if err == nil {
		t.Fatal("expected sweep error while source is down")
	}
	if len(removed) != 0 {
		t.Fatalf("nothing should be committed while source is down, got %+v", removed)
	}

	src.setFail(false)
	removed, err = p.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("retry sweep: %v", err)
	}
	if len(removed) != 1 || removed[0].Value != "old" {
		t.Fatalf("retry sweep removed %+v, want [old]", removed)
	}
}

func TestPoolHolderOf(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)
	src := newMemorySource("vip",
		domain.Token{Value: "held", SourceAlias: "vip", OwnerID: "user-1", IssuedAt: now, ExpiresAt: &future, Shared: true},
		domain.Token{Value: "stale", SourceAlias: "vip", OwnerID: "user-2", IssuedAt: now.Add(-time.Hour), ExpiresAt: &past, Shared: true},
	)
	p := newPoolForTest(t, src)

	if tok, ok := p.HolderOf("vip", "user-1", now); !ok || tok.Value != "held" {
		t.Fatalf("HolderOf(user-1)=%+v,%v", tok, ok)
	}
	if _, ok := p.HolderOf("vip", "user-2", now); ok {
		t.Fatal("expired token must not count as held")
	}
	if _, ok := p.HolderOf("vip", "user-3", now); ok {
		t.Fatal("unknown user must not hold a token")
	}
}

func TestPoolDrawDoesNotMutate(t *testing.T) {
	src := newMemorySource("vip", sharedToken("vip", "tok-1"))
	p := newPoolForTest(t, src)

	tok, ok := p.Draw("vip", true)
	if !ok || tok.Value != "tok-1" {
		t.Fatalf("draw: %+v %v", tok, ok)
	}
	tok2, ok := p.Draw("vip", true)
	if !ok || tok2.Value != "tok-1" {
		t.Fatal("draw must not consume the token")
	}
	if src.stores != 0 {
		t.Fatalf("draw must not flush, saw %d stores", src.stores)
	}
}

func TestPoolSourcesListing(t *testing.T) {
	p := newPoolForTest(t, newMemorySource("b"), newMemorySource("a"))
	infos := p.Sources()
	if len(infos) != 2 || infos[0].Alias != "a" || infos[1].Alias != "b" {
		t.Fatalf("sources: %+v", infos)
	}
}
