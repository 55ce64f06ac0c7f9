package domain

import "time"

// CooldownEntry records a user's last successful claim. Cooldown is global
// per user, not per alias. Persisted through GORM when the database-backed
// cooldown store is configured.
type CooldownEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"size:64;uniqueIndex;not null" json:"user_id"`
	LastClaimAt time.Time `gorm:"index;not null" json:"last_claim_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ClaimEvent is one append-only ledger row per claim attempt. Token values
// are stored hashed, never raw.
type ClaimEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"size:64;index;not null" json:"user_id"`
	Alias      string    `gorm:"size:64;index;not null" json:"alias"`
	Tier       string    `gorm:"size:64" json:"tier"`
	Outcome    string    `gorm:"size:32;index;not null" json:"outcome"`
	TokenHash  string    `gorm:"size:128" json:"-"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClaimSession marks an alias as currently accepting claims. Re-opening an
// already open alias refreshes OpenedAt.
type ClaimSession struct {
	Alias    string    `json:"alias"`
	OpenedAt time.Time `json:"opened_at"`
	Open     bool      `json:"open"`
}

type ClaimOutcome string

const (
	OutcomeIssued            ClaimOutcome = "issued"
	OutcomeSessionClosed     ClaimOutcome = "session_closed"
	OutcomeNoEligibleTier    ClaimOutcome = "no_eligible_tier"
	OutcomeAlreadyHolding    ClaimOutcome = "already_holding"
	OutcomeCooldown          ClaimOutcome = "cooldown"
	OutcomeNoTokensAvailable ClaimOutcome = "no_tokens_available"
)

// ClaimResult is the typed outcome of a claim attempt. Token is set only for
// OutcomeIssued; CooldownRemaining only for OutcomeCooldown.
type ClaimResult struct {
	Outcome           ClaimOutcome `json:"outcome"`
	Token             *Token       `json:"token,omitempty"`
	Tier              string       `json:"tier,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

func (r ClaimResult) Issued() bool { return r.Outcome == OutcomeIssued }

// Status answers the user-facing "where do I stand" query for one alias.
type Status struct {
	HasToken          bool          `json:"has_token"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
}
