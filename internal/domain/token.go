package domain

import (
	"strings"
	"time"
)

type SourceKind string

const (
	SourceKindFile SourceKind = "file"
	SourceKindHTTP SourceKind = "http"
)

// SourceInfo describes one configured backing store of token material.
// Identity is the alias, which is unique across the engine.
type SourceInfo struct {
	Alias    string     `json:"alias"`
	Kind     SourceKind `json:"kind"`
	Location string     `json:"location"`
}

// Token is one tracked pool entry. An empty OwnerID means the token is
// available for issuance; once owned it is never re-issued while unexpired.
type Token struct {
	Value       string     `json:"value"`
	SourceAlias string     `json:"source_alias"`
	OwnerID     string     `json:"owner_id,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Shared      bool       `json:"shared"`
}

func (t Token) Available() bool { return t.OwnerID == "" }

func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

func (t Token) Validate() error {
	if strings.TrimSpace(t.Value) == "" {
		return ErrEmptyTokenValue
	}
	if strings.TrimSpace(t.SourceAlias) == "" {
		return ErrEmptySourceAlias
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(t.IssuedAt) {
		return ErrExpiryBeforeIssue
	}
	return nil
}

// Tier is a priority rank derived from a user's platform roles. Higher rank
// wins when a user's roles map to several tiers.
type Tier struct {
	Name        string
	Rank        int
	SourceAlias string
	TokenTTL    time.Duration
	Shared      bool
}
