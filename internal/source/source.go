// Package source holds the durable mirrors of pool state. Each source owns
// one alias; the pool flushes every mutation here before committing it in
// memory.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
)

const documentVersion = 1

// Source is one backing store of raw token material.
type Source interface {
	Alias() string
	Kind() domain.SourceKind
	Location() string
	// Load reads the full entry set. A missing document is an empty set,
	// not an error.
	Load(ctx context.Context) ([]domain.Token, error)
	// Store replaces the full entry set. Store is the commit point for
	// every pool mutation touching this alias.
	Store(ctx context.Context, tokens []domain.Token) error
}

type entrySchema struct {
	Value     string `json:"value"`
	OwnerID   string `json:"owner_id,omitempty"`
	IssuedAt  string `json:"issued_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Shared    bool   `json:"shared"`
}

type documentSchema struct {
	Version int           `json:"version"`
	Tokens  []entrySchema `json:"tokens"`
}

// decodeDocument accepts either the structured document or a bare JSON array
// of token strings. Bare lists predate the structured format; their entries
// are loaded as available shared tokens.
func decodeDocument(data []byte, alias string, now time.Time) ([]domain.Token, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		tokens := make([]domain.Token, 0, len(plain))
		for _, value := range plain {
			if value == "" {
				continue
			}
			tokens = append(tokens, domain.Token{
				Value:       value,
				SourceAlias: alias,
				IssuedAt:    now,
				Shared:      true,
			})
		}
		return tokens, nil
	}

	var doc documentSchema
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode token document: %w", err)
	}
	if doc.Version != 0 && doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported token document version %d", doc.Version)
	}

	tokens := make([]domain.Token, 0, len(doc.Tokens))
	for _, entry := range doc.Tokens {
		if entry.Value == "" {
			continue
		}
		tok := domain.Token{
			Value:       entry.Value,
			SourceAlias: alias,
			OwnerID:     entry.OwnerID,
			IssuedAt:    now,
			Shared:      entry.Shared,
		}
		if entry.IssuedAt != "" {
			at, err := time.Parse(time.RFC3339, entry.IssuedAt)
			if err != nil {
				return nil, fmt.Errorf("decode issued_at for %s: %w", alias, err)
			}
			tok.IssuedAt = at
		}
		if entry.ExpiresAt != "" {
			at, err := time.Parse(time.RFC3339, entry.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("decode expires_at for %s: %w", alias, err)
			}
			tok.ExpiresAt = &at
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func encodeDocument(tokens []domain.Token) ([]byte, error) {
	doc := documentSchema{Version: documentVersion, Tokens: make([]entrySchema, 0, len(tokens))}
	for _, tok := range tokens {
		entry := entrySchema{
			Value:    tok.Value,
			OwnerID:  tok.OwnerID,
			IssuedAt: tok.IssuedAt.UTC().Format(time.RFC3339),
			Shared:   tok.Shared,
		}
		if tok.ExpiresAt != nil {
			entry.ExpiresAt = tok.ExpiresAt.UTC().Format(time.RFC3339)
		}
		doc.Tokens = append(doc.Tokens, entry)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// New builds a source from its configured descriptor.
func New(info domain.SourceInfo, timeout time.Duration) (Source, error) {
	switch info.Kind {
	case domain.SourceKindFile:
		return NewFileSource(info.Alias, info.Location), nil
	case domain.SourceKindHTTP:
		return NewHTTPSource(info.Alias, info.Location, timeout), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q for alias %q", info.Kind, info.Alias)
	}
}
