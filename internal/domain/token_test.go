package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTokenValidate(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	cases := []struct {
		name    string
		token   Token
		wantErr error
	}{
		{"valid without expiry", Token{Value: "v", SourceAlias: "a", IssuedAt: now}, nil},
		{"valid with expiry", Token{Value: "v", SourceAlias: "a", IssuedAt: now, ExpiresAt: &later}, nil},
		{"missing value", Token{SourceAlias: "a", IssuedAt: now}, ErrEmptyTokenValue},
		{"missing alias", Token{Value: "v", IssuedAt: now}, ErrEmptySourceAlias},
		{"expiry before issue", Token{Value: "v", SourceAlias: "a", IssuedAt: now, ExpiresAt: &earlier}, ErrExpiryBeforeIssue},
		{"expiry equal to issue", Token{Value: "v", SourceAlias: "a", IssuedAt: now, ExpiresAt: &now}, ErrExpiryBeforeIssue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.token.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate()=%v want %v", err, tc.wantErr)
			}
		})
	}
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	at := now.Add(time.Minute)

	tok := Token{Value: "v", SourceAlias: "a", IssuedAt: now}
	if tok.Expired(now.Add(time.Hour)) {
		t.Fatal("token without expiry must never expire")
	}

	tok.ExpiresAt = &at
	if tok.Expired(now) {
		t.Fatal("token must not be expired before expires_at")
	}
	if !tok.Expired(at) {
		t.Fatal("token must be expired at expires_at")
	}
	if !tok.Expired(at.Add(time.Second)) {
		t.Fatal("token must be expired after expires_at")
	}
}

func TestTokenAvailable(t *testing.T) {
	tok := Token{Value: "v", SourceAlias: "a"}
	if !tok.Available() {
		t.Fatal("unowned token must be available")
	}
	tok.OwnerID = "user-1"
	if tok.Available() {
		t.Fatal("owned token must not be available")
	}
}
