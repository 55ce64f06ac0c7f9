package security

import (
	"strings"
	"testing"
	"time"
)

func newManagerForTest() *JWTManager {
	return NewJWTManager("tokengate", "tokengate-api", "0123456789abcdef0123456789abcdef")
}

func TestSignAndParseRoundTrip(t *testing.T) {
	m := newManagerForTest()
	raw, err := m.Sign("bot-1", []string{"claim", "admin"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "bot-1" {
		t.Fatalf("subject=%q", claims.Subject)
	}
	if !claims.HasScope("admin") || !claims.HasScope("claim") {
		t.Fatalf("scopes=%v", claims.Scopes)
	}
	if claims.HasScope("other") {
		t.Fatal("unexpected scope match")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	m := newManagerForTest()
	raw, err := m.Sign("bot-1", nil, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(raw); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestParseRejectsWrongAudience(t *testing.T) {
	other := NewJWTManager("tokengate", "someone-else", "0123456789abcdef0123456789abcdef")
	raw, err := other.Sign("bot-1", nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newManagerForTest().Parse(raw); err == nil {
		t.Fatal("expected audience error")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	m := newManagerForTest()
	raw, err := m.Sign("bot-1", nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]
	if _, err := m.Parse(tampered); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestTokenHasher(t *testing.T) {
	h := NewTokenHasher("pepper")
	fp := h.Hash("sk-token-1")
	if fp == "" || fp == "sk-token-1" {
		t.Fatalf("fingerprint=%q", fp)
	}
	if fp != h.Hash("sk-token-1") {
		t.Fatal("hash must be deterministic")
	}
	if fp == NewTokenHasher("other").Hash("sk-token-1") {
		t.Fatal("pepper must affect the fingerprint")
	}
	if !h.Equal("sk-token-1", fp) {
		t.Fatal("Equal must accept the original value")
	}
	if h.Equal("sk-token-2", fp) {
		t.Fatal("Equal must reject a different value")
	}
}
