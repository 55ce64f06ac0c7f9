package domain

import "errors"

var (
	ErrNoEligibleTier    = errors.New("no role maps to an eligible tier")
	ErrDuplicateToken    = errors.New("token value already present in pool")
	ErrTokenNotFound     = errors.New("token not found")
	ErrSourceNotFound    = errors.New("source alias not configured")
	ErrSourceUnavailable = errors.New("token source unavailable")
	ErrNoTokensAvailable = errors.New("no tokens available for alias")
	ErrDedicatedHeld     = errors.New("user already holds a dedicated token for this alias")

	ErrEmptyTokenValue   = errors.New("token value is required")
	ErrEmptySourceAlias  = errors.New("source alias is required")
	ErrExpiryBeforeIssue = errors.New("expiry must be after issuance")
)
