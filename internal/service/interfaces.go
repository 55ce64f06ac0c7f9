package service

import (
	"context"

	"github.com/tokengate/tokengate/internal/domain"
)

// RolesClient resolves a user's role memberships. Role data lives in the
// chat platform; the engine only ever sees opaque role identifiers.
type RolesClient interface {
	GetRoleIDs(ctx context.Context, userID string) ([]string, error)
}

// Notifier is the delivery collaborator. Deliver failure never rolls back a
// claim; the user can still query status.
type Notifier interface {
	Deliver(ctx context.Context, userID string, token domain.Token) error
	SendNotice(ctx context.Context, userID, message string) error
}

type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (NoopNotifier) Deliver(context.Context, string, domain.Token) error { return nil }
func (NoopNotifier) SendNotice(context.Context, string, string) error    { return nil }
