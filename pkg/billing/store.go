package billing

import (
	"context"

	"github.com/google/uuid"
)

// SubscriptionStore persists the subscription mirror.
//
// Records are primarily keyed by user id. GetByProcessorSubID exists for
// events that arrive before user linkage is known; once a record carries a
// processor subscription id, that lookup is authoritative.
type SubscriptionStore interface {
	// GetByUserID returns the user's subscription record.
	// Returns ErrSubscriptionNotFound when none exists.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetByProcessorSubID returns the record linked to a processor
	// subscription id. Returns ErrSubscriptionNotFound when none exists.
	GetByProcessorSubID(ctx context.Context, processorSubID string) (*Subscription, error)

	// Upsert creates or replaces the record, keyed by user id when known,
	// else by processor subscription id.
	Upsert(ctx context.Context, sub *Subscription) error
}

// PaymentStore persists the append-only payment ledger.
type PaymentStore interface {
	// Insert appends a ledger entry. Implementations must be idempotent on
	// the entry ID so a replayed webhook cannot double-book an invoice.
	Insert(ctx context.Context, payment *Payment) error

	// ListByUserID returns the user's most recent entries, newest first.
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int64) ([]Payment, error)
}

// UserStore reads users and writes nothing but their plan.
type UserStore interface {
	// Get returns the user. Returns ErrUserNotFound when none exists.
	Get(ctx context.Context, userID uuid.UUID) (*User, error)

	// SetPlan updates the user's effective plan.
	SetPlan(ctx context.Context, userID uuid.UUID, plan Plan) error
}
