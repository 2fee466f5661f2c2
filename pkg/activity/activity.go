// Package activity keeps the append-only record of billing-relevant state
// transitions. Entries are written for humans reading an account's history;
// nothing in the system reads them back to make decisions.
package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrEntryValidation = errors.New("activity entry validation failed")

// Entry is a single activity log record.
type Entry struct {
	ID         string         `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks the fields every entry must carry.
func (e *Entry) Validate() error {
	if e.Action == "" {
		return errors.Join(ErrEntryValidation, errors.New("action is required"))
	}
	if e.UserID == uuid.Nil {
		return errors.Join(ErrEntryValidation, errors.New("user id is required"))
	}
	return nil
}

// Store persists entries. Implementations must be append-only.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
}

// Logger records activity entries. A failed write never fails the calling
// operation: billing state transitions must not roll back because the
// history write lagged, so failures are reported to the app log instead.
type Logger struct {
	store Store
	log   *slog.Logger
}

// NewLogger creates an activity logger. Panics on a nil store to fail fast
// during wiring.
func NewLogger(store Store, log *slog.Logger) *Logger {
	if store == nil {
		panic("activity: store cannot be nil")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Logger{store: store, log: log}
}

// Record appends an entry for the given user and action.
func (l *Logger) Record(ctx context.Context, userID uuid.UUID, action, entityType string, details map[string]any) {
	entry := Entry{
		ID:         uuid.New().String(),
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}

	if err := entry.Validate(); err != nil {
		l.log.Warn("dropping invalid activity entry", slog.Any("error", err), slog.String("action", action))
		return
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		l.log.Warn("failed to write activity entry",
			slog.Any("error", err),
			slog.String("action", action),
			slog.String("user_id", userID.String()),
		)
	}
}
