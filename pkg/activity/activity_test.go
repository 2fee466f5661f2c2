package activity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/studyflow/pkg/activity"
)

type memStore struct {
	mu      sync.Mutex
	entries []activity.Entry
	err     error
}

func (s *memStore) Insert(_ context.Context, entry activity.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestLoggerRecord(t *testing.T) {
	t.Parallel()

	t.Run("appends a complete entry", func(t *testing.T) {
		t.Parallel()

		store := &memStore{}
		log := activity.NewLogger(store, nil)
		userID := uuid.New()

		log.Record(context.Background(), userID, "subscription_created", "subscription", map[string]any{"plan": "pro"})

		require.Len(t, store.entries, 1)
		entry := store.entries[0]
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, userID, entry.UserID)
		assert.Equal(t, "subscription_created", entry.Action)
		assert.Equal(t, "subscription", entry.EntityType)
		assert.Equal(t, "pro", entry.Details["plan"])
		assert.False(t, entry.CreatedAt.IsZero())
	})

	t.Run("store failure does not panic or propagate", func(t *testing.T) {
		t.Parallel()

		store := &memStore{err: errors.New("write concern failed")}
		log := activity.NewLogger(store, nil)

		assert.NotPanics(t, func() {
			log.Record(context.Background(), uuid.New(), "payment_failed", "payment", nil)
		})
	})

	t.Run("invalid entries are dropped", func(t *testing.T) {
		t.Parallel()

		store := &memStore{}
		log := activity.NewLogger(store, nil)

		log.Record(context.Background(), uuid.Nil, "subscription_created", "subscription", nil)
		assert.Empty(t, store.entries)
	})

	t.Run("nil store panics at wiring time", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { activity.NewLogger(nil, nil) })
	})
}
