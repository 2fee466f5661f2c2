package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// CounterFunc returns the current count of a resource owned by a user.
type CounterFunc func(ctx context.Context, userID uuid.UUID) (int64, error)

// Enforcer answers "may this user create one more X" from the user's
// current plan and live resource counts. It holds no cached state of its
// own: the plan is re-read on every check so webhook-driven plan changes
// take effect immediately.
type Enforcer struct {
	users   UserStore
	catalog *Catalog

	mu       sync.RWMutex
	counters map[Resource]CounterFunc
}

// NewEnforcer creates an Enforcer. Panics on nil dependencies.
func NewEnforcer(users UserStore, catalog *Catalog) *Enforcer {
	if users == nil {
		panic("billing: user store is required")
	}
	if catalog == nil {
		panic("billing: catalog is required")
	}
	return &Enforcer{
		users:    users,
		catalog:  catalog,
		counters: make(map[Resource]CounterFunc),
	}
}

// RegisterCounter binds a resource to its counting function. Registering
// the same resource twice replaces the previous counter.
func (e *Enforcer) RegisterCounter(res Resource, fn CounterFunc) {
	if fn == nil {
		panic("billing: counter func is required")
	}
	e.mu.Lock()
	e.counters[res] = fn
	e.mu.Unlock()
}

// CheckLimit reports whether the user may create one more unit of the
// resource. Unlimited plans skip counting entirely.
func (e *Enforcer) CheckLimit(ctx context.Context, userID uuid.UUID, res Resource) (Decision, error) {
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	max, ok := e.catalog.Limit(user.Plan, res)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s for plan %s", ErrUnknownResource, res, user.Plan)
	}
	if max == Unlimited {
		return Decision{Allowed: true, Max: Unlimited}, nil
	}

	e.mu.RLock()
	count, ok := e.counters[res]
	e.mu.RUnlock()
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrNoCounterRegistered, res)
	}

	current, err := count(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed: current < max,
		Current: current,
		Max:     max,
	}, nil
}
