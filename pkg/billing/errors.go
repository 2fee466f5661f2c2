package billing

import "errors"

var (
	// ErrValidation marks a request the caller can fix: unknown plan, bad
	// interval, malformed payload. Maps to HTTP 400.
	ErrValidation = errors.New("invalid billing request")

	// ErrProcessorUnavailable wraps any transport failure or non-2xx from
	// the payment processor. Callers must treat the processor call as the
	// transaction boundary: when this error surfaces, no local state has
	// been mutated.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")

	// ErrStaleEvent marks a subscription update whose period start is older
	// than the stored one. Expected under webhook reordering; logged at
	// debug and acknowledged, never surfaced as a failure.
	ErrStaleEvent = errors.New("stale subscription event")

	ErrNoActiveSubscription   = errors.New("no active subscription")
	ErrNoCustomerLinked       = errors.New("no processor customer linked")
	ErrNotPendingCancellation = errors.New("subscription is not pending cancellation")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserNotFound         = errors.New("user not found")

	ErrInvalidCatalog      = errors.New("invalid plan catalog")
	ErrUnknownPrice        = errors.New("unknown processor price id")
	ErrUnknownResource     = errors.New("unknown resource kind for plan")
	ErrNoCounterRegistered = errors.New("no usage counter registered for resource")
)
