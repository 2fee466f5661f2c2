package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the local mirror of a user's relationship with the
// processor. One conceptual record per user; it transitions status in place
// and is never physically deleted, so payment history keeps a valid parent.
//
// UserID is the primary key. A record created from a subscription event that
// arrived before checkout completion may briefly carry a nil UserID; it is
// then addressable only by ProcessorSubscriptionID until metadata back-fills
// the linkage.
type Subscription struct {
	UserID                  uuid.UUID  `json:"user_id"`
	Plan                    Plan       `json:"plan"`
	Status                  Status     `json:"status"`
	ProcessorCustomerID     string     `json:"-"`
	ProcessorSubscriptionID string     `json:"-"`
	ProcessorPriceID        string     `json:"-"`
	CurrentPeriodStart      *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd        *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd       bool       `json:"cancel_at_period_end"`
	TrialStart              *time.Time `json:"trial_start,omitempty"`
	TrialEnd                *time.Time `json:"trial_end,omitempty"`
	CanceledAt              *time.Time `json:"canceled_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// Entitled reports whether this subscription currently grants its plan.
func (s *Subscription) Entitled() bool {
	return s.Status.Entitled()
}

// Cancelable reports whether a user-initiated cancel applies.
func (s *Subscription) Cancelable() bool {
	return (s.Status == StatusActive || s.Status == StatusTrialing) && s.ProcessorSubscriptionID != ""
}

// EverHeldPaidPlan reports whether the user completed a paid checkout at any
// point. The processor subscription id is never cleared once set, so its
// presence is the durable marker that decides trial eligibility.
func (s *Subscription) EverHeldPaidPlan() bool {
	return s.ProcessorSubscriptionID != ""
}

// Payment is one append-only ledger entry. Rows are inserted exactly once
// per (invoice, outcome) pair and never updated afterwards.
type Payment struct {
	ID                 string        `json:"id"`
	UserID             uuid.UUID     `json:"user_id"`
	SubscriptionID     string        `json:"subscription_id"` // processor subscription id the invoice belongs to
	ProcessorInvoiceID string        `json:"processor_invoice_id"`
	Amount             float64       `json:"amount"` // major currency units (processor cents / 100)
	Currency           string        `json:"currency"`
	Status             PaymentStatus `json:"status"`
	Description        string        `json:"description,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// User carries the slice of the user document the billing core reads and
// writes. Plan is mutated only by the reconciler and admin overrides.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
