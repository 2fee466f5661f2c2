package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProcessorClient is the outbound adapter to the payment processor. Every
// method is a synchronous network call; implementations wrap any transport
// failure or non-2xx response in ErrProcessorUnavailable and never touch
// local state, so callers can treat the call as the transaction boundary.
type ProcessorClient interface {
	// CreateOrGetCustomer reuses params.ExistingCustomerID when it still
	// resolves to a live customer, otherwise creates a new one. Returns the
	// processor customer id either way.
	CreateOrGetCustomer(ctx context.Context, params CustomerParams) (string, error)

	// CreateCheckoutSession creates a hosted checkout session for a
	// subscription purchase.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CreatePortalSession returns a pre-authenticated customer portal URL
	// where the user manages payment methods and invoices.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)

	// CancelSubscription cancels at period end, or immediately when
	// immediate is true.
	CancelSubscription(ctx context.Context, processorSubID string, immediate bool) error

	// ResumeSubscription clears a pending cancel-at-period-end.
	ResumeSubscription(ctx context.Context, processorSubID string) error

	// FetchSubscription returns the processor's current view of a
	// subscription.
	FetchSubscription(ctx context.Context, processorSubID string) (*SubscriptionSnapshot, error)

	// ListInvoices returns the customer's most recent invoices.
	ListInvoices(ctx context.Context, customerID string, limit int64) ([]InvoiceSummary, error)

	// ListPaymentMethods returns the customer's stored card payment methods.
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethodSummary, error)
}

// CustomerParams identifies the user a processor customer belongs to.
type CustomerParams struct {
	UserID             uuid.UUID
	Email              string
	Name               string
	ExistingCustomerID string
}

// CheckoutParams describes a hosted checkout session to create.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     uuid.UUID
	Plan       Plan
	SuccessURL string
	CancelURL  string
	TrialDays  int
}

// CheckoutSession is a created hosted checkout session.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// PortalSession is a created customer portal session.
type PortalSession struct {
	URL string `json:"url"`
}

// SubscriptionSnapshot is the normalized processor view of a subscription.
// Both FetchSubscription and decoded webhook events produce this shape, so
// the reconciler has a single input type.
type SubscriptionSnapshot struct {
	ID                 string
	CustomerID         string
	ProcessorStatus    string // raw status string, mapped via StatusFromProcessor
	PriceID            string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CanceledAt         *time.Time
	UserID             uuid.UUID // from processor metadata; uuid.Nil when absent
}

// InvoiceSummary is a processor invoice as shown on the billing overview.
type InvoiceSummary struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentMethodSummary is a stored payment method as shown on the billing
// overview.
type PaymentMethodSummary struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"exp_month"`
	ExpYear  int64  `json:"exp_year"`
}
