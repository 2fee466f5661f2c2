package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/studyflow/studyflow/pkg/activity"
)

// Activity actions recorded by the reconciler.
const (
	actionSubscriptionCreated  = "subscription_created"
	actionSubscriptionCanceled = "subscription_canceled"
	actionPaymentFailed        = "payment_failed"
	actionAdminGrant           = "admin_subscription_grant"
)

// ServiceConfig holds the redirect URLs handed to the processor's hosted
// pages.
type ServiceConfig struct {
	SuccessURL      string `env:"BILLING_SUCCESS_URL,required"`
	CancelURL       string `env:"BILLING_CANCEL_URL,required"`
	PortalReturnURL string `env:"BILLING_PORTAL_RETURN_URL,required"`
}

// Service is the subscription reconciler. It applies processor events and
// user actions to the local Subscription/User/Payment records under the
// idempotency and ordering guards described in the package documentation.
type Service struct {
	subs      SubscriptionStore
	payments  PaymentStore
	users     UserStore
	processor ProcessorClient
	catalog   *Catalog
	activity  *activity.Logger
	log       *slog.Logger
	cfg       ServiceConfig
	now       func() time.Time
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithClock overrides the time source. Tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the reconciler. Panics on nil required dependencies to
// fail fast during wiring.
func NewService(
	subs SubscriptionStore,
	payments PaymentStore,
	users UserStore,
	processor ProcessorClient,
	catalog *Catalog,
	activityLog *activity.Logger,
	log *slog.Logger,
	cfg ServiceConfig,
	opts ...Option,
) *Service {
	if subs == nil || payments == nil || users == nil {
		panic("billing: stores are required")
	}
	if processor == nil {
		panic("billing: processor client is required")
	}
	if catalog == nil {
		panic("billing: catalog is required")
	}
	if activityLog == nil {
		panic("billing: activity logger is required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Service{
		subs:      subs,
		payments:  payments,
		users:     users,
		processor: processor,
		catalog:   catalog,
		activity:  activityLog,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- webhook reconciliation -------------------------------------------------

// ApplyCheckoutCompleted handles a completed checkout: it fetches the
// authoritative subscription snapshot from the processor and upserts the
// local mirror for the user named in the session metadata.
func (s *Service) ApplyCheckoutCompleted(ctx context.Context, obj *CheckoutObject) error {
	userID, err := obj.UserID()
	if err != nil {
		// Permanently undeliverable: retrying cannot grow metadata.
		s.log.ErrorContext(ctx, "checkout session without usable user metadata", slog.Any("error", err))
		return nil
	}
	if obj.Subscription == "" {
		s.log.WarnContext(ctx, "checkout session completed without a subscription",
			slog.String("session_id", obj.ID))
		return nil
	}

	snap, err := s.processor.FetchSubscription(ctx, obj.Subscription)
	if err != nil {
		return err
	}
	if snap.CustomerID == "" {
		snap.CustomerID = obj.Customer
	}

	sub, linked, err := s.reconcileSnapshot(ctx, snap, userID)
	if err != nil {
		return err
	}

	if linked {
		s.activity.Record(ctx, userID, actionSubscriptionCreated, "subscription", map[string]any{
			"plan":                      sub.Plan,
			"status":                    sub.Status,
			"processor_subscription_id": sub.ProcessorSubscriptionID,
		})
	}
	return nil
}

// ApplySubscriptionUpdate handles subscription_created and
// subscription_updated events. The user id may be unknown at this point; it
// is back-filled from event metadata when present.
func (s *Service) ApplySubscriptionUpdate(ctx context.Context, obj *SubscriptionObject) error {
	_, _, err := s.reconcileSnapshot(ctx, obj.Snapshot(), uuid.Nil)
	return err
}

// ApplySubscriptionDeleted marks the subscription CANCELED and downgrades
// the user to the free plan. The record is never physically deleted.
func (s *Service) ApplySubscriptionDeleted(ctx context.Context, obj *SubscriptionObject) error {
	sub, err := s.subs.GetByProcessorSubID(ctx, obj.ID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		s.log.DebugContext(ctx, "delete event for unknown subscription", slog.String("processor_subscription_id", obj.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status == StatusCanceled {
		return nil // replayed delivery
	}

	now := s.now()
	sub.Status = StatusCanceled
	sub.CanceledAt = &now
	sub.UpdatedAt = now
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return err
	}

	if sub.UserID != uuid.Nil {
		if err := s.syncUserPlan(ctx, sub); err != nil {
			return err
		}
		s.activity.Record(ctx, sub.UserID, actionSubscriptionCanceled, "subscription", map[string]any{
			"plan":                      sub.Plan,
			"processor_subscription_id": sub.ProcessorSubscriptionID,
		})
	}
	return nil
}

// ApplyInvoicePaid appends a SUCCEEDED ledger entry and recovers a PAST_DUE
// subscription back to ACTIVE.
func (s *Service) ApplyInvoicePaid(ctx context.Context, obj *InvoiceObject) error {
	sub, err := s.invoiceSubscription(ctx, obj)
	if err != nil || sub == nil {
		return err
	}

	payment := s.paymentFromInvoice(sub, obj, PaymentSucceeded, float64(obj.AmountPaid)/100)
	if err := s.payments.Insert(ctx, payment); err != nil {
		return err
	}

	if sub.Status == StatusPastDue {
		sub.Status = StatusActive
		sub.UpdatedAt = s.now()
		if err := s.subs.Upsert(ctx, sub); err != nil {
			return err
		}
		if sub.UserID != uuid.Nil {
			if err := s.syncUserPlan(ctx, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyInvoiceFailed appends a FAILED ledger entry and moves the
// subscription to PAST_DUE. The user keeps their plan while the processor
// retries collection; downgrade happens only on subscription_deleted.
func (s *Service) ApplyInvoiceFailed(ctx context.Context, obj *InvoiceObject) error {
	sub, err := s.invoiceSubscription(ctx, obj)
	if err != nil || sub == nil {
		return err
	}

	payment := s.paymentFromInvoice(sub, obj, PaymentFailed, float64(obj.AmountDue)/100)
	if err := s.payments.Insert(ctx, payment); err != nil {
		return err
	}

	if sub.Status != StatusPastDue && sub.Status != StatusCanceled {
		sub.Status = StatusPastDue
		sub.UpdatedAt = s.now()
		if err := s.subs.Upsert(ctx, sub); err != nil {
			return err
		}
		if sub.UserID != uuid.Nil {
			s.activity.Record(ctx, sub.UserID, actionPaymentFailed, "payment", map[string]any{
				"processor_invoice_id": obj.ID,
				"amount":               payment.Amount,
				"currency":             payment.Currency,
			})
		}
	}
	return nil
}

// invoiceSubscription resolves the subscription an invoice belongs to.
// A nil, nil return means the invoice is not ours to book (one-off invoice
// or a subscription this mirror has never seen) and the event is acked.
func (s *Service) invoiceSubscription(ctx context.Context, obj *InvoiceObject) (*Subscription, error) {
	if obj.Subscription == "" {
		s.log.InfoContext(ctx, "invoice without subscription, skipping", slog.String("processor_invoice_id", obj.ID))
		return nil, nil
	}

	sub, err := s.subs.GetByProcessorSubID(ctx, obj.Subscription)
	if errors.Is(err, ErrSubscriptionNotFound) {
		s.log.InfoContext(ctx, "invoice for unknown subscription, skipping",
			slog.String("processor_invoice_id", obj.ID),
			slog.String("processor_subscription_id", obj.Subscription),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// paymentFromInvoice builds the ledger entry for an invoice outcome. The
// entry id is derived from (invoice, outcome) so replayed deliveries remain
// idempotent without ever updating an existing row's amount or status.
func (s *Service) paymentFromInvoice(sub *Subscription, obj *InvoiceObject, status PaymentStatus, amount float64) *Payment {
	description := fmt.Sprintf("%s plan subscription payment", sub.Plan)
	if status == PaymentFailed {
		description = fmt.Sprintf("%s plan subscription payment failed", sub.Plan)
	}

	return &Payment{
		ID:                 fmt.Sprintf("%s:%s", obj.ID, status),
		UserID:             sub.UserID,
		SubscriptionID:     sub.ProcessorSubscriptionID,
		ProcessorInvoiceID: obj.ID,
		Amount:             amount,
		Currency:           obj.Currency,
		Status:             status,
		Description:        description,
		CreatedAt:          s.now(),
	}
}

// reconcileSnapshot is the single upsert path for processor snapshots.
//
// Lookup precedence: once any record carries this processor subscription id
// it is authoritative; the user-keyed record (typically the checkout
// placeholder) is adopted only when it is not yet linked elsewhere. The
// returned linked flag is true the first time a record becomes bound to this
// processor subscription.
func (s *Service) reconcileSnapshot(ctx context.Context, snap *SubscriptionSnapshot, knownUserID uuid.UUID) (*Subscription, bool, error) {
	existing, err := s.subs.GetByProcessorSubID(ctx, snap.ID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, false, err
	}
	if errors.Is(err, ErrSubscriptionNotFound) {
		existing = nil
	}

	userID := knownUserID
	if userID == uuid.Nil {
		userID = snap.UserID
	}

	if existing == nil && userID != uuid.Nil {
		byUser, err := s.subs.GetByUserID(ctx, userID)
		switch {
		case err == nil:
			if byUser.ProcessorSubscriptionID == "" || byUser.ProcessorSubscriptionID == snap.ID {
				existing = byUser
			}
		case errors.Is(err, ErrSubscriptionNotFound):
		default:
			return nil, false, err
		}
	}

	// Out-of-order deliveries: an older snapshot must not overwrite a newer
	// one. Period start is monotonic per subscription, which makes this
	// comparison a sufficient conflict-avoidance guard without locking.
	if existing != nil && existing.CurrentPeriodStart != nil && !snap.CurrentPeriodStart.IsZero() &&
		snap.CurrentPeriodStart.Before(*existing.CurrentPeriodStart) {
		return nil, false, fmt.Errorf("%w: stored period starts %s, incoming starts %s",
			ErrStaleEvent,
			existing.CurrentPeriodStart.Format(time.RFC3339),
			snap.CurrentPeriodStart.Format(time.RFC3339))
	}

	now := s.now()
	sub := existing
	if sub == nil {
		sub = &Subscription{CreatedAt: now}
	}
	linked := sub.ProcessorSubscriptionID == ""

	if userID != uuid.Nil {
		sub.UserID = userID // back-fill once linkage is known
	}
	sub.ProcessorSubscriptionID = snap.ID
	if snap.CustomerID != "" {
		sub.ProcessorCustomerID = snap.CustomerID
	}
	if snap.PriceID != "" {
		sub.ProcessorPriceID = snap.PriceID
		if plan, ok := s.catalog.PlanForPrice(snap.PriceID); ok {
			sub.Plan = plan
		} else {
			s.log.WarnContext(ctx, "snapshot carries unknown price id",
				slog.String("price_id", snap.PriceID),
				slog.String("processor_subscription_id", snap.ID),
			)
		}
	}
	if sub.Plan == "" {
		sub.Plan = PlanFree
	}
	sub.Status = StatusFromProcessor(snap.ProcessorStatus)
	if !snap.CurrentPeriodStart.IsZero() {
		cps := snap.CurrentPeriodStart
		sub.CurrentPeriodStart = &cps
	}
	if !snap.CurrentPeriodEnd.IsZero() {
		cpe := snap.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &cpe
	}
	sub.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	sub.TrialStart = snap.TrialStart
	sub.TrialEnd = snap.TrialEnd
	sub.CanceledAt = snap.CanceledAt
	sub.UpdatedAt = now

	if err := s.subs.Upsert(ctx, sub); err != nil {
		return nil, false, err
	}

	if sub.UserID != uuid.Nil {
		if err := s.syncUserPlan(ctx, sub); err != nil {
			return nil, false, err
		}
	}
	return sub, linked, nil
}

// syncUserPlan enforces the invariant that User.plan equals the plan of the
// user's entitled subscription, or the free plan when none exists.
func (s *Service) syncUserPlan(ctx context.Context, sub *Subscription) error {
	target := PlanFree
	if sub.Entitled() {
		target = sub.Plan
	}

	err := s.users.SetPlan(ctx, sub.UserID, target)
	if errors.Is(err, ErrUserNotFound) {
		// The user document is gone; retrying the event cannot fix that.
		s.log.WarnContext(ctx, "plan sync for missing user",
			slog.String("user_id", sub.UserID.String()),
			slog.String("plan", string(target)),
		)
		return nil
	}
	return err
}

// --- user actions -----------------------------------------------------------

// StartCheckout creates a hosted checkout session for a paid plan. It
// persists a provisional INCOMPLETE subscription row so the processor
// customer id survives an abandoned checkout, then defers every other local
// mutation to the checkout_completed webhook.
func (s *Service) StartCheckout(ctx context.Context, userID uuid.UUID, plan Plan, interval Interval) (*CheckoutSession, error) {
	priceID, err := s.catalog.PriceID(plan, interval)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	existingCID := ""
	if sub != nil {
		existingCID = sub.ProcessorCustomerID
	}

	customerID, err := s.processor.CreateOrGetCustomer(ctx, CustomerParams{
		UserID:             userID,
		Email:              user.Email,
		Name:               user.Name,
		ExistingCustomerID: existingCID,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sub == nil {
		sub = &Subscription{
			UserID:    userID,
			Plan:      PlanFree,
			Status:    StatusIncomplete,
			CreatedAt: now,
		}
	}
	sub.ProcessorCustomerID = customerID
	sub.UpdatedAt = now
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return nil, err
	}

	// Trials are first-purchase only: anyone who ever completed a paid
	// checkout keeps a processor subscription id for life.
	trialDays := 0
	if !sub.EverHeldPaidPlan() {
		trialDays = s.catalog.TrialDays(plan)
	}

	return s.processor.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     userID,
		Plan:       plan,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		TrialDays:  trialDays,
	})
}

// Cancel schedules cancellation at period end. The processor call is the
// commit point; the local flags are set only after it succeeds. Repeated
// cancels are a no-op.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) error {
	// Re-read right before the processor call so the decision is not based
	// on a snapshot from earlier in the request.
	sub, err := s.subs.GetByUserID(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return ErrNoActiveSubscription
	}
	if err != nil {
		return err
	}
	if !sub.Cancelable() {
		return ErrNoActiveSubscription
	}
	if sub.CancelAtPeriodEnd {
		return nil // already scheduled
	}

	if err := s.processor.CancelSubscription(ctx, sub.ProcessorSubscriptionID, false); err != nil {
		return err
	}

	now := s.now()
	sub.CancelAtPeriodEnd = true
	sub.CanceledAt = &now
	sub.UpdatedAt = now
	return s.subs.Upsert(ctx, sub)
}

// Resume clears a scheduled cancellation before the period ends.
func (s *Service) Resume(ctx context.Context, userID uuid.UUID) error {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return ErrNoActiveSubscription
	}
	if err != nil {
		return err
	}
	if sub.ProcessorSubscriptionID == "" {
		return ErrNoActiveSubscription
	}
	if !sub.CancelAtPeriodEnd {
		return ErrNotPendingCancellation
	}

	if err := s.processor.ResumeSubscription(ctx, sub.ProcessorSubscriptionID); err != nil {
		return err
	}

	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	sub.UpdatedAt = s.now()
	return s.subs.Upsert(ctx, sub)
}

// Portal returns a customer portal session for the user. No local mutation.
func (s *Service) Portal(ctx context.Context, userID uuid.UUID) (*PortalSession, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, ErrNoCustomerLinked
	}
	if err != nil {
		return nil, err
	}
	if sub.ProcessorCustomerID == "" {
		return nil, ErrNoCustomerLinked
	}

	return s.processor.CreatePortalSession(ctx, sub.ProcessorCustomerID, s.cfg.PortalReturnURL)
}

// Overview is the billing summary shown to the user.
type Overview struct {
	Plan           Plan                   `json:"plan"`
	Subscription   *Subscription          `json:"subscription,omitempty"`
	Payments       []Payment              `json:"payments"`
	Invoices       []InvoiceSummary       `json:"invoices,omitempty"`
	PaymentMethods []PaymentMethodSummary `json:"payment_methods,omitempty"`
}

// GetOverview assembles the user's current subscription state, recent ledger
// entries and, when a processor customer is linked, their processor invoices
// and payment methods. Processor list failures degrade the overview instead
// of failing it.
func (s *Service) GetOverview(ctx context.Context, userID uuid.UUID) (*Overview, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	overview := &Overview{Plan: user.Plan}

	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	if err == nil {
		overview.Subscription = sub
	}

	payments, err := s.payments.ListByUserID(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	overview.Payments = payments

	if sub != nil && sub.ProcessorCustomerID != "" {
		if invoices, err := s.processor.ListInvoices(ctx, sub.ProcessorCustomerID, 10); err == nil {
			overview.Invoices = invoices
		} else {
			s.log.WarnContext(ctx, "failed to list processor invoices", slog.Any("error", err))
		}
		if methods, err := s.processor.ListPaymentMethods(ctx, sub.ProcessorCustomerID); err == nil {
			overview.PaymentMethods = methods
		} else {
			s.log.WarnContext(ctx, "failed to list processor payment methods", slog.Any("error", err))
		}
	}

	return overview, nil
}

// --- admin override ---------------------------------------------------------

// GrantParams describes a manual subscription grant.
type GrantParams struct {
	UserID         uuid.UUID
	Plan           Plan
	Status         Status // defaults to ACTIVE
	DurationMonths int
	Reason         string
}

// AdminGrant upserts a subscription directly, bypassing the processor and
// the event guards. Used for manual comps; always logged distinctly.
func (s *Service) AdminGrant(ctx context.Context, params GrantParams) error {
	if !params.Plan.Valid() {
		return fmt.Errorf("%w: unknown plan %q", ErrValidation, params.Plan)
	}
	if params.DurationMonths < 1 {
		return fmt.Errorf("%w: duration must be at least one month", ErrValidation)
	}
	status := params.Status
	if status == "" {
		status = StatusActive
	}
	switch status {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusExpired, StatusIncomplete:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	if _, err := s.users.Get(ctx, params.UserID); err != nil {
		return err
	}

	sub, err := s.subs.GetByUserID(ctx, params.UserID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return err
	}

	now := s.now()
	end := now.AddDate(0, params.DurationMonths, 0)
	if sub == nil {
		sub = &Subscription{UserID: params.UserID, CreatedAt: now}
	}
	sub.Plan = params.Plan
	sub.Status = status
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	sub.UpdatedAt = now

	if err := s.subs.Upsert(ctx, sub); err != nil {
		return err
	}
	if err := s.syncUserPlan(ctx, sub); err != nil {
		return err
	}

	s.activity.Record(ctx, params.UserID, actionAdminGrant, "subscription", map[string]any{
		"plan":            params.Plan,
		"status":          status,
		"duration_months": params.DurationMonths,
		"reason":          params.Reason,
	})
	return nil
}
