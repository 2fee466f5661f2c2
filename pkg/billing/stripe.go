package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/invoice"
	"github.com/stripe/stripe-go/v79/paymentmethod"
	"github.com/stripe/stripe-go/v79/subscription"
)

// Metadata keys attached to processor objects so webhook events can be
// linked back to local users without a lookup table on the processor side.
const (
	metadataUserID = "user_id"
	metadataPlan   = "plan"
)

// StripeConfig holds the Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeClient implements ProcessorClient on the official Stripe SDK.
type StripeClient struct {
	log *slog.Logger
}

// NewStripeClient configures the Stripe SDK and returns the client.
// The SDK key is process-global, matching how the SDK is designed to be used
// in a single-account service.
func NewStripeClient(cfg StripeConfig, log *slog.Logger) (*StripeClient, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	stripe.Key = cfg.SecretKey

	return &StripeClient{log: log}, nil
}

func (c *StripeClient) CreateOrGetCustomer(ctx context.Context, params CustomerParams) (string, error) {
	if params.ExistingCustomerID != "" {
		getParams := &stripe.CustomerParams{}
		getParams.Context = ctx

		cust, err := customer.Get(params.ExistingCustomerID, getParams)
		switch {
		case err == nil && !cust.Deleted:
			return cust.ID, nil
		case err == nil:
			// Deleted on the processor side; fall through and recreate.
		case isMissingResource(err):
			// Stale local id; fall through and recreate.
		default:
			return "", processorErr("get customer", err)
		}
		c.log.InfoContext(ctx, "stored processor customer no longer valid, creating a new one",
			slog.String("customer_id", params.ExistingCustomerID),
			slog.String("user_id", params.UserID.String()),
		)
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Name:  stripe.String(params.Name),
		Metadata: map[string]string{
			metadataUserID: params.UserID.String(),
		},
	}
	createParams.Context = ctx

	cust, err := customer.New(createParams)
	if err != nil {
		return "", processorErr("create customer", err)
	}
	return cust.ID, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	metadata := map[string]string{
		metadataUserID: params.UserID.String(),
		metadataPlan:   string(params.Plan),
	}

	sessParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(params.CustomerID),
		SuccessURL: stripe.String(params.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
		// Subscription metadata makes subscription.* events self-describing;
		// without it only the checkout session would know the user id.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if params.TrialDays > 0 {
		sessParams.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}
	sessParams.Context = ctx

	sess, err := session.New(sessParams)
	if err != nil {
		return nil, processorErr("create checkout session", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return nil, processorErr("create portal session", err)
	}
	return &PortalSession{URL: sess.URL}, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, processorSubID string, immediate bool) error {
	if immediate {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		if _, err := subscription.Cancel(processorSubID, params); err != nil {
			return processorErr("cancel subscription", err)
		}
		return nil
	}

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := subscription.Update(processorSubID, params); err != nil {
		return processorErr("cancel subscription at period end", err)
	}
	return nil
}

func (c *StripeClient) ResumeSubscription(ctx context.Context, processorSubID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx
	if _, err := subscription.Update(processorSubID, params); err != nil {
		return processorErr("resume subscription", err)
	}
	return nil
}

func (c *StripeClient) FetchSubscription(ctx context.Context, processorSubID string) (*SubscriptionSnapshot, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(processorSubID, params)
	if err != nil {
		return nil, processorErr("fetch subscription", err)
	}
	return snapshotFromStripe(sub), nil
}

func (c *StripeClient) ListInvoices(ctx context.Context, customerID string, limit int64) ([]InvoiceSummary, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)

	var out []InvoiceSummary
	it := invoice.List(params)
	for it.Next() {
		inv := it.Invoice()
		out = append(out, InvoiceSummary{
			ID:        inv.ID,
			Amount:    float64(inv.AmountDue) / 100,
			Currency:  string(inv.Currency),
			Status:    string(inv.Status),
			URL:       inv.HostedInvoiceURL,
			CreatedAt: time.Unix(inv.Created, 0).UTC(),
		})
	}
	if err := it.Err(); err != nil {
		return nil, processorErr("list invoices", err)
	}
	return out, nil
}

func (c *StripeClient) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethodSummary, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	var out []PaymentMethodSummary
	it := paymentmethod.List(params)
	for it.Next() {
		pm := it.PaymentMethod()
		summary := PaymentMethodSummary{ID: pm.ID}
		if pm.Card != nil {
			summary.Brand = string(pm.Card.Brand)
			summary.Last4 = pm.Card.Last4
			summary.ExpMonth = pm.Card.ExpMonth
			summary.ExpYear = pm.Card.ExpYear
		}
		out = append(out, summary)
	}
	if err := it.Err(); err != nil {
		return nil, processorErr("list payment methods", err)
	}
	return out, nil
}

// snapshotFromStripe normalizes an SDK subscription into the closed snapshot
// type the reconciler consumes.
func snapshotFromStripe(sub *stripe.Subscription) *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		ID:                 sub.ID,
		ProcessorStatus:    string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}

	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		snap.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.TrialStart > 0 {
		ts := time.Unix(sub.TrialStart, 0).UTC()
		snap.TrialStart = &ts
	}
	if sub.TrialEnd > 0 {
		te := time.Unix(sub.TrialEnd, 0).UTC()
		snap.TrialEnd = &te
	}
	if sub.CanceledAt > 0 {
		ca := time.Unix(sub.CanceledAt, 0).UTC()
		snap.CanceledAt = &ca
	}
	if raw, ok := sub.Metadata[metadataUserID]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			snap.UserID = id
		}
	}

	return snap
}

// isMissingResource reports whether err is the processor saying the resource
// does not exist, as opposed to the processor being unreachable.
func isMissingResource(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func processorErr(op string, err error) error {
	return errors.Join(ErrProcessorUnavailable, fmt.Errorf("stripe: %s: %w", op, err))
}
