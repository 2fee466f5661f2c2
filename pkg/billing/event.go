package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the normalized event kind the dispatcher routes on.
type Kind string

const (
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindSubscriptionCreated Kind = "subscription_created"
	KindSubscriptionUpdated Kind = "subscription_updated"
	KindSubscriptionDeleted Kind = "subscription_deleted"
	KindInvoicePaid         Kind = "invoice_paid"
	KindInvoiceFailed       Kind = "invoice_payment_failed"
	KindTrialWillEnd        Kind = "subscription_trial_will_end"
	KindUnknown             Kind = "unknown"
)

// processorEventKinds maps processor type strings to normalized kinds.
// Types absent from this table are acknowledged without handling so the
// processor can evolve its event vocabulary without breaking us.
var processorEventKinds = map[string]Kind{
	"checkout.session.completed":           KindCheckoutCompleted,
	"customer.subscription.created":        KindSubscriptionCreated,
	"customer.subscription.updated":        KindSubscriptionUpdated,
	"customer.subscription.deleted":        KindSubscriptionDeleted,
	"invoice.paid":                         KindInvoicePaid,
	"invoice.payment_failed":               KindInvoiceFailed,
	"customer.subscription.trial_will_end": KindTrialWillEnd,
}

var ErrMalformedEvent = errors.New("malformed processor event")

// Event is a verified, decoded webhook delivery. The payload object stays
// raw until a handler asks for its typed form, so unknown kinds never fail
// decoding.
type Event struct {
	ID            string
	ProcessorType string
	Kind          Kind
	CreatedAt     time.Time

	object json.RawMessage
}

// DecodeEvent parses the raw webhook payload into an Event envelope.
// Call only after signature verification: decoding touches the same bytes
// the signature covers.
func DecodeEvent(payload []byte) (*Event, error) {
	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if envelope.ID == "" || envelope.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	kind, ok := processorEventKinds[envelope.Type]
	if !ok {
		kind = KindUnknown
	}

	return &Event{
		ID:            envelope.ID,
		ProcessorType: envelope.Type,
		Kind:          kind,
		CreatedAt:     time.Unix(envelope.Created, 0).UTC(),
		object:        envelope.Data.Object,
	}, nil
}

// CheckoutObject is the payload of a checkout_completed event.
type CheckoutObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// UserID extracts the local user id the checkout was started for.
func (o *CheckoutObject) UserID() (uuid.UUID, error) {
	raw, ok := o.Metadata[metadataUserID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: checkout session %s has no user_id metadata", ErrMalformedEvent, o.ID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: checkout session %s user_id: %v", ErrMalformedEvent, o.ID, err)
	}
	return id, nil
}

// SubscriptionObject is the payload of the customer.subscription.* events.
type SubscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	TrialStart         int64  `json:"trial_start"`
	TrialEnd           int64  `json:"trial_end"`
	CanceledAt         int64  `json:"canceled_at"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// Snapshot converts the event payload into the reconciler's input shape.
func (o *SubscriptionObject) Snapshot() *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		ID:                 o.ID,
		CustomerID:         o.Customer,
		ProcessorStatus:    o.Status,
		CancelAtPeriodEnd:  o.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(o.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(o.CurrentPeriodEnd, 0).UTC(),
	}

	if len(o.Items.Data) > 0 {
		snap.PriceID = o.Items.Data[0].Price.ID
	}
	if o.TrialStart > 0 {
		ts := time.Unix(o.TrialStart, 0).UTC()
		snap.TrialStart = &ts
	}
	if o.TrialEnd > 0 {
		te := time.Unix(o.TrialEnd, 0).UTC()
		snap.TrialEnd = &te
	}
	if o.CanceledAt > 0 {
		ca := time.Unix(o.CanceledAt, 0).UTC()
		snap.CanceledAt = &ca
	}
	if raw, ok := o.Metadata[metadataUserID]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			snap.UserID = id
		}
	}

	return snap
}

// InvoiceObject is the payload of the invoice.* events.
type InvoiceObject struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
}

// CheckoutSession decodes the payload as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutObject, error) {
	var obj CheckoutObject
	if err := json.Unmarshal(e.object, &obj); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	return &obj, nil
}

// Subscription decodes the payload as a subscription.
func (e *Event) Subscription() (*SubscriptionObject, error) {
	var obj SubscriptionObject
	if err := json.Unmarshal(e.object, &obj); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: subscription object has no id", ErrMalformedEvent)
	}
	return &obj, nil
}

// Invoice decodes the payload as an invoice.
func (e *Event) Invoice() (*InvoiceObject, error) {
	var obj InvoiceObject
	if err := json.Unmarshal(e.object, &obj); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: invoice object has no id", ErrMalformedEvent)
	}
	return &obj, nil
}
