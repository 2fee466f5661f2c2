package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Dispatcher routes verified processor events to the reconciler. Returning a
// non-nil error from Dispatch signals the transport to answer non-2xx so the
// processor redelivers; everything permanently unprocessable is acknowledged
// here.
type Dispatcher struct {
	svc *Service
	log *slog.Logger
}

// NewDispatcher creates a Dispatcher. Panics on a nil service.
func NewDispatcher(svc *Service, log *slog.Logger) *Dispatcher {
	if svc == nil {
		panic("billing: service is required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{svc: svc, log: log}
}

// Dispatch applies a single event. Malformed payloads and stale snapshots
// are logged and acknowledged; transient failures (store or processor
// errors) propagate for redelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	log := d.log.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.ProcessorType),
	)

	err := d.apply(ctx, log, event)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleEvent):
		log.DebugContext(ctx, "superseded event dropped", slog.Any("error", err))
		return nil
	case errors.Is(err, ErrMalformedEvent):
		log.ErrorContext(ctx, "undecodable event payload", slog.Any("error", err))
		return nil
	default:
		log.ErrorContext(ctx, "event handling failed", slog.Any("error", err))
		return err
	}
}

func (d *Dispatcher) apply(ctx context.Context, log *slog.Logger, event *Event) error {
	switch event.Kind {
	case KindCheckoutCompleted:
		obj, err := event.CheckoutSession()
		if err != nil {
			return err
		}
		return d.svc.ApplyCheckoutCompleted(ctx, obj)

	case KindSubscriptionCreated, KindSubscriptionUpdated:
		obj, err := event.Subscription()
		if err != nil {
			return err
		}
		return d.svc.ApplySubscriptionUpdate(ctx, obj)

	case KindSubscriptionDeleted:
		obj, err := event.Subscription()
		if err != nil {
			return err
		}
		return d.svc.ApplySubscriptionDeleted(ctx, obj)

	case KindInvoicePaid:
		obj, err := event.Invoice()
		if err != nil {
			return err
		}
		return d.svc.ApplyInvoicePaid(ctx, obj)

	case KindInvoiceFailed:
		obj, err := event.Invoice()
		if err != nil {
			return err
		}
		return d.svc.ApplyInvoiceFailed(ctx, obj)

	case KindTrialWillEnd:
		obj, err := event.Subscription()
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "trial ending soon", slog.String("processor_subscription_id", obj.ID))
		return nil

	default:
		log.InfoContext(ctx, "unhandled event type acknowledged")
		return nil
	}
}
