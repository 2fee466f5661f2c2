// Package billing exposes the subscription lifecycle over HTTP: checkout
// and subscription management for signed-in users, the processor webhook
// endpoint, and the admin grant surface.
package billing

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studyflow/studyflow/pkg/billing"
	"github.com/studyflow/studyflow/pkg/webhook"
)

// CurrentUserFunc resolves the authenticated user of a request. Returning
// an error yields 401; authentication itself lives outside this module.
type CurrentUserFunc func(r *http.Request) (uuid.UUID, error)

// RouterOptions wires the billing module.
type RouterOptions struct {
	Service    *billing.Service
	Dispatcher *billing.Dispatcher

	// WebhookSecret verifies inbound processor signatures.
	WebhookSecret string
	// SignatureTolerance bounds webhook timestamp age. Zero means
	// webhook.DefaultTolerance.
	SignatureTolerance time.Duration

	CurrentUser CurrentUserFunc
	Logger      *slog.Logger

	// Enforcer is optional; when set the limit-check endpoint is mounted
	// for feature services to consult before creating quota-bound records.
	Enforcer *billing.Enforcer
}

// Router mounts the user-facing billing endpoints and the webhook receiver.
//
//	r.Mount("/billing", billing.Router(billing.RouterOptions{...}))
func Router(opts RouterOptions) chi.Router {
	h := newHandler(opts)

	r := chi.NewRouter()
	r.Get("/", h.overview)
	r.Post("/checkout", h.checkout)
	r.Patch("/manage", h.manage)
	r.Post("/webhook", h.webhook)
	if opts.Enforcer != nil {
		r.Get("/limits/{resource}", h.checkLimit)
	}
	return r
}

// AdminRouter mounts the admin override endpoints. The caller is expected
// to wrap it in an admin-gate middleware.
//
//	r.With(requireAdmin).Mount("/admin/billing", billing.AdminRouter(opts))
func AdminRouter(opts RouterOptions) chi.Router {
	h := newHandler(opts)

	r := chi.NewRouter()
	r.Post("/grant", h.grant)
	return r
}

func newHandler(opts RouterOptions) *handler {
	if opts.Service == nil {
		panic("billing module: service is required")
	}
	if opts.Dispatcher == nil {
		panic("billing module: dispatcher is required")
	}
	if opts.WebhookSecret == "" {
		panic("billing module: webhook secret is required")
	}
	if opts.CurrentUser == nil {
		panic("billing module: current user resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.SignatureTolerance <= 0 {
		opts.SignatureTolerance = webhook.DefaultTolerance
	}
	return &handler{opts: opts}
}
