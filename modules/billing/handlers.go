package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studyflow/studyflow/core"
	"github.com/studyflow/studyflow/pkg/billing"
	"github.com/studyflow/studyflow/pkg/webhook"
)

// maxWebhookBody caps the raw payload read for signature verification.
const maxWebhookBody = 1 << 20

const signatureHeader = "Stripe-Signature"

type handler struct {
	opts RouterOptions
}

type checkoutRequest struct {
	Plan     billing.Plan     `json:"plan"`
	Interval billing.Interval `json:"interval"`
}

func (h *handler) checkout(w http.ResponseWriter, r *http.Request) {
	userID, err := h.opts.CurrentUser(r)
	if err != nil {
		core.JSONError(w, core.ErrUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.JSONError(w, core.ErrBadRequest)
		return
	}
	if req.Interval == "" {
		req.Interval = billing.IntervalMonthly
	}

	session, err := h.opts.Service.StartCheckout(r.Context(), userID, req.Plan, req.Interval)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	core.JSON(w, http.StatusOK, session)
}

type manageRequest struct {
	Action string `json:"action"`
}

func (h *handler) manage(w http.ResponseWriter, r *http.Request) {
	userID, err := h.opts.CurrentUser(r)
	if err != nil {
		core.JSONError(w, core.ErrUnauthorized)
		return
	}

	var req manageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.JSONError(w, core.ErrBadRequest)
		return
	}

	switch req.Action {
	case "cancel":
		if err := h.opts.Service.Cancel(r.Context(), userID); err != nil {
			h.writeError(w, r, err)
			return
		}
		core.JSON(w, http.StatusOK, map[string]string{"status": "cancellation_scheduled"})

	case "resume":
		if err := h.opts.Service.Resume(r.Context(), userID); err != nil {
			h.writeError(w, r, err)
			return
		}
		core.JSON(w, http.StatusOK, map[string]string{"status": "resumed"})

	case "portal":
		session, err := h.opts.Service.Portal(r.Context(), userID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		core.JSON(w, http.StatusOK, session)

	default:
		core.JSONError(w, core.NewHTTPError(http.StatusBadRequest, "unknown_action"))
	}
}

func (h *handler) overview(w http.ResponseWriter, r *http.Request) {
	userID, err := h.opts.CurrentUser(r)
	if err != nil {
		core.JSONError(w, core.ErrUnauthorized)
		return
	}

	overview, err := h.opts.Service.GetOverview(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	core.JSON(w, http.StatusOK, overview)
}

// webhook receives processor event deliveries. The raw body is captured
// before any decoding because the signature covers the exact bytes sent.
func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		core.JSONError(w, core.ErrBadRequest)
		return
	}

	if err := webhook.Verify(h.opts.WebhookSecret, payload, r.Header.Get(signatureHeader), h.opts.SignatureTolerance); err != nil {
		h.opts.Logger.WarnContext(r.Context(), "webhook signature rejected", slog.Any("error", err))
		core.JSONError(w, core.NewHTTPError(http.StatusBadRequest, "invalid_signature"))
		return
	}

	event, err := billing.DecodeEvent(payload)
	if err != nil {
		// Verified but undecodable: retrying will not change the bytes.
		h.opts.Logger.ErrorContext(r.Context(), "webhook payload undecodable", slog.Any("error", err))
		core.JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.opts.Dispatcher.Dispatch(r.Context(), event); err != nil {
		// Non-2xx tells the processor to redeliver.
		core.JSONError(w, core.ErrInternalServerError)
		return
	}
	core.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

type grantRequest struct {
	UserID         uuid.UUID      `json:"user_id"`
	Plan           billing.Plan   `json:"plan"`
	Status         billing.Status `json:"status,omitempty"`
	DurationMonths int            `json:"duration_months"`
	Reason         string         `json:"reason"`
}

func (h *handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.JSONError(w, core.ErrBadRequest)
		return
	}

	err := h.opts.Service.AdminGrant(r.Context(), billing.GrantParams{
		UserID:         req.UserID,
		Plan:           req.Plan,
		Status:         req.Status,
		DurationMonths: req.DurationMonths,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	core.JSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (h *handler) checkLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := h.opts.CurrentUser(r)
	if err != nil {
		core.JSONError(w, core.ErrUnauthorized)
		return
	}

	resource := billing.Resource(chi.URLParam(r, "resource"))
	decision, err := h.opts.Enforcer.CheckLimit(r.Context(), userID, resource)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownResource), errors.Is(err, billing.ErrNoCounterRegistered):
			core.JSONError(w, core.NewHTTPError(http.StatusBadRequest, "unknown_resource"))
		default:
			h.writeError(w, r, err)
		}
		return
	}
	core.JSON(w, http.StatusOK, decision)
}

// writeError maps domain errors to the API error contract.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, billing.ErrValidation):
		core.JSONError(w, core.NewHTTPError(http.StatusBadRequest, "invalid_request"))
	case errors.Is(err, billing.ErrNoActiveSubscription):
		core.JSONError(w, core.NewHTTPError(http.StatusBadRequest, "no_active_subscription"))
	case errors.Is(err, billing.ErrNotPendingCancellation):
		core.JSONError(w, core.NewHTTPError(http.StatusBadRequest, "not_pending_cancellation"))
	case errors.Is(err, billing.ErrNoCustomerLinked):
		core.JSONError(w, core.NewHTTPError(http.StatusBadRequest, "no_customer_linked"))
	case errors.Is(err, billing.ErrUserNotFound):
		core.JSONError(w, core.ErrNotFound)
	case errors.Is(err, billing.ErrProcessorUnavailable):
		h.opts.Logger.ErrorContext(r.Context(), "processor call failed", slog.Any("error", err))
		core.JSONError(w, core.NewHTTPError(http.StatusInternalServerError, "processor_unavailable"))
	default:
		h.opts.Logger.ErrorContext(r.Context(), "billing request failed", slog.Any("error", err))
		core.JSONError(w, core.ErrInternalServerError)
	}
}
