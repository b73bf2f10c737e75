package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/platform/httpx"
	"github.com/shopfront/api/internal/platform/requestctx"
	"github.com/shopfront/api/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	// Stripe caps event payloads well below this.
	maxWebhookBodySize = 256 * 1024
)

// webhookParser verifies and decodes PSP notifications.
type webhookParser interface {
	ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error)
}

// PaymentWebhookHandlers applies PSP payment outcomes to orders.
type PaymentWebhookHandlers struct {
	stripe webhookParser
	orders services.OrderService
}

// NewPaymentWebhookHandlers constructs the webhook handlers. A nil parser disables the Stripe endpoint.
func NewPaymentWebhookHandlers(stripe webhookParser, orders services.OrderService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{stripe: stripe, orders: orders}
}

// Routes registers the webhook endpoints under /webhooks.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeWebhook)
}

type webhookAck struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}

func (h *PaymentWebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stripe == nil || h.orders == nil {
		serviceUnavailable(ctx, w, "payment_webhook")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	logger := requestctx.Logger(ctx)
	event, err := h.stripe.ParseWebhook(payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrWebhookNotConfigured):
			serviceUnavailable(ctx, w, "payment_webhook")
		case errors.Is(err, payments.ErrInvalidSignature):
			logger.Warn("stripe webhook signature rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook event", http.StatusBadRequest))
		}
		return
	}

	var status domain.PaymentStatus
	switch event.Status {
	case payments.StatusSucceeded:
		status = domain.PaymentStatusPaid
	case payments.StatusFailed:
		status = domain.PaymentStatusFailed
	default:
		// Cancellations are driven by our own compensation, other events carry no payment state.
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Result: "ignored"})
		return
	}

	_, err = h.orders.RecordPaymentOutcome(ctx, services.PaymentOutcomeCommand{
		PaymentIntentID: event.IntentID,
		Status:          status,
		EventID:         event.ID,
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Result: "applied"})
	case errors.Is(err, services.ErrOrderNotFound):
		// Intents created outside checkout never match an order; retrying would not help.
		logger.Warn("stripe webhook for unknown payment intent",
			zap.String("eventId", event.ID),
			zap.String("paymentIntent", event.IntentID))
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Result: "unmatched"})
	default:
		writeServiceError(ctx, w, err)
	}
}
