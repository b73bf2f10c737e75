package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/services"
)

type stubWebhookParser struct {
	event         payments.WebhookEvent
	err           error
	gotSignature  string
	gotPayloadLen int
}

func (s *stubWebhookParser) ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	s.gotSignature = signature
	s.gotPayloadLen = len(payload)
	return s.event, s.err
}

func newWebhookRouter(parser webhookParser, orders services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", NewPaymentWebhookHandlers(parser, orders).Routes)
	return router
}

func postStripeWebhook(router chi.Router) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func webhookResult(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var ack webhookAck
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return ack.Result
}

func TestPaymentWebhookAppliesSucceededIntent(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{
		ID:       "evt_1",
		Type:     "payment_intent.succeeded",
		IntentID: "pi_1",
		Status:   payments.StatusSucceeded,
		OrderID:  "ORD00012",
	}}
	var captured services.PaymentOutcomeCommand
	orders := &stubOrderService{
		paymentFn: func(_ context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(time.Now())
			order.PaymentStatus = cmd.Status
			return order, nil
		},
	}

	rr := postStripeWebhook(newWebhookRouter(parser, orders))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if parser.gotSignature != "t=1,v1=abc" || parser.gotPayloadLen == 0 {
		t.Fatalf("expected raw payload and signature forwarded")
	}
	if captured.PaymentIntentID != "pi_1" || captured.Status != domain.PaymentStatusPaid || captured.EventID != "evt_1" {
		t.Fatalf("unexpected payment command %+v", captured)
	}
	if result := webhookResult(t, rr); result != "applied" {
		t.Fatalf("expected applied, got %s", result)
	}
}

func TestPaymentWebhookMapsFailedIntent(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{ID: "evt_2", IntentID: "pi_2", Status: payments.StatusFailed}}
	var captured services.PaymentOutcomeCommand
	orders := &stubOrderService{
		paymentFn: func(_ context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(time.Now()), nil
		},
	}

	rr := postStripeWebhook(newWebhookRouter(parser, orders))

	if rr.Code != http.StatusOK || captured.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment recorded, got status %d cmd %+v", rr.Code, captured)
	}
}

func TestPaymentWebhookIgnoresOtherEvents(t *testing.T) {
	for _, event := range []payments.WebhookEvent{
		{ID: "evt_3", Type: "charge.refunded"},
		{ID: "evt_4", Type: "payment_intent.canceled", IntentID: "pi_4", Status: payments.StatusCanceled},
	} {
		parser := &stubWebhookParser{event: event}
		orders := &stubOrderService{
			paymentFn: func(context.Context, services.PaymentOutcomeCommand) (services.Order, error) {
				t.Fatalf("%s must not touch orders", event.Type)
				return services.Order{}, nil
			},
		}

		rr := postStripeWebhook(newWebhookRouter(parser, orders))

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", event.Type, rr.Code)
		}
		if result := webhookResult(t, rr); result != "ignored" {
			t.Fatalf("%s: expected ignored, got %s", event.Type, result)
		}
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	parser := &stubWebhookParser{err: fmt.Errorf("%w: no signatures found", payments.ErrInvalidSignature)}

	rr := postStripeWebhook(newWebhookRouter(parser, &stubOrderService{}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %s", code)
	}
}

func TestPaymentWebhookUnconfigured(t *testing.T) {
	rr := postStripeWebhook(newWebhookRouter(&stubWebhookParser{err: payments.ErrWebhookNotConfigured}, &stubOrderService{}))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	rr = postStripeWebhook(newWebhookRouter(nil, &stubOrderService{}))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without a parser, got %d", rr.Code)
	}
}

func TestPaymentWebhookUnknownIntentIsAcknowledged(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{ID: "evt_5", IntentID: "pi_unknown", Status: payments.StatusSucceeded}}
	orders := &stubOrderService{
		paymentFn: func(context.Context, services.PaymentOutcomeCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: intent pi_unknown", services.ErrOrderNotFound)
		},
	}

	rr := postStripeWebhook(newWebhookRouter(parser, orders))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if result := webhookResult(t, rr); result != "unmatched" {
		t.Fatalf("expected unmatched, got %s", result)
	}
}

func TestPaymentWebhookStorageFailureAsksForRetry(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{ID: "evt_6", IntentID: "pi_6", Status: payments.StatusSucceeded}}
	orders := &stubOrderService{
		paymentFn: func(context.Context, services.PaymentOutcomeCommand) (services.Order, error) {
			return services.Order{}, services.ErrStorageUnavailable
		},
	}

	rr := postStripeWebhook(newWebhookRouter(parser, orders))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
