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

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/platform/idempotency"
	"github.com/shopfront/api/internal/services"
)

type stubCheckoutService struct {
	calls   int
	placeFn func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	s.calls++
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.CheckoutResult{}, fmt.Errorf("not implemented")
}

func newCheckoutRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return withIdentity(req, &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}})
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2025, 5, 2, 8, 30, 0, 0, time.UTC)
	var captured services.CheckoutCommand
	checkout := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			order := sampleOrder(now)
			order.PaymentMethod = domain.PaymentMethodCard
			order.PaymentIntentID = "pi_1"
			return services.CheckoutResult{Order: order, ClientSecret: "secret_1"}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}))

	body := `{
		"mode": "cart",
		"items": [{"productId": "p1", "quantity": 2}],
		"addressId": "a1",
		"customerInfo": {"name": "Asha", "email": "asha@example.com", "phone": "9800000000", "notes": "leave at door"},
		"paymentMethod": "card",
		"shippingMethod": "express",
		"weight": 600
	}`
	req := newCheckoutRequest(body)
	req.Header.Set("Idempotency-Key", "key-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.Mode != domain.CheckoutModeCart || captured.AddressID != "a1" {
		t.Fatalf("unexpected checkout command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "p1" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected checkout lines %+v", captured.Items)
	}
	if captured.Customer.Notes != "leave at door" || captured.PaymentMethod != "card" || captured.ShippingMethod != "express" {
		t.Fatalf("unexpected checkout details %+v", captured)
	}
	if captured.WeightGrams == nil || *captured.WeightGrams != 600 {
		t.Fatalf("expected weight override 600")
	}
	if captured.IdempotencyKey != "key-123" {
		t.Fatalf("expected idempotency key forwarded, got %q", captured.IdempotencyKey)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ClientSecret != "secret_1" || resp.Order.OrderID != "ORD00012" || resp.Order.PaymentMethod != "card" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersCreateOrderBuyNow(t *testing.T) {
	var captured services.CheckoutCommand
	checkout := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{Order: sampleOrder(time.Now())}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCheckoutRequest(`{"mode":"buy-now","productId":"p2","quantity":1,"addressId":"a1","customerInfo":{"name":"Asha","email":"asha@example.com","phone":"9800000000"},"paymentMethod":"cod"}`))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if captured.Mode != domain.CheckoutModeBuyNow || captured.ProductID != "p2" || captured.Quantity != 1 || len(captured.Items) != 0 {
		t.Fatalf("unexpected buy-now command %+v", captured)
	}
	if captured.WeightGrams != nil {
		t.Fatalf("expected no weight override")
	}
}

func TestOrderHandlersCreateOrderMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid", err: fmt.Errorf("%w: address is required", services.ErrCheckoutInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "stock", err: fmt.Errorf("%w: p2", services.ErrCheckoutInsufficientStock), status: http.StatusConflict, code: "insufficient_stock"},
		{name: "unavailable item", err: services.ErrCheckoutItemUnavailable, status: http.StatusConflict, code: "item_unavailable"},
		{name: "payment", err: services.ErrCheckoutPaymentFailed, status: http.StatusInternalServerError, code: "payment_failed"},
		{name: "storage", err: services.ErrStorageUnavailable, status: http.StatusServiceUnavailable, code: "storage_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				placeFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}))

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, newCheckoutRequest(`{"mode":"cart","items":[{"productId":"p1","quantity":1}],"addressId":"a1"}`))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if code := decodeErrorCode(t, rr.Body.Bytes()); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestOrderHandlersCreateOrderRejectsMalformedBody(t *testing.T) {
	checkout := &stubCheckoutService{}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}))

	for _, body := range []string{`{"mode":`, `{"mode":"cart","price":1}`, `{"quantity":"two"}`} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newCheckoutRequest(body))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", body, rr.Code)
		}
	}
	if checkout.calls != 0 {
		t.Fatalf("expected malformed bodies to stop before the service")
	}
}

func TestOrderHandlersCreateOrderRateLimited(t *testing.T) {
	checkout := &stubCheckoutService{
		placeFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{Order: sampleOrder(time.Now())}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}, WithCheckoutRateLimit(1, time.Minute)))

	body := `{"mode":"buy-now","productId":"p1","quantity":1,"addressId":"a1"}`
	first := httptest.NewRecorder()
	router.ServeHTTP(first, newCheckoutRequest(body))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, newCheckoutRequest(body))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if checkout.calls != 1 {
		t.Fatalf("expected a single checkout call, got %d", checkout.calls)
	}
}

func TestOrderHandlersCreateOrderReplaysIdempotentRequest(t *testing.T) {
	checkout := &stubCheckoutService{
		placeFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{Order: sampleOrder(time.Now())}, nil
		},
	}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.Options{})
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}, WithCheckoutIdempotency("", mw)))

	body := `{"mode":"buy-now","productId":"p1","quantity":1,"addressId":"a1"}`
	for i := 0; i < 2; i++ {
		req := newCheckoutRequest(body)
		req.Header.Set("Idempotency-Key", "retry-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected status 201, got %d", i+1, rr.Code)
		}
		if i == 1 && rr.Header().Get("Idempotent-Replayed") != "true" {
			t.Fatalf("expected second attempt to be replayed")
		}
	}
	if checkout.calls != 1 {
		t.Fatalf("expected checkout to run once, got %d", checkout.calls)
	}
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)
