package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/platform/httpx"
	"github.com/shopfront/api/internal/services"
)

// serviceErrorMapping pairs a service sentinel with its HTTP rendering. The first match wins.
type serviceErrorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var serviceErrorMappings = []serviceErrorMapping{
	{target: services.ErrStorageUnavailable, status: http.StatusServiceUnavailable, code: "storage_unavailable", message: "storage is temporarily unavailable"},

	{target: services.ErrCheckoutInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
	{target: services.ErrOrderInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
	{target: services.ErrCartInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
	{target: services.ErrAddressInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
	{target: services.ErrInventoryInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},

	{target: services.ErrCheckoutInsufficientStock, status: http.StatusConflict, code: "insufficient_stock"},
	{target: services.ErrCartInsufficientStock, status: http.StatusConflict, code: "insufficient_stock"},
	{target: services.ErrCheckoutItemUnavailable, status: http.StatusConflict, code: "item_unavailable"},
	{target: services.ErrCartItemUnavailable, status: http.StatusConflict, code: "item_unavailable"},
	{target: services.ErrInventoryItemUnavailable, status: http.StatusConflict, code: "item_unavailable"},

	{target: services.ErrOrderNotFound, status: http.StatusNotFound, code: "order_not_found", message: "order not found"},
	{target: services.ErrAddressNotFound, status: http.StatusNotFound, code: "address_not_found", message: "address not found"},
	{target: services.ErrCartItemNotFound, status: http.StatusNotFound, code: "cart_item_not_found"},
	{target: services.ErrOrderForbidden, status: http.StatusForbidden, code: "forbidden", message: "order belongs to another user"},

	{target: services.ErrOrderConflict, status: http.StatusConflict, code: "conflict"},
	{target: services.ErrCartConflict, status: http.StatusConflict, code: "conflict"},
	{target: services.ErrAddressConflict, status: http.StatusConflict, code: "conflict"},

	{target: services.ErrCheckoutPaymentFailed, status: http.StatusInternalServerError, code: "payment_failed", message: "payment could not be initiated"},
}

// writeServiceError renders a service error using the shared envelope. Unknown errors become 500
// without leaking their text.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.message
		if message == "" {
			message = err.Error()
		}
		httpx.WriteError(ctx, w, httpx.NewError(m.code, message, m.status))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
}

// requireIdentity returns the authenticated caller or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	value := formatTime(*t)
	return &value
}
