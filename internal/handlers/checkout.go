package handlers

import (
	"net/http"
	"strings"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/platform/httpx"
	"github.com/shopfront/api/internal/services"
)

const idempotencyKeyHeader = "Idempotency-Key"

type createOrderRequest struct {
	Mode           string              `json:"mode"`
	ProductID      string              `json:"productId"`
	Quantity       int                 `json:"quantity"`
	Items          []createOrderItem   `json:"items"`
	AddressID      string              `json:"addressId"`
	CustomerInfo   customerInfoRequest `json:"customerInfo"`
	PaymentMethod  string              `json:"paymentMethod"`
	ShippingMethod string              `json:"shippingMethod"`
	Weight         *int64              `json:"weight"`
}

type createOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type customerInfoRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

// createOrder handles POST /orders/create for both cart and buy-now checkouts.
func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if herr := httpx.DecodeJSON(r, &req); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}

	cmd := services.CheckoutCommand{
		UserID:         identity.UID,
		Mode:           domain.CheckoutMode(strings.TrimSpace(req.Mode)),
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		AddressID:      req.AddressID,
		Customer:       services.CustomerInfo(req.CustomerInfo),
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		WeightGrams:    req.Weight,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(h.keyHeader)),
	}
	if len(req.Items) > 0 {
		cmd.Items = make([]services.CheckoutLine, 0, len(req.Items))
		for _, item := range req.Items {
			cmd.Items = append(cmd.Items, services.CheckoutLine(item))
		}
	}

	result, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{
		Order:        buildOrderPayload(result.Order),
		ClientSecret: result.ClientSecret,
	})
}
