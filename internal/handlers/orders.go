package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/platform/httpx"
	"github.com/shopfront/api/internal/services"
)

const (
	maxBulkOrderIDs       = 100
	defaultAuditPageLimit = 50
)

// OrderHandlers exposes checkout, order lookup and the administrative status endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	orders      services.OrderService
	audit       services.AuditLogService
	idempotency func(http.Handler) http.Handler
	keyHeader   string
	limiter     rateLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderAuditTrail enables GET /orders/admin/{orderID}/audit.
func WithOrderAuditTrail(audit services.AuditLogService) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.audit = audit
	}
}

// WithCheckoutIdempotency wraps order creation in the idempotency middleware. header names the
// request header carrying the key; empty keeps Idempotency-Key.
func WithCheckoutIdempotency(header string, mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
		if header = strings.TrimSpace(header); header != "" {
			h.keyHeader = header
		}
	}
}

// WithCheckoutRateLimit caps order creation per user.
func WithCheckoutRateLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		checkout:  checkout,
		orders:    orders,
		keyHeader: idempotencyKeyHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth())
		}
		create := r.With(rateLimitMiddleware(h.limiter))
		if h.idempotency != nil {
			create = create.With(h.idempotency)
		}
		create.Post("/create", h.createOrder)
		r.Get("/{orderID}", h.getOrder)
	})
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		r.Put("/admin/{orderID}/status", h.transitionStatus)
		r.Post("/admin/bulk-status", h.bulkStatus)
		r.Get("/admin/{orderID}/audit", h.auditTrail)
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderLookupCommand{
		OrderRef:   orderRefParam(r),
		ActorID:    identity.UID,
		Privileged: identity.IsStaff(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type statusTransitionRequest struct {
	Status            string  `json:"status"`
	TrackingNumber    *string `json:"trackingNumber"`
	EstimatedDelivery *string `json:"estimatedDelivery"`
	Reason            string  `json:"reason"`
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req statusTransitionRequest
	if herr := httpx.DecodeJSON(r, &req); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	cmd := services.OrderStatusTransitionCommand{
		OrderRef:       orderRefParam(r),
		TargetStatus:   req.Status,
		ActorID:        identity.UID,
		ActorType:      identity.ActorType(),
		Reason:         req.Reason,
		TrackingNumber: req.TrackingNumber,
	}
	if req.EstimatedDelivery != nil && strings.TrimSpace(*req.EstimatedDelivery) != "" {
		eta, err := parseTimeParam(*req.EstimatedDelivery)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimatedDelivery must be an RFC3339 timestamp or a date", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &eta
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type bulkStatusRequest struct {
	OrderIDs []string `json:"orderIds"`
	Status   string   `json:"status"`
	Reason   string   `json:"reason"`
}

type bulkStatusResponse struct {
	Successful int                    `json:"successful"`
	Failed     int                    `json:"failed"`
	Results    []bulkStatusResultItem `json:"results"`
}

type bulkStatusResultItem struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *OrderHandlers) bulkStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req bulkStatusRequest
	if herr := httpx.DecodeJSON(r, &req); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	if len(req.OrderIDs) > maxBulkOrderIDs {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many order ids", http.StatusBadRequest))
		return
	}

	result, err := h.orders.BulkTransition(ctx, services.BulkStatusTransitionCommand{
		OrderRefs:    req.OrderIDs,
		TargetStatus: req.Status,
		ActorID:      identity.UID,
		ActorType:    identity.ActorType(),
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := bulkStatusResponse{
		Successful: result.Successful,
		Failed:     result.Failed,
		Results:    make([]bulkStatusResultItem, 0, len(result.Results)),
	}
	for _, item := range result.Results {
		entry := bulkStatusResultItem{OrderID: item.OrderRef, Success: item.Success, Error: item.Error}
		if item.Order != nil {
			entry.OrderID = item.Order.OrderID
			entry.Status = string(item.Order.Status)
		}
		resp.Results = append(resp.Results, entry)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type auditEntryPayload struct {
	ID        string                      `json:"id"`
	Actor     string                      `json:"actor"`
	ActorType string                      `json:"actorType"`
	Action    string                      `json:"action"`
	Metadata  map[string]any              `json:"metadata,omitempty"`
	Diff      map[string]auditDiffPayload `json:"diff,omitempty"`
	CreatedAt string                      `json:"createdAt"`
}

type auditDiffPayload struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

func (h *OrderHandlers) auditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.audit == nil {
		serviceUnavailable(ctx, w, "audit")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderLookupCommand{
		OrderRef:   orderRefParam(r),
		ActorID:    identity.UID,
		Privileged: true,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	entries, err := h.audit.ListByTarget(ctx, "orders/"+order.OrderID, defaultAuditPageLimit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]auditEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload := auditEntryPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			Metadata:  entry.Metadata,
			CreatedAt: formatTime(entry.CreatedAt),
		}
		if len(entry.Diff) > 0 {
			payload.Diff = make(map[string]auditDiffPayload, len(entry.Diff))
			for field, diff := range entry.Diff {
				payload.Diff[field] = auditDiffPayload{Before: diff.Before, After: diff.After}
			}
		}
		items = append(items, payload)
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orderId": order.OrderID, "items": items})
}

type orderResponse struct {
	Order        orderPayload `json:"order"`
	ClientSecret string       `json:"clientSecret,omitempty"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	OrderID            string             `json:"orderId"`
	UserID             string             `json:"userId"`
	Items              []orderItemPayload `json:"items"`
	TotalAmount        int64              `json:"totalAmount"`
	ItemCount          int                `json:"itemCount"`
	ShippingAddress    *addressPayload    `json:"shippingAddress,omitempty"`
	BillingAddress     *addressPayload    `json:"billingAddress,omitempty"`
	Customer           customerPayload    `json:"customerInfo"`
	Status             string             `json:"status"`
	PaymentStatus      string             `json:"paymentStatus"`
	PaymentMethod      string             `json:"paymentMethod"`
	ShippingMethod     string             `json:"shippingMethod"`
	ShippingCost       int64              `json:"shippingCost"`
	OrderWeight        int64              `json:"orderWeight"`
	CheckoutMode       string             `json:"checkoutMode,omitempty"`
	TrackingNumber     *string            `json:"trackingNumber,omitempty"`
	EstimatedDelivery  *string            `json:"estimatedDelivery,omitempty"`
	CancellationReason *string            `json:"cancellationReason,omitempty"`
	CreatedAt          string             `json:"createdAt"`
	UpdatedAt          string             `json:"updatedAt,omitempty"`
	ConfirmedAt        *string            `json:"confirmedAt,omitempty"`
	ProcessingAt       *string            `json:"processingAt,omitempty"`
	ShippedAt          *string            `json:"shippedAt,omitempty"`
	DeliveredAt        *string            `json:"deliveredAt,omitempty"`
	CancelledAt        *string            `json:"cancelledAt,omitempty"`
	RefundedAt         *string            `json:"refundedAt,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                 order.ID,
		OrderID:            order.OrderID,
		UserID:             order.UserID,
		Items:              make([]orderItemPayload, 0, len(order.Items)),
		TotalAmount:        order.TotalAmount,
		ItemCount:          order.ItemCount,
		Customer:           customerPayload(order.Customer),
		Status:             string(order.Status),
		PaymentStatus:      string(order.PaymentStatus),
		PaymentMethod:      string(order.PaymentMethod),
		ShippingMethod:     string(order.ShippingMethod),
		ShippingCost:       order.ShippingCost,
		OrderWeight:        order.OrderWeight,
		CheckoutMode:       string(order.CheckoutMode),
		TrackingNumber:     order.TrackingNumber,
		EstimatedDelivery:  formatTimePtr(order.EstimatedDelivery),
		CancellationReason: order.CancellationReason,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
		ConfirmedAt:        formatTimePtr(order.ConfirmedAt),
		ProcessingAt:       formatTimePtr(order.ProcessingAt),
		ShippedAt:          formatTimePtr(order.ShippedAt),
		DeliveredAt:        formatTimePtr(order.DeliveredAt),
		CancelledAt:        formatTimePtr(order.CancelledAt),
		RefundedAt:         formatTimePtr(order.RefundedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload(item))
	}
	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.BillingAddress != nil {
		addr := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &addr
	}
	return payload
}

// orderRefParam returns the order reference from the path. Legacy references start with '#',
// which clients must percent-encode.
func orderRefParam(r *http.Request) string {
	value := chi.URLParam(r, "orderID")
	if unescaped, err := url.PathUnescape(value); err == nil {
		value = unescaped
	}
	return strings.TrimSpace(value)
}

// parseTimeParam accepts RFC3339 timestamps and bare dates.
func parseTimeParam(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
