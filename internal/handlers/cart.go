package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/platform/httpx"
	"github.com/shopfront/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Get("/estimate", h.estimate)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(uid string) (services.Cart, error) {
		return h.carts.GetCart(r.Context(), uid)
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(uid string) (services.Cart, error) {
		return h.carts.ClearCart(r.Context(), uid)
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(uid string) (services.Cart, error) {
		return h.carts.RemoveItem(r.Context(), uid, chi.URLParam(r, "productID"))
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if herr := httpx.DecodeJSON(r, &req); herr != nil {
		httpx.WriteError(r.Context(), w, *herr)
		return
	}
	h.respond(w, r, func(uid string) (services.Cart, error) {
		return h.carts.AddItem(r.Context(), services.CartItemCommand{
			UserID:    uid,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
		})
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if herr := httpx.DecodeJSON(r, &req); herr != nil {
		httpx.WriteError(r.Context(), w, *herr)
		return
	}
	h.respond(w, r, func(uid string) (services.Cart, error) {
		return h.carts.UpdateItemQuantity(r.Context(), services.CartItemCommand{
			UserID:    uid,
			ProductID: chi.URLParam(r, "productID"),
			Quantity:  req.Quantity,
		})
	})
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, op func(uid string) (services.Cart, error)) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	cart, err := op(identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type cartEstimateResponse struct {
	Subtotal       int64 `json:"subtotal"`
	WeightGrams    int64 `json:"weight"`
	DeliveryCharge int64 `json:"deliveryCharge"`
	Total          int64 `json:"total"`
}

func (h *CartHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	estimate, err := h.carts.Estimate(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartEstimateResponse(estimate))
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

// buildCartETag derives a weak validator from the owner and the last write time.
func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.UserID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.UserID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	UserID      string            `json:"userId"`
	Currency    string            `json:"currency"`
	Items       []cartItemPayload `json:"items"`
	TotalAmount int64             `json:"totalAmount"`
	ItemCount   int               `json:"itemCount"`
	CreatedAt   string            `json:"createdAt,omitempty"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
	AddedAt   string `json:"addedAt,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		UserID:      strings.TrimSpace(cart.UserID),
		Currency:    strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:       make([]cartItemPayload, 0, len(cart.Items)),
		TotalAmount: cart.TotalAmount,
		ItemCount:   cart.ItemCount,
		CreatedAt:   formatTime(cart.CreatedAt),
		UpdatedAt:   formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal(),
			AddedAt:   formatTime(item.AddedAt),
		})
	}
	return payload
}
