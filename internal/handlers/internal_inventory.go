package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopfront/api/internal/platform/httpx"
	"github.com/shopfront/api/internal/services"
)

const maxRestockLines = 200

// InternalInventoryHandlers exposes ledger operations to trusted service callers.
// Authentication is applied by the /internal group middleware.
type InternalInventoryHandlers struct {
	ledger services.InventoryLedger
}

// NewInternalInventoryHandlers constructs the internal inventory handlers.
func NewInternalInventoryHandlers(ledger services.InventoryLedger) *InternalInventoryHandlers {
	return &InternalInventoryHandlers{ledger: ledger}
}

// Routes registers the internal inventory endpoints.
func (h *InternalInventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/inventory/restock", h.restock)
}

type restockRequest struct {
	Items []restockLine `json:"items"`
}

type restockLine struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

type restockResponse struct {
	Restocked int                 `json:"restocked"`
	Failed    int                 `json:"failed"`
	Results   []restockLineResult `json:"results"`
}

type restockLineResult struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Before    int64  `json:"before"`
	After     int64  `json:"after"`
	Error     string `json:"error,omitempty"`
}

// restock credits each line independently; one failing product never blocks the others.
func (h *InternalInventoryHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}

	var req restockRequest
	if herr := httpx.DecodeJSON(r, &req); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "items are required", http.StatusBadRequest))
		return
	}
	if len(req.Items) > maxRestockLines {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many items", http.StatusBadRequest))
		return
	}
	for _, line := range req.Items {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "each item needs a productId and a positive quantity", http.StatusBadRequest))
			return
		}
	}

	resp := restockResponse{Results: make([]restockLineResult, 0, len(req.Items))}
	for _, line := range req.Items {
		result := restockLineResult{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity}
		movement, err := h.ledger.Restore(ctx, result.ProductID, line.Quantity)
		if err != nil {
			result.Error = err.Error()
			resp.Failed++
		} else {
			result.Before = movement.Before
			result.After = movement.After
			resp.Restocked++
		}
		resp.Results = append(resp.Results, result)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
