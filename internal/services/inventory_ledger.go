package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopfront/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates a malformed product id or quantity.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryItemUnavailable indicates the product is missing from the catalog.
	ErrInventoryItemUnavailable = errors.New("inventory: item unavailable")
)

// InventoryLedgerDeps bundles collaborators required to construct the ledger.
type InventoryLedgerDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryLedger constructs the stock ledger.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory ledger: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &inventoryLedger{products: deps.Products, logger: logger}, nil
}

// Reserve deducts stock, flooring at zero. A shortfall is reported on the movement, not as an error.
func (l *inventoryLedger) Reserve(ctx context.Context, productID string, quantity int64) (StockMovement, error) {
	productID, err := validateMovement(productID, quantity)
	if err != nil {
		return StockMovement{}, err
	}
	movement, err := l.products.DecrementStock(ctx, productID, quantity)
	if err != nil {
		return StockMovement{}, l.mapError(productID, err)
	}
	if movement.Shortfall > 0 {
		l.logger(ctx, "inventory.reserve.shortfall", map[string]any{
			"productId": productID,
			"requested": quantity,
			"before":    movement.Before,
			"shortfall": movement.Shortfall,
		})
	}
	return movement, nil
}

// Restore credits stock back without an upper bound.
func (l *inventoryLedger) Restore(ctx context.Context, productID string, quantity int64) (StockMovement, error) {
	productID, err := validateMovement(productID, quantity)
	if err != nil {
		return StockMovement{}, err
	}
	movement, err := l.products.IncrementStock(ctx, productID, quantity)
	if err != nil {
		return StockMovement{}, l.mapError(productID, err)
	}
	return movement, nil
}

func (l *inventoryLedger) RestoreLines(ctx context.Context, lines []OrderLineItem) error {
	var errs []error
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if _, err := l.Restore(ctx, line.ProductID, int64(line.Quantity)); err != nil {
			l.logger(ctx, "inventory.restore.failed", map[string]any{
				"productId": line.ProductID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *inventoryLedger) mapError(productID string, err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: product %s", ErrInventoryItemUnavailable, productID)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}
	return mapRepositoryError(err, ErrInventoryItemUnavailable, nil)
}

func validateMovement(productID string, quantity int64) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}
	return productID, nil
}
