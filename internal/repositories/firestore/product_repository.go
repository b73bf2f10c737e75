package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

const productsCollection = "products"

// productDocument mirrors the catalog-owned product record. Only stock and updatedAt are written here.
type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Stock     int64     `firestore:"stock"`
	Weight    int64     `firestore:"weight"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// ProductRepository reads products and applies transactional stock movements.
type ProductRepository struct {
	products *pfirestore.BaseRepository[productDocument]
	clock    func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs the repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "", "product id is required", nil)
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, quantity int64) (domain.StockMovement, error) {
	return r.move(ctx, "products.decrement_stock", productID, quantity, func(stock int64) (int64, int64) {
		if quantity > stock {
			return 0, quantity - stock
		}
		return stock - quantity, 0
	})
}

func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, quantity int64) (domain.StockMovement, error) {
	return r.move(ctx, "products.increment_stock", productID, quantity, func(stock int64) (int64, int64) {
		return stock + quantity, 0
	})
}

// move reads the current stock and writes the value computed by apply in one transaction.
// apply returns the new stock and the part of the request it could not satisfy.
func (r *ProductRepository) move(ctx context.Context, op, productID string, quantity int64, apply func(stock int64) (int64, int64)) (domain.StockMovement, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.StockMovement{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "", "product id is required", nil)
	}
	if quantity <= 0 {
		return domain.StockMovement{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, id, fmt.Sprintf("quantity must be > 0, got %d", quantity), nil)
	}

	var movement domain.StockMovement
	err := r.products.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		doc, err := r.products.GetTx(tx, ref)
		if err != nil {
			if isNotFound(err) {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), err)
			}
			return err
		}

		before := max(doc.Data.Stock, 0)
		after, shortfall := apply(before)
		movement = domain.StockMovement{
			ProductID: id,
			Requested: quantity,
			Before:    before,
			After:     after,
			Shortfall: shortfall,
		}
		if after == doc.Data.Stock {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: after},
			{Path: "updatedAt", Value: r.clock()},
		})
	})
	if err != nil {
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) {
			invErr.Op = op
			return domain.StockMovement{}, invErr
		}
		return domain.StockMovement{}, pfirestore.WrapError(op, err)
	}
	return movement, nil
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		Price:       d.Price,
		Stock:       d.Stock,
		WeightGrams: d.Weight,
		UpdatedAt:   d.UpdatedAt,
	}
}
