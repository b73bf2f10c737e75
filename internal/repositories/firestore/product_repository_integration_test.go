//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopfront/api/internal/repositories"
)

func TestProductRepositoryStockMovementsIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "product-test")
	repo, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	seedDocument(t, provider, productsCollection, "p1", map[string]any{
		"name": "Tea", "price": int64(100), "stock": int64(5), "weight": int64(250), "updatedAt": time.Now().UTC(),
	})

	product, err := repo.Get(ctx, "p1")
	if err != nil || product.Stock != 5 || product.WeightGrams != 250 {
		t.Fatalf("get: %+v err=%v", product, err)
	}

	move, err := repo.DecrementStock(ctx, "p1", 3)
	if err != nil || move.Before != 5 || move.After != 2 || move.Shortfall != 0 {
		t.Fatalf("decrement: %+v err=%v", move, err)
	}

	move, err = repo.DecrementStock(ctx, "p1", 7)
	if err != nil || move.After != 0 || move.Shortfall != 5 || move.Moved() != 2 {
		t.Fatalf("expected floor at zero with shortfall 5, got %+v err=%v", move, err)
	}

	move, err = repo.IncrementStock(ctx, "p1", 1000)
	if err != nil || move.After != 1000 {
		t.Fatalf("increment must be uncapped, got %+v err=%v", move, err)
	}

	_, err = repo.DecrementStock(ctx, "missing", 1)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorProductNotFound || invErr.ProductID != "missing" {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestProductRepositoryConcurrentDecrementsIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "product-race")
	repo, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	seedDocument(t, provider, productsCollection, "p1", map[string]any{"name": "Tea", "price": int64(100), "stock": int64(10)})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DecrementStock(ctx, "p1", 1); err != nil {
				t.Errorf("decrement: %v", err)
			}
		}()
	}
	wg.Wait()

	product, err := repo.Get(ctx, "p1")
	if err != nil || product.Stock != 0 {
		t.Fatalf("expected no lost updates, stock=%d err=%v", product.Stock, err)
	}
}
