package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

// fakeProductRepo keeps catalog stock in memory with the same floor and ceiling rules as the
// Firestore repository.
type fakeProductRepo struct {
	mu       sync.Mutex
	products map[string]domain.Product
	getErr   error
	decErr   map[string]error
	moves    []domain.StockMovement
}

func newFakeProductRepo(products ...domain.Product) *fakeProductRepo {
	repo := &fakeProductRepo{products: make(map[string]domain.Product), decErr: make(map[string]error)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (f *fakeProductRepo) stock(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].Stock
}

func (f *fakeProductRepo) Get(_ context.Context, productID string) (domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Product{}, f.getErr
	}
	product, ok := f.products[productID]
	if !ok {
		return domain.Product{}, pfirestore.NotFound("products.get", errors.New("missing"))
	}
	return product, nil
}

func (f *fakeProductRepo) DecrementStock(_ context.Context, productID string, quantity int64) (domain.StockMovement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.decErr[productID]; err != nil {
		return domain.StockMovement{}, err
	}
	product, ok := f.products[productID]
	if !ok {
		return domain.StockMovement{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, "product not found", nil)
	}
	move := domain.StockMovement{ProductID: productID, Requested: quantity, Before: product.Stock}
	move.After = max(product.Stock-quantity, 0)
	move.Shortfall = max(quantity-product.Stock, 0)
	product.Stock = move.After
	f.products[productID] = product
	f.moves = append(f.moves, move)
	return move, nil
}

func (f *fakeProductRepo) IncrementStock(_ context.Context, productID string, quantity int64) (domain.StockMovement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[productID]
	if !ok {
		return domain.StockMovement{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, "product not found", nil)
	}
	move := domain.StockMovement{ProductID: productID, Requested: quantity, Before: product.Stock, After: product.Stock + quantity}
	product.Stock = move.After
	f.products[productID] = product
	f.moves = append(f.moves, move)
	return move, nil
}

func TestInventoryLedgerReserveFloorsAtZero(t *testing.T) {
	products := newFakeProductRepo(domain.Product{ID: "p1", Stock: 3})
	recorder := &eventRecorder{}
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{Products: products, Logger: recorder.log})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	move, err := ledger.Reserve(context.Background(), "p1", 5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if move.After != 0 || move.Shortfall != 2 || move.Moved() != 3 {
		t.Fatalf("unexpected movement %+v", move)
	}
	if products.stock("p1") != 0 {
		t.Fatalf("stock must never go negative, got %d", products.stock("p1"))
	}
	if _, ok := recorder.find("inventory.reserve.shortfall"); !ok {
		t.Fatalf("expected shortfall to be logged")
	}
}

func TestInventoryLedgerRestoreIsUncapped(t *testing.T) {
	products := newFakeProductRepo(domain.Product{ID: "p1", Stock: 10})
	ledger, _ := NewInventoryLedger(InventoryLedgerDeps{Products: products})

	if _, err := ledger.Restore(context.Background(), "p1", 500); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if products.stock("p1") != 510 {
		t.Fatalf("expected 510, got %d", products.stock("p1"))
	}
}

func TestInventoryLedgerMissingProduct(t *testing.T) {
	ledger, _ := NewInventoryLedger(InventoryLedgerDeps{Products: newFakeProductRepo()})

	_, err := ledger.Reserve(context.Background(), "ghost", 1)
	if !errors.Is(err, ErrInventoryItemUnavailable) {
		t.Fatalf("expected item unavailable, got %v", err)
	}
	if err.Error() != "inventory: item unavailable: product ghost" {
		t.Fatalf("expected error to name the product, got %q", err.Error())
	}
}

func TestInventoryLedgerValidatesInput(t *testing.T) {
	ledger, _ := NewInventoryLedger(InventoryLedgerDeps{Products: newFakeProductRepo()})

	if _, err := ledger.Reserve(context.Background(), " ", 1); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for blank id, got %v", err)
	}
	if _, err := ledger.Restore(context.Background(), "p1", 0); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
}

func TestInventoryLedgerStorageUnavailable(t *testing.T) {
	products := newFakeProductRepo(domain.Product{ID: "p1", Stock: 1})
	products.decErr["p1"] = pfirestore.WrapError("products.decrement", status.Error(codes.Unavailable, "backend down"))
	ledger, _ := NewInventoryLedger(InventoryLedgerDeps{Products: products})

	if _, err := ledger.Reserve(context.Background(), "p1", 1); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}

func TestInventoryLedgerRestoreLinesContinuesPastFailures(t *testing.T) {
	products := newFakeProductRepo(domain.Product{ID: "a", Stock: 1}, domain.Product{ID: "c", Stock: 1})
	ledger, _ := NewInventoryLedger(InventoryLedgerDeps{Products: products})

	err := ledger.RestoreLines(context.Background(), []OrderLineItem{
		{ProductID: "a", Quantity: 2},
		{ProductID: "missing", Quantity: 1},
		{ProductID: "c", Quantity: 3},
	})
	if !errors.Is(err, ErrInventoryItemUnavailable) {
		t.Fatalf("expected joined item unavailable error, got %v", err)
	}
	if products.stock("a") != 3 || products.stock("c") != 4 {
		t.Fatalf("expected surviving lines restored, got a=%d c=%d", products.stock("a"), products.stock("c"))
	}
}

func TestInventoryLedgerConcurrentReservationsNeverOversell(t *testing.T) {
	products := newFakeProductRepo(domain.Product{ID: "p1", Stock: 5})
	ledger, _ := NewInventoryLedger(InventoryLedgerDeps{Products: products})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var moved int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			move, err := ledger.Reserve(context.Background(), "p1", 1)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			moved += move.Moved()
			mu.Unlock()
		}()
	}
	wg.Wait()

	if moved != 5 || products.stock("p1") != 0 {
		t.Fatalf("expected exactly 5 units moved, got %d (stock %d)", moved, products.stock("p1"))
	}
}
