package repositories

import (
	"context"
	"time"

	domain "github.com/shopfront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Addresses() AddressRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog products and owns the only write path to their stock.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock lowers stock by quantity inside a transaction, flooring at zero.
	DecrementStock(ctx context.Context, productID string, quantity int64) (domain.StockMovement, error)
	// IncrementStock raises stock by quantity inside a transaction without an upper bound.
	IncrementStock(ctx context.Context, productID string, quantity int64) (domain.StockMovement, error)
}

// CartRepository persists one cart document per user.
type CartRepository interface {
	// GetCart returns the stored cart. Missing carts surface as a not-found RepositoryError.
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
}

// OrderRepository persists orders. Orders are never deleted.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update replaces the stored order only while its stored status still equals expected,
	// and fails with a conflict otherwise.
	Update(ctx context.Context, order domain.Order, expected domain.OrderStatus) error
	// FindByID loads an order by storage key.
	FindByID(ctx context.Context, id string) (domain.Order, error)
	// FindByOrderID loads an order by its human-readable identifier.
	FindByOrderID(ctx context.Context, orderID string) (domain.Order, error)
	// ListOrderIDs returns every issued human-readable identifier. Used once to seed the counter.
	ListOrderIDs(ctx context.Context) ([]string, error)
	// UpdatePaymentStatus records a PSP outcome against the order holding the payment intent.
	UpdatePaymentStatus(ctx context.Context, paymentIntentID string, status domain.PaymentStatus, at time.Time) (domain.Order, error)
}

// AddressRepository persists user addresses and guards the single-default invariant.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
	// Upsert writes the address. When addr.IsDefault is set every other default is cleared in the same transaction.
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	// Delete removes the address and, if it was the default, promotes the most recently updated survivor.
	Delete(ctx context.Context, userID, addressID string) error
	SetDefault(ctx context.Context, userID, addressID string) (domain.Address, error)
	FindByHash(ctx context.Context, userID, hash string) (domain.Address, bool, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByTarget(ctx context.Context, targetRef string, limit int) ([]domain.AuditLogEntry, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	// Seed creates the counter at value if it does not exist yet. It reports whether the seed was written.
	Seed(ctx context.Context, counterID string, value int64) (bool, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig defines optional settings for counters.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
