package services

import (
	"context"
	"time"

	domain "github.com/shopfront/api/internal/domain"
)

// Domain type aliases keep handler and service signatures short.
type (
	Product            = domain.Product
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartEstimate       = domain.CartEstimate
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	CustomerInfo       = domain.CustomerInfo
	Address            = domain.Address
	StockMovement      = domain.StockMovement
	AuditLogEntry      = domain.AuditLogEntry
	AuditLogDiff       = domain.AuditLogDiff
	SystemHealthReport = domain.SystemHealthReport
)

// SequenceAllocator issues human-readable order identifiers.
type SequenceAllocator interface {
	// Allocate always returns an identifier. When the counter is unreachable it degrades to a
	// timestamp based identifier instead of failing.
	Allocate(ctx context.Context) string
}

// InventoryLedger is the only writer of product stock.
type InventoryLedger interface {
	Reserve(ctx context.Context, productID string, quantity int64) (StockMovement, error)
	Restore(ctx context.Context, productID string, quantity int64) (StockMovement, error)
	// RestoreLines credits every line back, continuing past failures and joining their errors.
	RestoreLines(ctx context.Context, lines []OrderLineItem) error
}

// CheckoutService turns a cart or a buy-now request into a persisted order.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// OrderService exposes order lookup and the administrative status state machine.
type OrderService interface {
	GetOrder(ctx context.Context, cmd OrderLookupCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	BulkTransition(ctx context.Context, cmd BulkStatusTransitionCommand) (BulkTransitionResult, error)
	RecordPaymentOutcome(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error)
}

// StatusNotifier fans order status changes out to subscribers without blocking the caller.
type StatusNotifier interface {
	Notify(ctx context.Context, order Order, previous OrderStatus)
	Close(ctx context.Context) error
}

// StatusPublisher is a single notification transport.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event OrderStatusEvent) error
}

// CartService manages the per-user cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd CartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd CartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) (Cart, error)
	Estimate(ctx context.Context, userID string) (CartEstimate, error)
}

// AddressService manages the user address book.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	AddAddress(ctx context.Context, cmd AddressCommand) (Address, error)
	UpdateAddress(ctx context.Context, cmd AddressCommand) (Address, error)
	SetDefaultAddress(ctx context.Context, userID, addressID string) (Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
}

// AuditLogService writes and reads the audit trail.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	ListByTarget(ctx context.Context, targetRef string, limit int) ([]AuditLogEntry, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CheckoutCommand is the normalised order creation request.
type CheckoutCommand struct {
	UserID         string
	Mode           domain.CheckoutMode
	Items          []CheckoutLine
	ProductID      string
	Quantity       int
	AddressID      string
	Customer       CustomerInfo
	PaymentMethod  string
	ShippingMethod string
	// WeightGrams overrides the catalog derived parcel weight when set.
	WeightGrams    *int64
	IdempotencyKey string
}

// CheckoutLine is a client-supplied cart line. Prices are always re-read from the catalog.
type CheckoutLine struct {
	ProductID string
	Quantity  int
}

// CheckoutResult is returned after a successful checkout.
type CheckoutResult struct {
	Order        Order
	ClientSecret string
}

// OrderLookupCommand resolves an order reference for a caller.
type OrderLookupCommand struct {
	OrderRef string
	ActorID  string
	// Privileged callers may read any order.
	Privileged bool
}

// OrderStatusTransitionCommand moves a single order.
type OrderStatusTransitionCommand struct {
	OrderRef          string
	TargetStatus      string
	ActorID           string
	ActorType         string
	Reason            string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
}

// BulkStatusTransitionCommand moves several orders to the same status.
type BulkStatusTransitionCommand struct {
	OrderRefs    []string
	TargetStatus string
	ActorID      string
	ActorType    string
	Reason       string
}

// BulkTransitionResult reports the outcome of each id in a bulk transition.
type BulkTransitionResult struct {
	Successful int
	Failed     int
	Results    []BulkTransitionItem
}

// BulkTransitionItem is one entry of a bulk transition breakdown.
type BulkTransitionItem struct {
	OrderRef string
	Success  bool
	Error    string
	Order    *Order
}

// PaymentOutcomeCommand records a PSP result against the order holding the intent.
type PaymentOutcomeCommand struct {
	PaymentIntentID string
	Status          domain.PaymentStatus
	EventID         string
}

// OrderStatusEvent is the payload delivered to status subscribers.
type OrderStatusEvent struct {
	Channel        string    `json:"channel"`
	OrderID        string    `json:"orderId"`
	StorageID      string    `json:"id"`
	UserID         string    `json:"userId,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	PaymentStatus  string    `json:"paymentStatus,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	TotalAmount    int64     `json:"totalAmount"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// CartItemCommand adds or updates a cart line.
type CartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// AddressCommand creates or updates an address book entry.
type AddressCommand struct {
	UserID    string
	AddressID string
	Address   Address
	// DefaultAddress requests the address to become the default.
	DefaultAddress bool
}

// AuditLogRecord is the input for a single audit log write.
type AuditLogRecord struct {
	Actor      string
	ActorType  string
	Action     string
	TargetRef  string
	RequestID  string
	Metadata   map[string]any
	Diff       map[string]AuditLogDiff
	OccurredAt time.Time
}
