package domain

import (
	"time"
)

// Product is the slice of the catalog entity consumed by checkout and the inventory ledger.
type Product struct {
	ID          string
	Name        string
	Price       int64
	Stock       int64
	WeightGrams int64
	UpdatedAt   time.Time
}

// Cart aggregates the mutable shopping cart state for a user.
// TotalAmount and ItemCount are derived; call Recalculate after touching Items.
type Cart struct {
	UserID      string
	Currency    string
	Items       []CartItem
	TotalAmount int64
	ItemCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartItem stores a single product entry within a cart.
type CartItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	AddedAt   time.Time
}

// LineTotal returns unit price times quantity.
func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// CartEstimate summarizes totals calculated for storefront display.
type CartEstimate struct {
	Subtotal       int64
	WeightGrams    int64
	DeliveryCharge int64
	Total          int64
}

// CheckoutMode selects the source of line items for an order.
type CheckoutMode string

const (
	// CheckoutModeCart builds the order from client-supplied cart lines.
	CheckoutModeCart CheckoutMode = "cart"
	// CheckoutModeBuyNow builds the order from a single product and quantity.
	CheckoutModeBuyNow CheckoutMode = "buy-now"
)

// PaymentStatus tracks settlement of an order's payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod enumerates accepted payment methods.
type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "cod"
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodBank PaymentMethod = "bank_transfer"
)

// Order is the durable record of a checkout.
type Order struct {
	// ID is the internal storage key.
	ID                 string
	OrderID            string
	UserID             string
	Items              []OrderLineItem
	TotalAmount        int64
	ItemCount          int
	ShippingAddress    *Address
	BillingAddress     *Address
	Customer           CustomerInfo
	Status             OrderStatus
	PaymentStatus      PaymentStatus
	PaymentMethod      PaymentMethod
	PaymentIntentID    string
	ShippingMethod     ShippingMethod
	ShippingCost       int64
	OrderWeight        int64
	TrackingNumber     *string
	EstimatedDelivery  *time.Time
	CheckoutMode       CheckoutMode
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ConfirmedAt        *time.Time
	ProcessingAt       *time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	RefundedAt         *time.Time
}

// LineTotalSum adds up the line totals of the order.
func (o Order) LineTotalSum() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.LineTotal
	}
	return sum
}

// OrderLineItem snapshots a product at checkout time.
type OrderLineItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	LineTotal int64
}

// CustomerInfo holds the contact details captured at checkout.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
	Notes string
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	ID             string
	Label          string
	Recipient      string
	Line1          string
	Line2          *string
	City           string
	State          *string
	PostalCode     string
	Country        string
	Phone          *string
	IsDefault      bool
	NormalizedHash string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy so order snapshots never alias the address book.
func (a Address) Clone() Address {
	out := a
	out.Line2 = cloneString(a.Line2)
	out.State = cloneString(a.State)
	out.Phone = cloneString(a.Phone)
	return out
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

// StockMovement reports the effect of a single ledger operation.
type StockMovement struct {
	ProductID string
	Requested int64
	Before    int64
	After     int64
	// Shortfall is the part of a reservation that could not be covered because stock floors at zero.
	Shortfall int64
}

// Moved returns the absolute quantity that actually changed.
func (m StockMovement) Moved() int64 {
	if m.After > m.Before {
		return m.After - m.Before
	}
	return m.Before - m.After
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]AuditLogDiff
	RequestID string
	CreatedAt time.Time
}

// AuditLogDiff captures the before/after values for a changed field.
type AuditLogDiff struct {
	Before any
	After  any
}

// HealthStatus values reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
