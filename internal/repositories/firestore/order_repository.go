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

const ordersCollection = "orders"

// OrderRepository persists orders keyed by their storage ID. Orders are never deleted.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Insert creates the order document and fails with a conflict if the storage ID is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: storage id is required")
	}
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

// Update replaces the stored order. The document must exist and its stored status must still be
// expected, so two writers that read the same status cannot both apply their move.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: storage id is required")
	}
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := r.base.GetTx(tx, ref)
		if err != nil {
			return err
		}
		if stored := domain.OrderStatus(current.Data.Status); stored != expected {
			return pfirestore.Conflict("orders.update", fmt.Errorf("order %s is %s, expected %s", order.ID, stored, expected))
		}
		return tx.Set(ref, newOrderDocument(order))
	})
	return pfirestore.WrapError("orders.update", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_order_id", fmt.Errorf("order %s not found", orderID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListOrderIDs projects only the orderId field of every order.
func (r *OrderRepository) ListOrderIDs(ctx context.Context) ([]string, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Select("orderId")
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id := strings.TrimSpace(doc.Data.OrderID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// UpdatePaymentStatus records a PSP outcome on the order that owns the payment intent.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, paymentIntentID string, status domain.PaymentStatus, at time.Time) (domain.Order, error) {
	intentID := strings.TrimSpace(paymentIntentID)
	if intentID == "" {
		return domain.Order{}, errors.New("order repository: payment intent id is required")
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := r.base.QueryTx(tx, coll.Where("paymentIntentId", "==", intentID).Limit(1))
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return pfirestore.NotFound("orders.update_payment_status", fmt.Errorf("no order for payment intent %s", intentID))
		}
		doc := docs[0]
		doc.Data.PaymentStatus = string(status)
		doc.Data.UpdatedAt = at
		updated = doc.Data.toDomain(doc.ID)
		return tx.Update(coll.Doc(doc.ID), []firestore.Update{
			{Path: "paymentStatus", Value: string(status)},
			{Path: "updatedAt", Value: at},
		})
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update_payment_status", err)
	}
	return updated, nil
}

type orderDocument struct {
	OrderID            string              `firestore:"orderId"`
	UserID             string              `firestore:"userId"`
	Items              []orderItemDocument `firestore:"items"`
	TotalAmount        int64               `firestore:"totalAmount"`
	ItemCount          int                 `firestore:"itemCount"`
	ShippingAddress    *addressDocument    `firestore:"shippingAddress,omitempty"`
	BillingAddress     *addressDocument    `firestore:"billingAddress,omitempty"`
	Customer           customerDocument    `firestore:"customer"`
	Status             string              `firestore:"status"`
	PaymentStatus      string              `firestore:"paymentStatus"`
	PaymentMethod      string              `firestore:"paymentMethod"`
	PaymentIntentID    string              `firestore:"paymentIntentId,omitempty"`
	ShippingMethod     string              `firestore:"shippingMethod"`
	ShippingCost       int64               `firestore:"shippingCost"`
	OrderWeight        int64               `firestore:"orderWeight"`
	TrackingNumber     *string             `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery  *time.Time          `firestore:"estimatedDelivery,omitempty"`
	CheckoutMode       string              `firestore:"checkoutMode"`
	CancellationReason *string             `firestore:"cancellationReason,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
	ConfirmedAt        *time.Time          `firestore:"confirmedAt,omitempty"`
	ProcessingAt       *time.Time          `firestore:"processingAt,omitempty"`
	ShippedAt          *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt        *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt        *time.Time          `firestore:"cancelledAt,omitempty"`
	RefundedAt         *time.Time          `firestore:"refundedAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
	Notes string `firestore:"notes,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDocument(item))
	}
	return orderDocument{
		OrderID:            o.OrderID,
		UserID:             o.UserID,
		Items:              items,
		TotalAmount:        o.TotalAmount,
		ItemCount:          o.ItemCount,
		ShippingAddress:    addressSnapshot(o.ShippingAddress),
		BillingAddress:     addressSnapshot(o.BillingAddress),
		Customer:           customerDocument(o.Customer),
		Status:             string(o.Status),
		PaymentStatus:      string(o.PaymentStatus),
		PaymentMethod:      string(o.PaymentMethod),
		PaymentIntentID:    o.PaymentIntentID,
		ShippingMethod:     string(o.ShippingMethod),
		ShippingCost:       o.ShippingCost,
		OrderWeight:        o.OrderWeight,
		TrackingNumber:     o.TrackingNumber,
		EstimatedDelivery:  o.EstimatedDelivery,
		CheckoutMode:       string(o.CheckoutMode),
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		ConfirmedAt:        o.ConfirmedAt,
		ProcessingAt:       o.ProcessingAt,
		ShippedAt:          o.ShippedAt,
		DeliveredAt:        o.DeliveredAt,
		CancelledAt:        o.CancelledAt,
		RefundedAt:         o.RefundedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderLineItem(item))
	}
	return domain.Order{
		ID:                 id,
		OrderID:            d.OrderID,
		UserID:             d.UserID,
		Items:              items,
		TotalAmount:        d.TotalAmount,
		ItemCount:          d.ItemCount,
		ShippingAddress:    addressFromSnapshot(d.ShippingAddress),
		BillingAddress:     addressFromSnapshot(d.BillingAddress),
		Customer:           domain.CustomerInfo(d.Customer),
		Status:             domain.OrderStatus(d.Status),
		PaymentStatus:      domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:      domain.PaymentMethod(d.PaymentMethod),
		PaymentIntentID:    d.PaymentIntentID,
		ShippingMethod:     domain.ShippingMethod(d.ShippingMethod),
		ShippingCost:       d.ShippingCost,
		OrderWeight:        d.OrderWeight,
		TrackingNumber:     d.TrackingNumber,
		EstimatedDelivery:  d.EstimatedDelivery,
		CheckoutMode:       domain.CheckoutMode(d.CheckoutMode),
		CancellationReason: d.CancellationReason,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		ConfirmedAt:        d.ConfirmedAt,
		ProcessingAt:       d.ProcessingAt,
		ShippedAt:          d.ShippedAt,
		DeliveredAt:        d.DeliveredAt,
		CancelledAt:        d.CancelledAt,
		RefundedAt:         d.RefundedAt,
	}
}

// addressSnapshot embeds a copy of the address; the order never references the address book.
func addressSnapshot(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	doc := newAddressDocument(addr.Clone())
	doc.CreatedAt = addr.CreatedAt
	doc.UpdatedAt = addr.UpdatedAt
	doc.AddressID = addr.ID
	return &doc
}

func addressFromSnapshot(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	addr := doc.toDomain(doc.AddressID)
	return &addr
}
