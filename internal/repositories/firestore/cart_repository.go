package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository stores one cart document per user, keyed by user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)}, nil
}

func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(uid), nil
}

// UpsertCart replaces the stored cart. Totals are recomputed from the lines before writing.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	cart.Recalculate()
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}
	if err := r.base.Set(ctx, uid, newCartDocument(cart)); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

type cartDocument struct {
	Currency    string             `firestore:"currency"`
	Items       []cartItemDocument `firestore:"items"`
	TotalAmount int64              `firestore:"totalAmount"`
	ItemCount   int                `firestore:"itemCount"`
	CreatedAt   time.Time          `firestore:"createdAt"`
	UpdatedAt   time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Name      string    `firestore:"name"`
	Quantity  int       `firestore:"quantity"`
	UnitPrice int64     `firestore:"unitPrice"`
	AddedAt   time.Time `firestore:"addedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument(item))
	}
	return cartDocument{
		Currency:    strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:       items,
		TotalAmount: cart.TotalAmount,
		ItemCount:   cart.ItemCount,
		CreatedAt:   cart.CreatedAt,
		UpdatedAt:   cart.UpdatedAt,
	}
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	cart := domain.Cart{
		UserID:    userID,
		Currency:  d.Currency,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem(item))
	}
	// Stored totals are ignored; they are always derived from the lines.
	cart.Recalculate()
	return cart
}
