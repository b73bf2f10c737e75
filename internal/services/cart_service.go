package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/repositories"
)

const maxCartLineQuantity = 99

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartItemNotFound indicates the cart has no line for the product.
var ErrCartItemNotFound = errors.New("cart service: item not found")

// ErrCartItemUnavailable indicates the product is missing from the catalog.
var ErrCartItemUnavailable = errors.New("cart service: item unavailable")

// ErrCartInsufficientStock indicates the requested quantity exceeds current stock.
var ErrCartInsufficientStock = errors.New("cart service: insufficient stock")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repository dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Products        repositories.ProductRepository
	WeightTiers     []domain.WeightTier
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	repo     repositories.CartRepository
	products repositories.ProductRepository
	tiers    []domain.WeightTier
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	tiers := deps.WeightTiers
	if len(tiers) == 0 {
		tiers = domain.DefaultWeightTiers
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &cartService{
		repo:     deps.Repository,
		products: deps.Products,
		tiers:    tiers,
		now:      func() time.Time { return clock().UTC() },
		currency: currency,
		logger:   logger,
	}, nil
}

// GetCart loads the cart for the user. A user without a stored cart gets an empty one; nothing is
// written until the first mutation.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.load(ctx, uid)
}

func (s *cartService) AddItem(ctx context.Context, cmd CartItemCommand) (Cart, error) {
	uid, productID, err := validateCartItemCommand(cmd)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.load(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	requested := cmd.Quantity
	if idx := cart.FindItem(productID); idx >= 0 {
		requested += cart.Items[idx].Quantity
	}
	if requested > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxCartLineQuantity)
	}
	product, err := s.checkStock(ctx, productID, requested)
	if err != nil {
		return Cart{}, err
	}

	cart.UpsertItem(CartItem{
		ProductID: productID,
		Name:      product.Name,
		Quantity:  cmd.Quantity,
		UnitPrice: product.Price,
	}, s.now())
	return s.save(ctx, cart, "cart.item.added", productID)
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd CartItemCommand) (Cart, error) {
	uid, productID, err := validateCartItemCommand(cmd)
	if err != nil {
		return Cart{}, err
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be %d or fewer", ErrCartInvalidInput, maxCartLineQuantity)
	}
	cart, err := s.load(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	idx := cart.FindItem(productID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, productID)
	}

	product, err := s.checkStock(ctx, productID, cmd.Quantity)
	if err != nil {
		return Cart{}, err
	}
	cart.Items[idx].UnitPrice = product.Price
	cart.SetQuantity(productID, cmd.Quantity, s.now())
	return s.save(ctx, cart, "cart.item.updated", productID)
}

func (s *cartService) RemoveItem(ctx context.Context, userID, productID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	pid := strings.TrimSpace(productID)
	if uid == "" || pid == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	cart, err := s.load(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !cart.RemoveItem(pid, s.now()) {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, pid)
	}
	return s.save(ctx, cart, "cart.item.removed", pid)
}

func (s *cartService) ClearCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.load(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	cart.Clear(s.now())
	return s.save(ctx, cart, "cart.cleared", "")
}

// Estimate prices the cart for display using the weight-tier delivery schedule. Checkout charges
// the flat per-method rate instead, so the two figures may differ.
func (s *cartService) Estimate(ctx context.Context, userID string) (CartEstimate, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return CartEstimate{}, err
	}

	estimate := CartEstimate{Subtotal: cart.TotalAmount}
	for _, item := range cart.Items {
		product, err := s.products.Get(ctx, item.ProductID)
		if err != nil {
			if isRepositoryNotFound(err) {
				s.logger(ctx, "cart.estimate.product_missing", map[string]any{
					"userId":    cart.UserID,
					"productId": item.ProductID,
				})
				continue
			}
			return CartEstimate{}, mapRepositoryError(err, nil, nil)
		}
		estimate.WeightGrams += product.WeightGrams * int64(item.Quantity)
	}
	if len(cart.Items) > 0 {
		estimate.DeliveryCharge = domain.WeightTierCharge(s.tiers, estimate.WeightGrams)
	}
	estimate.Total = estimate.Subtotal + estimate.DeliveryCharge
	return estimate, nil
}

func (s *cartService) load(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepositoryNotFound(err) {
			now := s.now()
			return Cart{UserID: userID, Currency: s.currency, CreatedAt: now, UpdatedAt: now}, nil
		}
		return Cart{}, mapRepositoryError(err, nil, ErrCartConflict)
	}
	cart.UserID = userID
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	cart.Recalculate()
	return cart, nil
}

func (s *cartService) save(ctx context.Context, cart Cart, event, productID string) (Cart, error) {
	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, mapRepositoryError(err, nil, ErrCartConflict)
	}
	saved.Recalculate()
	fields := map[string]any{
		"userId":      saved.UserID,
		"itemCount":   saved.ItemCount,
		"totalAmount": saved.TotalAmount,
	}
	if productID != "" {
		fields["productId"] = productID
	}
	s.logger(ctx, event, fields)
	return saved, nil
}

func (s *cartService) checkStock(ctx context.Context, productID string, quantity int) (Product, error) {
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Product{}, fmt.Errorf("%w: product %s", ErrCartItemUnavailable, productID)
		}
		return Product{}, mapRepositoryError(err, nil, nil)
	}
	if product.Stock < int64(quantity) {
		return Product{}, fmt.Errorf("%w: product %s has %d of %d requested", ErrCartInsufficientStock, productID, product.Stock, quantity)
	}
	return product, nil
}

func validateCartItemCommand(cmd CartItemCommand) (string, string, error) {
	uid := strings.TrimSpace(cmd.UserID)
	pid := strings.TrimSpace(cmd.ProductID)
	if uid == "" || pid == "" {
		return "", "", fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return "", "", fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	return uid, pid, nil
}
