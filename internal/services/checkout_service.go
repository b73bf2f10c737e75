package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/unicode/norm"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/repositories"
)

const (
	checkoutCancellationReason = "checkout_failed"
	defaultCheckoutCurrency    = "NPR"
	maxCustomerNotesLength     = 1000
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutInsufficientStock indicates a line asks for more than the catalog holds.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutItemUnavailable indicates a line references a product missing from the catalog.
	ErrCheckoutItemUnavailable = errors.New("checkout: item unavailable")
	// ErrCheckoutPaymentFailed indicates the PSP intent could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// paymentIntentCreator abstracts the PSP for easier testing.
type paymentIntentCreator interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Products  repositories.ProductRepository
	Addresses repositories.AddressRepository
	Carts     repositories.CartRepository
	Orders    repositories.OrderRepository
	Allocator SequenceAllocator
	Ledger    InventoryLedger
	// Payments is optional. Without it card checkouts are rejected.
	Payments    paymentIntentCreator
	Notifier    StatusNotifier
	Rates       domain.ShippingRates
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Meter       metric.Meter
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	products      repositories.ProductRepository
	addresses     repositories.AddressRepository
	carts         repositories.CartRepository
	orders        repositories.OrderRepository
	allocator     SequenceAllocator
	ledger        InventoryLedger
	payments      paymentIntentCreator
	notifier      StatusNotifier
	rates         domain.ShippingRates
	currency      string
	now           func() time.Time
	newID         func() string
	sanitizer     *bluemonday.Policy
	compensations metric.Int64Counter
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Addresses == nil:
		return nil, errors.New("checkout service: address repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Allocator == nil:
		return nil, errors.New("checkout service: sequence allocator is required")
	case deps.Ledger == nil:
		return nil, errors.New("checkout service: inventory ledger is required")
	}

	rates := deps.Rates
	if len(rates) == 0 {
		rates = domain.DefaultShippingRates
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	svc := &checkoutService{
		products:  deps.Products,
		addresses: deps.Addresses,
		carts:     deps.Carts,
		orders:    deps.Orders,
		allocator: deps.Allocator,
		ledger:    deps.Ledger,
		payments:  deps.Payments,
		notifier:  deps.Notifier,
		rates:     rates,
		currency:  currency,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
	if deps.Meter != nil {
		counter, err := deps.Meter.Int64Counter("checkout.compensations", metric.WithDescription("Checkouts rolled back after the order was persisted"))
		if err == nil {
			svc.compensations = counter
		}
	}
	return svc, nil
}

// checkoutPlan is the validated, catalog-priced form of a checkout command.
type checkoutPlan struct {
	mode     domain.CheckoutMode
	payment  domain.PaymentMethod
	shipping domain.ShippingMethod
	customer CustomerInfo
	address  Address
	items    []OrderLineItem
	weight   int64
}

// PlaceOrder assembles and persists an order, then reserves stock line by line. Once the order
// exists every failure compensates: reserved stock is credited back and the order is cancelled
// before the error is returned.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	plan, err := s.validate(cmd)
	if err != nil {
		return CheckoutResult{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)

	address, err := s.addresses.Get(ctx, userID, strings.TrimSpace(cmd.AddressID))
	if err != nil {
		if isRepositoryNotFound(err) {
			return CheckoutResult{}, fmt.Errorf("%w: address %s not found", ErrCheckoutInvalidInput, cmd.AddressID)
		}
		return CheckoutResult{}, mapRepositoryError(err, nil, nil)
	}
	plan.address = address.Clone()

	if err := s.priceLines(ctx, &plan, cmd); err != nil {
		return CheckoutResult{}, err
	}

	shippingCost, _ := s.rates.Cost(plan.shipping)
	now := s.now()
	shippingAddr := plan.address.Clone()
	billingAddr := plan.address.Clone()
	order := Order{
		ID:              s.newID(),
		OrderID:         s.allocator.Allocate(ctx),
		UserID:          userID,
		Items:           plan.items,
		ShippingAddress: &shippingAddr,
		BillingAddress:  &billingAddr,
		Customer:        plan.customer,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   plan.payment,
		ShippingMethod:  plan.shipping,
		ShippingCost:    shippingCost,
		OrderWeight:     plan.weight,
		CheckoutMode:    plan.mode,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range plan.items {
		order.ItemCount += item.Quantity
	}
	order.TotalAmount = order.LineTotalSum() + shippingCost

	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, mapRepositoryError(err, nil, nil)
	}

	reserved := make([]OrderLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		movement, err := s.ledger.Reserve(ctx, item.ProductID, int64(item.Quantity))
		if moved := movement.Moved(); moved > 0 {
			line := item
			line.Quantity = int(moved)
			reserved = append(reserved, line)
		}
		if err != nil {
			if errors.Is(err, ErrInventoryItemUnavailable) {
				err = fmt.Errorf("%w: product %s", ErrCheckoutItemUnavailable, item.ProductID)
			}
			return CheckoutResult{}, s.compensate(ctx, order, reserved, "", err)
		}
		if movement.Shortfall > 0 {
			cause := fmt.Errorf("%w: product %s has %d of %d requested", ErrCheckoutInsufficientStock, item.ProductID, movement.Before, item.Quantity)
			return CheckoutResult{}, s.compensate(ctx, order, reserved, "", cause)
		}
	}

	var clientSecret string
	if order.PaymentMethod == domain.PaymentMethodCard {
		intent, err := s.payments.CreateIntent(ctx, payments.IntentRequest{
			Amount:         order.TotalAmount,
			Currency:       s.currency,
			OrderID:        order.OrderID,
			CustomerEmail:  order.Customer.Email,
			Description:    "Order " + order.OrderID,
			IdempotencyKey: intentIdempotencyKey(cmd.IdempotencyKey, order.OrderID),
		})
		if err != nil {
			return CheckoutResult{}, s.compensate(ctx, order, reserved, "", fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err))
		}
		order.PaymentIntentID = intent.ID
		clientSecret = intent.ClientSecret
		if err := s.orders.Update(ctx, order, domain.OrderStatusPending); err != nil {
			return CheckoutResult{}, s.compensate(ctx, order, reserved, intent.ID, mapRepositoryError(err, nil, nil))
		}
	}

	if plan.mode == domain.CheckoutModeCart {
		s.clearCart(ctx, userID)
	}

	s.logger(ctx, "checkout.order.placed", map[string]any{
		"orderId":     order.OrderID,
		"userId":      userID,
		"mode":        string(plan.mode),
		"totalAmount": order.TotalAmount,
		"itemCount":   order.ItemCount,
	})
	if s.notifier != nil {
		s.notifier.Notify(ctx, order, "")
	}
	return CheckoutResult{Order: order, ClientSecret: clientSecret}, nil
}

func (s *checkoutService) validate(cmd CheckoutCommand) (checkoutPlan, error) {
	var plan checkoutPlan
	if strings.TrimSpace(cmd.UserID) == "" {
		return plan, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.AddressID) == "" {
		return plan, fmt.Errorf("%w: address id is required", ErrCheckoutInvalidInput)
	}

	switch domain.CheckoutMode(strings.ToLower(strings.TrimSpace(string(cmd.Mode)))) {
	case domain.CheckoutModeCart:
		plan.mode = domain.CheckoutModeCart
		if len(cmd.Items) == 0 {
			return plan, fmt.Errorf("%w: cart checkout requires at least one item", ErrCheckoutInvalidInput)
		}
		for _, line := range cmd.Items {
			if strings.TrimSpace(line.ProductID) == "" {
				return plan, fmt.Errorf("%w: item product id is required", ErrCheckoutInvalidInput)
			}
			if line.Quantity < 1 {
				return plan, fmt.Errorf("%w: quantity for %s must be at least 1", ErrCheckoutInvalidInput, line.ProductID)
			}
		}
	case domain.CheckoutModeBuyNow, "buynow", "buy_now":
		plan.mode = domain.CheckoutModeBuyNow
		if strings.TrimSpace(cmd.ProductID) == "" {
			return plan, fmt.Errorf("%w: product id is required", ErrCheckoutInvalidInput)
		}
		if cmd.Quantity < 1 {
			return plan, fmt.Errorf("%w: quantity must be at least 1", ErrCheckoutInvalidInput)
		}
	default:
		return plan, fmt.Errorf("%w: unknown checkout mode %q", ErrCheckoutInvalidInput, cmd.Mode)
	}

	customer := CustomerInfo{
		Name:  s.cleanText(cmd.Customer.Name, 200),
		Email: strings.ToLower(s.cleanText(cmd.Customer.Email, 254)),
		Phone: s.cleanText(cmd.Customer.Phone, 40),
		Notes: s.cleanText(cmd.Customer.Notes, maxCustomerNotesLength),
	}
	if customer.Name == "" || customer.Email == "" || customer.Phone == "" {
		return plan, fmt.Errorf("%w: customer name, email and phone are required", ErrCheckoutInvalidInput)
	}
	if _, err := mail.ParseAddress(customer.Email); err != nil {
		return plan, fmt.Errorf("%w: customer email is invalid", ErrCheckoutInvalidInput)
	}
	plan.customer = customer

	switch method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))); method {
	case domain.PaymentMethodCOD, domain.PaymentMethodBank:
		plan.payment = method
	case domain.PaymentMethodCard:
		if s.payments == nil {
			return plan, fmt.Errorf("%w: card payments are not available", ErrCheckoutInvalidInput)
		}
		plan.payment = method
	default:
		return plan, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	shipping, err := domain.ParseShippingMethod(cmd.ShippingMethod)
	if err != nil {
		return plan, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if _, ok := s.rates.Cost(shipping); !ok {
		return plan, fmt.Errorf("%w: shipping method %q is not offered", ErrCheckoutInvalidInput, shipping)
	}
	plan.shipping = shipping

	if cmd.WeightGrams != nil && *cmd.WeightGrams < 0 {
		return plan, fmt.Errorf("%w: weight must not be negative", ErrCheckoutInvalidInput)
	}
	return plan, nil
}

// priceLines re-reads every product, checks current stock and snapshots prices.
func (s *checkoutService) priceLines(ctx context.Context, plan *checkoutPlan, cmd CheckoutCommand) error {
	lines := cmd.Items
	if plan.mode == domain.CheckoutModeBuyNow {
		lines = []CheckoutLine{{ProductID: cmd.ProductID, Quantity: cmd.Quantity}}
	}

	requested := make(map[string]int, len(lines))
	items := make([]OrderLineItem, 0, len(lines))
	var weight int64
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, err := s.products.Get(ctx, productID)
		if err != nil {
			if isRepositoryNotFound(err) {
				return fmt.Errorf("%w: product %s", ErrCheckoutItemUnavailable, productID)
			}
			return mapRepositoryError(err, nil, nil)
		}
		requested[productID] += line.Quantity
		if product.Stock < int64(requested[productID]) {
			return fmt.Errorf("%w: product %s has %d of %d requested", ErrCheckoutInsufficientStock, productID, product.Stock, requested[productID])
		}
		items = append(items, OrderLineItem{
			ProductID: productID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  line.Quantity,
			LineTotal: product.Price * int64(line.Quantity),
		})
		weight += product.WeightGrams * int64(line.Quantity)
	}

	if cmd.WeightGrams != nil {
		weight = *cmd.WeightGrams
	}
	plan.items = items
	plan.weight = weight
	return nil
}

func (s *checkoutService) compensate(ctx context.Context, order Order, reserved []OrderLineItem, intentID string, cause error) error {
	if s.compensations != nil {
		s.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(order.CheckoutMode))))
	}
	fields := map[string]any{"orderId": order.OrderID, "reason": cause.Error()}

	if intentID != "" {
		if err := s.payments.CancelIntent(ctx, intentID); err != nil {
			fields["intentCancelError"] = err.Error()
		}
	}

	// The cancelled status is written before any stock is credited. When that write fails the
	// order stays pending and keeps its reservation, and whoever later cancels it credits the
	// stock once.
	reason := checkoutCancellationReason
	order.ApplyStatus(domain.OrderStatusCancelled, s.now())
	order.CancellationReason = &reason
	if err := s.orders.Update(ctx, order, domain.OrderStatusPending); err != nil {
		fields["cancelError"] = err.Error()
		fields["stockHeld"] = true
		s.logger(ctx, "checkout.compensation.failed", fields)
		return cause
	}
	if err := s.ledger.RestoreLines(ctx, reserved); err != nil {
		fields["restoreError"] = err.Error()
	}

	s.logger(ctx, "checkout.compensated", fields)
	return cause
}

func (s *checkoutService) clearCart(ctx context.Context, userID string) {
	if s.carts == nil {
		return
	}
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if !isRepositoryNotFound(err) {
			s.logger(ctx, "checkout.cart.clear.failed", map[string]any{"userId": userID, "error": err.Error()})
		}
		return
	}
	cart.Clear(s.now())
	if _, err := s.carts.UpsertCart(ctx, cart); err != nil {
		s.logger(ctx, "checkout.cart.clear.failed", map[string]any{"userId": userID, "error": err.Error()})
	}
}

// cleanText applies NFKC, strips markup and trims to limit runes. Entities are decoded before
// sanitizing and the passes repeat until the text is stable, so encoded markup is stripped too.
func (s *checkoutService) cleanText(value string, limit int) string {
	stable := false
	for pass := 0; pass < maxSanitizePasses && !stable; pass++ {
		cleaned := html.UnescapeString(s.sanitizer.Sanitize(html.UnescapeString(norm.NFKC.String(value))))
		stable = cleaned == value
		value = cleaned
	}
	if !stable {
		value = angleBrackets.Replace(value)
	}
	value = strings.TrimSpace(value)
	if runes := []rune(value); len(runes) > limit {
		value = strings.TrimSpace(string(runes[:limit]))
	}
	return value
}

const maxSanitizePasses = 8

var angleBrackets = strings.NewReplacer("<", "", ">", "")

func intentIdempotencyKey(requestKey, orderID string) string {
	if key := strings.TrimSpace(requestKey); key != "" {
		return "checkout-" + key
	}
	return "checkout-" + orderID
}
