package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/platform/config"
	"github.com/shopfront/api/internal/repositories"
	"github.com/shopfront/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart      services.CartService
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Addresses services.AddressService
	Audit     services.AuditLogService
	System    services.SystemService
	Ledger    services.InventoryLedger
	Allocator services.SequenceAllocator
	Notifier  services.StatusNotifier
}

// PaymentIntents is the slice of the PSP used by checkout.
type PaymentIntents interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

// Infrastructure carries the process-level collaborators built in main. Every field is optional.
type Infrastructure struct {
	Publishers []services.StatusPublisher
	Payments   PaymentIntents
	Logger     *zap.Logger
	Meter      metric.Meter
	Build      services.BuildInfo
	Clock      func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close drains pending notifications before releasing repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Notifier != nil {
		if err := c.Services.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OrderIDScheme derives the identifier format from configuration.
func OrderIDScheme(cfg config.Config) domain.OrderIDScheme {
	scheme := domain.DefaultOrderIDScheme
	if prefix := strings.TrimSpace(cfg.Orders.IDPrefix); prefix != "" {
		scheme.Prefix = prefix
	}
	if marker := strings.TrimSpace(cfg.Orders.LegacyMarker); marker != "" {
		scheme.LegacyMarker = marker
	}
	return scheme
}

// ShippingRates overlays configured express and same-day charges on the defaults.
func ShippingRates(cfg config.Config) domain.ShippingRates {
	rates := make(domain.ShippingRates, len(domain.DefaultShippingRates))
	for method, cost := range domain.DefaultShippingRates {
		rates[method] = cost
	}
	if cfg.Orders.ExpressShipping > 0 {
		rates[domain.ShippingExpress] = cfg.Orders.ExpressShipping
	}
	if cfg.Orders.SameDayShipping > 0 {
		rates[domain.ShippingSameDay] = cfg.Orders.SameDayShipping
	}
	return rates
}

// ServiceLogger adapts zap to the event logger accepted by services. Events ending in
// .failed, .degraded or .shortfall are logged at warn level.
func ServiceLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		switch {
		case strings.HasSuffix(event, ".failed"),
			strings.HasSuffix(event, ".degraded"),
			strings.HasSuffix(event, ".shortfall"):
			logger.Warn(event, zFields...)
		default:
			logger.Info(event, zFields...)
		}
	}
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scheme := OrderIDScheme(cfg)

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      clock,
			Logger:     ServiceLogger(logger.Named("audit")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	svc.Notifier = services.NewStatusNotifier(services.StatusNotifierDeps{
		Publishers: infra.Publishers,
		Timeout:    cfg.Orders.NotifyTimeout,
		Clock:      clock,
		Logger:     ServiceLogger(logger.Named("notifier")),
	})

	productsRepo := reg.Products()
	if productsRepo != nil {
		ledger, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
			Products: productsRepo,
			Logger:   ServiceLogger(logger.Named("inventory")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build inventory ledger: %w", err)
		}
		svc.Ledger = ledger
	}

	ordersRepo := reg.Orders()
	if counterRepo := reg.Counters(); counterRepo != nil {
		allocator, err := services.NewSequenceAllocator(services.SequenceAllocatorDeps{
			Counters:  counterRepo,
			Orders:    ordersRepo,
			Scheme:    scheme,
			CounterID: cfg.Orders.CounterID,
			Clock:     clock,
			Meter:     infra.Meter,
			Logger:    ServiceLogger(logger.Named("sequence")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build sequence allocator: %w", err)
		}
		svc.Allocator = allocator
	}

	if addressRepo := reg.Addresses(); addressRepo != nil {
		addressSvc, err := services.NewAddressService(services.AddressServiceDeps{
			Addresses: addressRepo,
			Clock:     clock,
			Logger:    ServiceLogger(logger.Named("addresses")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build address service: %w", err)
		}
		svc.Addresses = addressSvc
	}

	if cartRepo := reg.Carts(); cartRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Repository:      cartRepo,
			Products:        productsRepo,
			WeightTiers:     domain.DefaultWeightTiers,
			Clock:           clock,
			DefaultCurrency: cfg.Orders.Currency,
			Logger:          ServiceLogger(logger.Named("cart")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	if ordersRepo != nil && svc.Ledger != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:   ordersRepo,
			Ledger:   svc.Ledger,
			Notifier: svc.Notifier,
			Audit:    svc.Audit,
			Scheme:   scheme,
			Clock:    clock,
			Logger:   ServiceLogger(logger.Named("orders")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if ordersRepo != nil && svc.Ledger != nil && svc.Allocator != nil {
		deps := services.CheckoutServiceDeps{
			Products:  productsRepo,
			Addresses: reg.Addresses(),
			Carts:     reg.Carts(),
			Orders:    ordersRepo,
			Allocator: svc.Allocator,
			Ledger:    svc.Ledger,
			Notifier:  svc.Notifier,
			Rates:     ShippingRates(cfg),
			Currency:  cfg.Orders.Currency,
			Clock:     clock,
			Meter:     infra.Meter,
			Logger:    ServiceLogger(logger.Named("checkout")),
		}
		// Only assign a live provider so the service sees a nil interface when cards are disabled.
		if infra.Payments != nil {
			deps.Payments = infra.Payments
		}
		checkoutSvc, err := services.NewCheckoutService(deps)
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
