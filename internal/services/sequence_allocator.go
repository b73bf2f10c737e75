package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/platform/observability"
	"github.com/shopfront/api/internal/repositories"
)

const (
	defaultOrderCounterID = "orders"
	fallbackSuffixLength  = 4
)

// SequenceAllocatorDeps bundles collaborators required to construct the allocator.
type SequenceAllocatorDeps struct {
	Counters repositories.CounterRepository
	// Orders supplies identifier history for the one-time counter seed. Optional.
	Orders    repositories.OrderRepository
	Scheme    domain.OrderIDScheme
	CounterID string
	Clock     func() time.Time
	// Suffix returns the random tail of a fallback identifier.
	Suffix func() string
	Meter  metric.Meter
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type sequenceAllocator struct {
	counters  repositories.CounterRepository
	orders    repositories.OrderRepository
	scheme    domain.OrderIDScheme
	counterID string
	clock     func() time.Time
	suffix    func() string
	degraded  observability.Counter
	logger    func(context.Context, string, map[string]any)

	seedMu sync.Mutex
	seeded bool
}

// NewSequenceAllocator constructs the order identifier allocator on top of the counter repository.
func NewSequenceAllocator(deps SequenceAllocatorDeps) (SequenceAllocator, error) {
	if deps.Counters == nil {
		return nil, errors.New("sequence allocator: counter repository is required")
	}

	scheme := deps.Scheme
	if strings.TrimSpace(scheme.Prefix) == "" {
		scheme = domain.DefaultOrderIDScheme
	}
	counterID := strings.TrimSpace(deps.CounterID)
	if counterID == "" {
		counterID = defaultOrderCounterID
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	suffix := deps.Suffix
	if suffix == nil {
		suffix = func() string {
			id := ulid.Make().String()
			return id[len(id)-fallbackSuffixLength:]
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &sequenceAllocator{
		counters:  deps.Counters,
		orders:    deps.Orders,
		scheme:    scheme,
		counterID: counterID,
		clock: func() time.Time {
			return clock().UTC()
		},
		suffix:   suffix,
		degraded: observability.NewCounter(deps.Meter, "orders.id_allocator.degraded", "Order identifiers issued by the timestamp fallback", nil),
		logger:   logger,
	}, nil
}

func (a *sequenceAllocator) Allocate(ctx context.Context) string {
	if err := a.ensureSeeded(ctx); err != nil {
		return a.fallback(ctx, "seed", err)
	}

	value, err := a.counters.Next(ctx, a.counterID, 1)
	if err != nil {
		stage := "next"
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorExhausted {
			stage = "exhausted"
		}
		return a.fallback(ctx, stage, err)
	}
	return a.scheme.Format(value)
}

// ensureSeeded migrates identifier history into the counter and caps it at the scheme's padded
// width, once per process. Seed is a create-if-absent write, so concurrent instances racing here
// cannot lower the counter. Once the cap is reached Next reports exhaustion and Allocate issues
// fallback identifiers.
func (a *sequenceAllocator) ensureSeeded(ctx context.Context) error {
	a.seedMu.Lock()
	defer a.seedMu.Unlock()
	if a.seeded {
		return nil
	}

	if a.orders != nil {
		ids, err := a.orders.ListOrderIDs(ctx)
		if err != nil {
			return fmt.Errorf("list order ids: %w", err)
		}
		highest := a.scheme.HighestSequence(ids)
		written, err := a.counters.Seed(ctx, a.counterID, highest)
		if err != nil {
			return fmt.Errorf("seed counter: %w", err)
		}
		if written {
			a.logger(ctx, "orders.id_allocator.seeded", map[string]any{
				"counterId": a.counterID,
				"value":     highest,
				"history":   len(ids),
			})
		}
	}

	ceiling := a.scheme.MaxSequence()
	if err := a.counters.Configure(ctx, a.counterID, repositories.CounterConfig{MaxValue: &ceiling}); err != nil {
		return fmt.Errorf("cap counter: %w", err)
	}
	a.seeded = true
	return nil
}

func (a *sequenceAllocator) fallback(ctx context.Context, stage string, cause error) string {
	// The separators keep fallback identifiers from ever parsing as canonical counter values.
	id := fmt.Sprintf("%s-%d-%s", a.scheme.Prefix, a.clock().UnixMilli(), strings.ToUpper(a.suffix()))
	a.degraded.Inc(ctx, attribute.String("stage", stage))
	a.logger(ctx, "orders.id_allocator.degraded", map[string]any{
		"degraded": true,
		"stage":    stage,
		"orderId":  id,
		"error":    cause.Error(),
	})
	return id
}
