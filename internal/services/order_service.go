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

const (
	orderAuditStatusTransition = "order.status.transition"
	orderAuditPaymentUpdated   = "order.payment.updated"

	maxTransitionAttempts = 3
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller may not read the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates a concurrent write won.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Ledger   InventoryLedger
	Notifier StatusNotifier
	Audit    AuditLogService
	Scheme   domain.OrderIDScheme
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	ledger   InventoryLedger
	notifier StatusNotifier
	audit    AuditLogService
	scheme   domain.OrderIDScheme
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: inventory ledger is required")
	}

	scheme := deps.Scheme
	if strings.TrimSpace(scheme.Prefix) == "" {
		scheme = domain.DefaultOrderIDScheme
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &orderService{
		orders:   deps.Orders,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		scheme:   scheme,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd OrderLookupCommand) (Order, error) {
	order, err := s.resolve(ctx, cmd.OrderRef)
	if err != nil {
		return Order{}, err
	}
	if !cmd.Privileged && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, order.OrderID)
	}
	return order, nil
}

// TransitionStatus moves an order to any status. Moves off the forward path are allowed as
// administrative overrides and flagged in the audit trail. Stock is credited back only when
// the order enters cancelled from a status other than cancelled.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	target, err := domain.ParseOrderStatus(cmd.TargetStatus)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return s.transition(ctx, cmd, target)
}

func (s *orderService) BulkTransition(ctx context.Context, cmd BulkStatusTransitionCommand) (BulkTransitionResult, error) {
	if len(cmd.OrderRefs) == 0 {
		return BulkTransitionResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	target, err := domain.ParseOrderStatus(cmd.TargetStatus)
	if err != nil {
		return BulkTransitionResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	result := BulkTransitionResult{Results: make([]BulkTransitionItem, 0, len(cmd.OrderRefs))}
	for _, ref := range cmd.OrderRefs {
		item := BulkTransitionItem{OrderRef: ref}
		order, err := s.transition(ctx, OrderStatusTransitionCommand{
			OrderRef:  ref,
			ActorID:   cmd.ActorID,
			ActorType: cmd.ActorType,
			Reason:    cmd.Reason,
		}, target)
		if err != nil {
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Success = true
			item.Order = &order
			result.Successful++
		}
		result.Results = append(result.Results, item)
	}

	s.logger(ctx, "order.status.bulk", map[string]any{
		"target":     string(target),
		"successful": result.Successful,
		"failed":     result.Failed,
	})
	return result, nil
}

func (s *orderService) RecordPaymentOutcome(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error) {
	intentID := strings.TrimSpace(cmd.PaymentIntentID)
	if intentID == "" {
		return Order{}, fmt.Errorf("%w: payment intent id is required", ErrOrderInvalidInput)
	}
	switch cmd.Status {
	case domain.PaymentStatusPaid, domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
	default:
		return Order{}, fmt.Errorf("%w: unsupported payment status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.UpdatePaymentStatus(ctx, intentID, cmd.Status, s.clock())
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:     "system:stripe",
		ActorType: "system",
		Action:    orderAuditPaymentUpdated,
		TargetRef: orderTargetRef(order),
		Metadata:  map[string]any{"paymentIntentId": intentID, "eventId": cmd.EventID},
		Diff:      map[string]AuditLogDiff{"paymentStatus": {After: string(cmd.Status)}},
	})
	s.notify(ctx, order, order.Status)
	return order, nil
}

func (s *orderService) transition(ctx context.Context, cmd OrderStatusTransitionCommand, target OrderStatus) (Order, error) {
	var (
		order    Order
		previous OrderStatus
		restore  bool
		err      error
	)
	for attempt := 1; ; attempt++ {
		order, previous, restore, err = s.applyTransition(ctx, cmd, target)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOrderConflict) || attempt >= maxTransitionAttempts {
			return Order{}, err
		}
		s.logger(ctx, "order.status.retry", map[string]any{
			"orderRef": cmd.OrderRef,
			"attempt":  attempt,
			"error":    err.Error(),
		})
	}

	// Stock is credited only by the write that moved the order into cancelled, so overlapping
	// cancels of the same order credit it once.
	if restore {
		if err := s.ledger.RestoreLines(ctx, order.Items); err != nil {
			s.logger(ctx, "order.stock.restore.failed", map[string]any{
				"orderId": order.OrderID,
				"error":   err.Error(),
			})
		}
	}

	reason := strings.TrimSpace(cmd.Reason)
	override := !domain.IsForwardMove(previous, target)
	metadata := map[string]any{"override": override, "stockRestored": restore}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.recordAudit(ctx, AuditLogRecord{
		Actor:     cmd.ActorID,
		ActorType: cmd.ActorType,
		Action:    orderAuditStatusTransition,
		TargetRef: orderTargetRef(order),
		Metadata:  metadata,
		Diff:      map[string]AuditLogDiff{"status": {Before: string(previous), After: string(target)}},
	})
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":  order.OrderID,
		"from":     string(previous),
		"to":       string(target),
		"override": override,
	})
	s.notify(ctx, order, previous)
	return order, nil
}

// applyTransition reads the order and writes the target status guarded by the status it read.
func (s *orderService) applyTransition(ctx context.Context, cmd OrderStatusTransitionCommand, target OrderStatus) (Order, OrderStatus, bool, error) {
	order, err := s.resolve(ctx, cmd.OrderRef)
	if err != nil {
		return Order{}, "", false, err
	}

	previous := order.Status
	restore := order.ApplyStatus(target, s.clock())

	reason := strings.TrimSpace(cmd.Reason)
	if target == domain.OrderStatusCancelled && reason != "" {
		order.CancellationReason = &reason
	}
	if cmd.TrackingNumber != nil {
		tracking := strings.TrimSpace(*cmd.TrackingNumber)
		order.TrackingNumber = &tracking
	}
	if cmd.EstimatedDelivery != nil {
		eta := cmd.EstimatedDelivery.UTC()
		order.EstimatedDelivery = &eta
	}

	if err := s.orders.Update(ctx, order, previous); err != nil {
		return Order{}, "", false, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, previous, restore, nil
}

// resolve finds an order by its human-readable identifier in canonical or legacy spelling,
// then by storage key.
func (s *orderService) resolve(ctx context.Context, ref string) (Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	for _, candidate := range s.scheme.LookupCandidates(ref) {
		order, err := s.orders.FindByOrderID(ctx, candidate)
		if err == nil {
			return order, nil
		}
		if !isRepositoryNotFound(err) {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}

	order, err := s.orders.FindByID(ctx, ref)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, ref)
		}
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, nil
}

func (s *orderService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	record.OccurredAt = s.clock()
	s.audit.Record(ctx, record)
}

func (s *orderService) notify(ctx context.Context, order Order, previous OrderStatus) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, order, previous)
}

func orderTargetRef(order Order) string {
	return "orders/" + order.OrderID
}
