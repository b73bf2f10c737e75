package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	statusChannelPrefix  = "order-"
	defaultNotifyTimeout = 5 * time.Second
)

// StatusNotifierDeps bundles the transports the notifier fans out to. Nil publishers are skipped.
type StatusNotifierDeps struct {
	Publishers []StatusPublisher
	Timeout    time.Duration
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type statusNotifier struct {
	publishers []StatusPublisher
	timeout    time.Duration
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewStatusNotifier constructs a notifier. With no publishers every Notify call is a no-op.
func NewStatusNotifier(deps StatusNotifierDeps) StatusNotifier {
	publishers := make([]StatusPublisher, 0, len(deps.Publishers))
	for _, p := range deps.Publishers {
		if p != nil {
			publishers = append(publishers, p)
		}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &statusNotifier{
		publishers: publishers,
		timeout:    timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
}

// StatusChannel names the subscription channel for an order.
func StatusChannel(orderID string) string {
	return statusChannelPrefix + strings.TrimSpace(orderID)
}

// NewOrderStatusEvent builds the subscriber payload for an order.
func NewOrderStatusEvent(order Order, previous OrderStatus, at time.Time) OrderStatusEvent {
	event := OrderStatusEvent{
		Channel:        StatusChannel(order.OrderID),
		OrderID:        order.OrderID,
		StorageID:      order.ID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		PaymentStatus:  string(order.PaymentStatus),
		TotalAmount:    order.TotalAmount,
		OccurredAt:     at,
	}
	if order.TrackingNumber != nil {
		event.TrackingNumber = *order.TrackingNumber
	}
	return event
}

// Notify dispatches the event on background goroutines and returns immediately. Publish
// failures are logged and never reach the caller.
func (n *statusNotifier) Notify(ctx context.Context, order Order, previous OrderStatus) {
	if len(n.publishers) == 0 || strings.TrimSpace(order.OrderID) == "" {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger(ctx, "order.status.notify.dropped", map[string]any{"orderId": order.OrderID, "status": string(order.Status)})
		return
	}

	event := NewOrderStatusEvent(order, previous, n.clock())
	base := context.WithoutCancel(ctx)
	for _, publisher := range n.publishers {
		n.inflight.Add(1)
		go n.dispatch(base, publisher, event)
	}
}

func (n *statusNotifier) dispatch(ctx context.Context, publisher StatusPublisher, event OrderStatusEvent) {
	defer n.inflight.Done()
	defer func() {
		if rec := recover(); rec != nil {
			n.logger(ctx, "order.status.notify.failed", map[string]any{
				"orderId": event.OrderID,
				"status":  event.Status,
				"error":   fmt.Sprint(rec),
			})
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := publisher.PublishStatus(ctx, event); err != nil {
		n.logger(ctx, "order.status.notify.failed", map[string]any{
			"orderId":   event.OrderID,
			"status":    event.Status,
			"channel":   event.Channel,
			"publisher": fmt.Sprintf("%T", publisher),
			"error":     err.Error(),
		})
	}
}

// Close stops accepting events and waits for in-flight publishes or ctx expiry.
func (n *statusNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("status notifier: publishes still in flight"), ctx.Err())
	}
}
