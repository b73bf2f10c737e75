package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/shopfront/api/internal/domain"
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []OrderStatusEvent
	block   chan struct{}
	publish func(context.Context, OrderStatusEvent) error
}

func (p *recordingPublisher) PublishStatus(ctx context.Context, event OrderStatusEvent) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	if p.publish != nil {
		return p.publish(ctx, event)
	}
	return nil
}

func (p *recordingPublisher) snapshot() []OrderStatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderStatusEvent(nil), p.events...)
}

func TestStatusNotifierFansOutToEveryPublisher(t *testing.T) {
	redisPub := &recordingPublisher{}
	pubsubPub := &recordingPublisher{}
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	notifier := NewStatusNotifier(StatusNotifierDeps{
		Publishers: []StatusPublisher{redisPub, nil, pubsubPub},
		Clock:      func() time.Time { return now },
	})

	tracking := "TRK-1"
	order := domain.Order{ID: "01J", OrderID: "ORD00042", UserID: "u1", Status: domain.OrderStatusShipped, TotalAmount: 350, TrackingNumber: &tracking}
	notifier.Notify(context.Background(), order, domain.OrderStatusProcessing)

	if err := notifier.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, pub := range []*recordingPublisher{redisPub, pubsubPub} {
		events := pub.snapshot()
		if len(events) != 1 {
			t.Fatalf("expected one event per publisher, got %d", len(events))
		}
		got := events[0]
		if got.Channel != "order-ORD00042" || got.Status != "shipped" || got.PreviousStatus != "processing" || got.TrackingNumber != "TRK-1" || !got.OccurredAt.Equal(now) {
			t.Fatalf("unexpected event %+v", got)
		}
	}
}

func TestStatusNotifierDoesNotBlockCaller(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	notifier := NewStatusNotifier(StatusNotifierDeps{Publishers: []StatusPublisher{pub}, Timeout: time.Minute})

	returned := make(chan struct{})
	go func() {
		notifier.Notify(context.Background(), domain.Order{OrderID: "ORD00001", Status: domain.OrderStatusPending}, "")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow publisher")
	}

	close(pub.block)
	if err := notifier.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(pub.snapshot()) != 1 {
		t.Fatalf("expected drained publish")
	}
}

func TestStatusNotifierLogsPublishFailures(t *testing.T) {
	recorder := &eventRecorder{}
	pub := &recordingPublisher{publish: func(context.Context, OrderStatusEvent) error { return errors.New("redis down") }}
	notifier := NewStatusNotifier(StatusNotifierDeps{Publishers: []StatusPublisher{pub}, Logger: recorder.log})

	notifier.Notify(context.Background(), domain.Order{OrderID: "ORD00001", Status: domain.OrderStatusCancelled}, domain.OrderStatusPending)
	_ = notifier.Close(context.Background())

	event, ok := recorder.find("order.status.notify.failed")
	if !ok || event.fields["error"] != "redis down" {
		t.Fatalf("expected failure to be logged, got %+v", recorder.events)
	}
}

func TestStatusNotifierSurvivesCancelledRequestContext(t *testing.T) {
	pub := &recordingPublisher{}
	notifier := NewStatusNotifier(StatusNotifierDeps{Publishers: []StatusPublisher{pub}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	notifier.Notify(ctx, domain.Order{OrderID: "ORD00001", Status: domain.OrderStatusPending}, "")
	_ = notifier.Close(context.Background())

	if len(pub.snapshot()) != 1 {
		t.Fatalf("expected publish to outlive the request context")
	}
}

func TestStatusNotifierCloseTimesOutAndDropsLateEvents(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	notifier := NewStatusNotifier(StatusNotifierDeps{Publishers: []StatusPublisher{pub}, Timeout: time.Minute})
	notifier.Notify(context.Background(), domain.Order{OrderID: "ORD00001", Status: domain.OrderStatusPending}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := notifier.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	notifier.Notify(context.Background(), domain.Order{OrderID: "ORD00002", Status: domain.OrderStatusPending}, "")
	close(pub.block)
	_ = notifier.Close(context.Background())
	if events := pub.snapshot(); len(events) != 1 || events[0].OrderID != "ORD00001" {
		t.Fatalf("expected only the pre-close event, got %+v", events)
	}
}
