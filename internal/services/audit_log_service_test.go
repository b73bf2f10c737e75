package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/shopfront/api/internal/domain"
)

type stubAuditRepo struct {
	entries   []domain.AuditLogEntry
	appendErr error

	listTarget string
	listLimit  int
	listResp   []domain.AuditLogEntry
	listErr    error
}

func (s *stubAuditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	s.entries = append(s.entries, entry)
	return s.appendErr
}

func (s *stubAuditRepo) ListByTarget(_ context.Context, targetRef string, limit int) ([]domain.AuditLogEntry, error) {
	s.listTarget = targetRef
	s.listLimit = limit
	return s.listResp, s.listErr
}

func TestAuditLogServiceRecordSanitizesAndHashes(t *testing.T) {
	repo := &stubAuditRepo{}
	recorder := &eventRecorder{}
	fixed := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Repository: repo,
		Clock: func() time.Time {
			return fixed
		},
		Logger:   recorder.log,
		HashSalt: "pepper:",
	})
	if err != nil {
		t.Fatalf("new audit log service: %v", err)
	}

	svc.Record(context.Background(), AuditLogRecord{
		Actor:      "  user:admin-1  ",
		Action:     " order.status.transition ",
		TargetRef:  " orders/ORD00001 ",
		RequestID:  " req-123\x00 ",
		OccurredAt: fixed.Add(-time.Minute),
		Metadata:   map[string]any{"email": "User@example.com", "reason": "Customer request", "override": true},
		Diff: map[string]AuditLogDiff{
			"status": {Before: "delivered", After: "pending"},
			"phone":  {Before: "+977-1", After: "+977-2"},
		},
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]

	if entry.Actor != "user:admin-1" || entry.ActorType != "user" {
		t.Fatalf("unexpected actor %q type %q", entry.Actor, entry.ActorType)
	}
	if entry.TargetRef != "orders/ORD00001" || entry.Action != "order.status.transition" {
		t.Fatalf("unexpected target %q action %q", entry.TargetRef, entry.Action)
	}
	if entry.RequestID != "req-123" {
		t.Fatalf("expected control characters stripped, got %q", entry.RequestID)
	}
	if !entry.CreatedAt.Equal(fixed.Add(-time.Minute)) {
		t.Fatalf("expected occurred time preserved, got %s", entry.CreatedAt)
	}

	email, ok := entry.Metadata["email"].(string)
	if !ok || !strings.HasPrefix(email, defaultHasherPrefix) {
		t.Fatalf("expected hashed email, got %#v", entry.Metadata["email"])
	}
	if entry.Metadata["reason"] != "Customer request" || entry.Metadata["override"] != true {
		t.Fatalf("expected plain metadata preserved, got %#v", entry.Metadata)
	}
	if status := entry.Diff["status"]; status.Before != "delivered" || status.After != "pending" {
		t.Fatalf("expected status diff preserved, got %#v", status)
	}
	phone := entry.Diff["phone"]
	if before, _ := phone.Before.(string); !strings.HasPrefix(before, defaultHasherPrefix) || phone.Before == phone.After {
		t.Fatalf("expected distinct hashed phone diff, got %#v", phone)
	}
	if len(recorder.events) != 0 {
		t.Fatalf("expected no log events, got %+v", recorder.events)
	}
}

func TestAuditLogServiceRecordLogsOnFailure(t *testing.T) {
	repo := &stubAuditRepo{appendErr: errors.New("boom")}
	recorder := &eventRecorder{}

	svc, err := NewAuditLogService(AuditLogServiceDeps{Repository: repo, Logger: recorder.log})
	if err != nil {
		t.Fatalf("new audit log service: %v", err)
	}

	svc.Record(context.Background(), AuditLogRecord{Actor: "system", Action: "test.action", TargetRef: "resource:1"})

	if _, ok := recorder.find("audit.append.failed"); !ok {
		t.Fatalf("expected failure to be logged")
	}
	if len(repo.entries) != 1 || repo.entries[0].ActorType != "system" {
		t.Fatalf("expected append invoked once with inferred actor type, got %+v", repo.entries)
	}
}

func TestAuditLogServiceListByTargetClampsLimit(t *testing.T) {
	repo := &stubAuditRepo{listResp: []domain.AuditLogEntry{{ID: "log-1"}}}
	svc, err := NewAuditLogService(AuditLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new audit log service: %v", err)
	}

	entries, err := svc.ListByTarget(context.Background(), " orders/ORD00001 ", 5000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || repo.listTarget != "orders/ORD00001" || repo.listLimit != maxAuditLimit {
		t.Fatalf("unexpected delegation target=%q limit=%d entries=%v", repo.listTarget, repo.listLimit, entries)
	}

	if _, err := svc.ListByTarget(context.Background(), "orders/x", 0); err != nil || repo.listLimit != defaultAuditLimit {
		t.Fatalf("expected default limit, got %d err=%v", repo.listLimit, err)
	}
	if _, err := svc.ListByTarget(context.Background(), "  ", 10); err == nil {
		t.Fatalf("expected error for blank target")
	}
}

func TestAuditLogServiceHashAnyProducesStableHashes(t *testing.T) {
	service, err := NewAuditLogService(AuditLogServiceDeps{Repository: &stubAuditRepo{}})
	if err != nil {
		t.Fatalf("new audit log service: %v", err)
	}
	impl := service.(*auditLogService)

	first := map[string]any{"line1": "1 Road", "city": "Kathmandu"}
	second := map[string]any{"city": "Kathmandu", "line1": "1 Road"}

	if impl.hashAny(first) != impl.hashAny(second) {
		t.Fatalf("expected stable hash for equal maps")
	}
	if impl.hashAny(" a ") != impl.hashAny("a") {
		t.Fatalf("expected surrounding whitespace to be ignored")
	}
}
