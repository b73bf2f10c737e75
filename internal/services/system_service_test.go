package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shopfront/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceStampsBuildMetadata(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "0.4.0", CommitSHA: "9f1c2e", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "0.4.0" || report.CommitSHA != "9f1c2e" || report.Environment != "staging" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 5*time.Minute {
		t.Fatalf("expected uptime 5m, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceReusesRecentReport(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{StartedAt: now},
		CacheTTL:         time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	first, _ := svc.HealthReport(context.Background())
	now = now.Add(500 * time.Millisecond)
	second, _ := svc.HealthReport(context.Background())
	if repo.calls != 1 {
		t.Fatalf("expected cached report, got %d collections", repo.calls)
	}
	if second.Uptime <= first.Uptime {
		t.Fatalf("expected uptime to advance on cached reports")
	}

	// mutating a returned report must not leak into the cache
	second.Checks["firestore"] = domain.SystemHealthCheck{Status: domain.HealthStatusError}

	now = now.Add(time.Second)
	third, _ := svc.HealthReport(context.Background())
	if repo.calls != 2 {
		t.Fatalf("expected a fresh collection after the ttl, got %d", repo.calls)
	}
	if third.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("unexpected check state %+v", third.Checks)
	}
}

func TestSystemServiceCacheDisabled(t *testing.T) {
	repo := &stubHealthRepository{}
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: repo, CacheTTL: -1})

	for i := 0; i < 3; i++ {
		if _, err := svc.HealthReport(context.Background()); err != nil {
			t.Fatalf("HealthReport: %v", err)
		}
	}
	if repo.calls != 3 {
		t.Fatalf("expected every call to collect, got %d", repo.calls)
	}
}

func TestSystemServiceDoesNotCacheErrors(t *testing.T) {
	expected := errors.New("collect failed")
	repo := &stubHealthRepository{err: expected}
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: repo})

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
	repo.err = nil
	if _, err := svc.HealthReport(context.Background()); err != nil {
		t.Fatalf("expected recovery after error, got %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected two collections, got %d", repo.calls)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestSystemServiceDerivesStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{name: "empty", want: domain.HealthStatusOK},
		{name: "optional down", checks: map[string]domain.SystemHealthCheck{
			"redis":     {Status: domain.HealthStatusDegraded},
			"firestore": {Status: domain.HealthStatusOK},
		}, want: domain.HealthStatusDegraded},
		{name: "required down", checks: map[string]domain.SystemHealthCheck{
			"redis":     {Status: domain.HealthStatusDegraded},
			"firestore": {Status: domain.HealthStatusError},
		}, want: domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}},
			})
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestFailingChecksSorted(t *testing.T) {
	report := SystemHealthReport{Checks: map[string]domain.SystemHealthCheck{
		"redis":     {Status: domain.HealthStatusDegraded},
		"firestore": {Status: domain.HealthStatusOK},
		"pubsub":    {Status: domain.HealthStatusError},
	}}
	got := FailingChecks(report)
	if len(got) != 2 || got[0] != "pubsub" || got[1] != "redis" {
		t.Fatalf("unexpected failing checks %v", got)
	}
}
