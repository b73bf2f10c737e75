//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopfront/api/internal/repositories"
)

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	seeded, err := repo.Seed(ctx, "orders", 41)
	if err != nil || !seeded {
		t.Fatalf("seed: seeded=%v err=%v", seeded, err)
	}

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if expected := int64(42 + i); val != expected {
			t.Fatalf("expected sequence %d at position %d, got %d (%v)", expected, i, val, results)
		}
	}

	seeded, err = repo.Seed(ctx, "orders", 1)
	if err != nil || seeded {
		t.Fatalf("expected second seed to be ignored, seeded=%v err=%v", seeded, err)
	}
	next, err := repo.Next(ctx, "orders", 0)
	if err != nil || next != 42+workers {
		t.Fatalf("expected counter to continue at %d, got %d err=%v", 42+workers, next, err)
	}

	maxValue := int64(2)
	start := int64(0)
	if err := repo.Configure(ctx, "bounded", repositories.CounterConfig{Step: 1, MaxValue: &maxValue, InitialValue: &start}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	for i := int64(1); i <= maxValue; i++ {
		if v, err := repo.Next(ctx, "bounded", 0); err != nil || v != i {
			t.Fatalf("bounded next %d: got %d err=%v", i, v, err)
		}
	}
	_, err = repo.Next(ctx, "bounded", 0)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorExhausted {
		t.Fatalf("expected exhausted counter error, got %v", err)
	}
}
