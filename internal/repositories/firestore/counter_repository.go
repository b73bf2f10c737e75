package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	SeededFrom   string    `firestore:"seededFrom,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	counters *pfirestore.BaseRepository[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next atomically increments the counter and returns the new value. A missing counter starts at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, id, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	now := r.clock()
	var nextValue int64

	err := r.counters.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		current, err := r.counters.GetTx(tx, ref)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			increment := max(step, 1)
			nextValue = increment
			return tx.Create(ref, counterDocument{CurrentValue: increment, Step: increment, UpdatedAt: now})
		}

		doc := current.Data
		increment := step
		if increment <= 0 {
			increment = max(doc.Step, 1)
		}
		newValue := doc.CurrentValue + increment
		if doc.MaxValue != nil && newValue > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, id, fmt.Sprintf("exceeded max value %d", *doc.MaxValue), nil)
		}

		nextValue = newValue
		return tx.Update(ref, []firestore.Update{
			{Path: "currentValue", Value: newValue},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			counterErr.Op = "counters.next"
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return nextValue, nil
}

// Seed creates the counter holding value unless it already exists. Existing counters are never
// lowered, so calling Seed again after allocations started is harmless.
func (r *CounterRepository) Seed(ctx context.Context, counterID string, value int64) (bool, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return false, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	if value < 0 {
		return false, repositories.NewCounterError(repositories.CounterErrorInvalidInput, id, fmt.Sprintf("seed must not be negative, got %d", value), nil)
	}

	var seeded bool
	err := r.counters.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		seeded = false
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if _, err := r.counters.GetTx(tx, ref); err == nil {
			return nil
		} else if !isNotFound(err) {
			return err
		}
		seeded = true
		return tx.Create(ref, counterDocument{
			CurrentValue: value,
			Step:         1,
			SeededFrom:   "order_history",
			UpdatedAt:    r.clock(),
		})
	})
	if err != nil {
		return false, pfirestore.WrapError("counters.seed", err)
	}
	return seeded, nil
}

// Configure updates optional settings for the counter such as step size, max value, or initial value.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}

	payload := map[string]any{"updatedAt": r.clock()}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
