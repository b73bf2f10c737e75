package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopfront/api/internal/repositories"
)

// ErrStorageUnavailable reports that the backing store could not be reached. Callers surface it
// as a retryable failure instead of substituting placeholder data.
var ErrStorageUnavailable = errors.New("storage unavailable")

// mapRepositoryError translates categorised repository failures into the service sentinels.
// Uncategorised errors pass through unchanged.
func mapRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict() && conflict != nil:
			return fmt.Errorf("%w: %v", conflict, err)
		}
	}
	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func noopLogger(context.Context, string, map[string]any) {}
