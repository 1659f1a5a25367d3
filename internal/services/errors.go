package services

import (
	"errors"
	"fmt"

	"taskforest/internal/repositories"
)

var (
	// ErrValidation marks input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a task that does not resolve under the caller.
	ErrNotFound = errors.New("task not found")
	// ErrUpstream marks a failing collaborator such as object storage.
	ErrUpstream = errors.New("upstream service unavailable")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// fromRepo maps store errors onto the service taxonomy. A row that vanished
// mid-transaction surfaces as not-found too.
func fromRepo(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
