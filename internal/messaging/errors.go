package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/petadopt/petchat/internal/store"
)

// Errors returned by the services. Callers match them with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrUnavailable    = errors.New("unavailable")
)

// storeErr maps a store error to the service taxonomy.
func storeErr(action string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, action)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, action, err)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
