package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

var (
	// ErrFulfillmentInvalidInput signals the caller provided invalid arguments.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrFulfillmentNotFound indicates the cart could not be located.
	ErrFulfillmentNotFound = errors.New("fulfillment: cart not found")
	// ErrFulfillmentConflict indicates the cart changed while it was being updated.
	ErrFulfillmentConflict = errors.New("fulfillment: cart changed concurrently")
	// ErrFulfillmentUnavailable indicates persistence is temporarily unavailable.
	ErrFulfillmentUnavailable = errors.New("fulfillment: repository unavailable")
	// ErrCollaboratorUnavailable indicates an AI collaborator or camera failed.
	ErrCollaboratorUnavailable = errors.New("fulfillment: collaborator unavailable")
	// ErrDetectionCooldown indicates the vision collaborator asked the engine to back off.
	ErrDetectionCooldown = errors.New("fulfillment: detection cooling down")
	// ErrBottleSessionClosed is returned by operations on a closed session.
	ErrBottleSessionClosed = errors.New("fulfillment: bottle session closed")
	// ErrBottleSessionNotFound indicates the cart has no active bottle session.
	ErrBottleSessionNotFound = errors.New("fulfillment: bottle session not found")
)

// rateLimited is implemented by collaborator errors that carry a back-off hint.
type rateLimited interface {
	RetryAfter() time.Duration
}

// retryAfter reports whether err is a rate limit signal and the hinted delay, which may be zero.
func retryAfter(err error) (time.Duration, bool) {
	var rl rateLimited
	if errors.As(err, &rl) {
		return rl.RetryAfter(), true
	}
	return 0, false
}

func mapFulfillmentRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrFulfillmentPhase, ErrFulfillmentInvalidInput, ErrFulfillmentNotFound, ErrFulfillmentConflict, ErrFulfillmentUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrFulfillmentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrFulfillmentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrFulfillmentUnavailable, err)
		}
	}
	return fmt.Errorf("fulfillment: repository error: %w", err)
}
