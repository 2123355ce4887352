package domain

import "errors"

// Domain errors
var (
	ErrNotFound             = errors.New("player not found")
	ErrConflict             = errors.New("conflict")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrInvalidInput         = errors.New("invalid input")
	ErrRateLimited          = errors.New("action rate limit exceeded")
	ErrMaxTierReached       = errors.New("upgrade already at max tier")
	ErrInternalError        = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRejection reports whether err is a request-local rejection that left
// the player's state untouched.
func IsRejection(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientResource) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrMaxTierReached)
}
