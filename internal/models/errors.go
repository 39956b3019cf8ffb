package models

import (
	"errors"
	"fmt"
	"time"
)

// Shared error taxonomy for the broadcast and chat cores. HTTP handlers map
// these to status codes; the websocket router maps them to error events.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyActive = errors.New("broadcast already active")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrValidation    = errors.New("invalid input")
)

// RateLimitError reports a slow-mode rejection with the remaining wait.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("slow mode active, wait %.0f seconds", e.Wait.Seconds())
}

// NotFoundf wraps ErrNotFound with a specific reason.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Unauthorizedf wraps ErrUnauthorized with a specific reason.
func Unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnauthorized)...)
}

// Validationf wraps ErrValidation with a specific reason.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}
