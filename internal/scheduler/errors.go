// Package scheduler manages named, per-product schedules that fire events
// back into the local dispatcher.
package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for schedule operations.
var (
	// ErrScheduleNotFound indicates the requested schedule does not exist.
	ErrScheduleNotFound = errors.New("scheduler: schedule not found")

	// ErrScheduleExists indicates a schedule with the same name already
	// exists for the product.
	ErrScheduleExists = errors.New("scheduler: schedule already exists")

	// ErrRecurringExists indicates the product already has an active
	// recurring schedule.
	ErrRecurringExists = errors.New("scheduler: recurring schedule already exists")

	// ErrNotRunning indicates the manager has not been started.
	ErrNotRunning = errors.New("scheduler: manager not running")
)

// ValidationError indicates a schedule definition failed structural
// validation before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("scheduler: invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("scheduler: %s", e.Message)
}

// Is implements errors.Is for ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ErrValidation is a sentinel for errors.Is matching.
var ErrValidation = &ValidationError{}
