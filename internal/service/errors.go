package service

import (
	"errors"
	"fmt"

	"reglament/internal/occurrence"
	"reglament/internal/store"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("not allowed for this user")
	ErrValidation      = errors.New("invalid input")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

var (
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrOperationNotFound = fmt.Errorf("operation %w", ErrNotFound)
	ErrReminderNotFound  = fmt.Errorf("reminder %w", ErrNotFound)

	ErrStartDateInPast = fmt.Errorf("%w: start date is in the past", ErrValidation)
	ErrBlankTheme      = fmt.Errorf("%w: theme is required", ErrValidation)
	ErrBadOffset       = fmt.Errorf("%w: reminder offset must be positive", ErrValidation)
)

// notFound maps a storage miss onto kind and passes other errors through.
func notFound(err, kind error) error {
	if errors.Is(err, store.ErrNotFound) {
		return kind
	}
	return err
}

func scheduleErr(err error) error {
	var fe *occurrence.ScheduleFormatError
	if errors.As(err, &fe) {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, fe)
	}
	return err
}
