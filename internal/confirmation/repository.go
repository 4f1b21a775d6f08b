package confirmation

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("pending confirmation not found")

// Repository contains all store interactions the core needs.
type Repository interface {
	// Create inserts a fresh pending confirmation, superseding any
	// prior rows for the same appointment.
	Create(ctx context.Context, appointmentID int64, phone string, ttl time.Duration) (*PendingConfirmation, error)

	// FindActiveByPhones returns non-expired confirmations whose phone
	// matches any candidate form, most recently created first.
	FindActiveByPhones(ctx context.Context, candidates []string, now time.Time) ([]PendingConfirmation, error)

	// FindOtherActiveForPhones is FindActiveByPhones excluding one
	// appointment, used for follow-up prompts.
	FindOtherActiveForPhones(ctx context.Context, candidates []string, excludeAppointmentID int64, now time.Time) ([]PendingConfirmation, error)

	// DeleteByAppointment removes every row for the appointment,
	// including stale duplicates from retried sends.
	DeleteByAppointment(ctx context.Context, appointmentID int64) error

	// DeleteExpired removes rows past their TTL. Housekeeping only;
	// correctness does not depend on it.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// UpsertConnectionStatus records the latest connection state for a
	// phone number.
	UpsertConnectionStatus(ctx context.Context, phone, status string, disabled bool) error
}
