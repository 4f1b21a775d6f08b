package confirmation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is the in-memory Repository used by tests and the
// simulator.
type MemoryRepository struct {
	mu       sync.Mutex
	rows     []PendingConfirmation
	statuses map[string]ConnectionStatus
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{statuses: make(map[string]ConnectionStatus)}
}

func (r *MemoryRepository) Create(_ context.Context, appointmentID int64, phone string, ttl time.Duration) (*PendingConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.AppointmentID != appointmentID {
			kept = append(kept, row)
		}
	}
	r.rows = kept

	now := time.Now().UTC()
	pc := PendingConfirmation{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Phone:         phone,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	r.rows = append(r.rows, pc)
	return &pc, nil
}

// Insert adds a row verbatim, letting tests backdate CreatedAt or
// ExpiresAt.
func (r *MemoryRepository) Insert(pc PendingConfirmation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	r.rows = append(r.rows, pc)
}

func (r *MemoryRepository) FindActiveByPhones(_ context.Context, candidates []string, now time.Time) ([]PendingConfirmation, error) {
	return r.find(candidates, nil, now), nil
}

func (r *MemoryRepository) FindOtherActiveForPhones(_ context.Context, candidates []string, excludeAppointmentID int64, now time.Time) ([]PendingConfirmation, error) {
	return r.find(candidates, &excludeAppointmentID, now), nil
}

func (r *MemoryRepository) find(candidates []string, exclude *int64, now time.Time) []PendingConfirmation {
	set := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []PendingConfirmation
	for _, row := range r.rows {
		if !row.ExpiresAt.After(now) {
			continue
		}
		if exclude != nil && row.AppointmentID == *exclude {
			continue
		}
		if _, ok := set[row.Phone]; ok {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) DeleteByAppointment(_ context.Context, appointmentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.AppointmentID != appointmentID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.ExpiresAt.After(now) {
			kept = append(kept, row)
		} else {
			purged++
		}
	}
	r.rows = kept
	return purged, nil
}

func (r *MemoryRepository) UpsertConnectionStatus(_ context.Context, phone, status string, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[phone] = ConnectionStatus{
		PhoneNumber: phone,
		Status:      status,
		Disabled:    disabled,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

// All returns a snapshot of every row, for assertions.
func (r *MemoryRepository) All() []PendingConfirmation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingConfirmation, len(r.rows))
	copy(out, r.rows)
	return out
}

// Status returns the recorded connection status for phone.
func (r *MemoryRepository) Status(phone string) (ConnectionStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[phone]
	return st, ok
}
