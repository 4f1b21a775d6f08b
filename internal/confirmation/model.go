package confirmation

import (
	"time"

	"github.com/google/uuid"
)

// PendingConfirmation is one appointment awaiting the patient's
// confirm/cancel reply. Rows are created only after the outbound
// message was actually delivered, so the reply window starts at real
// delivery, and expire lazily: lookups simply exclude expired rows.
type PendingConfirmation struct {
	ID            uuid.UUID
	AppointmentID int64
	Phone         string // canonical bare-digit form
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// ConnectionStatus is the persisted status row for one phone number's
// connection, owned by the store collaborator.
type ConnectionStatus struct {
	PhoneNumber string
	Status      string
	Disabled    bool
	UpdatedAt   time.Time
}
