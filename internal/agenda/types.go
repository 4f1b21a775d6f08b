package agenda

import "time"

// BlockStatus values understood by the appointment system.
type BlockStatus string

const (
	StatusConfirmed BlockStatus = "Confirmado"
	StatusCancelled BlockStatus = "Cancelado"
)

type TemplateKind string

const (
	TemplateConfirmation TemplateKind = "CONFIRMATION"
	TemplateCancellation TemplateKind = "CANCELLATION"
)

type TemplateVariant string

const (
	VariantAdult TemplateVariant = "ADULT"
	VariantMinor TemplateVariant = "MINOR"
)

// AppointmentDetails is what the appointment system knows about one
// scheduled visit, used to render patient-facing messages and to
// compare time blocks.
type AppointmentDetails struct {
	ID               int64     `json:"id"`
	PatientName      string    `json:"patientName"`
	PatientMinor     bool      `json:"patientMinor"`
	ProfessionalName string    `json:"professionalName"`
	ClinicID         int64     `json:"clinicId"`
	ClinicName       string    `json:"clinicName"`
	StartsAt         time.Time `json:"startsAt"`
	EndsAt           time.Time `json:"endsAt"`
}

// SameBlock reports whether two appointments occupy the same time
// block: same clinic, same calendar day, identical start and end
// instants. Duplicate confirmations inside one block are never
// prompted twice.
func (d AppointmentDetails) SameBlock(other AppointmentDetails) bool {
	sameDay := d.StartsAt.Year() == other.StartsAt.Year() &&
		d.StartsAt.YearDay() == other.StartsAt.YearDay()
	return d.ClinicID == other.ClinicID &&
		sameDay &&
		d.StartsAt.Equal(other.StartsAt) &&
		d.EndsAt.Equal(other.EndsAt)
}

// MessageStatusReport is delivery telemetry pushed to the appointment
// system, best-effort.
type MessageStatusReport struct {
	PhoneNumber   string `json:"phoneNumber"`
	Destination   string `json:"destination,omitempty"`
	AppointmentID *int64 `json:"appointmentId,omitempty"`
	Status        string `json:"status"`
	Detail        string `json:"detail,omitempty"`
}

// LifecycleEvent is connection/queue telemetry, best-effort.
type LifecycleEvent struct {
	PhoneNumber string `json:"phoneNumber"`
	Event       string `json:"event"`
	Detail      string `json:"detail,omitempty"`
}
