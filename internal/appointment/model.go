package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further status transition is possible.
// A confirmed appointment is not terminal and still occupies its slot.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodClinic  PaymentMethod = "clinic"
	MethodWalletA PaymentMethod = "wallet_a"
	MethodWalletB PaymentMethod = "wallet_b"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodClinic, MethodWalletA, MethodWalletB:
		return true
	}
	return false
}

// Wallet reports whether payment settles through an external redirect checkout.
func (m PaymentMethod) Wallet() bool {
	return m == MethodWalletA || m == MethodWalletB
}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefundDue PaymentStatus = "refund_due"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Actor is the already-authenticated caller identity supplied by the auth
// collaborator. The core trusts it as verified.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClinicService is a catalog entry. Price and duration are copied onto the
// appointment at booking time, so later edits never touch existing bookings.
type ClinicService struct {
	ID              uuid.UUID
	Name            string
	Price           int64
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Appointment is the aggregate root. The contention key is
// (ProviderID, Date, StartTime); at most one pending or confirmed appointment
// may hold it at any time.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	ServiceID       uuid.UUID
	Date            time.Time // calendar day in the clinic timezone
	StartTime       string    // "15:04"
	DurationMinutes int       // snapshot taken at booking
	Price           int64     // snapshot taken at booking
	Status          Status
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	DeclineReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CheckoutSession correlates an external wallet checkout with an appointment.
// Webhook callbacks carry only the gateway name and ExternalRef.
type CheckoutSession struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Gateway       string
	ExternalRef   string
	RedirectURL   string
	CreatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
