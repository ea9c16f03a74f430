package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSessionNotFound     = errors.New("checkout session not found")

	// ErrSlotTaken is returned when the (provider, date, start_time) key is
	// already held by a pending or confirmed appointment.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrStaleStatus is returned by compare-and-set updates when the
	// persisted status no longer matches the expected one.
	ErrStaleStatus = errors.New("status changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error)

	// Reserve atomically checks-and-inserts against the active-slot
	// uniqueness constraint. A loser of a concurrent race gets ErrSlotTaken.
	Reserve(ctx context.Context, appt *Appointment) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)
	ListBookedStartTimes(ctx context.Context, providerID uuid.UUID, date time.Time) ([]string, error)

	// UpdateStatus is a compare-and-set on the persisted status; it never
	// writes when the row is not exactly in `from`.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, declineReason *string) (*Appointment, error)

	// UpdatePaymentStatus moves payment_status to `to` only from one of
	// `from`; status is untouched.
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from []PaymentStatus, to PaymentStatus) (*Appointment, error)

	// MarkPaidClinic settles a clinic-method payment. The method, the
	// not-already-paid check and the terminal-status guard are enforced in
	// the same statement as the write.
	MarkPaidClinic(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ApplyPaidOutcome applies a successful gateway callback. If the
	// appointment is still pending or confirmed it becomes paid; if it
	// reached a terminal status first, the payment is flagged refund_due
	// instead. Already-paid rows are left alone.
	ApplyPaidOutcome(ctx context.Context, id uuid.UUID) (*Appointment, error)

	ClearHistory(ctx context.Context, patientID uuid.UUID) (int64, error)

	CreateCheckoutSession(ctx context.Context, s CheckoutSession) error
	GetCheckoutSessionByRef(ctx context.Context, gateway, externalRef string) (*CheckoutSession, error)

	// CallbackSeen reports whether a gateway event id is already recorded.
	// The service checks it at entry and calls MarkCallbackProcessed only
	// after the outcome is applied, so a transient failure in between leaves
	// the gateway's redelivery able to retry.
	CallbackSeen(ctx context.Context, gateway, eventID string) (bool, error)

	// MarkCallbackProcessed records a gateway event id; it returns false when
	// the event was seen before. Safe under concurrent delivery of the same
	// event.
	MarkCallbackProcessed(ctx context.Context, gateway, eventID string) (bool, error)

	// FindStaleWalletPayments lists wallet appointments whose checkout has
	// sat in payment_status=pending since before the cutoff.
	FindStaleWalletPayments(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
