package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code raised by the partial unique
// index on (provider_id, date, start_time) over active statuses.
const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the repository uses; pgxmock satisfies it
// in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

func NewPgRepositoryWithDB(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, patient_id, provider_id, service_id, date, start_time,
	duration_minutes, price, status, payment_method, payment_status, decline_reason,
	created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var reason *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.ServiceID,
		&a.Date,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Price,
		&a.Status,
		&a.PaymentMethod,
		&a.PaymentStatus,
		&reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.DeclineReason = reason
	return &a, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(&p.ID, &p.Name, &email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string

	err := row.Scan(&p.ID, &p.Name, &specialty, &p.Available, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanService(row pgx.Row) (*ClinicService, error) {
	var s ClinicService

	err := row.Scan(&s.ID, &s.Name, &s.Price, &s.DurationMinutes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	return &s, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, available, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

// ProviderAvailable satisfies the calendar's provider lookup.
func (r *PgRepository) ProviderAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	p, err := r.GetProviderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Available, nil
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, price, duration_minutes, created_at, updated_at
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (r *PgRepository) Reserve(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, service_id, date, start_time,
			duration_minutes, price, status, payment_method, payment_status, decline_reason,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, 'unpaid', NULL, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.ProviderID, appt.ServiceID, appt.Date, appt.StartTime,
		appt.DurationMinutes, appt.Price, appt.PaymentMethod)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND date = $2
		ORDER BY start_time
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListBookedStartTimes(ctx context.Context, providerID uuid.UUID, date time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND status IN ('pending', 'confirmed')
		ORDER BY start_time
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return times, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, declineReason *string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    decline_reason = COALESCE($4, decline_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, declineReason)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.classifyMissedUpdate(ctx, id)
		}
		return nil, err
	}

	return updated, nil
}

// classifyMissedUpdate tells a missing row apart from a row whose status moved
// under us, so the caller can report InvalidTransition with the real current
// status.
func (r *PgRepository) classifyMissedUpdate(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetAppointmentByID(ctx, id); err != nil {
		return err
	}
	return ErrStaleStatus
}

func (r *PgRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from []PaymentStatus, to PaymentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, paymentStatusStrings(from))

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.classifyMissedUpdate(ctx, id)
		}
		return nil, err
	}

	return updated, nil
}

func paymentStatusStrings(in []PaymentStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func (r *PgRepository) MarkPaidClinic(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = 'paid',
		    updated_at = now()
		WHERE id = $1
		  AND payment_method = 'clinic'
		  AND payment_status <> 'paid'
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.classifyMissedUpdate(ctx, id)
		}
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) ApplyPaidOutcome(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	// The status re-check and the payment write are one statement, so a
	// cancellation racing the callback can never produce a paid terminal row.
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = CASE
		        WHEN status IN ('pending', 'confirmed') THEN 'paid'
		        ELSE 'refund_due'
		    END,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status <> 'paid'
		RETURNING `+appointmentColumns+`
	`, id)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Already paid: surface the current row so the caller sees a
			// settled state rather than an error.
			return r.GetAppointmentByID(ctx, id)
		}
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) ClearHistory(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE patient_id = $1
		  AND status IN ('pending', 'declined', 'cancelled')
	`, patientID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *PgRepository) CreateCheckoutSession(ctx context.Context, s CheckoutSession) error {
	id := s.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO checkout_sessions (id, appointment_id, gateway, external_ref, redirect_url, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, id, s.AppointmentID, s.Gateway, s.ExternalRef, s.RedirectURL)
	if err != nil {
		return fmt.Errorf("create checkout session: %w", err)
	}

	return nil
}

func (r *PgRepository) GetCheckoutSessionByRef(ctx context.Context, gateway, externalRef string) (*CheckoutSession, error) {
	var s CheckoutSession

	err := r.db.QueryRow(ctx, `
		SELECT id, appointment_id, gateway, external_ref, redirect_url, created_at
		FROM checkout_sessions
		WHERE gateway = $1 AND external_ref = $2
	`, gateway, externalRef).Scan(&s.ID, &s.AppointmentID, &s.Gateway, &s.ExternalRef, &s.RedirectURL, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) CallbackSeen(ctx context.Context, gateway, eventID string) (bool, error) {
	var seen bool

	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_events WHERE gateway = $1 AND event_id = $2
		)
	`, gateway, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check callback seen: %w", err)
	}

	return seen, nil
}

func (r *PgRepository) MarkCallbackProcessed(ctx context.Context, gateway, eventID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO payment_events (gateway, event_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (gateway, event_id) DO NOTHING
	`, gateway, eventID)
	if err != nil {
		return false, fmt.Errorf("mark callback processed: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) FindStaleWalletPayments(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_method IN ('wallet_a', 'wallet_b')
		  AND payment_status = 'pending'
		  AND updated_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
