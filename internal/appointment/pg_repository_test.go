package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{
	"id", "patient_id", "provider_id", "service_id", "date", "start_time",
	"duration_minutes", "price", "status", "payment_method", "payment_status",
	"decline_reason", "created_at", "updated_at",
}

func appointmentRow(id uuid.UUID, status Status, paymentStatus PaymentStatus) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(appointmentCols).AddRow(
		id, uuid.New(), uuid.New(), uuid.New(),
		time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), "10:00",
		60, int64(500), string(status), "clinic", string(paymentStatus),
		nil, now, now,
	)
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepositoryWithDB(mock)
}

// anyArgs builds n pgxmock.AnyArg() matchers; pgxmock requires the argument
// count to match even when the values themselves don't matter.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestReserveSuccess(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO appointments`).
		WithArgs(anyArgs(9)...).
		WillReturnRows(appointmentRow(id, StatusPending, PaymentUnpaid))

	created, err := repo.Reserve(context.Background(), &Appointment{
		PatientID:     uuid.New(),
		ProviderID:    uuid.New(),
		ServiceID:     uuid.New(),
		Date:          time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		StartTime:     "10:00",
		Price:         500,
		PaymentMethod: MethodClinic,
	})
	require.NoError(t, err)
	assert.Equal(t, id, created.ID)
	assert.Equal(t, StatusPending, created.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveUniqueViolationIsSlotTaken(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO appointments`).
		WithArgs(anyArgs(9)...).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "ux_appointments_active_slot"})

	_, err := repo.Reserve(context.Background(), &Appointment{
		PatientID:     uuid.New(),
		ProviderID:    uuid.New(),
		ServiceID:     uuid.New(),
		Date:          time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		StartTime:     "10:00",
		PaymentMethod: MethodClinic,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusLostRaceIsStale(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	// The compare-and-set misses, but the row exists with a moved status.
	mock.ExpectQuery(`UPDATE appointments`).WithArgs(anyArgs(4)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM appointments`).
		WithArgs(anyArgs(1)...).
		WillReturnRows(appointmentRow(id, StatusCancelled, PaymentUnpaid))

	_, err := repo.UpdateStatus(context.Background(), id, StatusPending, StatusConfirmed, nil)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusMissingRowIsNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE appointments`).WithArgs(anyArgs(4)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM appointments`).WithArgs(anyArgs(1)...).WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), id, StatusPending, StatusConfirmed, nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidClinicGuardMiss(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	// Guard filtered out the row (wrong method, already paid or terminal).
	mock.ExpectQuery(`UPDATE appointments`).WithArgs(anyArgs(1)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM appointments`).
		WithArgs(anyArgs(1)...).
		WillReturnRows(appointmentRow(id, StatusCancelled, PaymentUnpaid))

	_, err := repo.MarkPaidClinic(context.Background(), id)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaidOutcomeAlreadyPaidReturnsRow(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	// payment_status <> 'paid' filtered out the row; the current row comes
	// back instead of an error.
	mock.ExpectQuery(`UPDATE appointments`).WithArgs(anyArgs(1)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM appointments`).
		WithArgs(anyArgs(1)...).
		WillReturnRows(appointmentRow(id, StatusConfirmed, PaymentPaid))

	appt, err := repo.ApplyPaidOutcome(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, appt.PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallbackSeen(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("wallet_a", "evt-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	seen, err := repo.CallbackSeen(context.Background(), "wallet_a", "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("wallet_a", "evt-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	seen, err = repo.CallbackSeen(context.Background(), "wallet_a", "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCallbackProcessed(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO payment_events`).
		WithArgs("wallet_a", "evt-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	fresh, err := repo.MarkCallbackProcessed(context.Background(), "wallet_a", "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	// Redelivery hits ON CONFLICT DO NOTHING and affects no rows.
	mock.ExpectExec(`INSERT INTO payment_events`).
		WithArgs("wallet_a", "evt-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	fresh, err = repo.MarkCallbackProcessed(context.Background(), "wallet_a", "evt-1")
	require.NoError(t, err)
	assert.False(t, fresh)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCheckoutSessionByRefNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM checkout_sessions`).
		WithArgs("wallet_b", "ref-404").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetCheckoutSessionByRef(context.Background(), "wallet_b", "ref-404")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearHistoryRowCount(t *testing.T) {
	mock, repo := newMockRepo(t)
	patientID := uuid.New()

	mock.ExpectExec(`DELETE FROM appointments`).
		WithArgs(patientID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	deleted, err := repo.ClearHistory(context.Background(), patientID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBookedStartTimes(t *testing.T) {
	mock, repo := newMockRepo(t)
	providerID := uuid.New()
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT start_time`).
		WithArgs(providerID, date).
		WillReturnRows(pgxmock.NewRows([]string{"start_time"}).AddRow("09:00").AddRow("10:00"))

	times, err := repo.ListBookedStartTimes(context.Background(), providerID, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00"}, times)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderAvailableUnknownProvider(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM providers`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	available, err := repo.ProviderAvailable(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, available)
	assert.NoError(t, mock.ExpectationsWereMet())
}
