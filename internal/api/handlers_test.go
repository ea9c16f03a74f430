package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-scheduling/internal/api"
	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/appointment/appointmenttest"
	"github.com/clinicdesk/clinic-scheduling/internal/calendar"
	"github.com/clinicdesk/clinic-scheduling/internal/payment"
)

const webhookKey = "hook-secret"

var testNow = time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router http.Handler
	repo   *appointmenttest.FakeRepo
	svc    *appointment.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := appointmenttest.NewFakeRepo()
	cal := calendar.New(calendar.Template{
		OpenHour:    8,
		CloseHour:   17,
		SlotMinutes: 60,
		Location:    time.UTC,
	}, repo).WithNow(func() time.Time { return testNow })

	// The service settles wallet_a through a scripted gateway; the webhook
	// route parses callbacks with the real signature verification.
	svc := appointment.NewService(repo, cal, appointment.Options{
		Gateways: []payment.Gateway{&appointmenttest.FakeGateway{GatewayName: payment.GatewayWalletA}},
		Logger:   zerolog.Nop(),
	})

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Gateways: []payment.Gateway{payment.NewWalletA("http://unused", webhookKey, zerolog.Nop())},
		Env:      "test",
		Version:  "test",
	})

	return &testEnv{router: router, repo: repo, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, actor *appointment.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req.Header.Set("X-Actor-ID", actor.ID.String())
		req.Header.Set("X-Actor-Role", string(actor.Role))
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func (e *testEnv) createRequest() (api.CreateAppointmentRequest, appointment.Actor) {
	providerID := e.repo.AddProvider(true)
	serviceID := e.repo.AddService(500, 60)
	return api.CreateAppointmentRequest{
		ProviderID:    providerID.String(),
		ServiceID:     serviceID.String(),
		Date:          "2026-09-15",
		StartTime:     "10:00",
		PaymentMethod: "clinic",
	}, appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}
}

func TestCreateAppointment(t *testing.T) {
	env := newTestEnv(t)
	req, patient := env.createRequest()

	rec := env.do(t, http.MethodPost, "/appointments", &patient, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeJSON[api.CreateAppointmentResponse](t, rec)
	assert.Equal(t, "pending", resp.Appointment.Status)
	assert.Equal(t, "unpaid", resp.Appointment.PaymentStatus)
	assert.Equal(t, int64(500), resp.Appointment.Price)
	assert.Equal(t, "2026-09-15", resp.Appointment.Date)
	assert.Empty(t, resp.CheckoutRedirectURL)

	// The same key is taken for everyone else.
	other := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}
	rec = env.do(t, http.MethodPost, "/appointments", &other, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", decodeJSON[api.ErrorResponse](t, rec).Error)
}

func TestCreateAppointmentWalletRedirect(t *testing.T) {
	env := newTestEnv(t)
	req, patient := env.createRequest()
	req.PaymentMethod = "wallet_a"

	rec := env.do(t, http.MethodPost, "/appointments", &patient, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeJSON[api.CreateAppointmentResponse](t, rec)
	assert.NotEmpty(t, resp.CheckoutRedirectURL)
	assert.Equal(t, "pending", resp.Appointment.PaymentStatus)
}

func TestCreateAppointmentRejections(t *testing.T) {
	env := newTestEnv(t)
	req, patient := env.createRequest()

	t.Run("missing actor headers", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/appointments", nil, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad role header", func(t *testing.T) {
		bad := appointment.Actor{ID: uuid.New(), Role: "superuser"}
		rec := env.do(t, http.MethodPost, "/appointments", &bad, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed date", func(t *testing.T) {
		r := req
		r.Date = "15-09-2026"
		rec := env.do(t, http.MethodPost, "/appointments", &patient, r)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("past date", func(t *testing.T) {
		r := req
		r.Date = "2026-09-01"
		rec := env.do(t, http.MethodPost, "/appointments", &patient, r)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "slot_in_past", decodeJSON[api.ErrorResponse](t, rec).Error)
	})

	t.Run("off-template time", func(t *testing.T) {
		r := req
		r.StartTime = "10:17"
		rec := env.do(t, http.MethodPost, "/appointments", &patient, r)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "validation_error", decodeJSON[api.ErrorResponse](t, rec).Error)
	})

	t.Run("non-patient booking", func(t *testing.T) {
		staff := appointment.Actor{ID: uuid.New(), Role: appointment.RoleStaff}
		rec := env.do(t, http.MethodPost, "/appointments", &staff, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "forbidden", decodeJSON[api.ErrorResponse](t, rec).Error)
	})

	t.Run("unknown provider", func(t *testing.T) {
		r := req
		r.ProviderID = uuid.NewString()
		rec := env.do(t, http.MethodPost, "/appointments", &patient, r)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func (e *testEnv) book(t *testing.T) (api.AppointmentResponse, appointment.Actor) {
	t.Helper()
	req, patient := e.createRequest()
	rec := e.do(t, http.MethodPost, "/appointments", &patient, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[api.CreateAppointmentResponse](t, rec).Appointment, patient
}

func TestTransitionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	appt, patient := env.book(t)
	provider := appointment.Actor{ID: appt.ProviderID, Role: appointment.RoleProvider}
	base := "/appointments/" + appt.ID.String()

	rec := env.do(t, http.MethodPut, base+"/confirm", &patient, nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "patients cannot confirm")

	rec = env.do(t, http.MethodPut, base+"/confirm", &provider, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decodeJSON[api.AppointmentResponse](t, rec).Status)

	rec = env.do(t, http.MethodPut, base+"/confirm", &provider, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "already confirmed")
	assert.Equal(t, "invalid_transition", decodeJSON[api.ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPut, base+"/complete", &provider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeJSON[api.AppointmentResponse](t, rec).Status)

	rec = env.do(t, http.MethodPut, base+"/cancel", &patient, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "completed is terminal")

	rec = env.do(t, http.MethodPut, "/appointments/"+uuid.NewString()+"/confirm", &provider, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/appointments/not-a-uuid/confirm", &provider, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeclineEndpoint(t *testing.T) {
	env := newTestEnv(t)
	appt, _ := env.book(t)
	provider := appointment.Actor{ID: appt.ProviderID, Role: appointment.RoleProvider}
	path := "/appointments/" + appt.ID.String() + "/decline"

	rec := env.do(t, http.MethodPut, path, &provider, api.DeclineRequest{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "reason is mandatory")

	rec = env.do(t, http.MethodPut, path, &provider, api.DeclineRequest{DeclineMessage: "clinic closed that day"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[api.AppointmentResponse](t, rec)
	assert.Equal(t, "declined", resp.Status)
	require.NotNil(t, resp.DeclineReason)
	assert.Equal(t, "clinic closed that day", *resp.DeclineReason)
}

func TestCancelEndpoint(t *testing.T) {
	env := newTestEnv(t)
	appt, patient := env.book(t)
	path := "/appointments/" + appt.ID.String() + "/cancel"

	other := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}
	rec := env.do(t, http.MethodPut, path, &other, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, path, &patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeJSON[api.AppointmentResponse](t, rec).Status)
}

func TestMarkPaidEndpoint(t *testing.T) {
	env := newTestEnv(t)
	appt, _ := env.book(t)
	staff := appointment.Actor{ID: uuid.New(), Role: appointment.RoleStaff}
	path := "/appointments/" + appt.ID.String() + "/mark-paid"

	rec := env.do(t, http.MethodPut, path, &staff, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decodeJSON[api.AppointmentResponse](t, rec).PaymentStatus)

	rec = env.do(t, http.MethodPut, path, &staff, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "double settlement")
	assert.Equal(t, "payment_not_allowed", decodeJSON[api.ErrorResponse](t, rec).Error)
}

func TestBookedAndFreeSlotsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	appt, _ := env.book(t)

	rec := env.do(t, http.MethodGet,
		"/appointments/booked-slots?provider_id="+appt.ProviderID.String()+"&date=2026-09-15",
		&appointment.Actor{ID: uuid.New(), Role: appointment.RoleStaff}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	booked := decodeJSON[api.BookedSlotsResponse](t, rec)
	assert.Equal(t, []string{"10:00"}, booked.StartTimes)

	rec = env.do(t, http.MethodGet,
		"/providers/"+appt.ProviderID.String()+"/slots?date=2026-09-15",
		&appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	free := decodeJSON[api.FreeSlotsResponse](t, rec)
	assert.Len(t, free.StartTimes, 8)
	assert.NotContains(t, free.StartTimes, "10:00")

	rec = env.do(t, http.MethodGet,
		"/appointments/booked-slots?provider_id="+appt.ProviderID.String(),
		&appointment.Actor{ID: uuid.New(), Role: appointment.RoleStaff}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "date is required")
}

func TestListAndClearHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	appt, patient := env.book(t)

	rec := env.do(t, http.MethodGet, "/appointments", &patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[[]api.AppointmentResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, appt.ID, list[0].ID)

	other := appointment.Actor{ID: uuid.New(), Role: appointment.RolePatient}
	rec = env.do(t, http.MethodGet, "/appointments?patient_id="+patient.ID.String(), &other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/appointments/history", &patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decodeJSON[api.ClearHistoryResponse](t, rec).Deleted)

	rec = env.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), &patient, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func postWebhook(t *testing.T, env *testEnv, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/wallet_a", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set("X-Wallet-Signature", payment.SignPayload(webhookKey, body))
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestWalletWebhook(t *testing.T) {
	env := newTestEnv(t)
	req, patient := env.createRequest()
	req.PaymentMethod = "wallet_a"

	rec := env.do(t, http.MethodPost, "/appointments", &patient, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	apptID := decodeJSON[api.CreateAppointmentResponse](t, rec).Appointment.ID

	require.Len(t, env.repo.Sessions, 1)
	body, err := json.Marshal(map[string]string{
		"event_id":    "evt-1",
		"checkout_id": env.repo.Sessions[0].ExternalRef,
		"status":      "paid",
	})
	require.NoError(t, err)

	t.Run("unsigned payload is rejected", func(t *testing.T) {
		rec := postWebhook(t, env, body, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("signed payload settles the payment", func(t *testing.T) {
		rec := postWebhook(t, env, body, true)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		appt, err := env.svc.GetAppointment(context.Background(), patient, apptID)
		require.NoError(t, err)
		assert.Equal(t, appointment.PaymentPaid, appt.PaymentStatus)
	})

	t.Run("redelivery still acks 200", func(t *testing.T) {
		rec := postWebhook(t, env, body, true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown checkout ref still acks 200", func(t *testing.T) {
		orphan, err := json.Marshal(map[string]string{
			"event_id":    "evt-2",
			"checkout_id": "chk-unknown",
			"status":      "paid",
		})
		require.NoError(t, err)
		rec := postWebhook(t, env, orphan, true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHealthLiveness(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeJSON[api.LivenessResponse](t, rec).Status)
}
