// Package appointmenttest provides in-memory fakes for the scheduling
// repository and payment gateway, shared by the service and API tests.
package appointmenttest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/payment"
)

// FakeRepo is an in-memory appointment.Repository that mirrors the SQL
// semantics the pg implementation relies on: the active-slot uniqueness
// check, compare-and-set status updates and the processed-callback ledger.
type FakeRepo struct {
	mu sync.Mutex

	Patients     map[uuid.UUID]*appointment.Patient
	Providers    map[uuid.UUID]*appointment.Provider
	Services     map[uuid.UUID]*appointment.ClinicService
	Appointments map[uuid.UUID]*appointment.Appointment
	Sessions     []appointment.CheckoutSession
	Processed    map[string]bool
	Events       []appointment.EventLog
}

func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		Patients:     make(map[uuid.UUID]*appointment.Patient),
		Providers:    make(map[uuid.UUID]*appointment.Provider),
		Services:     make(map[uuid.UUID]*appointment.ClinicService),
		Appointments: make(map[uuid.UUID]*appointment.Appointment),
		Processed:    make(map[string]bool),
	}
}

func (r *FakeRepo) AddProvider(available bool) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.Providers[id] = &appointment.Provider{ID: id, Name: "Provider", Available: available}
	return id
}

func (r *FakeRepo) AddService(price int64, durationMinutes int) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.Services[id] = &appointment.ClinicService{ID: id, Name: "Service", Price: price, DurationMinutes: durationMinutes}
	return id
}

func (r *FakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *FakeRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*appointment.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Providers[id]
	if !ok {
		return nil, appointment.ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *FakeRepo) ProviderAvailable(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Providers[id]
	if !ok {
		return false, nil
	}
	return p.Available, nil
}

func (r *FakeRepo) GetServiceByID(_ context.Context, id uuid.UUID) (*appointment.ClinicService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Services[id]
	if !ok {
		return nil, appointment.ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *FakeRepo) Reserve(_ context.Context, appt *appointment.Appointment) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.Appointments {
		if existing.ProviderID == appt.ProviderID &&
			existing.Date.Equal(appt.Date) &&
			existing.StartTime == appt.StartTime &&
			!existing.Status.Terminal() {
			return nil, appointment.ErrSlotTaken
		}
	}

	now := time.Now()
	created := *appt
	created.ID = uuid.New()
	created.Status = appointment.StatusPending
	created.PaymentStatus = appointment.PaymentUnpaid
	created.CreatedAt = now
	created.UpdatedAt = now
	r.Appointments[created.ID] = &created

	cp := created
	return &cp, nil
}

func (r *FakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *FakeRepo) getLocked(id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := r.Appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *FakeRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []appointment.Appointment
	for _, a := range r.Appointments {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].StartTime > result[j].StartTime
	})

	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (r *FakeRepo) ListByProvider(_ context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []appointment.Appointment
	for _, a := range r.Appointments {
		if a.ProviderID == providerID && a.Date.Equal(date) {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime < result[j].StartTime })
	return result, nil
}

func (r *FakeRepo) ListBookedStartTimes(_ context.Context, providerID uuid.UUID, date time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var times []string
	for _, a := range r.Appointments {
		if a.ProviderID == providerID && a.Date.Equal(date) && !a.Status.Terminal() {
			times = append(times, a.StartTime)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (r *FakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to appointment.Status, declineReason *string) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.Appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, appointment.ErrStaleStatus
	}

	a.Status = to
	if declineReason != nil {
		reason := *declineReason
		a.DeclineReason = &reason
	}
	a.UpdatedAt = time.Now()

	cp := *a
	return &cp, nil
}

func (r *FakeRepo) UpdatePaymentStatus(_ context.Context, id uuid.UUID, from []appointment.PaymentStatus, to appointment.PaymentStatus) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.Appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}

	allowed := false
	for _, f := range from {
		if a.PaymentStatus == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, appointment.ErrStaleStatus
	}

	a.PaymentStatus = to
	a.UpdatedAt = time.Now()

	cp := *a
	return &cp, nil
}

func (r *FakeRepo) MarkPaidClinic(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.Appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.PaymentMethod != appointment.MethodClinic ||
		a.PaymentStatus == appointment.PaymentPaid ||
		a.Status.Terminal() {
		return nil, appointment.ErrStaleStatus
	}

	a.PaymentStatus = appointment.PaymentPaid
	a.UpdatedAt = time.Now()

	cp := *a
	return &cp, nil
}

func (r *FakeRepo) ApplyPaidOutcome(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.Appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}

	if a.PaymentStatus != appointment.PaymentPaid {
		if a.Status.Terminal() {
			a.PaymentStatus = appointment.PaymentRefundDue
		} else {
			a.PaymentStatus = appointment.PaymentPaid
		}
		a.UpdatedAt = time.Now()
	}

	cp := *a
	return &cp, nil
}

func (r *FakeRepo) ClearHistory(_ context.Context, patientID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, a := range r.Appointments {
		if a.PatientID != patientID {
			continue
		}
		switch a.Status {
		case appointment.StatusPending, appointment.StatusDeclined, appointment.StatusCancelled:
			delete(r.Appointments, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *FakeRepo) CreateCheckoutSession(_ context.Context, s appointment.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	r.Sessions = append(r.Sessions, s)
	return nil
}

func (r *FakeRepo) GetCheckoutSessionByRef(_ context.Context, gateway, externalRef string) (*appointment.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Sessions {
		if r.Sessions[i].Gateway == gateway && r.Sessions[i].ExternalRef == externalRef {
			cp := r.Sessions[i]
			return &cp, nil
		}
	}
	return nil, appointment.ErrSessionNotFound
}

func (r *FakeRepo) CallbackSeen(_ context.Context, gateway, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Processed[gateway+"|"+eventID], nil
}

func (r *FakeRepo) MarkCallbackProcessed(_ context.Context, gateway, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := gateway + "|" + eventID
	if r.Processed[key] {
		return false, nil
	}
	r.Processed[key] = true
	return true, nil
}

func (r *FakeRepo) FindStaleWalletPayments(_ context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []appointment.Appointment
	for _, a := range r.Appointments {
		if a.PaymentMethod.Wallet() && a.PaymentStatus == appointment.PaymentPending && a.UpdatedAt.Before(cutoff) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *FakeRepo) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
	return nil
}

// EventTypes lists the recorded event types in insertion order.
func (r *FakeRepo) EventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		types = append(types, ev.EventType)
	}
	return types
}

// FakeGateway is a scripted payment.Gateway.
type FakeGateway struct {
	GatewayName string
	Session     *payment.CheckoutSession
	CreateErr   error

	mu      sync.Mutex
	Created []payment.CheckoutParams
}

func (g *FakeGateway) Name() string {
	if g.GatewayName == "" {
		return payment.GatewayWalletA
	}
	return g.GatewayName
}

func (g *FakeGateway) CreateCheckout(_ context.Context, params payment.CheckoutParams) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	g.Created = append(g.Created, params)
	g.mu.Unlock()

	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	if g.Session != nil {
		return g.Session, nil
	}
	return &payment.CheckoutSession{
		ExternalRef: "ref-" + params.AppointmentID.String(),
		RedirectURL: "https://wallet.test/checkout/" + params.AppointmentID.String(),
	}, nil
}

func (g *FakeGateway) ParseCallback(_ *http.Request) (*payment.CallbackEvent, error) {
	return nil, payment.ErrBadCallback
}
