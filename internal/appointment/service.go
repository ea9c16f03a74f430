package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic-scheduling/internal/calendar"
	"github.com/clinicdesk/clinic-scheduling/internal/observability/metrics"
	"github.com/clinicdesk/clinic-scheduling/internal/payment"
)

const (
	EventAppointmentCreated    = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed  = "APPOINTMENT_CONFIRMED"
	EventAppointmentDeclined   = "APPOINTMENT_DECLINED"
	EventAppointmentCancelled  = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted  = "APPOINTMENT_COMPLETED"
	EventPaymentMarkedPaid     = "PAYMENT_MARKED_PAID"
	EventCheckoutStarted       = "CHECKOUT_STARTED"
	EventCheckoutFailed        = "CHECKOUT_FAILED"
	EventCheckoutExpired       = "CHECKOUT_EXPIRED"
	EventPaymentSettled        = "PAYMENT_SETTLED"
	EventPaymentFailed         = "PAYMENT_FAILED"
	EventRefundFlagged         = "REFUND_FLAGGED"
	EventReconciliationOrphan  = "RECONCILIATION_ORPHAN"
	EventHistoryCleared        = "HISTORY_CLEARED"
)

var (
	ErrSlotInPast          = errors.New("slot date is in the past")
	ErrProviderUnavailable = errors.New("provider is not available for booking")
	ErrUnauthorized        = errors.New("actor is not allowed to perform this action")

	// ErrPaymentNotAllowed covers mark-paid attempts that fail the
	// method/state guards: non-clinic method, already paid, or a
	// cancelled/declined appointment.
	ErrPaymentNotAllowed = errors.New("payment cannot be settled in the current state")
)

// ValidationError reports malformed or missing input; it maps to 422 at the
// HTTP surface.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// SlotCache is the best-effort booked-slots projection. A nil cache is valid;
// reads then always hit the ledger.
type SlotCache interface {
	GetBookedSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]string, bool, error)
	SetBookedSlots(ctx context.Context, providerID uuid.UUID, date time.Time, times []string) error
	Invalidate(ctx context.Context, providerID uuid.UUID, date time.Time) error
}

type Service struct {
	repo        Repository
	cal         *calendar.Calendar
	cache       SlotCache
	gateways    map[PaymentMethod]payment.Gateway
	metrics     *metrics.SchedulingMetrics
	logger      zerolog.Logger
	returnURL   string
	checkoutTTL time.Duration
}

// Options carries the optional collaborators; Repo and Calendar are the only
// hard requirements.
type Options struct {
	Cache       SlotCache
	Gateways    []payment.Gateway
	Metrics     *metrics.SchedulingMetrics
	Logger      zerolog.Logger
	ReturnURL   string
	CheckoutTTL time.Duration
}

func NewService(repo Repository, cal *calendar.Calendar, opts Options) *Service {
	gateways := make(map[PaymentMethod]payment.Gateway, len(opts.Gateways))
	for _, g := range opts.Gateways {
		gateways[PaymentMethod(g.Name())] = g
	}
	if opts.CheckoutTTL <= 0 {
		opts.CheckoutTTL = 30 * time.Minute
	}
	return &Service{
		repo:        repo,
		cal:         cal,
		cache:       opts.Cache,
		gateways:    gateways,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		returnURL:   opts.ReturnURL,
		checkoutTTL: opts.CheckoutTTL,
	}
}

type BookingRequest struct {
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	Date       time.Time
	StartTime  string
	Method     PaymentMethod
}

// BookingResult carries the reserved appointment and, for wallet methods, the
// checkout redirect. CheckoutErr is set when session creation failed after a
// successful reservation: the appointment stands and the patient retries.
type BookingResult struct {
	Appointment *Appointment
	RedirectURL string
	CheckoutErr error
}

// Book reserves a slot for the calling patient. The check-and-insert is
// atomic in the ledger; a concurrent loser on the same key gets ErrSlotTaken.
func (s *Service) Book(ctx context.Context, actor Actor, req BookingRequest) (*BookingResult, error) {
	if actor.Role != RolePatient {
		return nil, ErrUnauthorized
	}
	if !req.Method.Valid() {
		return nil, &ValidationError{Field: "payment_method", Reason: "must be clinic, wallet_a or wallet_b"}
	}
	if !s.cal.WithinTemplate(req.StartTime) {
		return nil, &ValidationError{Field: "start_time", Reason: "outside operating hours"}
	}
	if s.cal.IsPastDay(req.Date) {
		return nil, ErrSlotInPast
	}

	provider, err := s.repo.GetProviderByID(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.Available {
		return nil, ErrProviderUnavailable
	}

	svc, err := s.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Reserve(ctx, &Appointment{
		PatientID:       actor.ID,
		ProviderID:      req.ProviderID,
		ServiceID:       req.ServiceID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: svc.DurationMinutes,
		Price:           svc.Price,
		PaymentMethod:   req.Method,
	})
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveReservation("slot_taken")
		}
		return nil, err
	}

	s.metrics.ObserveReservation("reserved")
	s.invalidateSlots(ctx, created.ProviderID, created.Date)
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"provider_id": created.ProviderID.String(),
		"date":        created.Date.Format("2006-01-02"),
		"start_time":  created.StartTime,
		"method":      string(created.PaymentMethod),
	})

	result := &BookingResult{Appointment: created}

	if created.PaymentMethod.Wallet() {
		redirect, err := s.startCheckout(ctx, created)
		if err != nil {
			// The reservation stands; the patient is told to retry the
			// checkout from the appointment page.
			result.CheckoutErr = err
			return result, nil
		}
		result.RedirectURL = redirect
	}

	return result, nil
}

// RetryCheckout re-requests a wallet checkout session for an appointment whose
// earlier attempt failed or was never completed.
func (s *Service) RetryCheckout(ctx context.Context, actor Actor, id uuid.UUID) (string, error) {
	if actor.Role != RolePatient {
		return "", ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return "", err
	}
	if appt.PatientID != actor.ID {
		return "", ErrUnauthorized
	}
	if !appt.PaymentMethod.Wallet() {
		return "", &ValidationError{Field: "payment_method", Reason: "appointment is payable at the clinic"}
	}
	if appt.Status.Terminal() {
		return "", &InvalidTransitionError{Current: appt.Status, Requested: "checkout"}
	}
	if appt.PaymentStatus == PaymentPaid {
		return "", ErrPaymentNotAllowed
	}

	return s.startCheckout(ctx, appt)
}

func (s *Service) startCheckout(ctx context.Context, appt *Appointment) (string, error) {
	gw, ok := s.gateways[appt.PaymentMethod]
	if !ok {
		return "", fmt.Errorf("%w: no gateway configured for %s", payment.ErrSessionCreate, appt.PaymentMethod)
	}

	start := time.Now()
	session, err := gw.CreateCheckout(ctx, payment.CheckoutParams{
		AppointmentID: appt.ID,
		Amount:        appt.Price,
		Description:   fmt.Sprintf("appointment %s %s", appt.Date.Format("2006-01-02"), appt.StartTime),
		ReturnURL:     s.returnURL,
	})
	s.metrics.ObserveCheckout(gw.Name(), checkoutResult(err), time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Str("gateway", gw.Name()).
			Msg("checkout session creation failed")
		s.logEvent(ctx, appt.ID, EventCheckoutFailed, map[string]any{"gateway": gw.Name()})
		return "", err
	}

	if err := s.repo.CreateCheckoutSession(ctx, CheckoutSession{
		AppointmentID: appt.ID,
		Gateway:       gw.Name(),
		ExternalRef:   session.ExternalRef,
		RedirectURL:   session.RedirectURL,
	}); err != nil {
		return "", err
	}

	if _, err := s.repo.UpdatePaymentStatus(ctx, appt.ID, []PaymentStatus{PaymentUnpaid, PaymentFailed}, PaymentPending); err != nil && !errors.Is(err, ErrStaleStatus) {
		return "", err
	}

	s.logEvent(ctx, appt.ID, EventCheckoutStarted, map[string]any{
		"gateway":      gw.Name(),
		"external_ref": session.ExternalRef,
	})

	return session.RedirectURL, nil
}

func checkoutResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, TransitionConfirm, nil)
}

// Decline refuses a pending or confirmed appointment. The reason is mandatory
// and is persisted for the patient to read.
func (s *Service) Decline(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "decline_message", Reason: "a non-empty reason is required"}
	}
	return s.transition(ctx, actor, id, TransitionDecline, &reason)
}

// Cancel is the patient-side withdrawal of a pending or confirmed future
// appointment.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, TransitionCancel, nil)
}

// Complete closes out a confirmed appointment after the visit.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, id, TransitionComplete, nil)
}

func (s *Service) transition(ctx context.Context, actor Actor, id uuid.UUID, t Transition, declineReason *string) (*Appointment, error) {
	target, ok := TargetStatus(t)
	if !ok {
		return nil, fmt.Errorf("unknown transition %q", t)
	}
	if !RoleAllowed(actor.Role, t) {
		s.metrics.ObserveTransition(string(t), "forbidden")
		return nil, ErrUnauthorized
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case RolePatient:
		if appt.PatientID != actor.ID {
			return nil, ErrUnauthorized
		}
	case RoleProvider:
		if appt.ProviderID != actor.ID {
			return nil, ErrUnauthorized
		}
	}

	if t == TransitionCancel && actor.Role == RolePatient && s.cal.IsPastDay(appt.Date) {
		return nil, &ValidationError{Field: "date", Reason: "past appointments cannot be cancelled"}
	}

	if !CanTransition(appt.Status, t) {
		s.metrics.ObserveTransition(string(t), "invalid")
		return nil, &InvalidTransitionError{Current: appt.Status, Requested: t}
	}

	// Compare-and-set against the status we just read; a concurrent writer
	// makes us the loser and we report the fresh status.
	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, target, declineReason)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			current, ferr := s.repo.GetAppointmentByID(ctx, id)
			if ferr != nil {
				return nil, ferr
			}
			s.metrics.ObserveTransition(string(t), "lost_race")
			return nil, &InvalidTransitionError{Current: current.Status, Requested: t}
		}
		return nil, err
	}

	s.metrics.ObserveTransition(string(t), "ok")

	// Declined and cancelled release the slot key back to the pool.
	if target == StatusDeclined || target == StatusCancelled {
		s.invalidateSlots(ctx, updated.ProviderID, updated.Date)

		if updated.PaymentStatus == PaymentPaid {
			flagged, ferr := s.repo.UpdatePaymentStatus(ctx, id, []PaymentStatus{PaymentPaid}, PaymentRefundDue)
			if ferr != nil {
				s.logger.Error().Err(ferr).Str("appointment_id", id.String()).Msg("failed to flag refund")
			} else {
				updated = flagged
				s.logEvent(ctx, id, EventRefundFlagged, map[string]any{"trigger": string(t)})
			}
		}
	}

	s.logEvent(ctx, id, transitionEvent(t), map[string]any{
		"actor_id":   actor.ID.String(),
		"actor_role": string(actor.Role),
	})

	return updated, nil
}

func transitionEvent(t Transition) string {
	switch t {
	case TransitionConfirm:
		return EventAppointmentConfirmed
	case TransitionDecline:
		return EventAppointmentDeclined
	case TransitionCancel:
		return EventAppointmentCancelled
	case TransitionComplete:
		return EventAppointmentCompleted
	}
	return "APPOINTMENT_UPDATED"
}

// MarkPaid settles a clinic-method payment at the desk.
func (s *Service) MarkPaid(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	switch actor.Role {
	case RoleProvider, RoleStaff, RoleAdmin:
	default:
		return nil, ErrUnauthorized
	}

	if actor.Role == RoleProvider {
		appt, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if appt.ProviderID != actor.ID {
			return nil, ErrUnauthorized
		}
	}

	updated, err := s.repo.MarkPaidClinic(ctx, id)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, ErrPaymentNotAllowed
		}
		return nil, err
	}

	s.logEvent(ctx, id, EventPaymentMarkedPaid, map[string]any{
		"actor_id": actor.ID.String(),
	})

	return updated, nil
}

// ApplyPaymentResult reconciles one gateway callback. It is idempotent on
// (gateway, event id) and never lets a paid outcome land on a terminal
// appointment: that case is flagged refund_due for manual ops. The event id
// is checked at entry but recorded only after the outcome is applied, so a
// transient failure in between leaves the gateway's redelivery able to retry.
// Errors here are for the audit trail; the webhook handler acks the provider
// regardless.
func (s *Service) ApplyPaymentResult(ctx context.Context, gateway string, ev *payment.CallbackEvent) error {
	seen, err := s.repo.CallbackSeen(ctx, gateway, ev.EventID)
	if err != nil {
		return err
	}
	if seen {
		s.logger.Debug().Str("gateway", gateway).Str("event_id", ev.EventID).Msg("duplicate callback ignored")
		s.metrics.ObserveCallback(gateway, "duplicate")
		return nil
	}

	session, err := s.repo.GetCheckoutSessionByRef(ctx, gateway, ev.ExternalRef)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn().Str("gateway", gateway).Str("external_ref", ev.ExternalRef).
				Msg("callback for unknown checkout session")
			s.logEvent(ctx, uuid.Nil, EventReconciliationOrphan, map[string]any{
				"gateway":      gateway,
				"external_ref": ev.ExternalRef,
			})
			s.metrics.ObserveCallback(gateway, "orphan")
			// The ref will never map to a session of ours; record the event
			// so redelivery stops re-auditing it.
			_, err := s.repo.MarkCallbackProcessed(ctx, gateway, ev.EventID)
			return err
		}
		return err
	}

	switch ev.Outcome {
	case payment.OutcomeSuccess:
		appt, err := s.repo.ApplyPaidOutcome(ctx, session.AppointmentID)
		if err != nil {
			return err
		}
		if appt.PaymentStatus == PaymentRefundDue {
			s.logger.Warn().Str("appointment_id", appt.ID.String()).Str("status", string(appt.Status)).
				Msg("paid callback arrived for a terminal appointment, flagged for manual refund")
			s.logEvent(ctx, appt.ID, EventRefundFlagged, map[string]any{
				"gateway": gateway,
				"trigger": "callback_after_terminal",
			})
			s.metrics.ObserveCallback(gateway, "refund_due")
		} else {
			s.logEvent(ctx, appt.ID, EventPaymentSettled, map[string]any{
				"gateway":      gateway,
				"external_ref": ev.ExternalRef,
			})
			s.metrics.ObserveCallback(gateway, "paid")
		}

	case payment.OutcomeFailed, payment.OutcomeCancelled:
		_, err := s.repo.UpdatePaymentStatus(ctx, session.AppointmentID,
			[]PaymentStatus{PaymentPending, PaymentUnpaid}, PaymentFailed)
		if err != nil && !errors.Is(err, ErrStaleStatus) {
			return err
		}
		s.logEvent(ctx, session.AppointmentID, EventPaymentFailed, map[string]any{
			"gateway": gateway,
			"outcome": string(ev.Outcome),
		})
		s.metrics.ObserveCallback(gateway, string(ev.Outcome))

	default:
		return fmt.Errorf("unknown callback outcome %q", ev.Outcome)
	}

	// Mark last: the outcome is durably applied, the event id may now retire.
	if _, err := s.repo.MarkCallbackProcessed(ctx, gateway, ev.EventID); err != nil {
		return err
	}

	return nil
}

// BookedSlots serves the UI pre-filter through the cache; staleness here is
// fine because Reserve always re-checks against the constraint.
func (s *Service) BookedSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]string, error) {
	if s.cache != nil {
		times, ok, err := s.cache.GetBookedSlots(ctx, providerID, date)
		if err != nil {
			s.logger.Warn().Err(err).Msg("slot cache read failed")
		} else if ok {
			return times, nil
		}
	}

	times, err := s.repo.ListBookedStartTimes(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetBookedSlots(ctx, providerID, date, times); err != nil {
			s.logger.Warn().Err(err).Msg("slot cache write failed")
		}
	}

	return times, nil
}

// FreeSlots is the calendar template minus the booked projection.
func (s *Service) FreeSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]calendar.Slot, error) {
	if s.cal.IsPastDay(date) {
		return nil, nil
	}

	slots, err := s.cal.GenerateSlots(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}

	booked, err := s.BookedSlots(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(booked))
	for _, t := range booked {
		taken[t] = true
	}

	free := slots[:0]
	for _, slot := range slots {
		if !taken[slot.StartTime] {
			free = append(free, slot)
		}
	}

	return free, nil
}

// ClearHistory purges the calling patient's pending, declined and cancelled
// appointments. Confirmed and completed rows are revenue-bearing and survive.
// Destructive and irreversible; the HTTP surface exposes it as its own
// explicit DELETE.
func (s *Service) ClearHistory(ctx context.Context, actor Actor) (int64, error) {
	if actor.Role != RolePatient {
		return 0, ErrUnauthorized
	}

	deleted, err := s.repo.ClearHistory(ctx, actor.ID)
	if err != nil {
		return 0, err
	}

	s.logEvent(ctx, uuid.Nil, EventHistoryCleared, map[string]any{
		"patient_id": actor.ID.String(),
		"deleted":    deleted,
	})

	return deleted, nil
}

// SweepStaleCheckouts reverts wallet payments stuck awaiting a callback past
// the checkout TTL back to unpaid so the patient can retry. Run by the
// checkout-sweeper worker.
func (s *Service) SweepStaleCheckouts(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.checkoutTTL)

	stale, err := s.repo.FindStaleWalletPayments(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale wallet payments: %w", err)
	}

	swept := 0
	for _, appt := range stale {
		_, err := s.repo.UpdatePaymentStatus(ctx, appt.ID, []PaymentStatus{PaymentPending}, PaymentUnpaid)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to sweep checkout")
			continue
		}
		s.logEvent(ctx, appt.ID, EventCheckoutExpired, map[string]any{})
		swept++
	}

	return swept, nil
}

// GetAppointment returns one appointment, scoped to the caller: patients see
// their own, providers their own schedule, staff and admin everything.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case RolePatient:
		if appt.PatientID != actor.ID {
			return nil, ErrUnauthorized
		}
	case RoleProvider:
		if appt.ProviderID != actor.ID {
			return nil, ErrUnauthorized
		}
	}

	return appt, nil
}

// ListPatientAppointments lists a patient's history, newest first.
func (s *Service) ListPatientAppointments(ctx context.Context, actor Actor, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	switch actor.Role {
	case RolePatient:
		if actor.ID != patientID {
			return nil, ErrUnauthorized
		}
	case RoleProvider:
		return nil, ErrUnauthorized
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ProviderSchedule lists a provider's appointments for one day.
func (s *Service) ProviderSchedule(ctx context.Context, actor Actor, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	switch actor.Role {
	case RoleProvider:
		if actor.ID != providerID {
			return nil, ErrUnauthorized
		}
	case RolePatient:
		return nil, ErrUnauthorized
	}

	return s.repo.ListByProvider(ctx, providerID, date)
}

func (s *Service) invalidateSlots(ctx context.Context, providerID uuid.UUID, date time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, providerID, date); err != nil {
		s.logger.Warn().Err(err).Msg("slot cache invalidation failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	if appointmentID != uuid.Nil {
		id := appointmentID
		ev.AppointmentID = &id
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to insert event log")
	}
}
