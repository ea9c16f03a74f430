package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no verified actor on request")
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}

		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", "date must be YYYY-MM-DD")
			return
		}

		result, err := svc.Book(r.Context(), actor, appointment.BookingRequest{
			ProviderID: providerID,
			ServiceID:  serviceID,
			Date:       date,
			StartTime:  req.StartTime,
			Method:     appointment.PaymentMethod(req.PaymentMethod),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := CreateAppointmentResponse{
			Appointment:         toAppointmentResponse(result.Appointment),
			CheckoutRedirectURL: result.RedirectURL,
		}
		if result.CheckoutErr != nil {
			resp.CheckoutError = "checkout could not be started, retry from the appointment page"
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no verified actor on request")
			return
		}

		patientID := actor.ID
		if raw := r.URL.Query().Get("patient_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			patientID = id
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListPatientAppointments(r.Context(), actor, patientID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func declineAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req DeclineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Decline(r.Context(), actor, id, req.DeclineMessage)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func markPaidHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.MarkPaid(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func retryCheckoutHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		redirect, err := svc.RetryCheckout(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CheckoutResponse{CheckoutRedirectURL: redirect})
	}
}

func bookedSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, date, ok := providerAndDate(w, r, r.URL.Query().Get("provider_id"))
		if !ok {
			return
		}

		times, err := svc.BookedSlots(r.Context(), providerID, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if times == nil {
			times = []string{}
		}

		writeJSON(w, http.StatusOK, BookedSlotsResponse{
			ProviderID: providerID,
			Date:       date.Format("2006-01-02"),
			StartTimes: times,
		})
	}
}

func freeSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, date, ok := providerAndDate(w, r, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		slots, err := svc.FreeSlots(r.Context(), providerID, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		times := make([]string, 0, len(slots))
		for _, s := range slots {
			times = append(times, s.StartTime)
		}

		writeJSON(w, http.StatusOK, FreeSlotsResponse{
			ProviderID: providerID,
			Date:       date.Format("2006-01-02"),
			StartTimes: times,
		})
	}
}

func clearHistoryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no verified actor on request")
			return
		}

		deleted, err := svc.ClearHistory(r.Context(), actor)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ClearHistoryResponse{Deleted: deleted})
	}
}

func actorAndID(w http.ResponseWriter, r *http.Request) (appointment.Actor, uuid.UUID, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_actor", "no verified actor on request")
		return appointment.Actor{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return appointment.Actor{}, uuid.Nil, false
	}

	return actor, id, true
}

func providerAndDate(w http.ResponseWriter, r *http.Request, rawProvider string) (uuid.UUID, time.Time, bool) {
	providerID, err := uuid.Parse(rawProvider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return uuid.Nil, time.Time{}, false
	}

	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "date must be YYYY-MM-DD")
		return uuid.Nil, time.Time{}, false
	}

	return providerID, date, true
}
