package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/payment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps service errors onto the HTTP surface: 409 for
// conflicts, 403 for role violations, 404 for unknown records, 422 for
// validation failures.
func writeDomainError(w http.ResponseWriter, err error) {
	var invalid *appointment.InvalidTransitionError
	var validation *appointment.ValidationError

	switch {
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_transition", invalid.Error())
	case errors.Is(err, appointment.ErrPaymentNotAllowed):
		writeError(w, http.StatusConflict, "payment_not_allowed", err.Error())
	case errors.Is(err, appointment.ErrProviderUnavailable):
		writeError(w, http.StatusConflict, "provider_unavailable", err.Error())
	case errors.Is(err, appointment.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrProviderNotFound),
		errors.Is(err, appointment.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotInPast):
		writeError(w, http.StatusUnprocessableEntity, "slot_in_past", err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", validation.Error())
	case errors.Is(err, payment.ErrSessionCreate):
		writeError(w, http.StatusBadGateway, "gateway_session_error", "checkout could not be started, please retry")
	default:
		log.Error().Err(err).Msg("unhandled domain error")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
