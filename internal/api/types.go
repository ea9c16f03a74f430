package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	Date          string `json:"date"`       // 2006-01-02
	StartTime     string `json:"start_time"` // 15:04
	PaymentMethod string `json:"payment_method"`
}

type DeclineRequest struct {
	DeclineMessage string `json:"decline_message"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	ServiceID       uuid.UUID `json:"service_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Price           int64     `json:"price"`
	Status          string    `json:"status"`
	PaymentMethod   string    `json:"payment_method"`
	PaymentStatus   string    `json:"payment_status"`
	DeclineReason   *string   `json:"decline_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type CreateAppointmentResponse struct {
	Appointment         AppointmentResponse `json:"appointment"`
	CheckoutRedirectURL string              `json:"checkout_redirect_url,omitempty"`
	CheckoutError       string              `json:"checkout_error,omitempty"`
}

type CheckoutResponse struct {
	CheckoutRedirectURL string `json:"checkout_redirect_url"`
}

type BookedSlotsResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	StartTimes []string  `json:"start_times"`
}

type FreeSlotsResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	StartTimes []string  `json:"start_times"`
}

type ClearHistoryResponse struct {
	Deleted int64 `json:"deleted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		ServiceID:       a.ServiceID,
		Date:            a.Date.Format("2006-01-02"),
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Price:           a.Price,
		Status:          string(a.Status),
		PaymentMethod:   string(a.PaymentMethod),
		PaymentStatus:   string(a.PaymentStatus),
		DeclineReason:   a.DeclineReason,
		CreatedAt:       a.CreatedAt,
	}
}
