package api

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/payment"
)

// webhookHandler receives one wallet provider's callbacks. Once the payload
// authenticates, the provider always gets a 200: application-level failures
// are ours to audit, and error responses only provoke retry storms.
func webhookHandler(svc *appointment.Service, gw payment.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := gw.ParseCallback(r)
		if err != nil {
			log.Warn().Err(err).Str("gateway", gw.Name()).Msg("rejected gateway callback")
			writeError(w, http.StatusBadRequest, "invalid_callback", "payload could not be verified")
			return
		}

		if err := svc.ApplyPaymentResult(r.Context(), gw.Name(), ev); err != nil {
			log.Error().Err(err).
				Str("gateway", gw.Name()).
				Str("event_id", ev.EventID).
				Str("external_ref", ev.ExternalRef).
				Msg("payment reconciliation failed")
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
