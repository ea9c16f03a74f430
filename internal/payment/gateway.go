// Package payment bridges appointments to external redirect-checkout wallet
// providers. Both wallets sit behind one Gateway interface so the
// reconciliation rules live in a single place in the appointment service.
package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

var (
	// ErrSessionCreate wraps a failed checkout-session call. Recoverable:
	// the appointment survives and the patient may retry.
	ErrSessionCreate = errors.New("gateway checkout session creation failed")

	// ErrBadCallback means the callback payload could not be parsed or its
	// signature did not verify.
	ErrBadCallback = errors.New("gateway callback rejected")
)

type CheckoutParams struct {
	AppointmentID uuid.UUID
	Amount        int64
	Description   string
	ReturnURL     string
}

// CheckoutSession is what the external provider hands back: a reference the
// later callback will carry, and the URL to redirect the patient to.
type CheckoutSession struct {
	ExternalRef string
	RedirectURL string
}

// CallbackEvent is the normalized form of a provider webhook. EventID is
// unique per delivery attempt group and drives idempotence; ExternalRef ties
// the event back to a checkout session.
type CallbackEvent struct {
	EventID     string
	ExternalRef string
	Outcome     Outcome
}

// Gateway abstracts one wallet provider. CreateCheckout performs the only
// external network call in the core; callers must not hold any lock across it.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	ParseCallback(r *http.Request) (*CallbackEvent, error)
}
