package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const GatewayWalletA = "wallet_a"

// WalletA speaks the first wallet provider's JSON checkout API: bearer-token
// auth, JSON bodies, HMAC-SHA256 hex signature on callbacks.
type WalletA struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewWalletA(baseURL, apiKey string, logger zerolog.Logger) *WalletA {
	return &WalletA{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("gateway", GatewayWalletA).Logger(),
	}
}

func (g *WalletA) Name() string { return GatewayWalletA }

type walletACheckoutRequest struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	RedirectURL string `json:"redirect_url"`
}

type walletACheckoutResponse struct {
	CheckoutID  string `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`
}

func (g *WalletA) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	body, err := json.Marshal(walletACheckoutRequest{
		// The appointment id doubles as the provider-side idempotency
		// reference, so retried session creation cannot double-open.
		Reference:   params.AppointmentID.String(),
		Amount:      params.Amount,
		Description: params.Description,
		RedirectURL: params.ReturnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrSessionCreate, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSessionCreate, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		g.logger.Warn().Int("status", resp.StatusCode).Bytes("body", payload).Msg("checkout session rejected")
		return nil, fmt.Errorf("%w: status %d", ErrSessionCreate, resp.StatusCode)
	}

	var out walletACheckoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSessionCreate, err)
	}
	if out.CheckoutID == "" || out.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: incomplete response", ErrSessionCreate)
	}

	return &CheckoutSession{
		ExternalRef: out.CheckoutID,
		RedirectURL: out.CheckoutURL,
	}, nil
}

type walletACallback struct {
	EventID    string `json:"event_id"`
	CheckoutID string `json:"checkout_id"`
	Status     string `json:"status"`
}

func (g *WalletA) ParseCallback(r *http.Request) (*CallbackEvent, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBadCallback, err)
	}

	if !verifyHMACSHA256(g.apiKey, payload, r.Header.Get("X-Wallet-Signature")) {
		return nil, fmt.Errorf("%w: bad signature", ErrBadCallback)
	}

	var cb walletACallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrBadCallback, err)
	}
	if cb.EventID == "" || cb.CheckoutID == "" {
		return nil, fmt.Errorf("%w: missing event or checkout id", ErrBadCallback)
	}

	var outcome Outcome
	switch cb.Status {
	case "paid", "settled":
		outcome = OutcomeSuccess
	case "failed", "expired":
		outcome = OutcomeFailed
	case "cancelled":
		outcome = OutcomeCancelled
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadCallback, cb.Status)
	}

	return &CallbackEvent{
		EventID:     cb.EventID,
		ExternalRef: cb.CheckoutID,
		Outcome:     outcome,
	}, nil
}

func verifyHMACSHA256(key string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload computes the callback signature; exported for tests and for the
// provider sandbox simulator.
func SignPayload(key string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
