package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const GatewayWalletB = "wallet_b"

// WalletB speaks the second wallet provider's older form-encoded API. Requests
// and callbacks carry a sha256(merchant_id|reference|amount|secret) digest
// instead of a header signature.
type WalletB struct {
	baseURL    string
	merchantID string
	secret     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewWalletB(baseURL, merchantID, secret string, logger zerolog.Logger) *WalletB {
	return &WalletB{
		baseURL:    baseURL,
		merchantID: merchantID,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("gateway", GatewayWalletB).Logger(),
	}
}

func (g *WalletB) Name() string { return GatewayWalletB }

func (g *WalletB) digest(reference string, amount int64) string {
	sum := sha256.Sum256([]byte(g.merchantID + "|" + reference + "|" + strconv.FormatInt(amount, 10) + "|" + g.secret))
	return hex.EncodeToString(sum[:])
}

type walletBCheckoutResponse struct {
	Result      string `json:"result"`
	TxnRef      string `json:"txn_ref"`
	PaymentPage string `json:"payment_page"`
}

func (g *WalletB) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	reference := params.AppointmentID.String()

	form := url.Values{}
	form.Set("merchant_id", g.merchantID)
	form.Set("reference", reference)
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("description", params.Description)
	form.Set("return_url", params.ReturnURL)
	form.Set("digest", g.digest(reference, params.Amount))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/checkout/create", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSessionCreate, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		g.logger.Warn().Int("status", resp.StatusCode).Bytes("body", payload).Msg("checkout session rejected")
		return nil, fmt.Errorf("%w: status %d", ErrSessionCreate, resp.StatusCode)
	}

	var out walletBCheckoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSessionCreate, err)
	}
	if out.Result != "ok" || out.TxnRef == "" || out.PaymentPage == "" {
		return nil, fmt.Errorf("%w: result %q", ErrSessionCreate, out.Result)
	}

	return &CheckoutSession{
		ExternalRef: out.TxnRef,
		RedirectURL: out.PaymentPage,
	}, nil
}

func (g *WalletB) ParseCallback(r *http.Request) (*CallbackEvent, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: parse form: %v", ErrBadCallback, err)
	}

	eventID := r.PostForm.Get("notification_id")
	txnRef := r.PostForm.Get("txn_ref")
	reference := r.PostForm.Get("reference")
	status := r.PostForm.Get("status")
	digest := r.PostForm.Get("digest")
	amount, err := strconv.ParseInt(r.PostForm.Get("amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount", ErrBadCallback)
	}

	if eventID == "" || txnRef == "" {
		return nil, fmt.Errorf("%w: missing notification or txn ref", ErrBadCallback)
	}
	if !hmac.Equal([]byte(digest), []byte(g.digest(reference, amount))) {
		return nil, fmt.Errorf("%w: bad digest", ErrBadCallback)
	}

	var outcome Outcome
	switch status {
	case "success":
		outcome = OutcomeSuccess
	case "failure", "timeout":
		outcome = OutcomeFailed
	case "cancel":
		outcome = OutcomeCancelled
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadCallback, status)
	}

	return &CallbackEvent{
		EventID:     eventID,
		ExternalRef: txnRef,
		Outcome:     outcome,
	}, nil
}

// Digest is exported for tests and the sandbox simulator.
func (g *WalletB) Digest(reference string, amount int64) string {
	return g.digest(reference, amount)
}
