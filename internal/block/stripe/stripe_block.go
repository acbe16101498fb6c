// Package stripe implements provider blocks backed by the Stripe
// PaymentIntents API.
package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/payment"
)

const (
	stripeAPIBaseURL     = "https://api.stripe.com/v1"
	defaultRetryAttempts = 2
	defaultRetryDelay    = 500 * time.Millisecond
	defaultPaymentMethod = "pm_card_visa"
	maxIdempotencyKeyLen = 255
)

// Mode selects which PaymentIntents call a block makes.
type Mode string

const (
	// ModeCreateIntent creates and confirms an intent. Used for INITIALIZE.
	ModeCreateIntent Mode = "create_intent"
	// ModeSyncIntent reads the intent back and reports its settlement. Used for PAY.
	ModeSyncIntent Mode = "sync_intent"
	// ModeCaptureIntent captures an authorised intent. Used for CONFIRM.
	ModeCaptureIntent Mode = "capture_intent"
)

// ParseMode validates a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCreateIntent, ModeSyncIntent, ModeCaptureIntent:
		return m, nil
	default:
		return "", fmt.Errorf("unknown stripe block mode %q", s)
	}
}

// Credentials authenticate against the Stripe API.
type Credentials struct {
	APIKey string
}

// Block is a block.Block that talks to Stripe.
type Block struct {
	name       string
	mode       Mode
	creds      Credentials
	httpClient *http.Client
	apiBaseURL string
	retryDelay time.Duration
}

// Option customises a Block.
type Option func(*Block)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Block) {
		if c != nil {
			b.httpClient = c
		}
	}
}

// WithBaseURL points the block at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(b *Block) {
		if u != "" {
			b.apiBaseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithRetryDelay sets the pause between retried requests.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Block) { b.retryDelay = d }
}

// New creates a Stripe block.
func New(name string, mode Mode, creds Credentials, opts ...Option) *Block {
	b := &Block{
		name:       name,
		mode:       mode,
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiBaseURL: stripeAPIBaseURL,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Block) Name() string { return b.name }

// ErrorResponse is the error envelope Stripe returns on 4xx.
type ErrorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

type paymentIntent struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	NextAction *struct {
		Type          string `json:"type"`
		RedirectToURL *struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type searchResult struct {
	Data []paymentIntent `json:"data"`
}

// Run implements block.Block.
func (b *Block) Run(ctx context.Context, pm *payment.PaymentMethod, args block.Args) (payment.BlockResponse, error) {
	switch b.mode {
	case ModeCreateIntent:
		form, err := buildIntentPayload(pm, args)
		if err != nil {
			return failed(err.Error()), nil
		}
		return b.call(ctx, http.MethodPost, "/payment_intents", form, generateIdempotencyKey(pm.ID, b.mode))
	case ModeSyncIntent, ModeCaptureIntent:
		id, resp, err := b.resolveIntent(ctx, pm, args)
		if err != nil || id == "" {
			return resp, err
		}
		if b.mode == ModeSyncIntent {
			return b.call(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(id), nil, "")
		}
		return b.call(ctx, http.MethodPost, "/payment_intents/"+url.PathEscape(id)+"/capture", url.Values{}, generateIdempotencyKey(pm.ID, b.mode))
	default:
		return payment.BlockResponse{}, fmt.Errorf("stripe: block %s has unknown mode %q", b.name, b.mode)
	}
}

// generateIdempotencyKey is stable per payment method and mode, so a retried
// phase never creates or captures twice.
func generateIdempotencyKey(paymentMethodID string, mode Mode) string {
	key := fmt.Sprintf("payflow-%s-%s", paymentMethodID, mode)
	if len(key) > maxIdempotencyKeyLen {
		return key[:maxIdempotencyKeyLen]
	}
	return key
}

// buildIntentPayload expects amount in minor units.
func buildIntentPayload(pm *payment.PaymentMethod, args block.Args) (url.Values, error) {
	amount, ok := args.Int64("amount")
	if !ok || amount <= 0 {
		return nil, errors.New("stripe: a positive integer amount is required")
	}
	currency := args.String("currency")
	if currency == "" {
		return nil, errors.New("stripe: currency is required")
	}

	payload := url.Values{}
	payload.Set("amount", strconv.FormatInt(amount, 10))
	payload.Set("currency", strings.ToLower(currency))
	payload.Set("confirm", "true")
	payload.Set("metadata[payment_method_id]", pm.ID)
	payload.Set("metadata[payment_attempt_id]", pm.PaymentAttemptID)

	if token := args.String("payment_method_token"); token != "" {
		payload.Set("payment_method", token)
	} else {
		payload.Set("payment_method", defaultPaymentMethod)
	}
	if pm.Confirmable {
		// Funds are captured later by the CONFIRM phase.
		payload.Set("capture_method", "manual")
	}
	if returnURL := args.String("return_url"); returnURL != "" {
		payload.Set("return_url", returnURL)
	}
	if description := args.String("description"); description != "" {
		payload.Set("description", description)
	} else {
		payload.Set("description", fmt.Sprintf("Payment attempt %s", pm.PaymentAttemptID))
	}
	return payload, nil
}

func (b *Block) resolveIntent(ctx context.Context, pm *payment.PaymentMethod, args block.Args) (string, payment.BlockResponse, error) {
	if id := args.String("payment_intent_id"); id != "" {
		return id, payment.BlockResponse{}, nil
	}
	query := url.Values{}
	query.Set("query", fmt.Sprintf("metadata['payment_method_id']:'%s'", pm.ID))
	query.Set("limit", "1")

	status, body, err := b.do(ctx, http.MethodGet, "/payment_intents/search?"+query.Encode(), nil, "")
	if err != nil {
		return "", payment.BlockResponse{}, err
	}
	if status < 200 || status >= 300 {
		return "", errorResponse(status, body), nil
	}
	var result searchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", payment.BlockResponse{}, fmt.Errorf("stripe: failed to decode search response: %w", err)
	}
	if len(result.Data) == 0 {
		return "", failed(fmt.Sprintf("no payment intent found for payment method %s", pm.ID)), nil
	}
	return result.Data[0].ID, payment.BlockResponse{}, nil
}

func (b *Block) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string) (payment.BlockResponse, error) {
	status, body, err := b.do(ctx, method, path, form, idempotencyKey)
	if err != nil {
		return payment.BlockResponse{}, err
	}
	if status < 200 || status >= 300 {
		return errorResponse(status, body), nil
	}
	var intent paymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return payment.BlockResponse{}, fmt.Errorf("stripe: failed to decode payment intent: %w", err)
	}
	return b.mapIntent(intent), nil
}

func (b *Block) mapIntent(intent paymentIntent) payment.BlockResponse {
	switch intent.Status {
	case "succeeded":
		return payment.BlockResponse{Status: payment.StatusCompleted}
	case "requires_capture":
		if b.mode == ModeCaptureIntent {
			return payment.BlockResponse{Status: payment.StatusPending}
		}
		return payment.BlockResponse{Status: payment.StatusCompleted}
	case "processing":
		if b.mode == ModeCreateIntent {
			// Settlement is picked up by the PAY phase.
			return payment.BlockResponse{Status: payment.StatusCompleted}
		}
		return payment.BlockResponse{Status: payment.StatusPending}
	case "requires_action":
		action := payment.Action{"payment_intent_id": intent.ID}
		if intent.NextAction != nil {
			action["type"] = intent.NextAction.Type
			if intent.NextAction.RedirectToURL != nil {
				action["redirect_url"] = intent.NextAction.RedirectToURL.URL
			}
		}
		return payment.BlockResponse{Status: payment.StatusRequiresAction, Actions: []payment.Action{action}}
	case "requires_payment_method", "requires_confirmation", "canceled":
		if intent.LastPaymentError != nil && intent.LastPaymentError.Message != "" {
			return failed(intent.LastPaymentError.Message)
		}
		return failed(fmt.Sprintf("payment intent %s is %s", intent.ID, intent.Status))
	default:
		return failed(fmt.Sprintf("unexpected payment intent status %q", intent.Status))
	}
}

// do retries network errors, 429 and 5xx. It returns an error only when no
// usable answer was obtained.
func (b *Block) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string) (int, []byte, error) {
	var encoded []byte
	if form != nil {
		encoded = []byte(form.Encode())
	}

	var lastErr error
	for attempt := 0; attempt <= defaultRetryAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, b.retryDelay); err != nil {
				return 0, nil, err
			}
		}

		var reqBody io.Reader
		if encoded != nil {
			reqBody = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, b.apiBaseURL+path, reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("stripe: failed to create http request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+b.creds.APIKey)
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		if encoded != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			lastErr = fmt.Errorf("stripe: http client error on attempt %d: %w", attempt+1, err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("stripe: failed to read response body: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("stripe: received HTTP %d (attempt %d): %s", resp.StatusCode, attempt+1, string(body))
			continue
		}
		return resp.StatusCode, body, nil
	}
	return 0, nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errorResponse(status int, body []byte) payment.BlockResponse {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		code := er.Error.Code
		if er.Error.DeclineCode != "" {
			code = er.Error.DeclineCode
		}
		if code != "" {
			return failed(fmt.Sprintf("%s: %s", code, er.Error.Message))
		}
		return failed(er.Error.Message)
	}
	return failed(fmt.Sprintf("stripe API request failed with HTTP %d", status))
}

func failed(msg string) payment.BlockResponse {
	return payment.BlockResponse{Status: payment.StatusFailed, ErrorMessage: msg}
}
