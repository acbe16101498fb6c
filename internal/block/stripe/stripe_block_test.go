package stripe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/payment"
)

func newTestBlock(t *testing.T, mode Mode, handler http.HandlerFunc) *Block {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New("stripe-"+string(mode), mode, Credentials{APIKey: "sk_test_apikey"},
		WithHTTPClient(server.Client()),
		WithBaseURL(server.URL),
		WithRetryDelay(0),
	)
}

func testMethod(confirmable bool) *payment.PaymentMethod {
	return &payment.PaymentMethod{ID: "pm-123", PaymentAttemptID: "att-9", Confirmable: confirmable}
}

func TestNew(t *testing.T) {
	b := New("stripe", ModeCreateIntent, Credentials{})
	require.NotNil(t, b)
	assert.Equal(t, "stripe", b.Name())
	assert.NotNil(t, b.httpClient)
	assert.Equal(t, stripeAPIBaseURL, b.apiBaseURL)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Capture_Intent ")
	require.NoError(t, err)
	assert.Equal(t, ModeCaptureIntent, m)

	_, err = ParseMode("refund")
	assert.Error(t, err)
}

func TestGenerateIdempotencyKey(t *testing.T) {
	key1 := generateIdempotencyKey("pm1", ModeCreateIntent)
	key2 := generateIdempotencyKey("pm1", ModeCreateIntent)
	key3 := generateIdempotencyKey("pm2", ModeCreateIntent)
	key4 := generateIdempotencyKey("pm1", ModeCaptureIntent)

	assert.NotEmpty(t, key1)
	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
	assert.NotEqual(t, key1, key4)
	assert.LessOrEqual(t, len(generateIdempotencyKey(strings.Repeat("x", 400), ModeSyncIntent)), 255)
}

func TestBuildIntentPayload(t *testing.T) {
	payload, err := buildIntentPayload(testMethod(true), block.Args{
		"amount":               float64(12345),
		"currency":             "USD",
		"payment_method_token": "pm_card_custom",
		"description":          "Custom Description",
		"return_url":           "https://shop.test/return",
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", payload.Get("amount"))
	assert.Equal(t, "usd", payload.Get("currency"))
	assert.Equal(t, "pm_card_custom", payload.Get("payment_method"))
	assert.Equal(t, "Custom Description", payload.Get("description"))
	assert.Equal(t, "manual", payload.Get("capture_method"))
	assert.Equal(t, "https://shop.test/return", payload.Get("return_url"))
	assert.Equal(t, "pm-123", payload.Get("metadata[payment_method_id]"))

	defaults, err := buildIntentPayload(testMethod(false), block.Args{"amount": 500, "currency": "EUR"})
	require.NoError(t, err)
	assert.Equal(t, defaultPaymentMethod, defaults.Get("payment_method"))
	assert.Equal(t, "Payment attempt att-9", defaults.Get("description"))
	assert.Empty(t, defaults.Get("capture_method"))

	_, err = buildIntentPayload(testMethod(false), block.Args{"currency": "EUR"})
	assert.Error(t, err)
	_, err = buildIntentPayload(testMethod(false), block.Args{"amount": 10})
	assert.Error(t, err)
}

func TestCreateIntent_Success(t *testing.T) {
	b := newTestBlock(t, ModeCreateIntent, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment_intents", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer sk_test_"))
		assert.Equal(t, "payflow-pm-123-create_intent", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "amount=1099")
		assert.Contains(t, string(body), "currency=usd")
		assert.Contains(t, string(body), "confirm=true")

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_1", "status": "succeeded"})
	})

	resp, err := b.Run(context.Background(), testMethod(false), block.Args{"amount": 1099, "currency": "USD"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, resp.Status)
	assert.Empty(t, resp.Actions)
}

func TestCreateIntent_RequiresAction(t *testing.T) {
	b := newTestBlock(t, ModeCreateIntent, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pi_3ds",
			"status": "requires_action",
			"next_action": map[string]any{
				"type":            "redirect_to_url",
				"redirect_to_url": map[string]any{"url": "https://hooks.stripe.test/3ds"},
			},
		})
	})

	resp, err := b.Run(context.Background(), testMethod(false), block.Args{"amount": 1099, "currency": "usd"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRequiresAction, resp.Status)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "pi_3ds", resp.Actions[0]["payment_intent_id"])
	assert.Equal(t, "redirect_to_url", resp.Actions[0]["type"])
	assert.Equal(t, "https://hooks.stripe.test/3ds", resp.Actions[0]["redirect_url"])
}

func TestCreateIntent_CardDeclined(t *testing.T) {
	b := newTestBlock(t, ModeCreateIntent, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	})

	resp, err := b.Run(context.Background(), testMethod(false), block.Args{"amount": 1099, "currency": "usd"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, resp.Status)
	assert.Equal(t, "insufficient_funds: Your card has insufficient funds.", resp.ErrorMessage)
}

func TestCreateIntent_InvalidArgsSkipsProvider(t *testing.T) {
	var calls int32
	b := newTestBlock(t, ModeCreateIntent, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	resp, err := b.Run(context.Background(), testMethod(false), block.Args{"currency": "usd"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, resp.Status)
	assert.Contains(t, resp.ErrorMessage, "amount")
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRetryThenSuccess(t *testing.T) {
	var calls int32
	b := newTestBlock(t, ModeCreateIntent, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "amount=1099", "retried request must resend the body")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_retry", "status": "processing"})
	})

	resp, err := b.Run(context.Background(), testMethod(false), block.Args{"amount": 1099, "currency": "usd"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, resp.Status, "a processing intent is handed over to PAY")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	b := newTestBlock(t, ModeCreateIntent, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := b.Run(context.Background(), testMethod(false), block.Args{"amount": 1099, "currency": "usd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Equal(t, int32(defaultRetryAttempts+1), atomic.LoadInt32(&calls))
}

func TestSyncIntent_SearchesByPaymentMethod(t *testing.T) {
	b := newTestBlock(t, ModeSyncIntent, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/payment_intents/search":
			assert.Equal(t, "metadata['payment_method_id']:'pm-123'", r.URL.Query().Get("query"))
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{map[string]any{"id": "pi_found", "status": "processing"}}})
		case "/payment_intents/pi_found":
			assert.Empty(t, r.Header.Get("Idempotency-Key"))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_found", "status": "processing"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	resp, err := b.Run(context.Background(), testMethod(false), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, resp.Status)
}

func TestSyncIntent_NoIntent(t *testing.T) {
	b := newTestBlock(t, ModeSyncIntent, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	resp, err := b.Run(context.Background(), testMethod(false), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, resp.Status)
	assert.Contains(t, resp.ErrorMessage, "no payment intent")
}

func TestCaptureIntent_ExplicitID(t *testing.T) {
	b := newTestBlock(t, ModeCaptureIntent, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment_intents/pi_42/capture", r.URL.Path)
		assert.Equal(t, "payflow-pm-123-capture_intent", r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_42", "status": "succeeded"})
	})

	resp, err := b.Run(context.Background(), testMethod(true), block.Args{"payment_intent_id": "pi_42"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, resp.Status)
}

func TestMapIntent(t *testing.T) {
	create := New("c", ModeCreateIntent, Credentials{})
	capture := New("k", ModeCaptureIntent, Credentials{})

	assert.Equal(t, payment.StatusCompleted, create.mapIntent(paymentIntent{Status: "requires_capture"}).Status)
	assert.Equal(t, payment.StatusPending, capture.mapIntent(paymentIntent{Status: "requires_capture"}).Status)
	assert.Equal(t, payment.StatusFailed, capture.mapIntent(paymentIntent{Status: "canceled"}).Status)
	assert.Equal(t, payment.StatusFailed, capture.mapIntent(paymentIntent{Status: "mystery"}).Status)

	declined := paymentIntent{ID: "pi_x", Status: "requires_payment_method"}
	declined.LastPaymentError = &struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: "card_declined", Message: "Your card was declined."}
	resp := create.mapIntent(declined)
	assert.Equal(t, payment.StatusFailed, resp.Status)
	assert.Equal(t, "Your card was declined.", resp.ErrorMessage)
}
