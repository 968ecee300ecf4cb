package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"linkwave/internal/auth"
	"linkwave/internal/payments"
	"linkwave/internal/ratelimiter"
	"linkwave/internal/reconcile"
	"linkwave/internal/reconcile/zoho"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "test-signing-secret"

func newTestApplication(t *testing.T) *application {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	return &application{
		logger:        zap.NewNop().Sugar(),
		authenticator: auth.NewJWTAuthenticator(testJWTSecret, "authenticated", ""),
		rateLimiter:   ratelimiter.NewFixedWindowLimiter(2, time.Minute),
		location:      time.UTC,
		config: config{
			auth: authConfig{
				basic:         basicConfig{user: "ops", passHash: string(hash)},
				cronSecret:    "cron-secret",
				callbackToken: "cb-token",
			},
			rateLimiter: ratelimiter.Config{Enabled: true},

			// httptest requests arrive from 192.0.2.1
			trustedProxies: payments.TrustedProxies{netip.MustParsePrefix("192.0.2.0/24")},
		},
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func adminToken(t *testing.T, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "admin-1",
		"aud":  "authenticated",
		"exp":  time.Now().Add(time.Hour).Unix(),
		"role": role,
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return tok
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuthMiddleware(t *testing.T) {
	app := newTestApplication(t)
	h := app.BasicAuthMiddleware()(http.HandlerFunc(okHandler))

	testCases := []struct {
		Name   string
		Header string
		Want   int
	}{
		{"valid", basic("ops", "s3cret"), http.StatusOK},
		{"wrong password", basic("ops", "nope"), http.StatusUnauthorized},
		{"wrong user", basic("root", "s3cret"), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"bearer instead", "Bearer abc", http.StatusUnauthorized},
		{"bad base64", "Basic !!!", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			if tc.Header != "" {
				req.Header.Set("Authorization", tc.Header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tc.Want, rr.Code)
			if tc.Want == http.StatusUnauthorized {
				assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}
}

func TestAdminTokenMiddleware(t *testing.T) {
	app := newTestApplication(t)

	var seen *auth.Claims
	h := app.AdminTokenMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = getClaimsFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	testCases := []struct {
		Name   string
		Header string
		Want   int
	}{
		{"admin", "Bearer " + adminToken(t, "admin"), http.StatusOK},
		{"not admin", "Bearer " + adminToken(t, "authenticated"), http.StatusForbidden},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/webhooks", nil)
			if tc.Header != "" {
				req.Header.Set("Authorization", tc.Header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tc.Want, rr.Code)
			if tc.Want == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "admin-1", seen.Subject)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestCronSecretMiddleware(t *testing.T) {
	app := newTestApplication(t)
	h := app.CronSecretMiddleware(http.HandlerFunc(okHandler))

	for header, want := range map[string]int{
		"Bearer cron-secret": http.StatusOK,
		"Bearer wrong":       http.StatusUnauthorized,
		"cron-secret":        http.StatusUnauthorized,
		"":                   http.StatusUnauthorized,
	} {
		t.Run(fmt.Sprintf("%q", header), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/cron/payment-sync-monitor", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, want, rr.Code)
		})
	}

	t.Run("unset secret locks the routes", func(t *testing.T) {
		app.config.auth.cronSecret = ""
		req := httptest.NewRequest(http.MethodGet, "/v1/cron/payment-sync-monitor", nil)
		req.Header.Set("Authorization", "Bearer ")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestCallbackTokenMiddleware(t *testing.T) {
	app := newTestApplication(t)
	h := app.CallbackTokenMiddleware(http.HandlerFunc(okHandler))

	testCases := []struct {
		Name   string
		URL    string
		Header string
		Want   int
	}{
		{"bearer", "/v1/notifications/callbacks/sms", "Bearer cb-token", http.StatusOK},
		{"query", "/v1/notifications/callbacks/sms?token=cb-token", "", http.StatusOK},
		{"wrong query", "/v1/notifications/callbacks/sms?token=nope", "", http.StatusUnauthorized},
		{"none", "/v1/notifications/callbacks/sms", "", http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.URL, nil)
			if tc.Header != "" {
				req.Header.Set("Authorization", tc.Header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.Want, rr.Code)
		})
	}
}

func TestWebhookRateLimitMiddleware(t *testing.T) {
	app := newTestApplication(t)
	h := app.WebhookRateLimitMiddleware(http.HandlerFunc(okHandler))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/payments/netcash/webhook", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send("196.33.252.10").Code)
	assert.Equal(t, http.StatusOK, send("196.33.252.10").Code)

	before := time.Now().UnixMilli()
	rr := send("196.33.252.10")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var reset int64
	_, err := fmt.Sscan(rr.Header().Get("X-RateLimit-Reset"), &reset)
	require.NoError(t, err)
	assert.Greater(t, reset, before)

	var body struct {
		Success bool `json:"success"`
		Status  int  `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusTooManyRequests, body.Status)

	// other clients keep their own window
	assert.Equal(t, http.StatusOK, send("196.33.252.11").Code)

	t.Run("disabled", func(t *testing.T) {
		app.config.rateLimiter.Enabled = false
		assert.Equal(t, http.StatusOK, send("196.33.252.10").Code)
	})
}

func TestWebhookRateLimitIgnoresUntrustedForwarding(t *testing.T) {
	app := newTestApplication(t)
	h := app.WebhookRateLimitMiddleware(http.HandlerFunc(okHandler))

	testCases := []struct {
		Name   string
		Remote string
		Want   []int
	}{
		{"rotating header from the internet", "203.0.113.50:4000", []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}},
		{"rotating header through the proxy", "192.0.2.10:4000", []int{http.StatusOK, http.StatusOK, http.StatusOK}},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			app.rateLimiter = ratelimiter.NewFixedWindowLimiter(2, time.Minute)
			for i, want := range tc.Want {
				req := httptest.NewRequest(http.MethodPost, "/v1/payments/netcash/webhook", nil)
				req.RemoteAddr = tc.Remote
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("196.33.252.%d", i+1))
				rr := httptest.NewRecorder()
				h.ServeHTTP(rr, req)
				assert.Equal(t, want, rr.Code, "request %d", i+1)
			}
		})
	}
}

func TestRealIPMiddleware(t *testing.T) {
	app := newTestApplication(t)

	var seen string
	h := app.RealIPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.RemoteAddr
	}))

	testCases := []struct {
		Name   string
		Remote string
		XFF    string
		Want   string
	}{
		{"trusted proxy", "192.0.2.10:4000", "41.203.154.7", "41.203.154.7"},
		{"untrusted peer", "203.0.113.50:4000", "41.203.154.7", "203.0.113.50"},
		{"no header", "192.0.2.10:4000", "", "192.0.2.10"},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tc.Remote
			if tc.XFF != "" {
				req.Header.Set("X-Forwarded-For", tc.XFF)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.Want, seen)
		})
	}
}

func TestSyncErrorResponse(t *testing.T) {
	app := newTestApplication(t)

	testCases := []struct {
		Name string
		Err  error
		Want int
	}{
		{"not found", fmt.Errorf("load: %w", reconcile.ErrTransactionNotFound), http.StatusNotFound},
		{"not completed", reconcile.ErrNotSyncable, http.StatusConflict},
		{"not mapped", fmt.Errorf("%w: customer", reconcile.ErrNotMapped), http.StatusUnprocessableEntity},
		{"not configured", zoho.ErrNotConfigured, http.StatusServiceUnavailable},
		{"api error", &zoho.APIError{HTTPStatus: 400, Code: 1001, Message: "invalid customer"}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/payments/x/sync", nil)
			rr := httptest.NewRecorder()
			app.syncErrorResponse(rr, req, tc.Err)
			assert.Equal(t, tc.Want, rr.Code)
		})
	}
}

func TestReadOptionalJSON(t *testing.T) {
	var p notifyInvoicePayload

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.NoError(t, readOptionalJSON(httptest.NewRecorder(), req, &p))
	assert.Empty(t, p.Trigger)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"trigger":"manual_send","force_send":true}`))
	require.NoError(t, readOptionalJSON(httptest.NewRecorder(), req, &p))
	assert.Equal(t, "manual_send", p.Trigger)
	assert.True(t, p.ForceSend)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	assert.Error(t, readOptionalJSON(httptest.NewRecorder(), req, &p))
}

func TestSAPhoneValidation(t *testing.T) {
	testCases := []struct {
		To   string
		Want bool
	}{
		{"", true},
		{"0821234567", true},
		{"27821234567", true},
		{"+27 82 123 4567", true},
		{"12345", false},
		{"44821234567", false},
	}
	for _, tc := range testCases {
		t.Run(tc.To, func(t *testing.T) {
			err := Validate.Struct(smsCallbackPayload{MessageID: "m", Status: "DELIVERED", To: tc.To})
			assert.Equal(t, tc.Want, err == nil, "err: %v", err)
		})
	}
}

func TestNotifyPayloadTriggerValidation(t *testing.T) {
	assert.NoError(t, Validate.Struct(notifyInvoicePayload{Trigger: "overdue_notice"}))
	assert.Error(t, Validate.Struct(notifyInvoicePayload{Trigger: "birthday"}))
}
