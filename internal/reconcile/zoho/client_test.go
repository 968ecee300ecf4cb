package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeZoho struct {
	srv           *httptest.Server
	tokenCalls    atomic.Int32
	customers     []customerRecord
	createdBodies []map[string]any
}

func newFakeZoho(t *testing.T) *fakeZoho {
	f := &fakeZoho{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		f.tokenCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3600})
	})

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Zoho-oauthtoken at-1", r.Header.Get("Authorization"))
			assert.Equal(t, "org-9", r.Header.Get("X-com-zoho-subscriptions-organizationid"))
			assert.Equal(t, "org-9", r.URL.Query().Get("organization_id"))
			next(w, r)
		}
	}

	mux.HandleFunc("POST /billing/v1/payments", auth(func(w http.ResponseWriter, r *http.Request) {
		var body PaymentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.CustomerID == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":1002,"message":"Customer does not exist."}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0, "payment": map[string]any{"payment_id": "zp-1", "payment_number": "2", "amount": body.Amount},
		})
	}))
	mux.HandleFunc("GET /billing/v1/invoices/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"invoice": map[string]any{"invoice_id": r.PathValue("id"), "status": "sent", "total": 599, "balance": 599},
		})
	}))
	mux.HandleFunc("POST /billing/v1/invoices", auth(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"invoice": map[string]any{"invoice_id": "zi-1", "invoice_number": "INV-1"}})
	}))
	mux.HandleFunc("GET /billing/v1/customers", auth(func(w http.ResponseWriter, r *http.Request) {
		var match []customerRecord
		for _, c := range f.customers {
			if c.Email == r.URL.Query().Get("email") {
				match = append(match, c)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"customers": match})
	}))
	mux.HandleFunc("POST /billing/v1/customers", auth(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.createdBodies = append(f.createdBodies, body)
		json.NewEncoder(w).Encode(map[string]any{"customer": map[string]any{"customer_id": "zc-new"}})
	}))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeZoho) client() *Client {
	return NewClient(Config{
		OrganizationID: "org-9",
		ClientID:       "cid",
		ClientSecret:   "secret",
		RefreshToken:   "rt-1",
		BaseURL:        f.srv.URL + "/billing/v1",
		AccountsURL:    f.srv.URL,
	})
}

func TestRecordPayment(t *testing.T) {
	f := newFakeZoho(t)
	c := f.client()

	p, err := c.RecordPayment(context.Background(), PaymentRequest{
		CustomerID: "zc-1", PaymentMode: "creditcard", Amount: 499,
		Invoices: []AppliedInvoice{{InvoiceID: "zi-1", AmountApplied: 499}},
	})
	require.NoError(t, err)
	assert.Equal(t, "zp-1", p.PaymentID)
	assert.Equal(t, 499.0, p.Amount)
}

func TestAPIErrorIsTyped(t *testing.T) {
	f := newFakeZoho(t)

	_, err := f.client().RecordPayment(context.Background(), PaymentRequest{CustomerID: "bad"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1002, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, "zoho billing api error: Customer does not exist. (1002)", apiErr.Error())
}

func TestTokenIsCachedUntilNearExpiry(t *testing.T) {
	f := newFakeZoho(t)
	c := f.client()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.GetInvoice(context.Background(), "zi-1")
	require.NoError(t, err)
	_, err = c.GetInvoice(context.Background(), "zi-2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load())

	now = now.Add(59*time.Minute + 30*time.Second)
	inv, err := c.GetInvoice(context.Background(), "zi-3")
	require.NoError(t, err)
	assert.Equal(t, "zi-3", inv.InvoiceID)
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestUpsertCustomer(t *testing.T) {
	f := newFakeZoho(t)
	f.customers = []customerRecord{{CustomerID: "zc-1", Email: "known@example.test"}}
	c := f.client()

	id, err := c.UpsertCustomer(context.Background(), CustomerRequest{DisplayName: "Known", Email: "known@example.test"})
	require.NoError(t, err)
	assert.Equal(t, "zc-1", id)
	assert.Empty(t, f.createdBodies)

	id, err = c.UpsertCustomer(context.Background(), CustomerRequest{DisplayName: "Thandi Nkosi", Email: "thandi@example.test"})
	require.NoError(t, err)
	assert.Equal(t, "zc-new", id)
	require.Len(t, f.createdBodies, 1)
	assert.Equal(t, "thandi@example.test", f.createdBodies[0]["email"])
}

func TestCreateInvoice(t *testing.T) {
	f := newFakeZoho(t)

	inv, err := f.client().CreateInvoice(context.Background(), InvoiceRequest{
		CustomerID: "zc-1",
		LineItems:  []LineItem{{Name: "Fibre 100", Rate: 599, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "zi-1", inv.InvoiceID)
}

func TestUnconfiguredClient(t *testing.T) {
	c := NewClient(Config{Region: "eu"})
	assert.Equal(t, "https://www.zohoapis.eu/billing/v1", c.baseURL)
	assert.Equal(t, "https://accounts.zoho.eu", c.accountsURL)

	_, err := c.GetInvoice(context.Background(), "zi-1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	testCases := []struct {
		Name       string
		Revoked    []string
		WantErr    bool
		WantTokens int32
		WantCalls  int32
	}{
		{"stale token replaced", []string{"at-1"}, false, 2, 2},
		{"still rejected after refresh", []string{"at-1", "at-2"}, true, 2, 2},
		{"valid token", nil, false, 1, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			var tokens, calls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("POST /oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
				n := tokens.Add(1)
				json.NewEncoder(w).Encode(map[string]any{"access_token": fmt.Sprintf("at-%d", n), "expires_in": 3600})
			})
			mux.HandleFunc("GET /billing/v1/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Zoho-oauthtoken ")
				if slices.Contains(tc.Revoked, tok) {
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"code":57,"message":"You are not authorized to perform this operation"}`))
					return
				}
				json.NewEncoder(w).Encode(map[string]any{"invoice": map[string]any{"invoice_id": r.PathValue("id")}})
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			c := NewClient(Config{
				OrganizationID: "org-9", ClientID: "cid", ClientSecret: "secret", RefreshToken: "rt-1",
				BaseURL: srv.URL + "/billing/v1", AccountsURL: srv.URL,
			})

			inv, err := c.GetInvoice(context.Background(), "zi-7")
			if tc.WantErr {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus)
				assert.Empty(t, c.accessToken, "rejected token is not kept")
			} else {
				require.NoError(t, err)
				assert.Equal(t, "zi-7", inv.InvoiceID)
			}
			assert.Equal(t, tc.WantTokens, tokens.Load())
			assert.Equal(t, tc.WantCalls, calls.Load())
		})
	}
}
