package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"linkwave/internal/infra/breaker"

	"github.com/sony/gobreaker/v2"
)

var (
	billingBase = map[string]string{
		"US": "https://www.zohoapis.com/billing/v1",
		"EU": "https://www.zohoapis.eu/billing/v1",
		"IN": "https://www.zohoapis.in/billing/v1",
		"AU": "https://www.zohoapis.com.au/billing/v1",
		"CN": "https://www.zohoapis.com.cn/billing/v1",
	}
	accountsBase = map[string]string{
		"US": "https://accounts.zoho.com",
		"EU": "https://accounts.zoho.eu",
		"IN": "https://accounts.zoho.in",
		"AU": "https://accounts.zoho.com.au",
		"CN": "https://accounts.zoho.com.cn",
	}
)

// tokens are refreshed this long before Zoho says they expire
const tokenSkew = 60 * time.Second

var ErrNotConfigured = errors.New("zoho billing is not configured")

// APIError is the {code, message} body Zoho returns on a failed call.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoho billing api error: %s (%d)", e.Message, e.Code)
}

type Config struct {
	Region         string
	OrganizationID string
	ClientID       string
	ClientSecret   string
	RefreshToken   string

	// overrides for tests
	BaseURL     string
	AccountsURL string
}

func (c Config) Enabled() bool {
	return c.OrganizationID != "" && c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

type Client struct {
	cfg         Config
	baseURL     string
	accountsURL string
	http        *http.Client
	cb          *gobreaker.CircuitBreaker[[]byte]

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	now         func() time.Time
}

func NewClient(cfg Config) *Client {
	region := strings.ToUpper(cfg.Region)
	if _, ok := billingBase[region]; !ok {
		region = "US"
	}
	c := &Client{
		cfg:         cfg,
		baseURL:     billingBase[region],
		accountsURL: accountsBase[region],
		http:        &http.Client{Timeout: 20 * time.Second},
		cb:          breaker.New("zoho-billing"),
		now:         time.Now,
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.AccountsURL != "" {
		c.accountsURL = strings.TrimRight(cfg.AccountsURL, "/")
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt.Add(-tokenSkew)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", c.cfg.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountsURL+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh zoho token: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode zoho token: %w", err)
	}
	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		msg := tr.Error
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("refresh zoho token: %s", msg)
	}

	c.accessToken = tr.AccessToken
	c.expiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// do sends one request and decodes the response into out. Non-2xx answers
// come back as *APIError; only 5xx and transport failures count against the
// breaker. A 401 drops the cached token and the call is retried once with a
// fresh one.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	if !c.cfg.Enabled() {
		return ErrNotConfigured
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("organization_id", c.cfg.OrganizationID)
	target := c.baseURL + endpoint + "?" + query.Encode()

	var (
		payload []byte
		err     error
	)
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	var (
		raw    []byte
		apiErr *APIError
	)
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}
		raw, apiErr, err = c.send(ctx, method, target, tok, payload)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, endpoint, err)
		}
		if apiErr == nil || apiErr.HTTPStatus != http.StatusUnauthorized {
			break
		}
		c.invalidate(tok)
	}
	if apiErr != nil {
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, target, tok string, payload []byte) ([]byte, *APIError, error) {
	var apiErr *APIError
	raw, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Zoho-oauthtoken "+tok)
		req.Header.Set("X-com-zoho-subscriptions-organizationid", c.cfg.OrganizationID)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			e := &APIError{HTTPStatus: resp.StatusCode}
			if jerr := json.Unmarshal(b, e); jerr != nil || e.Message == "" {
				e.Message = http.StatusText(resp.StatusCode)
			}
			if resp.StatusCode >= 500 {
				return nil, e
			}
			apiErr = e
		}
		return b, nil
	})
	return raw, apiErr, err
}

// invalidate forgets tok unless another caller already replaced it.
func (c *Client) invalidate(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == tok {
		c.accessToken = ""
		c.expiresAt = time.Time{}
	}
}

type LineItem struct {
	ItemID      string  `json:"item_id,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Rate        float64 `json:"rate"`
	Quantity    float64 `json:"quantity"`
}

type InvoiceRequest struct {
	CustomerID    string     `json:"customer_id"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	Date          string     `json:"date,omitempty"`
	DueDate       string     `json:"due_date,omitempty"`
	LineItems     []LineItem `json:"line_items"`
	Notes         string     `json:"notes,omitempty"`
	ReferenceID   string     `json:"reference_number,omitempty"`
}

type Invoice struct {
	InvoiceID     string  `json:"invoice_id"`
	InvoiceNumber string  `json:"invoice_number"`
	CustomerID    string  `json:"customer_id"`
	Status        string  `json:"status"`
	Total         float64 `json:"total"`
	Balance       float64 `json:"balance"`
}

type AppliedInvoice struct {
	InvoiceID     string  `json:"invoice_id"`
	AmountApplied float64 `json:"amount_applied"`
}

type PaymentRequest struct {
	CustomerID      string           `json:"customer_id"`
	PaymentMode     string           `json:"payment_mode"`
	Amount          float64          `json:"amount"`
	Date            string           `json:"date,omitempty"`
	ReferenceNumber string           `json:"reference_number,omitempty"`
	Description     string           `json:"description,omitempty"`
	Invoices        []AppliedInvoice `json:"invoices"`
}

type Payment struct {
	PaymentID     string  `json:"payment_id"`
	PaymentNumber string  `json:"payment_number"`
	Amount        float64 `json:"amount"`
}

type CustomerRequest struct {
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email"`
	Mobile      string `json:"mobile,omitempty"`
}

type customerRecord struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
}

func (c *Client) CreateInvoice(ctx context.Context, in InvoiceRequest) (*Invoice, error) {
	var resp struct {
		Invoice *Invoice `json:"invoice"`
	}
	if err := c.do(ctx, http.MethodPost, "/invoices", nil, in, &resp); err != nil {
		return nil, err
	}
	if resp.Invoice == nil || resp.Invoice.InvoiceID == "" {
		return nil, errors.New("zoho: create invoice returned no invoice")
	}
	return resp.Invoice, nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var resp struct {
		Invoice *Invoice `json:"invoice"`
	}
	if err := c.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(invoiceID), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Invoice == nil {
		return nil, fmt.Errorf("zoho: invoice %s not found", invoiceID)
	}
	return resp.Invoice, nil
}

func (c *Client) RecordPayment(ctx context.Context, in PaymentRequest) (*Payment, error) {
	var resp struct {
		Payment *Payment `json:"payment"`
	}
	if err := c.do(ctx, http.MethodPost, "/payments", nil, in, &resp); err != nil {
		return nil, err
	}
	if resp.Payment == nil || resp.Payment.PaymentID == "" {
		return nil, errors.New("zoho: record payment returned no payment")
	}
	return resp.Payment, nil
}

// UpsertCustomer returns the Zoho id of the customer with this email,
// creating the customer when none exists.
func (c *Client) UpsertCustomer(ctx context.Context, in CustomerRequest) (string, error) {
	var found struct {
		Customers []customerRecord `json:"customers"`
	}
	q := url.Values{}
	q.Set("email", in.Email)
	if err := c.do(ctx, http.MethodGet, "/customers", q, nil, &found); err != nil {
		return "", err
	}
	if len(found.Customers) > 0 {
		return found.Customers[0].CustomerID, nil
	}

	var created struct {
		Customer *customerRecord `json:"customer"`
	}
	if err := c.do(ctx, http.MethodPost, "/customers", nil, in, &created); err != nil {
		return "", err
	}
	if created.Customer == nil || created.Customer.CustomerID == "" {
		return "", errors.New("zoho: create customer returned no customer_id")
	}
	return created.Customer.CustomerID, nil
}
