package reconcile

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/paymentsrepo"
	"linkwave/internal/domain/zohosync"
	"linkwave/internal/events"
	"linkwave/internal/infra/breaker"
	"linkwave/internal/reconcile/zoho"

	"go.uber.org/zap"
)

var (
	ErrNotMapped           = errors.New("entity has no zoho mapping")
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrNotSyncable         = errors.New("transaction is not in a syncable state")
)

// transactions with this many failed sync attempts are left for manual review
const MaxSyncAttempts = 5

var syncFailed = expvar.NewInt("zoho_sync_failed")

type ZohoAPI interface {
	RecordPayment(ctx context.Context, in zoho.PaymentRequest) (*zoho.Payment, error)
	CreateInvoice(ctx context.Context, in zoho.InvoiceRequest) (*zoho.Invoice, error)
	UpsertCustomer(ctx context.Context, in zoho.CustomerRequest) (string, error)
}

type TransactionStore interface {
	GetByID(ctx context.Context, id string) (*paymentsrepo.Transaction, error)
	SetSyncStatus(ctx context.Context, id string, u paymentsrepo.SyncUpdate) error
	ListForSync(ctx context.Context, maxAttempts, limit int) ([]*paymentsrepo.Transaction, error)
}

type InvoiceStore interface {
	GetByID(ctx context.Context, id string) (*invoices.Invoice, error)
	SetZohoInvoiceID(ctx context.Context, id, zohoID string) error
}

type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2}

// Delay is the wait before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.InitialDelay)
	for i := 2; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

type Options struct {
	ForceSync bool
}

type Result struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ZohoID     string `json:"zoho_id,omitempty"`
	Skipped    bool   `json:"skipped"`
	Attempts   int    `json:"attempts"`
}

type BatchResult struct {
	Processed int      `json:"processed"`
	Synced    int      `json:"synced"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type SyncService struct {
	api       ZohoAPI
	txs       TransactionStore
	invoices  InvoiceStore
	customers customers.Store
	logs      zohosync.Store
	events    events.Publisher
	policy    RetryPolicy
	logger    *zap.SugaredLogger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewSyncService(api ZohoAPI, txs TransactionStore, inv InvoiceStore, c customers.Store, logs zohosync.Store, pub events.Publisher, logger *zap.SugaredLogger) *SyncService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &SyncService{
		api:       api,
		txs:       txs,
		invoices:  inv,
		customers: c,
		logs:      logs,
		events:    pub,
		policy:    DefaultRetryPolicy,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SyncPayment records a completed transaction as a Zoho Billing payment,
// applied to the invoice it settled when there is one.
func (s *SyncService) SyncPayment(ctx context.Context, transactionID string, opts Options) (*Result, error) {
	tx, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	res := &Result{EntityType: zohosync.EntityPayment, EntityID: tx.ID}

	if !opts.ForceSync {
		m, err := s.logs.GetMapping(ctx, zohosync.EntityPayment, tx.ID)
		if err != nil {
			return nil, err
		}
		if m != nil {
			res.ZohoID, res.Skipped = m.ZohoID, true
			return res, nil
		}
	}
	if tx.Status != paymentsrepo.StatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrNotSyncable, tx.Status)
	}

	req, err := s.paymentRequest(ctx, tx)
	if err != nil {
		s.markPayment(ctx, tx.ID, paymentsrepo.SyncUpdate{Status: paymentsrepo.SyncFailed, Error: err.Error()})
		syncFailed.Add(1)
		return nil, err
	}

	var payment *zoho.Payment
	res.Attempts, err = s.withRetry(ctx, zohosync.EntityPayment, tx.ID, req, func() (string, error) {
		p, err := s.api.RecordPayment(ctx, req)
		if err != nil {
			return "", err
		}
		payment = p
		return p.PaymentID, nil
	})
	if err != nil {
		s.markPayment(ctx, tx.ID, paymentsrepo.SyncUpdate{Status: paymentsrepo.SyncFailed, Error: err.Error()})
		syncFailed.Add(1)
		return res, fmt.Errorf("sync payment %s: %w", tx.ID, err)
	}

	res.ZohoID = payment.PaymentID
	s.markPayment(ctx, tx.ID, paymentsrepo.SyncUpdate{Status: paymentsrepo.SyncSynced, ZohoPaymentID: payment.PaymentID})
	if err := s.logs.UpsertMapping(ctx, zohosync.EntityPayment, tx.ID, payment.PaymentID); err != nil {
		s.logger.Errorw("store payment mapping", "transaction_id", tx.ID, "error", err)
	}
	s.publish(ctx, events.PaymentSynced, tx.ID, map[string]any{
		"transaction_id":  tx.TransactionID,
		"zoho_payment_id": payment.PaymentID,
		"amount":          tx.Amount,
	})
	s.logger.Infow("payment synced to zoho", "transaction_id", tx.ID, "zoho_payment_id", payment.PaymentID, "attempts", res.Attempts)
	return res, nil
}

func (s *SyncService) paymentRequest(ctx context.Context, tx *paymentsrepo.Transaction) (zoho.PaymentRequest, error) {
	req := zoho.PaymentRequest{
		PaymentMode:     "creditcard",
		Amount:          tx.Amount,
		Date:            tx.CreatedAt.Format(time.DateOnly),
		ReferenceNumber: tx.TransactionID,
		Description:     "Netcash payment " + tx.Reference,
		Invoices:        []zoho.AppliedInvoice{},
	}

	if tx.CustomerID == nil {
		return req, fmt.Errorf("%w: transaction %s has no customer", ErrNotMapped, tx.ID)
	}
	c, err := s.customers.GetByID(ctx, *tx.CustomerID)
	if err != nil {
		return req, err
	}
	if c == nil || c.ZohoID() == "" {
		return req, fmt.Errorf("%w: customer %s", ErrNotMapped, *tx.CustomerID)
	}
	req.CustomerID = c.ZohoID()

	if tx.InvoiceID != nil {
		inv, err := s.invoices.GetByID(ctx, *tx.InvoiceID)
		if err != nil {
			return req, err
		}
		if inv == nil || inv.ZohoInvoiceID == nil {
			return req, fmt.Errorf("%w: invoice %s", ErrNotMapped, *tx.InvoiceID)
		}
		req.Invoices = append(req.Invoices, zoho.AppliedInvoice{InvoiceID: *inv.ZohoInvoiceID, AmountApplied: tx.Amount})
	}
	return req, nil
}

// SyncInvoice creates the invoice in Zoho Billing, creating the customer
// first when it has never been synced.
func (s *SyncService) SyncInvoice(ctx context.Context, invoiceID string, opts Options) (*Result, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	res := &Result{EntityType: zohosync.EntityInvoice, EntityID: inv.ID}

	if inv.ZohoInvoiceID != nil && !opts.ForceSync {
		res.ZohoID, res.Skipped = *inv.ZohoInvoiceID, true
		return res, nil
	}
	if len(inv.LineItems) == 0 {
		return nil, fmt.Errorf("invoice %s has no line items", inv.ID)
	}

	customerID, err := s.ensureCustomer(ctx, inv)
	if err != nil {
		syncFailed.Add(1)
		return nil, err
	}

	req := zoho.InvoiceRequest{
		CustomerID:    customerID,
		InvoiceNumber: inv.InvoiceNumber,
		Date:          inv.InvoiceDate.Format(time.DateOnly),
		DueDate:       inv.DueDate.Format(time.DateOnly),
		ReferenceID:   inv.ID,
	}
	for _, li := range inv.LineItems {
		req.LineItems = append(req.LineItems, zoho.LineItem{
			ItemID:   li.ItemID,
			Name:     li.Description,
			Rate:     li.UnitPrice,
			Quantity: li.Quantity,
		})
	}

	var created *zoho.Invoice
	res.Attempts, err = s.withRetry(ctx, zohosync.EntityInvoice, inv.ID, req, func() (string, error) {
		zi, err := s.api.CreateInvoice(ctx, req)
		if err != nil {
			return "", err
		}
		created = zi
		return zi.InvoiceID, nil
	})
	if err != nil {
		syncFailed.Add(1)
		return res, fmt.Errorf("sync invoice %s: %w", inv.ID, err)
	}

	res.ZohoID = created.InvoiceID
	if err := s.invoices.SetZohoInvoiceID(ctx, inv.ID, created.InvoiceID); err != nil {
		return res, err
	}
	if err := s.logs.UpsertMapping(ctx, zohosync.EntityInvoice, inv.ID, created.InvoiceID); err != nil {
		s.logger.Errorw("store invoice mapping", "invoice_id", inv.ID, "error", err)
	}
	s.publish(ctx, events.InvoiceSynced, inv.ID, map[string]any{
		"invoice_number":  inv.InvoiceNumber,
		"zoho_invoice_id": created.InvoiceID,
	})
	return res, nil
}

// EnsureInvoice returns the Zoho id of the invoice, syncing it if needed.
func (s *SyncService) EnsureInvoice(ctx context.Context, invoiceID string) (string, error) {
	res, err := s.SyncInvoice(ctx, invoiceID, Options{})
	if err != nil {
		return "", err
	}
	return res.ZohoID, nil
}

func (s *SyncService) ensureCustomer(ctx context.Context, inv *invoices.Invoice) (string, error) {
	c := inv.Customer
	if c == nil {
		var err error
		if c, err = s.customers.GetByID(ctx, inv.CustomerID); err != nil {
			return "", err
		}
	}
	if c == nil {
		return "", fmt.Errorf("%w: customer %s not found", ErrNotMapped, inv.CustomerID)
	}
	if id := c.ZohoID(); id != "" {
		return id, nil
	}

	req := zoho.CustomerRequest{
		DisplayName: c.FullName(),
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Email:       c.Email,
		Mobile:      c.PhoneNumber(),
	}
	var zohoID string
	_, err := s.withRetry(ctx, zohosync.EntityCustomer, c.ID, req, func() (string, error) {
		id, err := s.api.UpsertCustomer(ctx, req)
		zohoID = id
		return id, err
	})
	if err != nil {
		return "", fmt.Errorf("sync customer %s: %w", c.ID, err)
	}
	if err := s.customers.SetZohoCustomerID(ctx, c.ID, zohoID); err != nil {
		return "", err
	}
	if err := s.logs.UpsertMapping(ctx, zohosync.EntityCustomer, c.ID, zohoID); err != nil {
		s.logger.Errorw("store customer mapping", "customer_id", c.ID, "error", err)
	}
	return zohoID, nil
}

// SyncPending pushes completed transactions still waiting for Zoho, oldest
// first. A failing transaction does not stop the batch.
func (s *SyncService) SyncPending(ctx context.Context, limit int) (*BatchResult, error) {
	txs, err := s.txs.ListForSync(ctx, MaxSyncAttempts, limit)
	if err != nil {
		return nil, err
	}

	out := &BatchResult{}
	for _, tx := range txs {
		if ctx.Err() != nil {
			break
		}
		out.Processed++
		res, err := s.SyncPayment(ctx, tx.ID, Options{})
		switch {
		case errors.Is(err, ErrNotSyncable):
			// reversed after it was queued; nothing left to record in Zoho
			out.Skipped++
			s.markPayment(ctx, tx.ID, paymentsrepo.SyncUpdate{Status: paymentsrepo.SyncSkipped, Error: err.Error()})
		case err != nil:
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", tx.ID, err))
		case res.Skipped:
			out.Skipped++
			s.markPayment(ctx, tx.ID, paymentsrepo.SyncUpdate{Status: paymentsrepo.SyncSynced, ZohoPaymentID: res.ZohoID})
		default:
			out.Synced++
		}
	}

	s.logger.Infow("zoho pending sync finished", "processed", out.Processed, "synced", out.Synced, "failed", out.Failed)
	return out, nil
}

// withRetry runs call up to policy.MaxAttempts times and logs every attempt
// to zoho_sync_logs. Client errors from Zoho and an open breaker end the
// loop early.
func (s *SyncService) withRetry(ctx context.Context, entity, entityID string, payload any, call func() (string, error)) (int, error) {
	s.writeLog(ctx, entity, entityID, zohosync.LogPending, 0, "", nil, payload)

	var lastErr error
	attempt := 0
	for attempt < s.policy.MaxAttempts {
		attempt++
		if err := s.sleep(ctx, s.policy.Delay(attempt)); err != nil {
			lastErr = err
			break
		}

		zohoID, err := call()
		if err == nil {
			s.writeLog(ctx, entity, entityID, zohosync.LogSuccess, attempt, zohoID, nil, nil)
			return attempt, nil
		}
		lastErr = err

		if !retryable(err) || attempt == s.policy.MaxAttempts {
			break
		}
		s.logger.Warnw("zoho sync attempt failed", "entity", entity, "id", entityID, "attempt", attempt, "error", err)
		s.writeLog(ctx, entity, entityID, zohosync.LogRetrying, attempt, "", lastErr, nil)
	}

	s.writeLog(ctx, entity, entityID, zohosync.LogFailed, attempt, "", lastErr, nil)
	s.logger.Errorw("zoho sync failed", "entity", entity, "id", entityID, "attempts", attempt, "error", lastErr)
	return attempt, lastErr
}

func retryable(err error) bool {
	if breaker.IsOpen(err) || errors.Is(err, zoho.ErrNotConfigured) {
		return false
	}
	var apiErr *zoho.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500 || apiErr.HTTPStatus == http.StatusTooManyRequests
	}
	return true
}

func (s *SyncService) writeLog(ctx context.Context, entity, entityID, status string, attempt int, zohoID string, cause error, payload any) {
	l := &zohosync.SyncLog{
		EntityType:     entity,
		EntityID:       entityID,
		Status:         status,
		Attempt:        attempt,
		RequestPayload: payload,
	}
	if zohoID != "" {
		l.ZohoEntityID = &zohoID
	}
	if cause != nil {
		msg := cause.Error()
		l.ErrorMessage = &msg
	}
	if err := s.logs.InsertLog(ctx, l); err != nil {
		s.logger.Errorw("write zoho sync log", "entity", entity, "id", entityID, "error", err)
	}
}

func (s *SyncService) markPayment(ctx context.Context, id string, u paymentsrepo.SyncUpdate) {
	if err := s.txs.SetSyncStatus(ctx, id, u); err != nil {
		s.logger.Errorw("update transaction sync status", "transaction_id", id, "error", err)
	}
}

func (s *SyncService) publish(ctx context.Context, typ, key string, data map[string]any) {
	if err := s.events.Publish(ctx, events.Event{Type: typ, Key: key, OccurredAt: time.Now().UTC(), Data: data}); err != nil {
		s.logger.Warnw("publish event", "type", typ, "key", key, "error", err)
	}
}
