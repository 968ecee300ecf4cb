package reconcile

import (
	"context"
	"sync"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/paymentsrepo"
	"linkwave/internal/domain/zohosync"
	"linkwave/internal/events"
	"linkwave/internal/reconcile/zoho"
)

type fakeAPI struct {
	mu           sync.Mutex
	paymentErrs  []error
	invoiceErrs  []error
	customerID   string
	payments     []zoho.PaymentRequest
	invoices     []zoho.InvoiceRequest
	customerReqs []zoho.CustomerRequest
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeAPI) RecordPayment(ctx context.Context, in zoho.PaymentRequest) (*zoho.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, in)
	if err := popErr(&f.paymentErrs); err != nil {
		return nil, err
	}
	return &zoho.Payment{PaymentID: "zp-1", Amount: in.Amount}, nil
}

func (f *fakeAPI) CreateInvoice(ctx context.Context, in zoho.InvoiceRequest) (*zoho.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, in)
	if err := popErr(&f.invoiceErrs); err != nil {
		return nil, err
	}
	return &zoho.Invoice{InvoiceID: "zi-1", InvoiceNumber: in.InvoiceNumber}, nil
}

func (f *fakeAPI) UpsertCustomer(ctx context.Context, in zoho.CustomerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerReqs = append(f.customerReqs, in)
	return f.customerID, nil
}

type fakeTxs struct {
	byID    map[string]*paymentsrepo.Transaction
	updates map[string][]paymentsrepo.SyncUpdate
}

func newFakeTxs(txs ...*paymentsrepo.Transaction) *fakeTxs {
	f := &fakeTxs{byID: map[string]*paymentsrepo.Transaction{}, updates: map[string][]paymentsrepo.SyncUpdate{}}
	for _, t := range txs {
		f.byID[t.ID] = t
	}
	return f
}

func (f *fakeTxs) GetByID(ctx context.Context, id string) (*paymentsrepo.Transaction, error) {
	return f.byID[id], nil
}

func (f *fakeTxs) SetSyncStatus(ctx context.Context, id string, u paymentsrepo.SyncUpdate) error {
	f.updates[id] = append(f.updates[id], u)
	if t, ok := f.byID[id]; ok {
		st := u.Status
		t.ZohoSyncStatus = &st
		if u.Status == paymentsrepo.SyncSynced || u.Status == paymentsrepo.SyncFailed {
			t.ZohoSyncAttempts++
		}
	}
	return nil
}

func (f *fakeTxs) ListForSync(ctx context.Context, maxAttempts, limit int) ([]*paymentsrepo.Transaction, error) {
	var out []*paymentsrepo.Transaction
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		t, ok := f.byID[id]
		if !ok || t.ZohoSyncStatus == nil || t.ZohoSyncAttempts >= maxAttempts {
			continue
		}
		if *t.ZohoSyncStatus == paymentsrepo.SyncPending || *t.ZohoSyncStatus == paymentsrepo.SyncFailed {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeInvoices struct {
	byID map[string]*invoices.Invoice
}

func (f *fakeInvoices) GetByID(ctx context.Context, id string) (*invoices.Invoice, error) {
	return f.byID[id], nil
}

func (f *fakeInvoices) SetZohoInvoiceID(ctx context.Context, id, zohoID string) error {
	f.byID[id].ZohoInvoiceID = &zohoID
	return nil
}

type fakeCustomers struct {
	byID map[string]*customers.Customer
}

func (f *fakeCustomers) GetByID(ctx context.Context, id string) (*customers.Customer, error) {
	return f.byID[id], nil
}

func (f *fakeCustomers) SetZohoCustomerID(ctx context.Context, id, zohoID string) error {
	f.byID[id].ZohoBillingCustomerID = &zohoID
	return nil
}

type fakeSyncLogs struct {
	mappings map[string]*zohosync.Mapping
	logs     []*zohosync.SyncLog
}

func newFakeSyncLogs() *fakeSyncLogs {
	return &fakeSyncLogs{mappings: map[string]*zohosync.Mapping{}}
}

func (f *fakeSyncLogs) GetMapping(ctx context.Context, entityType, localID string) (*zohosync.Mapping, error) {
	return f.mappings[entityType+":"+localID], nil
}

func (f *fakeSyncLogs) UpsertMapping(ctx context.Context, entityType, localID, zohoID string) error {
	f.mappings[entityType+":"+localID] = &zohosync.Mapping{EntityType: entityType, LocalID: localID, ZohoID: zohoID}
	return nil
}

func (f *fakeSyncLogs) InsertLog(ctx context.Context, l *zohosync.SyncLog) error {
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeSyncLogs) ListLogs(ctx context.Context, entityType, entityID string) ([]*zohosync.SyncLog, error) {
	var out []*zohosync.SyncLog
	for _, l := range f.logs {
		if l.EntityType == entityType && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSyncLogs) statuses() []string {
	out := make([]string, 0, len(f.logs))
	for _, l := range f.logs {
		out = append(out, l.Status)
	}
	return out
}

type fakeEvents struct {
	published []events.Event
}

func (f *fakeEvents) Publish(ctx context.Context, e events.Event) error {
	f.published = append(f.published, e)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

type fakeStats struct {
	stats paymentsrepo.SyncStats
	args  []time.Time
}

func (f *fakeStats) SyncStats(ctx context.Context, since, staleBefore, dayStart time.Time) (paymentsrepo.SyncStats, error) {
	f.args = []time.Time{since, staleBefore, dayStart}
	return f.stats, nil
}

type fakeMonitorLogs struct {
	logs []paymentsrepo.MonitorLog
}

func (f *fakeMonitorLogs) InsertMonitorLog(ctx context.Context, l paymentsrepo.MonitorLog) error {
	f.logs = append(f.logs, l)
	return nil
}

type sentMail struct {
	template, to string
	data         any
}

type fakeMail struct {
	sent []sentMail
	err  error
}

func (f *fakeMail) Send(templateFile, username, email string, data any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMail{template: templateFile, to: email, data: data})
	return "msg-1", nil
}

func strp(s string) *string { return &s }
