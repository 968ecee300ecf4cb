package billing

import (
	"context"
	"fmt"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/orders"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/paymentsrepo"
	"linkwave/internal/domain/receivables"
	"linkwave/internal/domain/services"
	"linkwave/internal/domain/storage"
	"linkwave/internal/domain/webhooks"
	"linkwave/internal/events"
	"linkwave/internal/payments"

	"github.com/google/uuid"
)

type fakeOrders struct {
	byID    map[string]*orders.Order
	updates []orders.PaymentUpdate
}

func (f *fakeOrders) GetByID(ctx context.Context, id string) (*orders.Order, error) {
	return f.byID[id], nil
}

func (f *fakeOrders) GetByPaymentReference(ctx context.Context, ref string) (*orders.Order, error) {
	for _, o := range f.byID {
		if o.PaymentReference != nil && *o.PaymentReference == ref {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) UpdatePayment(ctx context.Context, id string, u orders.PaymentUpdate) error {
	o := f.byID[id]
	o.PaymentStatus = u.PaymentStatus
	o.Status = u.Status
	if u.Amount != nil {
		o.PaymentAmount = u.Amount
	}
	o.PaymentError = u.Error
	f.updates = append(f.updates, u)
	return nil
}

type fakeInvoices struct {
	byID       map[string]*invoices.Invoice
	recurring  map[string]*invoices.Created
	createErr  error
	applied    []float64
	smsSent    []string
	smsErrors  map[string]string
	reminded   []string
	remindErrs map[string]string
}

func newFakeInvoices(list ...*invoices.Invoice) *fakeInvoices {
	f := &fakeInvoices{byID: map[string]*invoices.Invoice{}, smsErrors: map[string]string{}, remindErrs: map[string]string{}}
	for _, inv := range list {
		f.byID[inv.ID] = inv
	}
	return f
}

func (f *fakeInvoices) GetByID(ctx context.Context, id string) (*invoices.Invoice, error) {
	return f.byID[id], nil
}

func (f *fakeInvoices) GetByIDs(ctx context.Context, ids []string) ([]*invoices.Invoice, error) {
	var out []*invoices.Invoice
	for _, id := range ids {
		if inv, ok := f.byID[id]; ok {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) GetByPaymentReference(ctx context.Context, ref string) (*invoices.Invoice, error) {
	for _, inv := range f.byID {
		if inv.InvoiceNumber == ref || (inv.PayNowTransactionRef != nil && *inv.PayNowTransactionRef == ref) {
			return inv, nil
		}
	}
	return nil, nil
}

func (f *fakeInvoices) ApplyPayment(ctx context.Context, id string, amount float64, paidAt time.Time) (*invoices.Invoice, error) {
	inv := f.byID[id]
	inv.AmountPaid += amount
	inv.AmountDue = inv.TotalAmount - inv.AmountPaid
	inv.Status = invoices.StatusPartial
	if inv.AmountPaid >= inv.TotalAmount {
		inv.Status = invoices.StatusPaid
		inv.PaidAt = &paidAt
	}
	f.applied = append(f.applied, amount)
	return inv, nil
}

func (f *fakeInvoices) SetStatus(ctx context.Context, id, status string) error {
	f.byID[id].Status = status
	return nil
}

func (f *fakeInvoices) SetZohoInvoiceID(ctx context.Context, id, zohoID string) error {
	f.byID[id].ZohoInvoiceID = &zohoID
	return nil
}

func (f *fakeInvoices) SetDocumentURL(ctx context.Context, id, url string) error {
	f.byID[id].DocumentURL = &url
	return nil
}

func (f *fakeInvoices) SetPayNow(ctx context.Context, id, url, ref string) error {
	f.byID[id].PayNowURL = &url
	f.byID[id].PayNowTransactionRef = &ref
	return nil
}

func (f *fakeInvoices) ListSMSReminderCandidates(ctx context.Context, flt invoices.SMSReminderFilter) ([]*invoices.Invoice, error) {
	var out []*invoices.Invoice
	for _, inv := range f.byID {
		if inv.DueDate.Before(flt.DueFrom) || inv.DueDate.After(flt.DueTo) {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (f *fakeInvoices) RecordSMSReminder(ctx context.Context, id string, at time.Time) error {
	inv := f.byID[id]
	inv.SMSReminderSentAt = &at
	inv.SMSReminderCount++
	f.smsSent = append(f.smsSent, id)
	return nil
}

func (f *fakeInvoices) SetSMSReminderError(ctx context.Context, id, msg string) error {
	f.smsErrors[id] = msg
	return nil
}

func (f *fakeInvoices) CreateRecurring(ctx context.Context, in *invoices.RecurringInvoice) (*invoices.Created, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.recurring == nil {
		f.recurring = map[string]*invoices.Created{}
	}
	key := in.ServiceID + ":" + in.PeriodStart.Format("2006-01")
	if c, ok := f.recurring[key]; ok {
		return &invoices.Created{ID: c.ID, InvoiceNumber: c.InvoiceNumber}, nil
	}
	c := &invoices.Created{ID: fmt.Sprintf("inv-%d", len(f.recurring)+1), InvoiceNumber: fmt.Sprintf("INV-2025-%05d", len(f.recurring)+1), Inserted: true}
	f.recurring[key] = c
	f.byID[c.ID] = &invoices.Invoice{
		ID: c.ID, InvoiceNumber: c.InvoiceNumber, CustomerID: in.CustomerID,
		InvoiceDate: in.InvoiceDate, DueDate: in.DueDate, TotalAmount: in.Total, AmountDue: in.Total,
		Status: invoices.StatusUnpaid, LineItems: in.LineItems,
	}
	return c, nil
}

func (f *fakeInvoices) ListDueOn(ctx context.Context, due time.Time) ([]*invoices.Invoice, error) {
	var out []*invoices.Invoice
	for _, inv := range f.byID {
		if invoices.DaysBetween(inv.DueDate, due) == 0 {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) RecordEmailReminder(ctx context.Context, id string, at time.Time) error {
	inv := f.byID[id]
	inv.ReminderSentAt = &at
	inv.ReminderCount++
	f.reminded = append(f.reminded, id)
	return nil
}

func (f *fakeInvoices) SetReminderError(ctx context.Context, id, msg string) error {
	f.remindErrs[id] = msg
	return nil
}

type fakeWebhooks struct {
	webhooks.Store
	cfg      *webhooks.PaymentConfig
	dup      bool
	inserted []*webhooks.Webhook
	statuses map[string]string
	audits   []*webhooks.AuditEvent
}

func newFakeWebhooks() *fakeWebhooks {
	return &fakeWebhooks{statuses: map[string]string{}}
}

func (f *fakeWebhooks) ActivePaymentConfig(ctx context.Context, provider string) (*webhooks.PaymentConfig, error) {
	return f.cfg, nil
}

func (f *fakeWebhooks) IsDuplicate(ctx context.Context, transactionID, webhookType, key string) (bool, error) {
	return f.dup, nil
}

func (f *fakeWebhooks) Insert(ctx context.Context, w *webhooks.Webhook) (*webhooks.Webhook, error) {
	w.ID = uuid.NewString()
	f.inserted = append(f.inserted, w)
	f.statuses[w.ID] = w.Status
	return w, nil
}

func (f *fakeWebhooks) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeWebhooks) InsertAudit(ctx context.Context, a *webhooks.AuditEvent) error {
	f.audits = append(f.audits, a)
	return nil
}

func (f *fakeWebhooks) auditTypes() []string {
	var out []string
	for _, a := range f.audits {
		out = append(out, a.EventType)
	}
	return out
}

type fakeTransactions struct {
	paymentsrepo.Store
	byKey map[string]*paymentsrepo.Transaction
}

func (f *fakeTransactions) Create(ctx context.Context, t *paymentsrepo.Transaction) (*paymentsrepo.Transaction, error) {
	if _, ok := f.byKey[t.TransactionID]; ok {
		return nil, fmt.Errorf("duplicate transaction %s", t.TransactionID)
	}
	t.ID = uuid.NewString()
	f.byKey[t.TransactionID] = t
	return t, nil
}

func (f *fakeTransactions) GetByTransactionID(ctx context.Context, id string) (*paymentsrepo.Transaction, error) {
	return f.byKey[id], nil
}

func (f *fakeTransactions) SetStatus(ctx context.Context, id, status string) error {
	for _, t := range f.byKey {
		if t.ID == id {
			t.Status = status
		}
	}
	return nil
}

func (f *fakeTransactions) SetSyncStatus(ctx context.Context, id string, u paymentsrepo.SyncUpdate) error {
	for _, t := range f.byKey {
		if t.ID == id {
			st := u.Status
			t.ZohoSyncStatus = &st
		}
	}
	return nil
}

type fakePayLogs struct {
	n   int
	ids []string
}

func (f *fakePayLogs) InsertPaymentLog(ctx context.Context, transactionID, logType string, payload any) error {
	f.n++
	f.ids = append(f.ids, transactionID)
	return nil
}

type fakeOutbox struct {
	outbox.Store
	msgs []*outbox.Message
}

func (f *fakeOutbox) Enqueue(ctx context.Context, m *outbox.Message) (bool, error) {
	for _, e := range f.msgs {
		if e.DedupeKey == m.DedupeKey {
			return false, nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	f.msgs = append(f.msgs, m)
	return true, nil
}

type fakeNotifyLog struct {
	notifylog.Store
	entries []*notifylog.Entry
	recent  bool
	updated map[string]string
	stats   []notifylog.ChannelStats
}

func (f *fakeNotifyLog) Log(ctx context.Context, e *notifylog.Entry) (*notifylog.Entry, error) {
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeNotifyLog) SentRecently(ctx context.Context, invoiceID, channel, trigger string, since time.Time) (bool, error) {
	return f.recent, nil
}

func (f *fakeNotifyLog) UpdateStatusByProviderID(ctx context.Context, id, status string, at time.Time) (bool, error) {
	if _, ok := f.updated[id]; !ok {
		return false, nil
	}
	f.updated[id] = status
	return true, nil
}

func (f *fakeNotifyLog) Stats(ctx context.Context, since time.Time) ([]notifylog.ChannelStats, error) {
	return f.stats, nil
}

type fakeCustomers struct {
	byID map[string]*customers.Customer
}

func (f *fakeCustomers) GetByID(ctx context.Context, id string) (*customers.Customer, error) {
	return f.byID[id], nil
}

type fakeEvents struct {
	published []events.Event
}

func (f *fakeEvents) Publish(ctx context.Context, e events.Event) error {
	f.published = append(f.published, e)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) types() []string {
	var out []string
	for _, e := range f.published {
		out = append(out, e.Type)
	}
	return out
}

// fakeStore hands the same fakes to every transaction. Writes made before a
// failing step are not rolled back.
type fakeStore struct {
	orders   *fakeOrders
	invoices *fakeInvoices
	webhooks *fakeWebhooks
	txs      *fakeTransactions
	logs     *fakePayLogs
	outbox   *fakeOutbox
	notify   *fakeNotifyLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   &fakeOrders{byID: map[string]*orders.Order{}},
		invoices: newFakeInvoices(),
		webhooks: newFakeWebhooks(),
		txs:      &fakeTransactions{byKey: map[string]*paymentsrepo.Transaction{}},
		logs:     &fakePayLogs{},
		outbox:   &fakeOutbox{},
		notify:   &fakeNotifyLog{updated: map[string]string{}},
	}
}

func (s *fakeStore) WithBillingTx(ctx context.Context, fn func(tx *storage.BillingTx) error) error {
	return fn(&storage.BillingTx{
		Orders:       s.orders,
		Invoices:     s.invoices,
		Webhooks:     s.webhooks,
		Transactions: s.txs,
		PayLogs:      s.logs,
		Outbox:       s.outbox,
		NotifyLog:    s.notify,
	})
}

type fakeAR struct {
	items     []receivables.OpenItem
	billed    float64
	collected float64
	avgDSO    float64
	samples   int
	snapshots []receivables.Snapshot
}

func (f *fakeAR) OpenItems(ctx context.Context) ([]receivables.OpenItem, error) { return f.items, nil }

func (f *fakeAR) Billed(ctx context.Context, from, to time.Time) (float64, error) {
	return f.billed, nil
}

func (f *fakeAR) Collected(ctx context.Context, from, to time.Time) (float64, error) {
	return f.collected, nil
}

func (f *fakeAR) AverageDSO(ctx context.Context, from, to time.Time) (float64, int, error) {
	return f.avgDSO, f.samples, nil
}

func (f *fakeAR) UpsertSnapshot(ctx context.Context, s receivables.Snapshot) error {
	f.snapshots = append(f.snapshots, s)
	return nil
}

type fakePayNow struct {
	reqs []payments.PaymentRequest
}

func (f *fakePayNow) InitiatePayment(ctx context.Context, provider string, req payments.PaymentRequest) (payments.PaymentResponse, error) {
	f.reqs = append(f.reqs, req)
	return payments.PaymentResponse{PaymentURL: "https://paynow.test/pay?p2=PN-abc", Reference: "PN-abc"}, nil
}

type fakeZoho struct {
	id    string
	err   error
	calls int
}

func (f *fakeZoho) EnsureInvoice(ctx context.Context, invoiceID string) (string, error) {
	f.calls++
	return f.id, f.err
}

type fakeArchiver struct {
	ids []string
}

func (f *fakeArchiver) Archive(ctx context.Context, publicID string, html []byte) (string, error) {
	f.ids = append(f.ids, publicID)
	return "https://res.cloudinary.test/raw/upload/" + publicID + ".html", nil
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) Send(ctx context.Context, to, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, to+"|"+text)
	return fmt.Sprintf("sms-%d", len(f.sent)), nil
}

func strp(s string) *string { return &s }

type fakeServices struct {
	list     []*services.Service
	days     []int
	lastDate map[string]time.Time
	setErr   error
}

func (f *fakeServices) ListDueForBilling(ctx context.Context, day int, customerID string) ([]*services.Service, error) {
	f.days = append(f.days, day)
	var out []*services.Service
	for _, s := range f.list {
		if s.BillingDay == day && (customerID == "" || s.CustomerID == customerID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeServices) SetLastInvoiceDate(ctx context.Context, id string, date time.Time) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.lastDate == nil {
		f.lastDate = map[string]time.Time{}
	}
	f.lastDate[id] = date
	for _, s := range f.list {
		if s.ID == id {
			s.LastInvoiceDate = &date
		}
	}
	return nil
}

type fakeIssuer struct {
	calls []string
	opts  []NotifyOptions
	res   NotifyResult
	err   error
}

func (f *fakeIssuer) Process(ctx context.Context, invoiceID, trigger string, opts NotifyOptions) (*NotifyResult, error) {
	f.calls = append(f.calls, invoiceID+":"+trigger)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	res := f.res
	res.InvoiceID = invoiceID
	return &res, nil
}
