package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/services"
	"linkwave/internal/events"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// VATRate is the South African VAT percentage added to service prices.
const VATRate = 15.0

var ErrInvalidBillingOptions = errors.New("invalid billing options")

type ServiceStore interface {
	ListDueForBilling(ctx context.Context, day int, customerID string) ([]*services.Service, error)
	SetLastInvoiceDate(ctx context.Context, id string, date time.Time) error
}

type RecurringInvoiceStore interface {
	CreateRecurring(ctx context.Context, in *invoices.RecurringInvoice) (*invoices.Created, error)
}

// InvoiceIssuer sends a freshly created invoice to the customer.
type InvoiceIssuer interface {
	Process(ctx context.Context, invoiceID, trigger string, opts NotifyOptions) (*NotifyResult, error)
}

type MonthlyBillingOptions struct {
	BillingDay   int    `json:"billing_day,omitempty" validate:"omitempty,min=1,max=31"`
	CustomerID   string `json:"customer_id,omitempty" validate:"omitempty,uuid"`
	DryRun       bool   `json:"dry_run"`
	SkipZohoSync bool   `json:"skip_zoho_sync"`
	SkipNotify   bool   `json:"skip_notify"`
}

type MonthlyBillingResult struct {
	ServiceID     string   `json:"service_id"`
	CustomerID    string   `json:"customer_id"`
	Status        string   `json:"status"` // created, preview, skipped, failed
	Reason        string   `json:"reason,omitempty"`
	InvoiceID     string   `json:"invoice_id,omitempty"`
	InvoiceNumber string   `json:"invoice_number,omitempty"`
	Total         float64  `json:"total,omitempty"`
	ZohoSynced    bool     `json:"zoho_synced"`
	Notified      bool     `json:"notified"`
	Errors        []string `json:"errors,omitempty"`
}

type MonthlyBillingSummary struct {
	RunID       string                 `json:"run_id"`
	BillingDay  int                    `json:"billing_day"`
	Period      string                 `json:"period"`
	DryRun      bool                   `json:"dry_run"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Total       int                    `json:"total"`
	Created     int                    `json:"created"`
	Skipped     int                    `json:"skipped"`
	Failed      int                    `json:"failed"`
	Results     []MonthlyBillingResult `json:"results"`
}

type billingPeriod struct {
	today, start, end time.Time
	name              string
}

func periodOf(now time.Time) billingPeriod {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return billingPeriod{
		today: today,
		start: start,
		end:   start.AddDate(0, 1, -1),
		name:  start.Format("January 2006"),
	}
}

func (p billingPeriod) contains(d time.Time) bool {
	return !d.Before(p.start) && !d.After(p.end)
}

// MonthlyInvoices raises the recurring invoice for every active service
// whose billing day is today, at most once per service per calendar month.
type MonthlyInvoices struct {
	services ServiceStore
	invoices RecurringInvoiceStore
	issuer   InvoiceIssuer
	zoho     ZohoInvoiceSyncer
	events   events.Publisher
	validate *validator.Validate
	logger   *zap.SugaredLogger
	loc      *time.Location
	pace     time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

// NewMonthlyInvoices wires the generator. zoho is used only when
// notifications are skipped, since the issuer syncs to Zoho itself.
func NewMonthlyInvoices(svc ServiceStore, inv RecurringInvoiceStore, issuer InvoiceIssuer, zoho ZohoInvoiceSyncer, pub events.Publisher, loc *time.Location, logger *zap.SugaredLogger) *MonthlyInvoices {
	if loc == nil {
		loc = time.UTC
	}
	return &MonthlyInvoices{
		services: svc,
		invoices: inv,
		issuer:   issuer,
		zoho:     zoho,
		events:   pub,
		validate: validator.New(),
		logger:   logger,
		loc:      loc,
		pace:     100 * time.Millisecond,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (m *MonthlyInvoices) Process(ctx context.Context, opts MonthlyBillingOptions) (*MonthlyBillingSummary, error) {
	if err := m.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBillingOptions, err)
	}

	started := m.now().In(m.loc)
	period := periodOf(started)
	if opts.BillingDay == 0 {
		opts.BillingDay = started.Day()
	}

	sum := &MonthlyBillingSummary{
		RunID:      fmt.Sprintf("billing-%d", started.UnixMilli()),
		BillingDay: opts.BillingDay,
		Period:     period.name,
		DryRun:     opts.DryRun,
		StartedAt:  started,
		Results:    []MonthlyBillingResult{},
	}

	list, err := m.services.ListDueForBilling(ctx, opts.BillingDay, opts.CustomerID)
	if err != nil {
		return nil, err
	}

	for i, svc := range list {
		if i > 0 && !opts.DryRun {
			m.sleep(ctx, m.pace)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := m.bill(ctx, svc, period, opts)
		switch res.Status {
		case "skipped":
			sum.Skipped++
		case "failed":
			sum.Failed++
		default:
			sum.Created++
		}
		sum.Results = append(sum.Results, res)
	}

	sum.Total = len(list)
	sum.CompletedAt = m.now().In(m.loc)
	m.logger.Infow("monthly billing run complete",
		"run_id", sum.RunID, "billing_day", sum.BillingDay, "period", sum.Period, "dry_run", sum.DryRun,
		"total", sum.Total, "created", sum.Created, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (m *MonthlyInvoices) bill(ctx context.Context, svc *services.Service, period billingPeriod, opts MonthlyBillingOptions) MonthlyBillingResult {
	res := MonthlyBillingResult{ServiceID: svc.ID, CustomerID: svc.CustomerID}

	if svc.MonthlyPrice <= 0 {
		res.Status, res.Reason = "skipped", "service has no monthly price"
		return res
	}
	if svc.LastInvoiceDate != nil && period.contains(*svc.LastInvoiceDate) {
		res.Status, res.Reason = "skipped", "already billed for "+period.name
		return res
	}

	in := recurringInvoice(svc, period)
	res.Total = in.Total
	if opts.DryRun {
		res.Status = "preview"
		return res
	}

	created, err := m.invoices.CreateRecurring(ctx, in)
	if err != nil {
		res.Status = "failed"
		res.Errors = append(res.Errors, err.Error())
		m.logger.Errorw("create recurring invoice", "service", svc.ID, "error", err)
		return res
	}
	res.InvoiceID, res.InvoiceNumber = created.ID, created.InvoiceNumber
	if !created.Inserted {
		res.Status = "skipped"
		res.Reason = fmt.Sprintf("already billed for %s (invoice %s)", period.name, created.InvoiceNumber)
		return res
	}
	res.Status = "created"

	if err := m.services.SetLastInvoiceDate(ctx, svc.ID, period.today); err != nil {
		res.Errors = append(res.Errors, err.Error())
		m.logger.Warnw("store last invoice date", "service", svc.ID, "invoice", created.InvoiceNumber, "error", err)
	}

	m.deliver(ctx, created, opts, &res)

	if err := m.events.Publish(ctx, events.Event{
		Type: events.InvoiceGenerated,
		Key:  created.ID,
		Data: map[string]any{
			"invoice_number": created.InvoiceNumber,
			"customer_id":    svc.CustomerID,
			"service_id":     svc.ID,
			"total":          in.Total,
			"period_start":   period.start.Format("2006-01-02"),
		},
	}); err != nil {
		m.logger.Warnw("publish billing event", "type", events.InvoiceGenerated, "key", created.ID, "error", err)
	}

	m.logger.Infow("service billed",
		"service", svc.ID, "invoice", created.InvoiceNumber, "total", in.Total,
		"zoho_synced", res.ZohoSynced, "notified", res.Notified)
	return res
}

// deliver syncs and sends the new invoice. Failures are recorded on the
// result; the invoice stands either way.
func (m *MonthlyInvoices) deliver(ctx context.Context, created *invoices.Created, opts MonthlyBillingOptions, res *MonthlyBillingResult) {
	if opts.SkipNotify {
		if opts.SkipZohoSync || m.zoho == nil {
			return
		}
		if _, err := m.zoho.EnsureInvoice(ctx, created.ID); err != nil {
			res.Errors = append(res.Errors, "zoho sync: "+err.Error())
			return
		}
		res.ZohoSynced = true
		return
	}

	out, err := m.issuer.Process(ctx, created.ID, TriggerInvoiceCreated, NotifyOptions{SkipZohoSync: opts.SkipZohoSync})
	if err != nil {
		res.Errors = append(res.Errors, "notify: "+err.Error())
		m.logger.Warnw("send new invoice", "invoice", created.InvoiceNumber, "error", err)
		return
	}
	res.ZohoSynced = out.ZohoSynced
	res.Notified = out.Status == "queued"
	if out.ZohoError != "" {
		res.Errors = append(res.Errors, "zoho sync: "+out.ZohoError)
	}
}

func recurringInvoice(svc *services.Service, p billingPeriod) *invoices.RecurringInvoice {
	subtotal := round2(svc.MonthlyPrice)
	vat := round2(subtotal * VATRate / 100)
	return &invoices.RecurringInvoice{
		CustomerID:  svc.CustomerID,
		ServiceID:   svc.ID,
		InvoiceDate: p.today,
		DueDate:     p.today,
		PeriodStart: p.start,
		PeriodEnd:   p.end,
		Subtotal:    subtotal,
		VATRate:     VATRate,
		VATAmount:   vat,
		Total:       round2(subtotal + vat),
		LineItems: []invoices.LineItem{{
			Description: svc.PackageName + " - " + p.name,
			Quantity:    1,
			UnitPrice:   subtotal,
			Amount:      subtotal,
		}},
	}
}
