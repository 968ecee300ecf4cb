package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/storage"
	"linkwave/internal/mailer"
	"linkwave/internal/payments"

	"go.uber.org/zap"
)

const (
	TriggerInvoiceCreated  = "invoice_created"
	TriggerInvoiceUpdated  = "invoice_updated"
	TriggerManualSend      = "manual_send"
	TriggerPaymentReminder = "payment_reminder"
	TriggerOverdueNotice   = "overdue_notice"
)

var validTriggers = map[string]bool{
	TriggerInvoiceCreated:  true,
	TriggerInvoiceUpdated:  true,
	TriggerManualSend:      true,
	TriggerPaymentReminder: true,
	TriggerOverdueNotice:   true,
}

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidTrigger  = errors.New("invalid notification trigger")
	ErrNoRecipient     = errors.New("customer has no email address")
)

// ZohoInvoiceSyncer pushes an invoice to Zoho Billing and returns its Zoho id.
type ZohoInvoiceSyncer interface {
	EnsureInvoice(ctx context.Context, invoiceID string) (string, error)
}

// Archiver stores a rendered document and returns its public URL.
type Archiver interface {
	Archive(ctx context.Context, publicID string, html []byte) (string, error)
}

type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, provider string, req payments.PaymentRequest) (payments.PaymentResponse, error)
}

type InvoiceStore interface {
	GetByID(ctx context.Context, id string) (*invoices.Invoice, error)
	SetDocumentURL(ctx context.Context, id, url string) error
	SetPayNow(ctx context.Context, id, url, ref string) error
}

type NotifyOptions struct {
	ForceSend    bool
	SkipZohoSync bool
}

type NotifyResult struct {
	InvoiceID   string `json:"invoice_id"`
	Status      string `json:"status"` // queued or skipped
	Reason      string `json:"reason,omitempty"`
	OutboxID    string `json:"outbox_id,omitempty"`
	ZohoSynced  bool   `json:"zoho_synced"`
	ZohoError   string `json:"zoho_error,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`
	PayNowURL   string `json:"paynow_url,omitempty"`
}

type InvoiceNotifier struct {
	tx       TxRunner
	invoices InvoiceStore
	tracking notifylog.Store
	zoho     ZohoInvoiceSyncer
	archive  Archiver
	paynow   PaymentInitiator
	render   func(templateFile string, data any) (string, string, error)
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewInvoiceNotifier wires the optional collaborators; any of zoho, archive
// and paynow may be nil to disable that step.
func NewInvoiceNotifier(tx TxRunner, inv InvoiceStore, tracking notifylog.Store, zoho ZohoInvoiceSyncer, archive Archiver, paynow PaymentInitiator, logger *zap.SugaredLogger) *InvoiceNotifier {
	return &InvoiceNotifier{
		tx:       tx,
		invoices: inv,
		tracking: tracking,
		zoho:     zoho,
		archive:  archive,
		paynow:   paynow,
		render:   mailer.Render,
		logger:   logger,
		now:      time.Now,
	}
}

func (n *InvoiceNotifier) Process(ctx context.Context, invoiceID, trigger string, opts NotifyOptions) (*NotifyResult, error) {
	if !validTriggers[trigger] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTrigger, trigger)
	}

	inv, err := n.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	if inv.Customer == nil || inv.Customer.Email == "" {
		return nil, ErrNoRecipient
	}

	res := &NotifyResult{InvoiceID: inv.ID}
	now := n.now()

	if !opts.ForceSend {
		recent, err := n.tracking.SentRecently(ctx, inv.ID, outbox.ChannelEmail, trigger, now.Add(-24*time.Hour))
		if err != nil {
			return nil, err
		}
		if recent {
			res.Status = "skipped"
			res.Reason = "notification already sent in the last 24 hours"
			return res, nil
		}
	}

	n.syncZoho(ctx, inv, opts, res)
	n.ensureDocument(ctx, inv, res)
	n.ensurePayNow(ctx, inv, res)

	template := mailer.InvoiceIssuedTemplate
	if trigger == TriggerPaymentReminder || trigger == TriggerOverdueNotice {
		template = mailer.InvoiceDueReminderTemplate
	}

	dedupe := fmt.Sprintf("invoice:%s:%s:%s", inv.ID, trigger, now.Format("2006-01-02"))
	if opts.ForceSend {
		dedupe = fmt.Sprintf("invoice:%s:%s:%d", inv.ID, trigger, now.UnixNano())
	}

	m := &outbox.Message{
		Channel:       outbox.ChannelEmail,
		Template:      template,
		Recipient:     inv.Customer.Email,
		RecipientName: inv.Customer.FullName(),
		Payload:       invoiceEmailData(inv, now),
		DedupeKey:     dedupe,
		Trigger:       trigger,
		InvoiceID:     &inv.ID,
		CustomerID:    &inv.CustomerID,
	}

	err = n.tx.WithBillingTx(ctx, func(tx *storage.BillingTx) error {
		queued, err := tx.Outbox.Enqueue(ctx, m)
		if err != nil {
			return err
		}
		if !queued {
			res.Status = "skipped"
			res.Reason = "notification already queued today"
			return nil
		}

		amount := inv.Outstanding()
		if _, err := tx.NotifyLog.Log(ctx, &notifylog.Entry{
			InvoiceID:     &inv.ID,
			InvoiceNumber: &inv.InvoiceNumber,
			CustomerID:    &inv.CustomerID,
			OutboxID:      &m.ID,
			Type:          outbox.ChannelEmail,
			Template:      template,
			Trigger:       trigger,
			Recipient:     m.Recipient,
			Status:        notifylog.StatusPending,
			AmountDue:     &amount,
			Metadata:      map[string]any{"zoho_synced": res.ZohoSynced, "forced": opts.ForceSend},
		}); err != nil {
			return err
		}

		if inv.Status == invoices.StatusDraft {
			if err := tx.Invoices.SetStatus(ctx, inv.ID, invoices.StatusUnpaid); err != nil {
				return err
			}
		}
		res.Status = "queued"
		res.OutboxID = m.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue invoice notification: %w", err)
	}

	n.logger.Infow("invoice notification processed",
		"invoice", inv.InvoiceNumber, "trigger", trigger, "status", res.Status, "zoho_synced", res.ZohoSynced)
	return res, nil
}

func (n *InvoiceNotifier) syncZoho(ctx context.Context, inv *invoices.Invoice, opts NotifyOptions, res *NotifyResult) {
	if inv.ZohoInvoiceID != nil {
		res.ZohoSynced = true
		return
	}
	if opts.SkipZohoSync || n.zoho == nil || inv.Customer.ZohoID() == "" || len(inv.LineItems) == 0 {
		return
	}
	id, err := n.zoho.EnsureInvoice(ctx, inv.ID)
	if err != nil {
		res.ZohoError = err.Error()
		n.logger.Warnw("zoho invoice sync failed, sending anyway", "invoice", inv.InvoiceNumber, "error", err)
		return
	}
	inv.ZohoInvoiceID = &id
	res.ZohoSynced = true
}

func (n *InvoiceNotifier) ensureDocument(ctx context.Context, inv *invoices.Invoice, res *NotifyResult) {
	if inv.DocumentURL != nil {
		res.DocumentURL = *inv.DocumentURL
		return
	}
	if n.archive == nil {
		return
	}
	_, body, err := n.render(mailer.InvoiceIssuedTemplate, invoiceEmailData(inv, n.now()))
	if err != nil {
		n.logger.Warnw("render invoice document", "invoice", inv.InvoiceNumber, "error", err)
		return
	}
	url, err := n.archive.Archive(ctx, "invoices/"+inv.InvoiceNumber, []byte(body))
	if err != nil {
		n.logger.Warnw("archive invoice document", "invoice", inv.InvoiceNumber, "error", err)
		return
	}
	if err := n.invoices.SetDocumentURL(ctx, inv.ID, url); err != nil {
		n.logger.Warnw("store invoice document url", "invoice", inv.InvoiceNumber, "error", err)
		return
	}
	inv.DocumentURL = &url
	res.DocumentURL = url
}

func (n *InvoiceNotifier) ensurePayNow(ctx context.Context, inv *invoices.Invoice, res *NotifyResult) {
	if inv.PayNowURL != nil {
		res.PayNowURL = *inv.PayNowURL
		return
	}
	if n.paynow == nil || inv.Outstanding() <= 0 {
		return
	}
	if _, err := n.CreatePayNow(ctx, inv); err != nil {
		n.logger.Warnw("create paynow link", "invoice", inv.InvoiceNumber, "error", err)
		return
	}
	res.PayNowURL = *inv.PayNowURL
}

// CreatePayNow issues a fresh PayNow link for the outstanding amount and
// stores it on the invoice.
func (n *InvoiceNotifier) CreatePayNow(ctx context.Context, inv *invoices.Invoice) (payments.PaymentResponse, error) {
	if n.paynow == nil {
		return payments.PaymentResponse{}, errors.New("paynow is not configured")
	}
	req := payments.PaymentRequest{
		Amount:      inv.Outstanding(),
		Description: "Invoice " + inv.InvoiceNumber,
	}
	if c := inv.Customer; c != nil {
		req.CustomerName = c.FullName()
		req.CustomerEmail = c.Email
		req.CustomerPhone = c.PhoneNumber()
	}
	resp, err := n.paynow.InitiatePayment(ctx, payments.ProviderNetcash, req)
	if err != nil {
		return resp, err
	}
	if err := n.invoices.SetPayNow(ctx, inv.ID, resp.PaymentURL, resp.Reference); err != nil {
		return resp, err
	}
	inv.PayNowURL = &resp.PaymentURL
	inv.PayNowTransactionRef = &resp.Reference
	return resp, nil
}

// PayNowForInvoice backs the admin endpoint.
func (n *InvoiceNotifier) PayNowForInvoice(ctx context.Context, invoiceID string) (payments.PaymentResponse, error) {
	inv, err := n.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return payments.PaymentResponse{}, err
	}
	if inv == nil {
		return payments.PaymentResponse{}, ErrInvoiceNotFound
	}
	return n.CreatePayNow(ctx, inv)
}

// invoiceEmailData is stored as JSON in the outbox, so it only holds
// strings, numbers and plain maps.
func invoiceEmailData(inv *invoices.Invoice, now time.Time) map[string]any {
	items := make([]map[string]any, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		items = append(items, map[string]any{
			"description": li.Description,
			"quantity":    li.Quantity,
			"amount":      li.Amount,
		})
	}
	data := map[string]any{
		"InvoiceNumber": inv.InvoiceNumber,
		"InvoiceDate":   inv.InvoiceDate.Format("02 Jan 2006"),
		"DueDate":       inv.DueDate.Format("02 Jan 2006"),
		"TotalAmount":   inv.TotalAmount,
		"AmountDue":     inv.Outstanding(),
		"DaysUntilDue":  -inv.DaysOverdue(now),
		"LineItems":     items,
	}
	if inv.Customer != nil {
		data["CustomerName"] = inv.Customer.FullName()
	}
	if inv.PayNowURL != nil {
		data["PayNowURL"] = *inv.PayNowURL
	}
	return data
}
