package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/orders"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/paymentsrepo"
	"linkwave/internal/domain/storage"
	"linkwave/internal/domain/webhooks"
	"linkwave/internal/events"
	"linkwave/internal/mailer"
	"linkwave/internal/payments"

	"go.uber.org/zap"
)

var ErrReferenceNotFound = errors.New("no order or invoice matches payment reference")

// TxRunner is implemented by storage.Container.
type TxRunner interface {
	WithBillingTx(ctx context.Context, fn func(tx *storage.BillingTx) error) error
}

type AuditWriter interface {
	InsertAudit(ctx context.Context, a *webhooks.AuditEvent) error
}

type CustomerLookup interface {
	GetByID(ctx context.Context, id string) (*customers.Customer, error)
}

type ProcessorConfig struct {
	FinanceEmail string
}

type Processor struct {
	tx        TxRunner
	customers CustomerLookup
	audit     AuditWriter
	events    events.Publisher
	cfg       ProcessorConfig
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewProcessor(tx TxRunner, c CustomerLookup, audit AuditWriter, pub events.Publisher, cfg ProcessorConfig, logger *zap.SugaredLogger) *Processor {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Processor{
		tx:        tx,
		customers: c,
		audit:     audit,
		events:    pub,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

type ProcessInput struct {
	WebhookID string
	Type      payments.WebhookType
	Payload   *payments.Payload
}

// Outcome describes the state the webhook left behind.
type Outcome struct {
	OrderID       *string `json:"order_id,omitempty"`
	InvoiceID     *string `json:"invoice_id,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
	PaymentStatus string  `json:"payment_status"`
	Queued        int     `json:"notifications_queued"`
	Changed       bool    `json:"changed"`
}

// target is what a payment reference resolved to inside the tx.
type target struct {
	order    *orders.Order
	invoice  *invoices.Invoice
	customer *customers.Customer
}

func (t *target) recipient() (name, email string) {
	switch {
	case t.order != nil && t.order.CustomerEmail != "":
		return t.order.CustomerName, t.order.CustomerEmail
	case t.invoice != nil && t.invoice.Customer != nil:
		return t.invoice.Customer.FullName(), t.invoice.Customer.Email
	case t.customer != nil:
		return t.customer.FullName(), t.customer.Email
	}
	return "", ""
}

func (t *target) customerID() *string {
	switch {
	case t.order != nil && t.order.CustomerID != nil:
		return t.order.CustomerID
	case t.invoice != nil:
		id := t.invoice.CustomerID
		return &id
	}
	return nil
}

// transactionKey falls back to the idempotency key for notifications that
// carry no gateway transaction id.
func transactionKey(p *payments.Payload) string {
	if p.TransactionID != "" {
		return p.TransactionID
	}
	return "ref:" + payments.IdempotencyKey(p)
}

// Process applies one validated webhook. Every write, including the
// notifications it causes, commits or rolls back together.
func (p *Processor) Process(ctx context.Context, in ProcessInput) (*Outcome, error) {
	out := &Outcome{PaymentStatus: payments.MapStatus(in.Payload.Status)}

	switch in.Type {
	case payments.WebhookPaymentPending, payments.WebhookNotify:
		p.logger.Infow("webhook requires no state change", "reference", in.Payload.Reference, "type", in.Type)
		return out, nil
	}

	var (
		t   target
		evs []events.Event
	)
	err := p.tx.WithBillingTx(ctx, func(tx *storage.BillingTx) error {
		// 1) Resolve the reference.
		if err := p.resolve(ctx, tx, in.Payload.Reference, &t); err != nil {
			return err
		}
		if t.order == nil && t.invoice == nil {
			return ErrReferenceNotFound
		}
		if t.order != nil {
			out.OrderID = &t.order.ID
		}
		if t.invoice != nil {
			out.InvoiceID = &t.invoice.ID
		}
		if id := t.customerID(); id != nil && p.customers != nil {
			c, err := p.customers.GetByID(ctx, *id)
			if err != nil {
				return err
			}
			t.customer = c
		}

		// 2) Apply the transition.
		var err error
		switch in.Type {
		case payments.WebhookPaymentSuccess:
			evs, err = p.applySuccess(ctx, tx, in, &t, out)
		case payments.WebhookPaymentFailure:
			evs, err = p.applyFailure(ctx, tx, in, &t, out)
		case payments.WebhookRefund:
			evs, err = p.applyReversal(ctx, tx, in, &t, out, paymentsrepo.StatusRefunded)
		case payments.WebhookChargeback:
			evs, err = p.applyReversal(ctx, tx, in, &t, out, paymentsrepo.StatusChargeback)
		default:
			return fmt.Errorf("unsupported webhook type %q", in.Type)
		}
		return err
	})
	if err != nil {
		p.auditOutside(ctx, in.WebhookID, out, webhooks.EventProcessingFailed, map[string]any{
			"error": err.Error(), "reference": in.Payload.Reference, "type": string(in.Type),
		})
		return out, err
	}

	// 3) Side effects that must not roll back the payment.
	for _, e := range evs {
		if err := p.events.Publish(ctx, e); err != nil {
			p.logger.Warnw("publish billing event", "type", e.Type, "key", e.Key, "error", err)
		}
		if e.Type == events.ActivationRequired {
			p.auditOutside(ctx, in.WebhookID, out, webhooks.EventActivationTriggered, e.Data)
		}
	}

	p.logger.Infow("webhook processed",
		"reference", in.Payload.Reference, "type", in.Type, "transaction_id", out.TransactionID,
		"changed", out.Changed, "queued", out.Queued)
	return out, nil
}

func (p *Processor) resolve(ctx context.Context, tx *storage.BillingTx, ref string, t *target) error {
	o, err := tx.Orders.GetByPaymentReference(ctx, ref)
	if err != nil {
		return err
	}
	if o == nil {
		if id, ok := payments.ExtractOrderID(ref); ok {
			if o, err = tx.Orders.GetByID(ctx, id); err != nil {
				return err
			}
		}
	}
	t.order = o

	inv, err := tx.Invoices.GetByPaymentReference(ctx, ref)
	if err != nil {
		return err
	}
	t.invoice = inv
	return nil
}

func (p *Processor) applySuccess(ctx context.Context, tx *storage.BillingTx, in ProcessInput, t *target, out *Outcome) ([]events.Event, error) {
	pl := in.Payload
	now := p.now()
	amount := pl.AmountRands()
	key := transactionKey(pl)
	out.TransactionID = key

	existing, err := tx.Transactions.GetByTransactionID(ctx, key)
	if err != nil {
		return nil, err
	}
	applied := existing != nil && existing.Status == paymentsrepo.StatusCompleted
	activated := false

	if t.order != nil && t.order.PaymentStatus != orders.PaymentPaid {
		tid := pl.TransactionID
		err := tx.Orders.UpdatePayment(ctx, t.order.ID, orders.PaymentUpdate{
			PaymentStatus: orders.PaymentPaid,
			Status:        orders.StatusActive,
			Amount:        &amount,
			PaidAt:        &now,
			TransactionID: nilIfEmpty(tid),
		})
		if err != nil {
			return nil, err
		}
		out.Changed = true
		activated = true
		if err := p.auditTx(ctx, tx, in.WebhookID, out, webhooks.EventOrderUpdated, map[string]any{
			"payment_status": orders.PaymentPaid, "status": orders.StatusActive, "amount": amount,
		}); err != nil {
			return nil, err
		}
	}

	if t.invoice != nil && !applied && t.invoice.Status != invoices.StatusPaid {
		inv, err := tx.Invoices.ApplyPayment(ctx, t.invoice.ID, amount, now)
		if err != nil {
			return nil, err
		}
		t.invoice = inv
		out.Changed = true
		if err := p.auditTx(ctx, tx, in.WebhookID, out, webhooks.EventInvoiceUpdated, map[string]any{
			"status": inv.Status, "amount_paid": inv.AmountPaid, "amount_due": inv.AmountDue,
		}); err != nil {
			return nil, err
		}
	}

	if err := p.recordTransaction(ctx, tx, in, t, out, existing, paymentsrepo.StatusCompleted); err != nil {
		return nil, err
	}

	name, email := t.recipient()
	data := map[string]any{
		"CustomerName":  name,
		"Reference":     pl.Reference,
		"Amount":        amount,
		"TransactionID": pl.TransactionID,
	}
	if t.order != nil {
		data["OrderNumber"] = t.order.OrderNumber
		data["PackageName"] = t.order.PackageName
	}
	if t.invoice != nil {
		data["InvoiceNumber"] = t.invoice.InvoiceNumber
	}
	if err := p.notify(ctx, tx, in, t, out, outbox.ChannelEmail, mailer.PaymentConfirmationTemplate, email, name, data); err != nil {
		return nil, err
	}
	if t.customer != nil && t.customer.ExpoPushToken != nil {
		if err := p.notify(ctx, tx, in, t, out, outbox.ChannelPush, mailer.PaymentConfirmationTemplate, *t.customer.ExpoPushToken, name, data); err != nil {
			return nil, err
		}
	}

	evs := []events.Event{{
		Type: events.PaymentCompleted,
		Key:  pl.Reference,
		Data: map[string]any{"transaction_id": key, "amount": amount, "order_id": out.OrderID, "invoice_id": out.InvoiceID},
	}}
	if activated {
		evs = append(evs, events.Event{
			Type: events.ActivationRequired,
			Key:  pl.Reference,
			Data: map[string]any{"order_id": t.order.ID, "package": t.order.PackageName, "customer_id": t.order.CustomerID},
		})
	}
	return evs, nil
}

func (p *Processor) applyFailure(ctx context.Context, tx *storage.BillingTx, in ProcessInput, t *target, out *Outcome) ([]events.Event, error) {
	pl := in.Payload
	key := transactionKey(pl)
	out.TransactionID = key
	reason := pl.FailureReason()

	existing, err := tx.Transactions.GetByTransactionID(ctx, key)
	if err != nil {
		return nil, err
	}

	// a late failure never downgrades a paid or reversed order
	if t.order != nil && !failureLocked(t.order.PaymentStatus) {
		err := tx.Orders.UpdatePayment(ctx, t.order.ID, orders.PaymentUpdate{
			PaymentStatus: orders.PaymentFailed,
			Status:        orders.StatusPending,
			Error:         &reason,
			TransactionID: nilIfEmpty(pl.TransactionID),
		})
		if err != nil {
			return nil, err
		}
		out.Changed = true
		if err := p.auditTx(ctx, tx, in.WebhookID, out, webhooks.EventOrderUpdated, map[string]any{
			"payment_status": orders.PaymentFailed, "error": reason,
		}); err != nil {
			return nil, err
		}
	}

	if err := p.recordTransaction(ctx, tx, in, t, out, existing, paymentsrepo.StatusFailed); err != nil {
		return nil, err
	}

	name, email := t.recipient()
	data := map[string]any{
		"CustomerName": name,
		"Reference":    pl.Reference,
		"Amount":       pl.AmountRands(),
		"Reason":       reason,
	}
	if t.order != nil {
		data["OrderNumber"] = t.order.OrderNumber
	}
	if err := p.notify(ctx, tx, in, t, out, outbox.ChannelEmail, mailer.PaymentFailedTemplate, email, name, data); err != nil {
		return nil, err
	}

	return []events.Event{{
		Type: events.PaymentFailed,
		Key:  pl.Reference,
		Data: map[string]any{"transaction_id": key, "reason": reason, "order_id": out.OrderID},
	}}, nil
}

func failureLocked(status string) bool {
	switch status {
	case orders.PaymentPaid, orders.PaymentFailed, orders.PaymentRefunded, orders.PaymentChargeback:
		return true
	}
	return false
}

// applyReversal handles refunds and chargebacks. Invoices are left as they
// are; finance reverses the allocation in the billing system.
func (p *Processor) applyReversal(ctx context.Context, tx *storage.BillingTx, in ProcessInput, t *target, out *Outcome, status string) ([]events.Event, error) {
	pl := in.Payload
	key := transactionKey(pl)
	out.TransactionID = key
	amount := pl.AmountRands()

	orderPayment, orderStatus := orders.PaymentRefunded, orders.StatusCancelled
	template, eventType := mailer.RefundNoticeTemplate, events.PaymentRefunded
	if status == paymentsrepo.StatusChargeback {
		orderPayment, orderStatus = orders.PaymentChargeback, orders.StatusDisputed
		template, eventType = mailer.ChargebackAlertTemplate, events.PaymentChargeback
	}

	existing, err := tx.Transactions.GetByTransactionID(ctx, key)
	if err != nil {
		return nil, err
	}

	if t.order != nil && t.order.PaymentStatus != orderPayment {
		err := tx.Orders.UpdatePayment(ctx, t.order.ID, orders.PaymentUpdate{
			PaymentStatus: orderPayment,
			Status:        orderStatus,
			TransactionID: nilIfEmpty(pl.TransactionID),
		})
		if err != nil {
			return nil, err
		}
		out.Changed = true
		if err := p.auditTx(ctx, tx, in.WebhookID, out, webhooks.EventOrderUpdated, map[string]any{
			"payment_status": orderPayment, "status": orderStatus,
		}); err != nil {
			return nil, err
		}
	}

	if err := p.recordTransaction(ctx, tx, in, t, out, existing, status); err != nil {
		return nil, err
	}

	name, email := t.recipient()
	data := map[string]any{
		"CustomerName":  name,
		"CustomerEmail": email,
		"Reference":     pl.Reference,
		"Amount":        amount,
		"TransactionID": pl.TransactionID,
	}
	if t.order != nil {
		data["OrderNumber"] = t.order.OrderNumber
	}
	to, toName := email, name
	if status == paymentsrepo.StatusChargeback {
		to, toName = p.cfg.FinanceEmail, "Finance"
	}
	if err := p.notify(ctx, tx, in, t, out, outbox.ChannelEmail, template, to, toName, data); err != nil {
		return nil, err
	}

	return []events.Event{{
		Type: eventType,
		Key:  pl.Reference,
		Data: map[string]any{"transaction_id": key, "amount": amount, "order_id": out.OrderID},
	}}, nil
}

// recordTransaction upserts the payment_transactions row. Only completed
// payments enter the Zoho sync queue; a reversal takes a row still waiting
// there out of it.
func (p *Processor) recordTransaction(ctx context.Context, tx *storage.BillingTx, in ProcessInput, t *target, out *Outcome, existing *paymentsrepo.Transaction, status string) error {
	pl := in.Payload
	var rowID string
	if existing != nil {
		rowID = existing.ID
		if existing.Status != status && !(status == paymentsrepo.StatusFailed && existing.Status != paymentsrepo.StatusPending) {
			if err := tx.Transactions.SetStatus(ctx, existing.ID, status); err != nil {
				return err
			}
			out.Changed = true
		}
		if reversal(status) && existing.ZohoSyncStatus != nil && *existing.ZohoSyncStatus != paymentsrepo.SyncSynced &&
			*existing.ZohoSyncStatus != paymentsrepo.SyncSkipped {
			if err := tx.Transactions.SetSyncStatus(ctx, existing.ID, paymentsrepo.SyncUpdate{
				Status: paymentsrepo.SyncSkipped,
				Error:  "payment " + status + " before sync",
			}); err != nil {
				return err
			}
		}
	} else {
		row := &paymentsrepo.Transaction{
			TransactionID: out.TransactionID,
			Reference:     pl.Reference,
			Provider:      payments.ProviderNetcash,
			OrderID:       out.OrderID,
			InvoiceID:     out.InvoiceID,
			CustomerID:    t.customerID(),
			Amount:        pl.AmountRands(),
			Status:        status,
		}
		if status == paymentsrepo.StatusCompleted {
			s := paymentsrepo.SyncPending
			row.ZohoSyncStatus = &s
		}
		created, err := tx.Transactions.Create(ctx, row)
		if err != nil {
			return err
		}
		rowID = created.ID
		out.Changed = true
	}

	if err := tx.PayLogs.InsertPaymentLog(ctx, rowID, "webhook", payments.SanitizeForLogging(*pl)); err != nil {
		return err
	}
	return p.auditTx(ctx, tx, in.WebhookID, out, webhooks.EventTransactionRecorded, map[string]any{
		"transaction_id": out.TransactionID, "status": status, "amount": pl.AmountRands(),
	})
}

func reversal(status string) bool {
	return status == paymentsrepo.StatusRefunded || status == paymentsrepo.StatusChargeback
}

// notify enqueues one message per (transaction, template, channel).
func (p *Processor) notify(ctx context.Context, tx *storage.BillingTx, in ProcessInput, t *target, out *Outcome,
	channel, template, recipient, name string, data map[string]any) error {
	if recipient == "" {
		p.logger.Warnw("notification skipped, no recipient", "template", template, "channel", channel, "reference", in.Payload.Reference)
		return nil
	}

	m := &outbox.Message{
		Channel:       channel,
		Template:      template,
		Recipient:     recipient,
		RecipientName: name,
		Payload:       data,
		DedupeKey:     fmt.Sprintf("%s:%s:%s", out.TransactionID, template, channel),
		Trigger:       string(in.Type),
		InvoiceID:     out.InvoiceID,
		CustomerID:    t.customerID(),
		WebhookID:     nilIfEmpty(in.WebhookID),
	}
	queued, err := tx.Outbox.Enqueue(ctx, m)
	if err != nil {
		return err
	}
	if !queued {
		return nil
	}
	out.Queued++

	entry := &notifylog.Entry{
		InvoiceID:  out.InvoiceID,
		CustomerID: m.CustomerID,
		OutboxID:   &m.ID,
		Type:       channel,
		Template:   template,
		Trigger:    m.Trigger,
		Recipient:  recipient,
		Status:     notifylog.StatusPending,
	}
	if t.invoice != nil {
		entry.InvoiceNumber = &t.invoice.InvoiceNumber
	}
	if _, err := tx.NotifyLog.Log(ctx, entry); err != nil {
		return err
	}

	return p.auditTx(ctx, tx, in.WebhookID, out, webhooks.EventEmailQueued, map[string]any{
		"channel": channel, "template": template, "recipient": recipient, "outbox_id": m.ID,
	})
}

func (p *Processor) auditTx(ctx context.Context, tx *storage.BillingTx, webhookID string, out *Outcome, eventType string, data map[string]any) error {
	if webhookID == "" {
		return nil
	}
	return tx.Webhooks.InsertAudit(ctx, &webhooks.AuditEvent{
		WebhookID: webhookID,
		OrderID:   out.OrderID,
		InvoiceID: out.InvoiceID,
		EventType: eventType,
		EventData: data,
	})
}

func (p *Processor) auditOutside(ctx context.Context, webhookID string, out *Outcome, eventType string, data map[string]any) {
	if webhookID == "" || p.audit == nil {
		return
	}
	err := p.audit.InsertAudit(ctx, &webhooks.AuditEvent{
		WebhookID: webhookID,
		OrderID:   out.OrderID,
		InvoiceID: out.InvoiceID,
		EventType: eventType,
		EventData: data,
	})
	if err != nil {
		p.logger.Warnw("write webhook audit", "webhook_id", webhookID, "event", eventType, "error", err)
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
