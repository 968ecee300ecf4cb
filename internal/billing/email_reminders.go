package billing

import (
	"context"
	"fmt"
	"time"

	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/storage"
	"linkwave/internal/mailer"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type EmailReminderStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]*invoices.Invoice, error)
	ListDueOn(ctx context.Context, due time.Time) ([]*invoices.Invoice, error)
	SetReminderError(ctx context.Context, id, msg string) error
}

type EmailReminderOptions struct {
	DaysBeforeDue int      `json:"days_before_due"`
	InvoiceIDs    []string `json:"invoice_ids,omitempty"`
	DryRun        bool     `json:"dry_run"`
}

type EmailReminderSummary struct {
	DueDate string                `json:"due_date"`
	Queued  int                   `json:"queued"`
	Skipped int                   `json:"skipped"`
	Failed  int                   `json:"failed"`
	Results []EmailReminderResult `json:"results"`
}

type EmailReminderResult struct {
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"` // queued, skipped, failed
	Reason        string `json:"reason,omitempty"`
}

// EmailReminders queues "due soon" emails through the outbox.
type EmailReminders struct {
	tx       TxRunner
	invoices EmailReminderStore
	validate *validator.Validate
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewEmailReminders(tx TxRunner, store EmailReminderStore, logger *zap.SugaredLogger) *EmailReminders {
	return &EmailReminders{
		tx:       tx,
		invoices: store,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

func (e *EmailReminders) Process(ctx context.Context, opts EmailReminderOptions) (*EmailReminderSummary, error) {
	if opts.DaysBeforeDue <= 0 {
		opts.DaysBeforeDue = 5
	}
	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	due := today.AddDate(0, 0, opts.DaysBeforeDue)

	var (
		list []*invoices.Invoice
		err  error
	)
	if len(opts.InvoiceIDs) > 0 {
		list, err = e.invoices.GetByIDs(ctx, opts.InvoiceIDs)
	} else {
		list, err = e.invoices.ListDueOn(ctx, due)
	}
	if err != nil {
		return nil, err
	}

	sum := &EmailReminderSummary{DueDate: due.Format("2006-01-02"), Results: []EmailReminderResult{}}
	for _, inv := range list {
		res := EmailReminderResult{InvoiceID: inv.ID, InvoiceNumber: inv.InvoiceNumber}

		if reason := e.ineligible(inv, due); reason != "" {
			res.Status, res.Reason = "skipped", reason
			sum.Skipped++
			sum.Results = append(sum.Results, res)
			continue
		}
		if opts.DryRun {
			res.Status = "queued"
			sum.Queued++
			sum.Results = append(sum.Results, res)
			continue
		}

		if err := e.queue(ctx, inv, opts.DaysBeforeDue, now); err != nil {
			res.Status, res.Reason = "failed", err.Error()
			sum.Failed++
			if serr := e.invoices.SetReminderError(ctx, inv.ID, err.Error()); serr != nil {
				e.logger.Errorw("store reminder error", "invoice", inv.InvoiceNumber, "error", serr)
			}
		} else {
			res.Status = "queued"
			sum.Queued++
		}
		sum.Results = append(sum.Results, res)
	}

	e.logger.Infow("email reminders processed", "due_date", sum.DueDate, "queued", sum.Queued, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (e *EmailReminders) ineligible(inv *invoices.Invoice, due time.Time) string {
	if inv.Status != invoices.StatusSent && inv.Status != invoices.StatusUnpaid {
		return "invoice status " + inv.Status + " is not eligible"
	}
	if inv.ReminderSentAt != nil {
		return "reminder already sent"
	}
	if invoices.DaysBetween(inv.DueDate, due) != 0 {
		return "not due on " + due.Format("2006-01-02")
	}
	if inv.Customer == nil || e.validate.Var(inv.Customer.Email, "required,email") != nil {
		return "no valid email address"
	}
	return ""
}

func (e *EmailReminders) queue(ctx context.Context, inv *invoices.Invoice, days int, now time.Time) error {
	data := invoiceEmailData(inv, now)
	data["DaysUntilDue"] = days

	m := &outbox.Message{
		Channel:       outbox.ChannelEmail,
		Template:      mailer.InvoiceDueReminderTemplate,
		Recipient:     inv.Customer.Email,
		RecipientName: inv.Customer.FullName(),
		Payload:       data,
		DedupeKey:     fmt.Sprintf("reminder:%s:%s", inv.ID, inv.DueDate.Format("2006-01-02")),
		Trigger:       TriggerPaymentReminder,
		InvoiceID:     &inv.ID,
		CustomerID:    &inv.CustomerID,
	}

	return e.tx.WithBillingTx(ctx, func(tx *storage.BillingTx) error {
		queued, err := tx.Outbox.Enqueue(ctx, m)
		if err != nil {
			return err
		}
		if queued {
			amount := inv.Outstanding()
			if _, err := tx.NotifyLog.Log(ctx, &notifylog.Entry{
				InvoiceID:     &inv.ID,
				InvoiceNumber: &inv.InvoiceNumber,
				CustomerID:    &inv.CustomerID,
				OutboxID:      &m.ID,
				Type:          outbox.ChannelEmail,
				Template:      m.Template,
				Trigger:       m.Trigger,
				Recipient:     m.Recipient,
				Status:        notifylog.StatusPending,
				AmountDue:     &amount,
			}); err != nil {
				return err
			}
		}
		return tx.Invoices.RecordEmailReminder(ctx, inv.ID, now)
	})
}
