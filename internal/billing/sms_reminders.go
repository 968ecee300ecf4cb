package billing

import (
	"context"
	"time"

	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/notifications"

	"go.uber.org/zap"
)

const smsTrigger = "sms_reminder"

type SMSReminderStore interface {
	GetByID(ctx context.Context, id string) (*invoices.Invoice, error)
	GetByIDs(ctx context.Context, ids []string) ([]*invoices.Invoice, error)
	ListSMSReminderCandidates(ctx context.Context, f invoices.SMSReminderFilter) ([]*invoices.Invoice, error)
	RecordSMSReminder(ctx context.Context, id string, at time.Time) error
	SetSMSReminderError(ctx context.Context, id, msg string) error
}

type SMSReminderConfig struct {
	PortalURL    string
	SupportEmail string
	Provider     string
	Pace         time.Duration
}

type SMSReminderOptions struct {
	MinDaysOverdue int      `json:"min_days_overdue"`
	MaxDaysOverdue int      `json:"max_days_overdue"`
	InvoiceIDs     []string `json:"invoice_ids,omitempty"`
	DryRun         bool     `json:"dry_run"`
	MaxReminders   int      `json:"max_reminders"`
}

func (o *SMSReminderOptions) defaults() {
	if o.MinDaysOverdue <= 0 {
		o.MinDaysOverdue = 1
	}
	if o.MaxDaysOverdue <= 0 {
		o.MaxDaysOverdue = 30
	}
	if o.MaxReminders <= 0 {
		o.MaxReminders = 3
	}
}

type SMSReminderResult struct {
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	Phone         string `json:"phone,omitempty"`
	Template      string `json:"template,omitempty"`
	Status        string `json:"status"` // sent, failed, skipped
	MessageID     string `json:"message_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SMSReminderSummary struct {
	Processed  int                 `json:"processed"`
	Sent       int                 `json:"sent"`
	Failed     int                 `json:"failed"`
	Skipped    int                 `json:"skipped"`
	Results    []SMSReminderResult `json:"results"`
	DurationMS int64               `json:"duration_ms"`
}

type SMSReminderStatus struct {
	SentAt *time.Time `json:"sent_at"`
	Count  int        `json:"count"`
	Error  *string    `json:"error"`
}

// SMSReminders sends overdue reminders synchronously so the cron caller gets
// per-invoice results back.
type SMSReminders struct {
	invoices SMSReminderStore
	sms      notifications.SMSSender
	tracking notifylog.Store
	cfg      SMSReminderConfig
	logger   *zap.SugaredLogger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

func NewSMSReminders(store SMSReminderStore, sms notifications.SMSSender, tracking notifylog.Store, cfg SMSReminderConfig, logger *zap.SugaredLogger) *SMSReminders {
	if cfg.Pace <= 0 {
		cfg.Pace = 500 * time.Millisecond
	}
	if cfg.Provider == "" {
		cfg.Provider = "clickatell"
	}
	return &SMSReminders{
		invoices: store,
		sms:      sms,
		tracking: tracking,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *SMSReminders) Process(ctx context.Context, opts SMSReminderOptions) (*SMSReminderSummary, error) {
	start := s.now()
	opts.defaults()

	candidates, err := s.candidates(ctx, opts, start)
	if err != nil {
		return nil, err
	}

	sum := &SMSReminderSummary{Results: []SMSReminderResult{}}
	sentAny := false
	for _, inv := range candidates {
		if ctx.Err() != nil {
			break
		}
		sum.Processed++

		res, skip := s.check(inv, opts, start)
		if skip {
			sum.Skipped++
			sum.Results = append(sum.Results, res)
			continue
		}

		if opts.DryRun {
			res.Status = "sent"
			sum.Sent++
			sum.Results = append(sum.Results, res)
			continue
		}

		if sentAny {
			s.sleep(ctx, s.cfg.Pace)
		}
		sentAny = true

		s.send(ctx, inv, &res, start)
		if res.Status == "sent" {
			sum.Sent++
		} else {
			sum.Failed++
		}
		sum.Results = append(sum.Results, res)
	}

	sum.DurationMS = s.now().Sub(start).Milliseconds()
	s.logger.Infow("sms reminders processed",
		"processed", sum.Processed, "sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped, "dry_run", opts.DryRun)
	return sum, nil
}

func (s *SMSReminders) candidates(ctx context.Context, opts SMSReminderOptions, now time.Time) ([]*invoices.Invoice, error) {
	if len(opts.InvoiceIDs) > 0 {
		return s.invoices.GetByIDs(ctx, opts.InvoiceIDs)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.invoices.ListSMSReminderCandidates(ctx, invoices.SMSReminderFilter{
		DueFrom:        today.AddDate(0, 0, -opts.MaxDaysOverdue),
		DueTo:          today.AddDate(0, 0, -opts.MinDaysOverdue),
		MaxCount:       opts.MaxReminders,
		LastSentBefore: now.Add(-24 * time.Hour),
	})
}

// check re-applies the eligibility rules; explicitly requested invoices skip
// the database filter.
func (s *SMSReminders) check(inv *invoices.Invoice, opts SMSReminderOptions, now time.Time) (SMSReminderResult, bool) {
	res := SMSReminderResult{InvoiceID: inv.ID, InvoiceNumber: inv.InvoiceNumber}
	days := inv.DaysOverdue(now)

	skip := func(reason string) (SMSReminderResult, bool) {
		res.Status = "skipped"
		res.Error = reason
		return res, true
	}

	switch inv.Status {
	case invoices.StatusOverdue, invoices.StatusUnpaid, invoices.StatusPartial:
	default:
		return skip("invoice status " + inv.Status + " is not eligible")
	}
	if days < opts.MinDaysOverdue || days > opts.MaxDaysOverdue {
		return skip("outside overdue window")
	}
	if inv.SMSReminderCount >= opts.MaxReminders {
		return skip("maximum reminders sent")
	}
	if inv.SMSReminderSentAt != nil && now.Sub(*inv.SMSReminderSentAt) < 24*time.Hour {
		return skip("reminder sent in the last 24 hours")
	}
	if inv.Customer == nil || !notifications.ValidSAMobile(inv.Customer.PhoneNumber()) {
		return skip("no valid mobile number")
	}

	res.Phone = inv.Customer.PhoneNumber()
	res.Template = notifications.SelectSMSTemplate(inv.SMSReminderCount, days)
	return res, false
}

func (s *SMSReminders) send(ctx context.Context, inv *invoices.Invoice, res *SMSReminderResult, now time.Time) {
	days := inv.DaysOverdue(now)
	amount := inv.Outstanding()

	payURL := s.cfg.PortalURL + "/invoices/" + inv.ID
	if inv.PayNowURL != nil {
		payURL = *inv.PayNowURL
	}

	text, err := notifications.RenderSMS(res.Template, notifications.SMSReminderData{
		CustomerName:  inv.Customer.FirstName,
		InvoiceNumber: inv.InvoiceNumber,
		AmountDue:     amount,
		DaysOverdue:   days,
		PayURL:        payURL,
		SupportEmail:  s.cfg.SupportEmail,
	})
	if err == nil {
		res.MessageID, err = s.sms.Send(ctx, res.Phone, text)
	}

	entry := &notifylog.Entry{
		InvoiceID:      &inv.ID,
		InvoiceNumber:  &inv.InvoiceNumber,
		CustomerID:     &inv.CustomerID,
		Type:           outbox.ChannelSMS,
		Template:       res.Template,
		Trigger:        smsTrigger,
		Recipient:      res.Phone,
		MessageContent: &text,
		Provider:       &s.cfg.Provider,
		AmountDue:      &amount,
		DaysOverdue:    &days,
	}

	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		entry.Status = notifylog.StatusFailed
		entry.ErrorMessage = &res.Error
		if uerr := s.invoices.SetSMSReminderError(ctx, inv.ID, res.Error); uerr != nil {
			s.logger.Errorw("store sms reminder error", "invoice", inv.InvoiceNumber, "error", uerr)
		}
		s.logger.Warnw("sms reminder failed", "invoice", inv.InvoiceNumber, "error", err)
	} else {
		res.Status = "sent"
		sentAt := s.now()
		entry.Status = notifylog.StatusSent
		entry.ProviderMessageID = &res.MessageID
		entry.SentAt = &sentAt
		if uerr := s.invoices.RecordSMSReminder(ctx, inv.ID, sentAt); uerr != nil {
			s.logger.Errorw("record sms reminder", "invoice", inv.InvoiceNumber, "error", uerr)
		}
	}

	if _, lerr := s.tracking.Log(ctx, entry); lerr != nil {
		s.logger.Warnw("log sms reminder", "invoice", inv.InvoiceNumber, "error", lerr)
	}
}

func (s *SMSReminders) Status(ctx context.Context, invoiceID string) (*SMSReminderStatus, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	return &SMSReminderStatus{SentAt: inv.SMSReminderSentAt, Count: inv.SMSReminderCount, Error: inv.SMSReminderError}, nil
}
