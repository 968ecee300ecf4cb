package mailer

import "embed"

const (
	FromName   = "Linkwave Billing"
	maxRetires = 3

	PaymentConfirmationTemplate = "payment_confirmation.tmpl"
	PaymentFailedTemplate       = "payment_failed.tmpl"
	RefundNoticeTemplate        = "refund_notice.tmpl"
	ChargebackAlertTemplate     = "chargeback_alert.tmpl"
	InvoiceIssuedTemplate       = "invoice_issued.tmpl"
	InvoiceDueReminderTemplate  = "invoice_due_reminder.tmpl"
	SyncAlertTemplate           = "sync_alert.tmpl"
)

//go:embed "templates"
var FS embed.FS

// Client sends a templated email and returns the provider message id.
type Client interface {
	Send(templateFile, username, email string, data any) (string, error)
}
