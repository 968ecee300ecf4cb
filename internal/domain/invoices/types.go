package invoices

import (
	"context"
	"math"
	"time"

	"linkwave/internal/domain/customers"
)

const (
	StatusDraft     = "draft"
	StatusSent      = "sent"
	StatusUnpaid    = "unpaid"
	StatusPartial   = "partial"
	StatusPaid      = "paid"
	StatusOverdue   = "overdue"
	StatusCancelled = "cancelled"
)

type LineItem struct {
	ItemID      string  `json:"item_id,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

type Invoice struct {
	ID                   string              `json:"id"`
	InvoiceNumber        string              `json:"invoice_number"`
	CustomerID           string              `json:"customer_id"`
	OrderID              *string             `json:"order_id,omitempty"`
	InvoiceDate          time.Time           `json:"invoice_date"`
	DueDate              time.Time           `json:"due_date"`
	TotalAmount          float64             `json:"total_amount"`
	AmountPaid           float64             `json:"amount_paid"`
	AmountDue            float64             `json:"amount_due"`
	Status               string              `json:"status"`
	LineItems            []LineItem          `json:"line_items"`
	ZohoInvoiceID        *string             `json:"zoho_invoice_id,omitempty"`
	DocumentURL          *string             `json:"document_url,omitempty"`
	PayNowURL            *string             `json:"paynow_url,omitempty"`
	PayNowTransactionRef *string             `json:"paynow_transaction_ref,omitempty"`
	ReminderSentAt       *time.Time          `json:"reminder_sent_at,omitempty"`
	ReminderCount        int                 `json:"reminder_count"`
	SMSReminderSentAt    *time.Time          `json:"sms_reminder_sent_at,omitempty"`
	SMSReminderCount     int                 `json:"sms_reminder_count"`
	SMSReminderError     *string             `json:"sms_reminder_error,omitempty"`
	PaidAt               *time.Time          `json:"paid_at,omitempty"`
	UpdatedAt            time.Time           `json:"updated_at"`
	Customer             *customers.Customer `json:"customer,omitempty"`
}

// DaysOverdue counts whole calendar days past the due date; zero or negative
// means not yet overdue.
func (i *Invoice) DaysOverdue(now time.Time) int {
	return DaysBetween(i.DueDate, now)
}

// Outstanding falls back to total minus paid when amount_due was not loaded.
func (i *Invoice) Outstanding() float64 {
	if i.AmountDue > 0 {
		return i.AmountDue
	}
	return math.Max(i.TotalAmount-i.AmountPaid, 0)
}

// DaysBetween returns the number of calendar days from date a (a stored
// date, read as-is) to the local calendar day of b.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

const (
	TypeOnceOff   = "once_off"
	TypeRecurring = "recurring"
)

// RecurringInvoice is one billing period of a subscribed service.
type RecurringInvoice struct {
	CustomerID  string
	ServiceID   string
	InvoiceDate time.Time
	DueDate     time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	Subtotal    float64
	VATRate     float64
	VATAmount   float64
	Total       float64
	LineItems   []LineItem
}

// Created identifies the invoice CreateRecurring inserted or found.
type Created struct {
	ID            string
	InvoiceNumber string
	Inserted      bool // false when the period was already billed
}

type SMSReminderFilter struct {
	DueFrom        time.Time // oldest due date included
	DueTo          time.Time // newest due date included
	MaxCount       int
	LastSentBefore time.Time
}

type Store interface {
	GetByID(ctx context.Context, id string) (*Invoice, error)
	GetByIDs(ctx context.Context, ids []string) ([]*Invoice, error)
	GetByPaymentReference(ctx context.Context, ref string) (*Invoice, error)

	ApplyPayment(ctx context.Context, id string, amount float64, paidAt time.Time) (*Invoice, error)
	SetStatus(ctx context.Context, id, status string) error
	SetZohoInvoiceID(ctx context.Context, id, zohoID string) error
	SetDocumentURL(ctx context.Context, id, url string) error
	SetPayNow(ctx context.Context, id, url, ref string) error

	ListSMSReminderCandidates(ctx context.Context, f SMSReminderFilter) ([]*Invoice, error)
	RecordSMSReminder(ctx context.Context, id string, at time.Time) error
	SetSMSReminderError(ctx context.Context, id, msg string) error

	// CreateRecurring inserts the period's invoice unless one already exists
	// for the service, in which case the existing invoice is returned.
	CreateRecurring(ctx context.Context, in *RecurringInvoice) (*Created, error)

	ListDueOn(ctx context.Context, due time.Time) ([]*Invoice, error)
	RecordEmailReminder(ctx context.Context, id string, at time.Time) error
	SetReminderError(ctx context.Context, id, msg string) error
}
