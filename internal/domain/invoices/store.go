package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

const invoiceSelect = `
SELECT
  i.id::text, i.invoice_number, i.customer_id::text, i.order_id::text,
  i.invoice_date, i.due_date, i.total_amount::float8, i.amount_paid::float8, i.amount_due::float8,
  i.status, i.line_items, i.zoho_invoice_id, i.document_url, i.paynow_url, i.paynow_transaction_ref,
  i.reminder_sent_at, i.reminder_count, i.sms_reminder_sent_at, i.sms_reminder_count,
  i.sms_reminder_error, i.paid_at, i.updated_at,
  c.id::text, c.account_number, c.first_name, c.last_name, c.email, c.phone,
  c.expo_push_token, c.zoho_billing_customer_id, c.created_at
FROM customer_invoices i
JOIN customers c ON c.id = i.customer_id
`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv   Invoice
		c     customers.Customer
		items []byte
	)
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.CustomerID, &inv.OrderID,
		&inv.InvoiceDate, &inv.DueDate, &inv.TotalAmount, &inv.AmountPaid, &inv.AmountDue,
		&inv.Status, &items, &inv.ZohoInvoiceID, &inv.DocumentURL, &inv.PayNowURL, &inv.PayNowTransactionRef,
		&inv.ReminderSentAt, &inv.ReminderCount, &inv.SMSReminderSentAt, &inv.SMSReminderCount,
		&inv.SMSReminderError, &inv.PaidAt, &inv.UpdatedAt,
		&c.ID, &c.AccountNumber, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.ExpoPushToken, &c.ZohoBillingCustomerID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items: %w", err)
		}
	}
	inv.Customer = &c
	return &inv, nil
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*Invoice, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Invoice, error) {
	inv, err := r.getOne(ctx, invoiceSelect+`WHERE i.id=$1::uuid`, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]*Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := r.list(ctx, invoiceSelect+`WHERE i.id = ANY($1::uuid[]) ORDER BY i.due_date`, ids)
	if err != nil {
		return nil, fmt.Errorf("get invoices: %w", err)
	}
	return out, nil
}

// GetByPaymentReference matches either the PayNow reference issued for the
// invoice or the invoice number itself. The invoice row is locked.
func (r *Repository) GetByPaymentReference(ctx context.Context, ref string) (*Invoice, error) {
	inv, err := r.getOne(ctx, invoiceSelect+`
WHERE i.paynow_transaction_ref=$1 OR i.invoice_number=$1
ORDER BY (i.paynow_transaction_ref=$1) DESC
LIMIT 1
FOR UPDATE OF i`, ref)
	if err != nil {
		return nil, fmt.Errorf("get invoice by payment reference: %w", err)
	}
	return inv, nil
}

func (r *Repository) ApplyPayment(ctx context.Context, id string, amount float64, paidAt time.Time) (*Invoice, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE customer_invoices
		   SET amount_paid = amount_paid + $2,
		       status = CASE WHEN amount_paid + $2 >= total_amount THEN 'paid' ELSE 'partial' END,
		       paid_at = CASE WHEN amount_paid + $2 >= total_amount THEN $3 ELSE paid_at END,
		       updated_at = now()
		 WHERE id=$1::uuid
	`, id, amount, paidAt)
	if err != nil {
		return nil, fmt.Errorf("apply invoice payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("apply invoice payment: invoice %s not found", id)
	}
	return r.GetByID(ctx, id)
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *Repository) SetStatus(ctx context.Context, id, status string) error {
	return r.exec(ctx, "set invoice status", `
		UPDATE customer_invoices SET status=$2, updated_at=now() WHERE id=$1::uuid
	`, id, status)
}

func (r *Repository) SetZohoInvoiceID(ctx context.Context, id, zohoID string) error {
	return r.exec(ctx, "set zoho invoice id", `
		UPDATE customer_invoices SET zoho_invoice_id=$2, updated_at=now() WHERE id=$1::uuid
	`, id, zohoID)
}

func (r *Repository) SetDocumentURL(ctx context.Context, id, url string) error {
	return r.exec(ctx, "set invoice document url", `
		UPDATE customer_invoices SET document_url=$2, updated_at=now() WHERE id=$1::uuid
	`, id, url)
}

func (r *Repository) SetPayNow(ctx context.Context, id, url, ref string) error {
	return r.exec(ctx, "set invoice paynow", `
		UPDATE customer_invoices
		   SET paynow_url=$2, paynow_transaction_ref=$3, updated_at=now()
		 WHERE id=$1::uuid
	`, id, url, ref)
}

func (r *Repository) CreateRecurring(ctx context.Context, in *RecurringInvoice) (*Created, error) {
	items, err := json.Marshal(in.LineItems)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}

	// The existing-row branch reads the pre-insert snapshot, so exactly one
	// side of the UNION returns a row.
	var c Created
	err = r.q.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO customer_invoices (
				customer_id, service_id, invoice_type, invoice_date, due_date,
				period_start, period_end, subtotal, vat_rate, vat_amount,
				total_amount, line_items, status
			) VALUES ($1::uuid, $2::uuid, 'recurring', $3::date, $4::date,
			          $5::date, $6::date, $7, $8, $9, $10, $11, 'unpaid')
			ON CONFLICT (service_id, period_start) WHERE invoice_type = 'recurring' DO NOTHING
			RETURNING id::text, invoice_number, true AS inserted
		)
		SELECT id, invoice_number, inserted FROM ins
		UNION ALL
		SELECT id::text, invoice_number, false FROM customer_invoices
		 WHERE service_id=$2::uuid AND invoice_type='recurring' AND period_start=$5::date
		LIMIT 1
	`, in.CustomerID, in.ServiceID, in.InvoiceDate, in.DueDate,
		in.PeriodStart, in.PeriodEnd, in.Subtotal, in.VATRate, in.VATAmount,
		in.Total, items,
	).Scan(&c.ID, &c.InvoiceNumber, &c.Inserted)
	if err != nil {
		return nil, fmt.Errorf("create recurring invoice: %w", err)
	}
	return &c, nil
}

func (r *Repository) ListSMSReminderCandidates(ctx context.Context, f SMSReminderFilter) ([]*Invoice, error) {
	out, err := r.list(ctx, invoiceSelect+`
WHERE i.status IN ('overdue','unpaid','partial')
  AND i.due_date >= $1::date
  AND i.due_date <= $2::date
  AND i.sms_reminder_count < $3
  AND (i.sms_reminder_sent_at IS NULL OR i.sms_reminder_sent_at < $4)
ORDER BY i.due_date ASC`, f.DueFrom, f.DueTo, f.MaxCount, f.LastSentBefore)
	if err != nil {
		return nil, fmt.Errorf("list sms reminder candidates: %w", err)
	}
	return out, nil
}

func (r *Repository) RecordSMSReminder(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "record sms reminder", `
		UPDATE customer_invoices
		   SET sms_reminder_sent_at=$2,
		       sms_reminder_count=sms_reminder_count+1,
		       sms_reminder_error=NULL,
		       updated_at=now()
		 WHERE id=$1::uuid
	`, id, at)
}

func (r *Repository) SetSMSReminderError(ctx context.Context, id, msg string) error {
	return r.exec(ctx, "set sms reminder error", `
		UPDATE customer_invoices SET sms_reminder_error=$2, updated_at=now() WHERE id=$1::uuid
	`, id, msg)
}

func (r *Repository) ListDueOn(ctx context.Context, due time.Time) ([]*Invoice, error) {
	out, err := r.list(ctx, invoiceSelect+`
WHERE i.status IN ('sent','unpaid')
  AND i.due_date = $1::date
  AND i.reminder_sent_at IS NULL
ORDER BY i.invoice_number`, due)
	if err != nil {
		return nil, fmt.Errorf("list invoices due on: %w", err)
	}
	return out, nil
}

func (r *Repository) RecordEmailReminder(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "record email reminder", `
		UPDATE customer_invoices
		   SET reminder_sent_at=$2,
		       reminder_count=reminder_count+1,
		       reminder_error=NULL,
		       updated_at=now()
		 WHERE id=$1::uuid
	`, id, at)
}

func (r *Repository) SetReminderError(ctx context.Context, id, msg string) error {
	return r.exec(ctx, "set reminder error", `
		UPDATE customer_invoices SET reminder_error=$2, updated_at=now() WHERE id=$1::uuid
	`, id, msg)
}
