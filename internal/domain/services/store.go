package services

import (
	"context"
	"fmt"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/infra/dbx"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func (r *Repository) ListDueForBilling(ctx context.Context, day int, customerID string) ([]*Service, error) {
	rows, err := r.q.Query(ctx, `
		SELECT s.id::text, s.customer_id::text, s.package_name, s.service_type,
		       s.monthly_price::float8, s.billing_day, s.last_invoice_date, s.status,
		       c.id::text, c.account_number, c.first_name, c.last_name, c.email, c.phone,
		       c.expo_push_token, c.zoho_billing_customer_id, c.created_at
		FROM customer_services s
		JOIN customers c ON c.id = s.customer_id
		WHERE s.status = 'active'
		  AND s.billing_day = $1
		  AND ($2 = '' OR s.customer_id = $2::uuid)
		ORDER BY c.account_number NULLS LAST, s.id
	`, day, customerID)
	if err != nil {
		return nil, fmt.Errorf("list services due for billing: %w", err)
	}
	defer rows.Close()

	var out []*Service
	for rows.Next() {
		var (
			s Service
			c customers.Customer
		)
		if err := rows.Scan(
			&s.ID, &s.CustomerID, &s.PackageName, &s.ServiceType,
			&s.MonthlyPrice, &s.BillingDay, &s.LastInvoiceDate, &s.Status,
			&c.ID, &c.AccountNumber, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
			&c.ExpoPushToken, &c.ZohoBillingCustomerID, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		s.Customer = &c
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list services due for billing: %w", err)
	}
	return out, nil
}

func (r *Repository) SetLastInvoiceDate(ctx context.Context, id string, date time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE customer_services SET last_invoice_date=$2::date, updated_at=now() WHERE id=$1::uuid
	`, id, date)
	if err != nil {
		return fmt.Errorf("set last invoice date: %w", err)
	}
	return nil
}
