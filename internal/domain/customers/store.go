package customers

import (
	"context"
	"errors"
	"fmt"

	"linkwave/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func (r *Repository) GetByID(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	err := r.q.QueryRow(ctx, `
		SELECT id::text, account_number, first_name, last_name, email, phone,
		       expo_push_token, zoho_billing_customer_id, created_at
		FROM customers WHERE id=$1::uuid
	`, id).Scan(
		&c.ID, &c.AccountNumber, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.ExpoPushToken, &c.ZohoBillingCustomerID, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

func (r *Repository) SetZohoCustomerID(ctx context.Context, id, zohoID string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE customers SET zoho_billing_customer_id=$2, updated_at=now() WHERE id=$1::uuid
	`, id, zohoID)
	if err != nil {
		return fmt.Errorf("set zoho customer id: %w", err)
	}
	return nil
}
