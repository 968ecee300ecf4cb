package orders

import (
	"context"
	"errors"
	"fmt"

	"linkwave/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

const orderColumns = `
	id::text, order_number, customer_id::text, customer_name, customer_email, package_name,
	payment_reference, payment_status, status, payment_amount::float8, payment_date,
	payment_error, netcash_transaction_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.CustomerName, &o.CustomerEmail, &o.PackageName,
		&o.PaymentReference, &o.PaymentStatus, &o.Status, &o.PaymentAmount, &o.PaymentDate,
		&o.PaymentError, &o.NetcashTransactionID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1::uuid`, id))
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetByPaymentReference locks the row: it is only called from inside a
// billing transaction, and two deliveries of the same webhook must not
// interleave their read-then-update.
func (r *Repository) GetByPaymentReference(ctx context.Context, ref string) (*Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_reference=$1
		FOR UPDATE
	`, ref))
	if err != nil {
		return nil, fmt.Errorf("get order by payment reference: %w", err)
	}
	return o, nil
}

func (r *Repository) UpdatePayment(ctx context.Context, id string, u PaymentUpdate) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE orders
		   SET payment_status=$2,
		       status=$3,
		       payment_amount=COALESCE($4, payment_amount),
		       payment_date=COALESCE($5, payment_date),
		       payment_error=$6,
		       netcash_transaction_id=COALESCE($7, netcash_transaction_id),
		       updated_at=now()
		 WHERE id=$1::uuid
	`, id, u.PaymentStatus, u.Status, u.Amount, u.PaidAt, u.Error, u.TransactionID)
	if err != nil {
		return fmt.Errorf("update order payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order payment: order %s not found", id)
	}
	return nil
}
