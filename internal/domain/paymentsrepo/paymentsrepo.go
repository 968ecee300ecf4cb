package paymentsrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkwave/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

const txColumns = `
	id::text, transaction_id, reference, provider, order_id::text, invoice_id::text, customer_id::text,
	amount::float8, currency, status, zoho_payment_id, zoho_sync_status, zoho_sync_error,
	zoho_sync_attempts, zoho_synced_at, created_at, updated_at`

func scanTx(row pgx.Row, extra ...any) (*Transaction, error) {
	var t Transaction
	dest := []any{
		&t.ID, &t.TransactionID, &t.Reference, &t.Provider, &t.OrderID, &t.InvoiceID, &t.CustomerID,
		&t.Amount, &t.Currency, &t.Status, &t.ZohoPaymentID, &t.ZohoSyncStatus, &t.ZohoSyncError,
		&t.ZohoSyncAttempts, &t.ZohoSyncedAt, &t.CreatedAt, &t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) Create(ctx context.Context, t *Transaction) (*Transaction, error) {
	if err := r.q.QueryRow(ctx, `
		INSERT INTO payment_transactions (
			transaction_id, reference, provider, order_id, invoice_id, customer_id,
			amount, currency, status, zoho_sync_status
		)
		VALUES ($1, $2, COALESCE(NULLIF($3,''),'netcash'), $4::uuid, $5::uuid, $6::uuid,
		        $7, COALESCE(NULLIF($8,''),'ZAR'), $9, $10)
		RETURNING id::text, provider, currency, created_at, updated_at
	`, t.TransactionID, t.Reference, t.Provider, t.OrderID, t.InvoiceID, t.CustomerID,
		t.Amount, t.Currency, t.Status, t.ZohoSyncStatus).
		Scan(&t.ID, &t.Provider, &t.Currency, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create payment transaction: %w", err)
	}
	return t, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Transaction, error) {
	t, err := scanTx(r.q.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE id=$1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment transaction: %w", err)
	}
	return t, nil
}

// GetByTransactionID locks the row so concurrent deliveries of the same
// gateway notification serialize on it.
func (r *Repository) GetByTransactionID(ctx context.Context, transactionID string) (*Transaction, error) {
	t, err := scanTx(r.q.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE transaction_id=$1
		FOR UPDATE
	`, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment transaction by gateway id: %w", err)
	}
	return t, nil
}

func (r *Repository) SetStatus(ctx context.Context, id, status string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE payment_transactions
		   SET status=$2, updated_at=now()
		 WHERE id=$1::uuid
	`, id, status)
	if err != nil {
		return fmt.Errorf("set payment transaction status: %w", err)
	}
	return nil
}

// SetSyncStatus counts every terminal outcome as an attempt.
func (r *Repository) SetSyncStatus(ctx context.Context, id string, u SyncUpdate) error {
	_, err := r.q.Exec(ctx, `
		UPDATE payment_transactions
		   SET zoho_sync_status=$2,
		       zoho_payment_id=COALESCE(NULLIF($3,''), zoho_payment_id),
		       zoho_sync_error=NULLIF($4,''),
		       zoho_sync_attempts=zoho_sync_attempts + CASE WHEN $2 IN ('synced','failed') THEN 1 ELSE 0 END,
		       zoho_synced_at=CASE WHEN $2='synced' THEN now() ELSE zoho_synced_at END,
		       updated_at=now()
		 WHERE id=$1::uuid
	`, id, u.Status, u.ZohoPaymentID, u.Error)
	if err != nil {
		return fmt.Errorf("set zoho sync status: %w", err)
	}
	return nil
}

func (r *Repository) ListForSync(ctx context.Context, maxAttempts, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE zoho_sync_status IN ('pending','failed')
		  AND zoho_sync_attempts < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions for sync: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// List returns transactions with optional filters:
// - status: "" => no status filter
// - since: nil => no time filter, else created_at >= *since
func (r *Repository) List(
	ctx context.Context,
	status string,
	since *time.Time,
	limit, offset int,
) ([]*Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.q.Query(ctx, `
SELECT `+txColumns+`, COUNT(*) OVER() AS total_count
FROM payment_transactions
WHERE
  ($1 = '' OR status = $1)
  AND ($2::timestamptz IS NULL OR created_at >= $2::timestamptz)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`,
		status,
		since,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list payment transactions: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Transaction
		total int
	)
	for rows.Next() {
		var n int
		t, err := scanTx(rows, &n)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payment transaction: %w", err)
		}
		total = n
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return out, total, nil
}

func (r *Repository) SyncStats(ctx context.Context, since, staleBefore, dayStart time.Time) (SyncStats, error) {
	var s SyncStats
	err := r.q.QueryRow(ctx, `
		SELECT
		  COUNT(*) FILTER (WHERE zoho_sync_status='failed' AND updated_at >= $1),
		  COUNT(*) FILTER (WHERE zoho_sync_status IS NOT NULL AND created_at >= $1),
		  COUNT(*) FILTER (WHERE zoho_sync_status='synced' AND created_at >= $1),
		  COUNT(*) FILTER (WHERE zoho_sync_status='pending' AND created_at < $2),
		  COUNT(*) FILTER (WHERE status='completed' AND created_at >= $3)
		FROM payment_transactions
	`, since, staleBefore, dayStart).Scan(
		&s.FailedLast24h, &s.TotalLast24h, &s.SyncedLast24h, &s.StalePending, &s.CompletedToday,
	)
	if err != nil {
		return SyncStats{}, fmt.Errorf("payment sync stats: %w", err)
	}
	return s, nil
}
