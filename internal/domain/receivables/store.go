package receivables

import (
	"context"
	"fmt"
	"time"

	"linkwave/internal/infra/dbx"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func (r *Repository) OpenItems(ctx context.Context) ([]OpenItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id::text, due_date, amount_due::float8
		FROM customer_invoices
		WHERE status IN ('sent','unpaid','partial','overdue')
		  AND amount_due > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("list open receivables: %w", err)
	}
	defer rows.Close()

	var out []OpenItem
	for rows.Next() {
		var it OpenItem
		if err := rows.Scan(&it.InvoiceID, &it.DueDate, &it.AmountDue); err != nil {
			return nil, fmt.Errorf("scan open receivable: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repository) Billed(ctx context.Context, from, to time.Time) (float64, error) {
	var total float64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)::float8
		FROM customer_invoices
		WHERE invoice_date >= $1::date AND invoice_date < $2::date
		  AND status NOT IN ('draft','cancelled')
	`, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum billed: %w", err)
	}
	return total, nil
}

func (r *Repository) Collected(ctx context.Context, from, to time.Time) (float64, error) {
	var total float64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::float8
		FROM payment_transactions
		WHERE status='completed' AND created_at >= $1 AND created_at < $2
	`, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum collected: %w", err)
	}
	return total, nil
}

func (r *Repository) AverageDSO(ctx context.Context, from, to time.Time) (float64, int, error) {
	var (
		avg float64
		n   int
	)
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(AVG(dso), 0)::float8, COUNT(*)
		FROM ar_daily_snapshots
		WHERE snapshot_date >= $1::date AND snapshot_date < $2::date
	`, from, to).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("average dso: %w", err)
	}
	return avg, n, nil
}

func (r *Repository) UpsertSnapshot(ctx context.Context, s Snapshot) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO ar_daily_snapshots (
			snapshot_date, total_ar, current_amount, days_1_30, days_31_60, days_61_90, days_90_plus,
			invoice_count, dso, cei
		) VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (snapshot_date) DO UPDATE SET
			total_ar=EXCLUDED.total_ar,
			current_amount=EXCLUDED.current_amount,
			days_1_30=EXCLUDED.days_1_30,
			days_31_60=EXCLUDED.days_31_60,
			days_61_90=EXCLUDED.days_61_90,
			days_90_plus=EXCLUDED.days_90_plus,
			invoice_count=EXCLUDED.invoice_count,
			dso=EXCLUDED.dso,
			cei=EXCLUDED.cei,
			updated_at=now()
	`, s.Date, s.TotalAR, s.Current, s.Days1To30, s.Days31To60, s.Days61To90, s.Days90Plus,
		s.InvoiceCount, s.DSO, s.CEI)
	if err != nil {
		return fmt.Errorf("upsert ar snapshot: %w", err)
	}
	return nil
}
