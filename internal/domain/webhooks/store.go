package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"linkwave/internal/infra/dbx"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Repository) Insert(ctx context.Context, w *Webhook) (*Webhook, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = StatusReceived
	}

	var raw []byte
	if len(w.RawPayload) > 0 {
		raw = w.RawPayload
	}

	err := r.q.QueryRow(ctx, `
		INSERT INTO payment_webhooks (
			id, order_id, payment_reference, webhook_type, transaction_id, idempotency_key,
			amount, status, raw_payload, signature, signature_valid, source_ip, user_agent, error_message
		) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING received_at
	`,
		w.ID, w.OrderID, w.PaymentReference, w.WebhookType, w.TransactionID, w.IdempotencyKey,
		w.Amount, w.Status, raw, w.Signature, w.SignatureValid, w.SourceIP, w.UserAgent, w.ErrorMessage,
	).Scan(&w.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("insert payment webhook: %w", err)
	}
	return w, nil
}

// UpdateStatus stamps processed_at for the terminal states.
func (r *Repository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE payment_webhooks
		   SET status=$2,
		       error_message=COALESCE($3, error_message),
		       processed_at=CASE WHEN $2 IN ('processed','failed','duplicate') THEN now() ELSE processed_at END
		 WHERE id=$1::uuid
	`, id, status, nullIfEmpty(errMsg))
	if err != nil {
		return fmt.Errorf("update webhook status: %w", err)
	}
	return nil
}

// IsDuplicate reports whether an equivalent notification was already
// processed. Netcash does not always send a TransactionID, so the content
// hash is checked as well.
func (r *Repository) IsDuplicate(ctx context.Context, transactionID, webhookType, idempotencyKey string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_webhooks
			 WHERE status='processed'
			   AND (
			        ($1 <> '' AND transaction_id=$1 AND webhook_type=$2)
			     OR idempotency_key=$3
			   )
		)
	`, transactionID, webhookType, idempotencyKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate webhook: %w", err)
	}
	return exists, nil
}

const webhookColumns = `
	id::text, order_id::text, payment_reference, webhook_type, transaction_id, idempotency_key,
	amount::float8, status, raw_payload, signature, signature_valid, COALESCE(source_ip,''),
	COALESCE(user_agent,''), error_message, received_at, processed_at`

func scanWebhook(row pgx.Row, extra ...any) (*Webhook, error) {
	var w Webhook
	var raw []byte
	dest := []any{
		&w.ID, &w.OrderID, &w.PaymentReference, &w.WebhookType, &w.TransactionID, &w.IdempotencyKey,
		&w.Amount, &w.Status, &raw, &w.Signature, &w.SignatureValid, &w.SourceIP,
		&w.UserAgent, &w.ErrorMessage, &w.ReceivedAt, &w.ProcessedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	w.RawPayload = raw
	return &w, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Webhook, error) {
	w, err := scanWebhook(r.q.QueryRow(ctx, `SELECT `+webhookColumns+` FROM payment_webhooks WHERE id=$1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Webhook, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	rows, err := r.q.Query(ctx, `
SELECT `+webhookColumns+`, COUNT(*) OVER() AS total_count
FROM payment_webhooks
WHERE
  ($1 = '' OR status = $1)
  AND ($2 = '' OR webhook_type = $2)
  AND ($3 = '' OR payment_reference = $3)
  AND ($4::timestamptz IS NULL OR received_at >= $4::timestamptz)
ORDER BY received_at DESC
LIMIT $5 OFFSET $6
`, f.Status, f.WebhookType, f.Reference, f.Since, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Webhook
		total int
	)
	for rows.Next() {
		var t int
		w, err := scanWebhook(rows, &t)
		if err != nil {
			return nil, 0, fmt.Errorf("scan webhook: %w", err)
		}
		total = t
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return out, total, nil
}

func (r *Repository) InsertAudit(ctx context.Context, a *AuditEvent) error {
	var data []byte
	if a.EventData != nil {
		b, err := json.Marshal(a.EventData)
		if err != nil {
			return fmt.Errorf("encode audit data: %w", err)
		}
		data = b
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO payment_webhook_audit (webhook_id, order_id, invoice_id, event_type, event_data)
		VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5)
	`, nullIfEmpty(a.WebhookID), a.OrderID, a.InvoiceID, a.EventType, data)
	if err != nil {
		return fmt.Errorf("insert webhook audit: %w", err)
	}
	return nil
}

func (r *Repository) ListAudit(ctx context.Context, webhookID string) ([]*AuditEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, webhook_id::text, order_id::text, invoice_id::text, event_type, event_data, created_at
		FROM payment_webhook_audit
		WHERE webhook_id=$1::uuid
		ORDER BY id ASC
	`, webhookID)
	if err != nil {
		return nil, fmt.Errorf("list webhook audit: %w", err)
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		var (
			a    AuditEvent
			data []byte
		)
		if err := rows.Scan(&a.ID, &a.WebhookID, &a.OrderID, &a.InvoiceID, &a.EventType, &data, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook audit: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &a.EventData)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *Repository) ActivePaymentConfig(ctx context.Context, provider string) (*PaymentConfig, error) {
	var c PaymentConfig
	err := r.q.QueryRow(ctx, `
		SELECT environment, service_key, webhook_secret
		FROM payment_configurations
		WHERE provider=$1 AND is_active
		ORDER BY created_at DESC
		LIMIT 1
	`, provider).Scan(&c.Environment, &c.ServiceKey, &c.WebhookSecret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active payment config: %w", err)
	}
	return &c, nil
}
