package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"linkwave/internal/infra/dbx"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

const messageColumns = `
	id::text, channel, template, recipient, recipient_name, payload, dedupe_key, trigger,
	status, attempts, max_attempts, next_attempt_at, last_error, provider_message_id,
	invoice_id::text, customer_id::text, webhook_id::text, created_at, sent_at`

func scanMessage(row pgx.Row, extra ...any) (*Message, error) {
	var (
		m       Message
		payload []byte
	)
	dest := []any{
		&m.ID, &m.Channel, &m.Template, &m.Recipient, &m.RecipientName, &payload, &m.DedupeKey, &m.Trigger,
		&m.Status, &m.Attempts, &m.MaxAttempts, &m.NextAttemptAt, &m.LastError, &m.ProviderMessageID,
		&m.InvoiceID, &m.CustomerID, &m.WebhookID, &m.CreatedAt, &m.SentAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
	}
	return &m, nil
}

func (r *Repository) Enqueue(ctx context.Context, m *Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MaxAttempts <= 0 {
		m.MaxAttempts = DefaultMaxAttempts
	}
	if m.Payload == nil {
		m.Payload = map[string]any{}
	}
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return false, fmt.Errorf("encode outbox payload: %w", err)
	}

	tag, err := r.q.Exec(ctx, `
		INSERT INTO notification_outbox (
			id, channel, template, recipient, recipient_name, payload, dedupe_key, trigger,
			max_attempts, invoice_id, customer_id, webhook_id
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10::uuid, $11::uuid, $12::uuid)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, m.ID, m.Channel, m.Template, m.Recipient, m.RecipientName, payload, m.DedupeKey, m.Trigger,
		m.MaxAttempts, m.InvoiceID, m.CustomerID, m.WebhookID)
	if err != nil {
		return false, fmt.Errorf("enqueue notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	m.Status = StatusPending
	return true, nil
}

// ClaimDue leases due messages by flipping them to sending. Rows held by
// another worker are skipped. A lease older than five minutes is treated as
// abandoned and claimed again.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.q.Query(ctx, `
		UPDATE notification_outbox o
		   SET status='sending', attempts=o.attempts+1, next_attempt_at=$1::timestamptz + interval '5 minutes'
		 WHERE o.id IN (
			SELECT id FROM notification_outbox
			 WHERE (status IN ('pending','failed') AND next_attempt_at <= $1)
			    OR (status='sending' AND next_attempt_at <= $1)
			 ORDER BY next_attempt_at
			 LIMIT $2
			 FOR UPDATE SKIP LOCKED
		 )
		RETURNING `+messageColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notification_outbox
		   SET status='sent', sent_at=$3, provider_message_id=NULLIF($2,''), last_error=NULL
		 WHERE id=$1::uuid
	`, id, providerMessageID, at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

func (r *Repository) MarkRetry(ctx context.Context, id, errMsg string, next time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notification_outbox
		   SET status='failed', last_error=$2, next_attempt_at=$3
		 WHERE id=$1::uuid
	`, id, errMsg, next)
	if err != nil {
		return fmt.Errorf("mark notification retry: %w", err)
	}
	return nil
}

func (r *Repository) Defer(ctx context.Context, id, reason string, next time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notification_outbox
		   SET status='pending', attempts=GREATEST(attempts-1, 0), last_error=$2, next_attempt_at=$3
		 WHERE id=$1::uuid AND status='sending'
	`, id, reason, next)
	if err != nil {
		return fmt.Errorf("defer notification: %w", err)
	}
	return nil
}

func (r *Repository) MarkDead(ctx context.Context, id, errMsg string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notification_outbox SET status='dead', last_error=$2 WHERE id=$1::uuid
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark notification dead: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(r.q.QueryRow(ctx, `SELECT `+messageColumns+` FROM notification_outbox WHERE id=$1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get outbox message: %w", err)
	}
	return m, nil
}

func (r *Repository) ListDead(ctx context.Context, limit, offset int) ([]*Message, int, error) {
	rows, err := r.q.Query(ctx, `
SELECT `+messageColumns+`, COUNT(*) OVER() AS total_count
FROM notification_outbox
WHERE status = 'dead'
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list dead notifications: %w", err)
	}
	defer rows.Close()

	var (
		out   []*Message
		total int
	)
	for rows.Next() {
		var n int
		m, err := scanMessage(rows, &n)
		if err != nil {
			return nil, 0, fmt.Errorf("scan outbox message: %w", err)
		}
		total = n
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return out, total, nil
}

// Requeue gives a dead message a fresh set of attempts.
func (r *Repository) Requeue(ctx context.Context, id string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE notification_outbox
		   SET status='pending', attempts=0, next_attempt_at=now(), last_error=NULL
		 WHERE id=$1::uuid AND status='dead'
	`, id)
	if err != nil {
		return false, fmt.Errorf("requeue notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
