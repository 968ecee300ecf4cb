package notifylog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"linkwave/internal/infra/dbx"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func (r *Repository) Log(ctx context.Context, e *Entry) (*Entry, error) {
	if e.Status == "" {
		e.Status = StatusPending
	}
	var meta []byte
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode notification metadata: %w", err)
		}
		meta = b
	}

	err := r.q.QueryRow(ctx, `
		INSERT INTO invoice_notification_log (
			invoice_id, invoice_number, customer_id, outbox_id, notification_type, notification_template,
			trigger, recipient, message_content, status, provider, provider_message_id, error_message,
			amount_due, days_overdue, metadata, sent_at
		) VALUES ($1::uuid, $2, $3::uuid, $4::uuid, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id::text, created_at
	`, e.InvoiceID, e.InvoiceNumber, e.CustomerID, e.OutboxID, e.Type, e.Template,
		e.Trigger, e.Recipient, e.MessageContent, e.Status, e.Provider, e.ProviderMessageID, e.ErrorMessage,
		e.AmountDue, e.DaysOverdue, meta, e.SentAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification log: %w", err)
	}
	return e, nil
}

// UpdateByOutboxID reflects the dispatcher's outcome on the tracking row
// written when the message was queued.
func (r *Repository) UpdateByOutboxID(ctx context.Context, outboxID, status, providerMessageID, errMsg string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE invoice_notification_log
		   SET status=$2,
		       provider_message_id=COALESCE(NULLIF($3,''), provider_message_id),
		       error_message=NULLIF($4,''),
		       sent_at=CASE WHEN $2='sent' THEN $5 ELSE sent_at END,
		       updated_at=now()
		 WHERE outbox_id=$1::uuid
	`, outboxID, status, providerMessageID, errMsg, at)
	if err != nil {
		return fmt.Errorf("update notification log: %w", err)
	}
	return nil
}

// UpdateStatusByProviderID applies a provider delivery callback. Lifecycle
// timestamps are only set once.
func (r *Repository) UpdateStatusByProviderID(ctx context.Context, providerMessageID, status string, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoice_notification_log
		   SET status=$2,
		       delivered_at=CASE WHEN $2='delivered' THEN COALESCE(delivered_at, $3) ELSE delivered_at END,
		       opened_at=CASE WHEN $2='opened' THEN COALESCE(opened_at, $3) ELSE opened_at END,
		       clicked_at=CASE WHEN $2='clicked' THEN COALESCE(clicked_at, $3) ELSE clicked_at END,
		       updated_at=now()
		 WHERE provider_message_id=$1
	`, providerMessageID, status, at)
	if err != nil {
		return false, fmt.Errorf("update notification status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) SentRecently(ctx context.Context, invoiceID, channel, trigger string, since time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoice_notification_log
			 WHERE invoice_id=$1::uuid
			   AND notification_type=$2
			   AND trigger=$3
			   AND status IN ('pending','sent','delivered','opened','clicked')
			   AND created_at >= $4
		)
	`, invoiceID, channel, trigger, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent notification: %w", err)
	}
	return exists, nil
}

func (r *Repository) ListByInvoice(ctx context.Context, invoiceID string) ([]*Entry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id::text, invoice_id::text, invoice_number, customer_id::text, outbox_id::text,
		       notification_type, notification_template, trigger, recipient, message_content, status,
		       provider, provider_message_id, error_message, amount_due::float8, days_overdue, metadata,
		       sent_at, delivered_at, opened_at, clicked_at, created_at
		FROM invoice_notification_log
		WHERE invoice_id=$1::uuid
		ORDER BY created_at DESC
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list notification log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(
			&e.ID, &e.InvoiceID, &e.InvoiceNumber, &e.CustomerID, &e.OutboxID,
			&e.Type, &e.Template, &e.Trigger, &e.Recipient, &e.MessageContent, &e.Status,
			&e.Provider, &e.ProviderMessageID, &e.ErrorMessage, &e.AmountDue, &e.DaysOverdue, &meta,
			&e.SentAt, &e.DeliveredAt, &e.OpenedAt, &e.ClickedAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *Repository) Stats(ctx context.Context, since time.Time) ([]ChannelStats, error) {
	rows, err := r.q.Query(ctx, `
		SELECT notification_type, status, COUNT(*)
		FROM invoice_notification_log
		WHERE created_at >= $1
		GROUP BY notification_type, status
		ORDER BY notification_type, status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}
	defer rows.Close()

	byChannel := map[string]*ChannelStats{}
	var order []string
	for rows.Next() {
		var (
			channel, status string
			n               int
		)
		if err := rows.Scan(&channel, &status, &n); err != nil {
			return nil, fmt.Errorf("scan notification stats: %w", err)
		}
		cs, ok := byChannel[channel]
		if !ok {
			cs = &ChannelStats{Channel: channel, ByStatus: map[string]int{}}
			byChannel[channel] = cs
			order = append(order, channel)
		}
		cs.ByStatus[status] += n
		cs.Total += n
		switch status {
		case StatusDelivered, StatusOpened, StatusClicked:
			cs.Delivered += n
		case StatusFailed, StatusBounced:
			cs.Failed += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ChannelStats, 0, len(order))
	for _, ch := range order {
		out = append(out, *byChannel[ch])
	}
	return out, nil
}
