package paymentsrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"linkwave/internal/infra/dbx"

	"github.com/google/uuid"
)

type LogsRepository struct{ q dbx.Querier }

func NewLogsRepository(q dbx.Querier) *LogsRepository {
	return &LogsRepository{q: q}
}

// InsertPaymentLog takes the payment_transactions row id, not the gateway's
// transaction id.
func (r *LogsRepository) InsertPaymentLog(ctx context.Context, transactionID string, logType string, payload any) error {
	if _, err := uuid.Parse(transactionID); err != nil {
		return fmt.Errorf("insert payment_log: transaction row id %q: %w", transactionID, err)
	}

	var jb []byte
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			jb = b
		}
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO payment_logs (transaction_id, log_type, payload)
		VALUES ($1::uuid, $2, $3)
	`, transactionID, logType, jb)
	if err != nil {
		return fmt.Errorf("insert payment_log: %w", err)
	}
	return nil
}

func (r *LogsRepository) InsertMonitorLog(ctx context.Context, l MonitorLog) error {
	checks, err := json.Marshal(l.Checks)
	if err != nil {
		return fmt.Errorf("encode monitor checks: %w", err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO payment_sync_monitor_logs (status, checks, email_alert_sent, webhook_alert_sent, duration_ms)
		VALUES ($1, $2, $3, $4, $5)
	`, l.Status, checks, l.EmailAlertSent, l.WebhookAlertSent, l.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert monitor log: %w", err)
	}
	return nil
}
