package paymentsrepo

import (
	"context"
	"time"
)

type PaymentLog struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id"`
	LogType       string    `json:"log_type"` // webhook, sync_request, sync_response, error
	Payload       any       `json:"payload,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type LogsStore interface {
	InsertPaymentLog(ctx context.Context, transactionID string, logType string, payload any) error
}

// MonitorLog is one run of the payment sync monitor.
type MonitorLog struct {
	Status           string
	Checks           any
	EmailAlertSent   bool
	WebhookAlertSent bool
	Duration         time.Duration
}

type MonitorLogStore interface {
	InsertMonitorLog(ctx context.Context, l MonitorLog) error
}
