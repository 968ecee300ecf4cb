package webhooks

import (
	"context"
	"encoding/json"
	"time"
)

const (
	StatusReceived   = "received"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
	StatusDuplicate  = "duplicate"
)

// Audit event types written to payment_webhook_audit.
const (
	EventOrderUpdated        = "order_updated"
	EventInvoiceUpdated      = "invoice_updated"
	EventTransactionRecorded = "transaction_recorded"
	EventEmailQueued         = "email_queued"
	EventEmailSent           = "email_sent"
	EventEmailFailed         = "email_failed"
	EventProcessingFailed    = "processing_failed"
	EventActivationTriggered = "service_activation_triggered"
)

type Webhook struct {
	ID               string          `json:"id"`
	OrderID          *string         `json:"order_id,omitempty"`
	PaymentReference string          `json:"payment_reference"`
	WebhookType      string          `json:"webhook_type"`
	TransactionID    *string         `json:"transaction_id,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Amount           *float64        `json:"amount,omitempty"`
	Status           string          `json:"status"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
	Signature        *string         `json:"signature,omitempty"`
	SignatureValid   bool            `json:"signature_valid"`
	SourceIP         string          `json:"source_ip"`
	UserAgent        string          `json:"user_agent"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	ReceivedAt       time.Time       `json:"received_at"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
}

type AuditEvent struct {
	ID        int64          `json:"id"`
	WebhookID string         `json:"webhook_id"`
	OrderID   *string        `json:"order_id,omitempty"`
	InvoiceID *string        `json:"invoice_id,omitempty"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ListFilter struct {
	Status      string
	WebhookType string
	Reference   string
	Since       *time.Time
	Limit       int
	Offset      int
}

type PaymentConfig struct {
	Environment   string
	ServiceKey    string
	WebhookSecret string
}

type Store interface {
	Insert(ctx context.Context, w *Webhook) (*Webhook, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	IsDuplicate(ctx context.Context, transactionID, webhookType, idempotencyKey string) (bool, error)
	GetByID(ctx context.Context, id string) (*Webhook, error)
	List(ctx context.Context, f ListFilter) ([]*Webhook, int, error)

	InsertAudit(ctx context.Context, a *AuditEvent) error
	ListAudit(ctx context.Context, webhookID string) ([]*AuditEvent, error)

	ActivePaymentConfig(ctx context.Context, provider string) (*PaymentConfig, error)
}
