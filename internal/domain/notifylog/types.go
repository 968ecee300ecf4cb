package notifylog

import (
	"context"
	"time"
)

const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusBounced   = "bounced"
	StatusOpened    = "opened"
	StatusClicked   = "clicked"
)

// Entry is one row of invoice_notification_log.
type Entry struct {
	ID                string         `json:"id"`
	InvoiceID         *string        `json:"invoice_id,omitempty"`
	InvoiceNumber     *string        `json:"invoice_number,omitempty"`
	CustomerID        *string        `json:"customer_id,omitempty"`
	OutboxID          *string        `json:"outbox_id,omitempty"`
	Type              string         `json:"notification_type"`
	Template          string         `json:"notification_template"`
	Trigger           string         `json:"trigger"`
	Recipient         string         `json:"recipient"`
	MessageContent    *string        `json:"message_content,omitempty"`
	Status            string         `json:"status"`
	Provider          *string        `json:"provider,omitempty"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	AmountDue         *float64       `json:"amount_due,omitempty"`
	DaysOverdue       *int           `json:"days_overdue,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time     `json:"opened_at,omitempty"`
	ClickedAt         *time.Time     `json:"clicked_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// ChannelStats aggregates outcomes for one channel.
type ChannelStats struct {
	Channel   string         `json:"channel"`
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	Delivered int            `json:"delivered"`
	Failed    int            `json:"failed"`
}

type Store interface {
	Log(ctx context.Context, e *Entry) (*Entry, error)
	UpdateByOutboxID(ctx context.Context, outboxID, status, providerMessageID, errMsg string, at time.Time) error
	UpdateStatusByProviderID(ctx context.Context, providerMessageID, status string, at time.Time) (bool, error)
	SentRecently(ctx context.Context, invoiceID, channel, trigger string, since time.Time) (bool, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*Entry, error)
	Stats(ctx context.Context, since time.Time) ([]ChannelStats, error)
}
