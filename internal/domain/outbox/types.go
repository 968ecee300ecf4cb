package outbox

import (
	"context"
	"time"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"

	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDead    = "dead"

	DefaultMaxAttempts = 5
)

// Message is one outbound notification. It is written in the same
// transaction as the state change that caused it and delivered later.
type Message struct {
	ID                string         `json:"id"`
	Channel           string         `json:"channel"`
	Template          string         `json:"template"`
	Recipient         string         `json:"recipient"`
	RecipientName     string         `json:"recipient_name"`
	Payload           map[string]any `json:"payload"`
	DedupeKey         string         `json:"dedupe_key"`
	Trigger           string         `json:"trigger"`
	Status            string         `json:"status"`
	Attempts          int            `json:"attempts"`
	MaxAttempts       int            `json:"max_attempts"`
	NextAttemptAt     time.Time      `json:"next_attempt_at"`
	LastError         *string        `json:"last_error,omitempty"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	InvoiceID         *string        `json:"invoice_id,omitempty"`
	CustomerID        *string        `json:"customer_id,omitempty"`
	WebhookID         *string        `json:"webhook_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
}

type Store interface {
	// Enqueue reports false when a message with the same dedupe key exists.
	Enqueue(ctx context.Context, m *Message) (bool, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Message, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkRetry(ctx context.Context, id, errMsg string, next time.Time) error
	// Defer reschedules a claimed message and hands back the attempt the
	// claim took.
	Defer(ctx context.Context, id, reason string, next time.Time) error
	MarkDead(ctx context.Context, id, errMsg string) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListDead(ctx context.Context, limit, offset int) ([]*Message, int, error)
	Requeue(ctx context.Context, id string) (bool, error)
}
