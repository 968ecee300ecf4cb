package paymentsrepo

import (
	"context"
	"time"
)

const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
	StatusChargeback = "chargeback"
	StatusPending    = "pending"

	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
	// reversed payments never reach Zoho
	SyncSkipped = "skipped"
)

// Transaction is one settled (or failed) gateway movement and carries the
// reconciliation state for the external billing system.
type Transaction struct {
	ID               string     `json:"id"`
	TransactionID    string     `json:"transaction_id"`
	Reference        string     `json:"reference"`
	Provider         string     `json:"provider"`
	OrderID          *string    `json:"order_id,omitempty"`
	InvoiceID        *string    `json:"invoice_id,omitempty"`
	CustomerID       *string    `json:"customer_id,omitempty"`
	Amount           float64    `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	ZohoPaymentID    *string    `json:"zoho_payment_id,omitempty"`
	ZohoSyncStatus   *string    `json:"zoho_sync_status,omitempty"`
	ZohoSyncError    *string    `json:"zoho_sync_error,omitempty"`
	ZohoSyncAttempts int        `json:"zoho_sync_attempts"`
	ZohoSyncedAt     *time.Time `json:"zoho_synced_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type SyncUpdate struct {
	Status        string
	ZohoPaymentID string
	Error         string
}

// SyncStats feeds the payment sync monitor.
type SyncStats struct {
	FailedLast24h  int
	TotalLast24h   int
	SyncedLast24h  int
	StalePending   int
	CompletedToday int
}

type Store interface {
	Create(ctx context.Context, t *Transaction) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)
	SetStatus(ctx context.Context, id, status string) error
	SetSyncStatus(ctx context.Context, id string, u SyncUpdate) error
	ListForSync(ctx context.Context, maxAttempts, limit int) ([]*Transaction, error)
	List(ctx context.Context, status string, since *time.Time, limit, offset int) ([]*Transaction, int, error)
	SyncStats(ctx context.Context, since, staleBefore, dayStart time.Time) (SyncStats, error)
}
