package zohosync

import (
	"context"
	"time"
)

const (
	EntityCustomer = "customer"
	EntityInvoice  = "invoice"
	EntityPayment  = "payment"

	LogPending  = "pending"
	LogRetrying = "retrying"
	LogSuccess  = "success"
	LogFailed   = "failed"
)

type Mapping struct {
	EntityType   string    `json:"entity_type"`
	LocalID      string    `json:"local_id"`
	ZohoID       string    `json:"zoho_id"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

type SyncLog struct {
	ID             int64     `json:"id"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	ZohoEntityID   *string   `json:"zoho_entity_id,omitempty"`
	Status         string    `json:"status"`
	Attempt        int       `json:"attempt"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	RequestPayload any       `json:"request_payload,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store interface {
	GetMapping(ctx context.Context, entityType, localID string) (*Mapping, error)
	UpsertMapping(ctx context.Context, entityType, localID, zohoID string) error
	InsertLog(ctx context.Context, l *SyncLog) error
	ListLogs(ctx context.Context, entityType, entityID string) ([]*SyncLog, error)
}
