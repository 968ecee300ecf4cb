package zohosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"linkwave/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func (r *Repository) GetMapping(ctx context.Context, entityType, localID string) (*Mapping, error) {
	var m Mapping
	err := r.q.QueryRow(ctx, `
		SELECT entity_type, local_id, zoho_id, last_synced_at
		FROM zoho_entity_mappings
		WHERE entity_type=$1 AND local_id=$2
	`, entityType, localID).Scan(&m.EntityType, &m.LocalID, &m.ZohoID, &m.LastSyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get zoho mapping: %w", err)
	}
	return &m, nil
}

func (r *Repository) UpsertMapping(ctx context.Context, entityType, localID, zohoID string) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO zoho_entity_mappings (entity_type, local_id, zoho_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_type, local_id)
		DO UPDATE SET zoho_id=EXCLUDED.zoho_id, last_synced_at=now()
	`, entityType, localID, zohoID)
	if err != nil {
		return fmt.Errorf("upsert zoho mapping: %w", err)
	}
	return nil
}

func (r *Repository) InsertLog(ctx context.Context, l *SyncLog) error {
	var payload []byte
	if l.RequestPayload != nil {
		if b, err := json.Marshal(l.RequestPayload); err == nil {
			payload = b
		}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO zoho_sync_logs (entity_type, entity_id, zoho_entity_id, status, attempt, error_message, request_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.EntityType, l.EntityID, l.ZohoEntityID, l.Status, l.Attempt, l.ErrorMessage, payload)
	if err != nil {
		return fmt.Errorf("insert zoho sync log: %w", err)
	}
	return nil
}

func (r *Repository) ListLogs(ctx context.Context, entityType, entityID string) ([]*SyncLog, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, entity_type, entity_id, zoho_entity_id, status, attempt, error_message, request_payload, created_at
		FROM zoho_sync_logs
		WHERE entity_type=$1 AND entity_id=$2
		ORDER BY id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list zoho sync logs: %w", err)
	}
	defer rows.Close()

	var out []*SyncLog
	for rows.Next() {
		var (
			l       SyncLog
			payload []byte
		)
		if err := rows.Scan(&l.ID, &l.EntityType, &l.EntityID, &l.ZohoEntityID, &l.Status,
			&l.Attempt, &l.ErrorMessage, &payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan zoho sync log: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &l.RequestPayload)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
