package webhooks

import (
	"context"
	"testing"
	"time"

	"linkwave/internal/infra/dbx/dbxtest"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertDefaults(t *testing.T) {
	received := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	db := &dbxtest.Recorder{Row: []any{received}}

	w, err := NewRepository(db).Insert(context.Background(), &Webhook{
		PaymentReference: "LW-1001", WebhookType: "payment_success", IdempotencyKey: "abc",
	})
	require.NoError(t, err)

	_, err = uuid.Parse(w.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusReceived, w.Status)
	assert.Equal(t, received, w.ReceivedAt)

	call := db.Last()
	assert.Equal(t, "QueryRow", call.Method)
	require.Len(t, call.Args, 14)
	assert.Equal(t, w.ID, call.Args[0])
	assert.Nil(t, call.Args[8], "empty raw payload binds NULL")
}

func TestIsDuplicateMatchesTransactionOrContentKey(t *testing.T) {
	testCases := []struct {
		Name string
		Row  []any
		Want bool
	}{
		{"seen", []any{true}, true},
		{"new", []any{false}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			db := &dbxtest.Recorder{Row: tc.Row}
			dup, err := NewRepository(db).IsDuplicate(context.Background(), "", "payment_success", "key-1")
			require.NoError(t, err)
			assert.Equal(t, tc.Want, dup)

			call := db.Last()
			sql := dbxtest.Compact(call.SQL)
			assert.Contains(t, sql, "status='processed'")
			assert.Contains(t, sql, "($1 <> '' AND transaction_id=$1 AND webhook_type=$2) OR idempotency_key=$3")
			assert.Equal(t, []any{"", "payment_success", "key-1"}, call.Args)
		})
	}
}

func TestUpdateStatusKeepsErrorWhenEmpty(t *testing.T) {
	db := &dbxtest.Recorder{Tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewRepository(db)

	require.NoError(t, repo.UpdateStatus(context.Background(), "wh-1", StatusProcessed, ""))
	call := db.Last()
	assert.Contains(t, dbxtest.Compact(call.SQL), "error_message=COALESCE($3, error_message)")
	assert.Nil(t, call.Args[2])

	require.NoError(t, repo.UpdateStatus(context.Background(), "wh-1", StatusFailed, "boom"))
	assert.Equal(t, "boom", *db.Last().Args[2].(*string))
}

func TestListClampsPaging(t *testing.T) {
	testCases := []struct {
		Name       string
		Filter     ListFilter
		Limit, Off int
	}{
		{"defaults", ListFilter{}, 20, 0},
		{"too large", ListFilter{Limit: 500, Offset: -3}, 20, 0},
		{"kept", ListFilter{Limit: 50, Offset: 100}, 50, 100},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			db := &dbxtest.Recorder{}
			out, total, err := NewRepository(db).List(context.Background(), tc.Filter)
			require.NoError(t, err)
			assert.Empty(t, out)
			assert.Zero(t, total)

			args := db.Last().Args
			assert.Equal(t, tc.Limit, args[4])
			assert.Equal(t, tc.Off, args[5])
		})
	}
}

func TestInsertAuditEncodesData(t *testing.T) {
	db := &dbxtest.Recorder{Tag: pgconn.NewCommandTag("INSERT 0 1")}
	inv := "inv-1"
	err := NewRepository(db).InsertAudit(context.Background(), &AuditEvent{
		WebhookID: "", InvoiceID: &inv, EventType: EventInvoiceUpdated, EventData: map[string]any{"status": "paid"},
	})
	require.NoError(t, err)

	call := db.Last()
	assert.Nil(t, call.Args[0], "audit without a webhook binds NULL")
	assert.Equal(t, &inv, call.Args[2])
	assert.JSONEq(t, `{"status":"paid"}`, string(call.Args[4].([]byte)))
}

func TestActivePaymentConfigMissing(t *testing.T) {
	cfg, err := NewRepository(&dbxtest.Recorder{}).ActivePaymentConfig(context.Background(), "netcash")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}
