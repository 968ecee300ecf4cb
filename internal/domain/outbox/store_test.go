package outbox

import (
	"context"
	"testing"
	"time"

	"linkwave/internal/infra/dbx/dbxtest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueReportsDedupe(t *testing.T) {
	testCases := []struct {
		Name string
		Tag  string
		Want bool
	}{
		{"inserted", "INSERT 0 1", true},
		{"dedupe key taken", "INSERT 0 0", false},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			db := &dbxtest.Recorder{Tag: pgconn.NewCommandTag(tc.Tag)}
			m := &Message{Channel: ChannelEmail, Template: "invoice.tmpl", Recipient: "a@example.test", DedupeKey: "k1"}

			ok, err := NewRepository(db).Enqueue(context.Background(), m)
			require.NoError(t, err)
			assert.Equal(t, tc.Want, ok)
			assert.NotEmpty(t, m.ID)
			assert.Equal(t, DefaultMaxAttempts, m.MaxAttempts)

			call := db.Last()
			assert.Contains(t, dbxtest.Compact(call.SQL), "ON CONFLICT (dedupe_key) DO NOTHING")
			assert.JSONEq(t, `{}`, string(call.Args[5].([]byte)))
			assert.Equal(t, "k1", call.Args[6])
		})
	}
}

func TestClaimDueLeasesWithSkipLocked(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	db := &dbxtest.Recorder{}

	msgs, err := NewRepository(db).ClaimDue(context.Background(), now, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	call := db.Last()
	sql := dbxtest.Compact(call.SQL)
	assert.Contains(t, sql, "SET status='sending', attempts=o.attempts+1")
	assert.Contains(t, sql, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, sql, "(status='sending' AND next_attempt_at <= $1)")
	assert.Equal(t, []any{now, 20}, call.Args)
}

func TestDeferHandsBackAttempt(t *testing.T) {
	next := time.Date(2025, 6, 2, 10, 0, 30, 0, time.UTC)
	db := &dbxtest.Recorder{Tag: pgconn.NewCommandTag("UPDATE 1")}

	require.NoError(t, NewRepository(db).Defer(context.Background(), "m-1", "circuit breaker is open", next))

	call := db.Last()
	sql := dbxtest.Compact(call.SQL)
	assert.Contains(t, sql, "attempts=GREATEST(attempts-1, 0)")
	assert.Contains(t, sql, "status='pending'")
	assert.Contains(t, sql, "AND status='sending'")
	assert.Equal(t, []any{"m-1", "circuit breaker is open", next}, call.Args)
}

func TestRequeueOnlyDead(t *testing.T) {
	testCases := []struct {
		Name string
		Tag  string
		Want bool
	}{
		{"dead message", "UPDATE 1", true},
		{"not dead", "UPDATE 0", false},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			db := &dbxtest.Recorder{Tag: pgconn.NewCommandTag(tc.Tag)}
			ok, err := NewRepository(db).Requeue(context.Background(), "m-1")
			require.NoError(t, err)
			assert.Equal(t, tc.Want, ok)
			assert.Contains(t, dbxtest.Compact(db.Last().SQL), "WHERE id=$1::uuid AND status='dead'")
		})
	}
}
