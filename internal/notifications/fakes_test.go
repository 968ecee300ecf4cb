package notifications

import (
	"context"
	"sync"
	"time"

	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/webhooks"
)

type memOutbox struct {
	mu      sync.Mutex
	msgs    map[string]*outbox.Message
	retries map[string]time.Time
}

func newMemOutbox(msgs ...*outbox.Message) *memOutbox {
	ob := &memOutbox{msgs: map[string]*outbox.Message{}, retries: map[string]time.Time{}}
	for _, m := range msgs {
		if m.Status == "" {
			m.Status = outbox.StatusPending
		}
		if m.MaxAttempts == 0 {
			m.MaxAttempts = outbox.DefaultMaxAttempts
		}
		ob.msgs[m.ID] = m
	}
	return ob
}

func (o *memOutbox) Enqueue(ctx context.Context, m *outbox.Message) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.msgs {
		if e.DedupeKey == m.DedupeKey {
			return false, nil
		}
	}
	m.Status = outbox.StatusPending
	o.msgs[m.ID] = m
	return true, nil
}

func (o *memOutbox) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*outbox.Message
	for _, m := range o.msgs {
		if len(out) == limit {
			break
		}
		if (m.Status == outbox.StatusPending || m.Status == outbox.StatusFailed) && !m.NextAttemptAt.After(now) {
			m.Status = outbox.StatusSending
			m.Attempts++
			out = append(out, m)
		}
	}
	return out, nil
}

func (o *memOutbox) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.msgs[id]
	m.Status = outbox.StatusSent
	m.ProviderMessageID = &providerMessageID
	m.SentAt = &at
	return nil
}

func (o *memOutbox) MarkRetry(ctx context.Context, id, errMsg string, next time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.msgs[id]
	m.Status = outbox.StatusFailed
	m.LastError = &errMsg
	m.NextAttemptAt = next
	o.retries[id] = next
	return nil
}

func (o *memOutbox) Defer(ctx context.Context, id, reason string, next time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.msgs[id]
	m.Status = outbox.StatusPending
	if m.Attempts > 0 {
		m.Attempts--
	}
	m.LastError = &reason
	m.NextAttemptAt = next
	return nil
}

func (o *memOutbox) MarkDead(ctx context.Context, id, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.msgs[id]
	m.Status = outbox.StatusDead
	m.LastError = &errMsg
	return nil
}

func (o *memOutbox) GetByID(ctx context.Context, id string) (*outbox.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.msgs[id], nil
}

func (o *memOutbox) ListDead(ctx context.Context, limit, offset int) ([]*outbox.Message, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*outbox.Message
	for _, m := range o.msgs {
		if m.Status == outbox.StatusDead {
			out = append(out, m)
		}
	}
	return out, len(out), nil
}

func (o *memOutbox) Requeue(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.msgs[id]
	if !ok || m.Status != outbox.StatusDead {
		return false, nil
	}
	m.Status = outbox.StatusPending
	m.Attempts = 0
	return true, nil
}

type trackingUpdate struct {
	OutboxID, Status, ProviderID, Err string
}

type memTracking struct {
	notifylog.Store
	updates []trackingUpdate
}

func (t *memTracking) UpdateByOutboxID(ctx context.Context, outboxID, status, providerMessageID, errMsg string, at time.Time) error {
	t.updates = append(t.updates, trackingUpdate{outboxID, status, providerMessageID, errMsg})
	return nil
}

type memAudit struct {
	events []*webhooks.AuditEvent
}

func (a *memAudit) InsertAudit(ctx context.Context, e *webhooks.AuditEvent) error {
	a.events = append(a.events, e)
	return nil
}

type stubChannel struct {
	id   string
	err  error
	sent []*outbox.Message
}

func (c *stubChannel) Send(ctx context.Context, m *outbox.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.sent = append(c.sent, m)
	return c.id, nil
}
