package notifications

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"time"

	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/webhooks"
	"linkwave/internal/infra/breaker"

	"github.com/lib/pq"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	sentCounter   = expvar.NewInt("notifications_sent")
	failedCounter = expvar.NewInt("notifications_failed")
)

var ErrNoChannel = errors.New("no sender registered for channel")

type AuditWriter interface {
	InsertAudit(ctx context.Context, a *webhooks.AuditEvent) error
}

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Dispatcher drains notification_outbox. Delivery is at least once: a
// message whose lease expires before it is marked is sent again.
type Dispatcher struct {
	outbox   outbox.Store
	tracking notifylog.Store
	audit    AuditWriter
	channels map[string]Channel
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
	cfg      DispatcherConfig
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewDispatcher(ob outbox.Store, tracking notifylog.Store, audit AuditWriter, cfg DispatcherConfig, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	return &Dispatcher{
		outbox:   ob,
		tracking: tracking,
		audit:    audit,
		channels: map[string]Channel{},
		breakers: map[string]*gobreaker.CircuitBreaker[[]byte]{},
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *Dispatcher) Register(channel string, c Channel) {
	d.channels[channel] = c
	d.breakers[channel] = breaker.New("notify-" + channel)
}

func (d *Dispatcher) Enqueue(ctx context.Context, m *outbox.Message) (bool, error) {
	return d.outbox.Enqueue(ctx, m)
}

// Backoff returns base * 2^(attempts-1), capped at max.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Run dispatches on every NOTIFY and on each poll tick until ctx is done.
// notify may be nil, in which case only polling is used.
func (d *Dispatcher) Run(ctx context.Context, notify <-chan *pq.Notification) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			d.drain(ctx)
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		n, err := d.DispatchDue(ctx)
		if err != nil {
			d.logger.Errorw("outbox dispatch failed", "error", err)
			return
		}
		if n < d.cfg.BatchSize || ctx.Err() != nil {
			return
		}
	}
}

// DispatchDue claims one batch and delivers it, returning the batch size.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	msgs, err := d.outbox.ClaimDue(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		d.deliver(ctx, m)
	}
	return len(msgs), nil
}

func (d *Dispatcher) deliver(ctx context.Context, m *outbox.Message) {
	ch, ok := d.channels[m.Channel]
	if !ok {
		d.fail(ctx, m, fmt.Errorf("%w: %s", ErrNoChannel, m.Channel), true)
		return
	}

	out, err := d.breakers[m.Channel].Execute(func() ([]byte, error) {
		id, err := ch.Send(ctx, m)
		return []byte(id), err
	})
	if breaker.IsOpen(err) {
		d.deferOpen(ctx, m, err)
		return
	}
	if err != nil {
		d.fail(ctx, m, err, false)
		return
	}

	providerID := string(out)
	now := d.now()
	if err := d.outbox.MarkSent(ctx, m.ID, providerID, now); err != nil {
		d.logger.Errorw("mark notification sent", "id", m.ID, "error", err)
		return
	}
	sentCounter.Add(1)

	if err := d.tracking.UpdateByOutboxID(ctx, m.ID, notifylog.StatusSent, providerID, "", now); err != nil {
		d.logger.Warnw("update notification tracking", "id", m.ID, "error", err)
	}
	d.writeAudit(ctx, m, webhooks.EventEmailSent, map[string]any{
		"channel": m.Channel, "template": m.Template, "recipient": m.Recipient, "provider_message_id": providerID,
	})

	d.logger.Infow("notification sent", "id", m.ID, "channel", m.Channel, "template", m.Template, "attempt", m.Attempts)
}

func (d *Dispatcher) fail(ctx context.Context, m *outbox.Message, cause error, terminal bool) {
	now := d.now()
	msg := cause.Error()

	if terminal || m.Attempts >= m.MaxAttempts {
		failedCounter.Add(1)
		if err := d.outbox.MarkDead(ctx, m.ID, msg); err != nil {
			d.logger.Errorw("mark notification dead", "id", m.ID, "error", err)
		}
		if err := d.tracking.UpdateByOutboxID(ctx, m.ID, notifylog.StatusFailed, "", msg, now); err != nil {
			d.logger.Warnw("update notification tracking", "id", m.ID, "error", err)
		}
		d.writeAudit(ctx, m, webhooks.EventEmailFailed, map[string]any{
			"channel": m.Channel, "template": m.Template, "attempts": m.Attempts, "error": msg,
		})
		d.logger.Errorw("notification dead", "id", m.ID, "channel", m.Channel, "attempts", m.Attempts, "error", msg)
		return
	}

	next := now.Add(Backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, m.Attempts))
	if err := d.outbox.MarkRetry(ctx, m.ID, msg, next); err != nil {
		d.logger.Errorw("mark notification retry", "id", m.ID, "error", err)
	}
	if err := d.tracking.UpdateByOutboxID(ctx, m.ID, notifylog.StatusPending, "", msg, now); err != nil {
		d.logger.Warnw("update notification tracking", "id", m.ID, "error", err)
	}
	d.logger.Warnw("notification send failed, will retry",
		"id", m.ID, "channel", m.Channel, "attempt", m.Attempts, "next_attempt_at", next, "error", msg)
}

// deferOpen puts a message back when the channel's breaker refused the send.
// The provider was never called, so the attempt does not count.
func (d *Dispatcher) deferOpen(ctx context.Context, m *outbox.Message, cause error) {
	next := d.now().Add(breaker.OpenTimeout)
	if err := d.outbox.Defer(ctx, m.ID, cause.Error(), next); err != nil {
		d.logger.Errorw("defer notification", "id", m.ID, "error", err)
		return
	}
	d.logger.Warnw("channel breaker open, notification deferred",
		"id", m.ID, "channel", m.Channel, "attempts", m.Attempts-1, "next_attempt_at", next)
}

func (d *Dispatcher) writeAudit(ctx context.Context, m *outbox.Message, eventType string, data map[string]any) {
	if m.WebhookID == nil || d.audit == nil {
		return
	}
	err := d.audit.InsertAudit(ctx, &webhooks.AuditEvent{
		WebhookID: *m.WebhookID,
		InvoiceID: m.InvoiceID,
		EventType: eventType,
		EventData: data,
	})
	if err != nil {
		d.logger.Warnw("write notification audit", "id", m.ID, "error", err)
	}
}

// ListDead and Requeue back the admin endpoints.
func (d *Dispatcher) ListDead(ctx context.Context, limit, offset int) ([]*outbox.Message, int, error) {
	return d.outbox.ListDead(ctx, limit, offset)
}

func (d *Dispatcher) Requeue(ctx context.Context, id string) (bool, error) {
	return d.outbox.Requeue(ctx, id)
}
