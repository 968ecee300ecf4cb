package billing

import (
	"context"
	"encoding/json"
	"expvar"
	"net/http"
	"strings"
	"time"

	"linkwave/internal/domain/webhooks"
	"linkwave/internal/payments"

	"go.uber.org/zap"
)

var (
	webhooksReceived  = expvar.NewInt("webhooks_received")
	webhooksDuplicate = expvar.NewInt("webhooks_duplicate")
	webhooksFailed    = expvar.NewInt("webhooks_failed")
)

type PaymentProcessor interface {
	Process(ctx context.Context, in ProcessInput) (*Outcome, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type IntakeConfig struct {
	// Used when payment_configurations has no active Netcash row.
	WebhookSecret  string
	Environment    string
	TrustedProxies payments.TrustedProxies
}

// Intake receives Netcash notifications, records every delivery attempt and
// hands valid, first-seen webhooks to the processor.
type Intake struct {
	webhooks  webhooks.Store
	processor PaymentProcessor
	db        Pinger
	cfg       IntakeConfig
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewIntake(store webhooks.Store, processor PaymentProcessor, db Pinger, cfg IntakeConfig, logger *zap.SugaredLogger) *Intake {
	return &Intake{
		webhooks:  store,
		processor: processor,
		db:        db,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

type IntakeResult struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	WebhookID string   `json:"webhook_id,omitempty"`
	Error     string   `json:"error,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Outcome   *Outcome `json:"outcome,omitempty"`
}

func (in *Intake) config(ctx context.Context) (secret, env string) {
	cfg, err := in.webhooks.ActivePaymentConfig(ctx, payments.ProviderNetcash)
	if err != nil {
		in.logger.Warnw("load payment configuration", "error", err)
	}
	if cfg != nil && cfg.WebhookSecret != "" {
		return cfg.WebhookSecret, cfg.Environment
	}
	return in.cfg.WebhookSecret, in.cfg.Environment
}

// Handle runs one webhook delivery through validation, duplicate detection
// and processing. The returned result is always safe to send back to the
// gateway.
func (in *Intake) Handle(ctx context.Context, r *http.Request) IntakeResult {
	webhooksReceived.Add(1)

	secret, env := in.config(ctx)
	if secret == "" {
		webhooksFailed.Add(1)
		in.logger.Errorw("netcash webhook secret not configured")
		return IntakeResult{Error: "Payment configuration not found"}
	}

	res := payments.ValidateRequest(r, secret, env, in.cfg.TrustedProxies)
	if !res.Valid {
		webhooksFailed.Add(1)
		in.record(ctx, &res, webhooks.StatusFailed, strings.Join(res.Errors, "; "), r.UserAgent())
		in.logger.Warnw("webhook validation failed", "ip", res.ClientIP, "errors", res.Errors)
		return IntakeResult{Error: "Webhook validation failed", Errors: res.Errors}
	}

	pl := res.Payload
	wtype := payments.DetermineWebhookType(pl)
	key := payments.IdempotencyKey(pl)
	in.logger.Infow("webhook received", "type", wtype, "payload", payments.SanitizeForLogging(*pl), "ip", res.ClientIP)

	dup, err := in.webhooks.IsDuplicate(ctx, pl.TransactionID, string(wtype), key)
	if err != nil {
		webhooksFailed.Add(1)
		in.logger.Errorw("duplicate check failed", "reference", pl.Reference, "error", err)
		return IntakeResult{Error: "Internal processing error"}
	}
	if dup {
		webhooksDuplicate.Add(1)
		w := in.record(ctx, &res, webhooks.StatusDuplicate, "", r.UserAgent())
		in.logger.Infow("duplicate webhook ignored", "reference", pl.Reference, "transaction_id", pl.TransactionID)
		return IntakeResult{Success: true, Duplicate: true, WebhookID: idOf(w), Message: "Duplicate webhook, already processed"}
	}

	w := in.record(ctx, &res, webhooks.StatusReceived, "", r.UserAgent())
	if w == nil {
		webhooksFailed.Add(1)
		return IntakeResult{Error: "Internal processing error"}
	}
	if err := in.webhooks.UpdateStatus(ctx, w.ID, webhooks.StatusProcessing, ""); err != nil {
		in.logger.Warnw("mark webhook processing", "id", w.ID, "error", err)
	}

	out, err := in.processor.Process(ctx, ProcessInput{WebhookID: w.ID, Type: wtype, Payload: pl})
	if err != nil {
		webhooksFailed.Add(1)
		if uerr := in.webhooks.UpdateStatus(ctx, w.ID, webhooks.StatusFailed, err.Error()); uerr != nil {
			in.logger.Errorw("mark webhook failed", "id", w.ID, "error", uerr)
		}
		in.logger.Errorw("webhook processing failed", "id", w.ID, "reference", pl.Reference, "error", err)
		return IntakeResult{WebhookID: w.ID, Error: err.Error()}
	}

	if err := in.webhooks.UpdateStatus(ctx, w.ID, webhooks.StatusProcessed, ""); err != nil {
		in.logger.Errorw("mark webhook processed", "id", w.ID, "error", err)
	}
	return IntakeResult{Success: true, WebhookID: w.ID, Message: "Webhook processed successfully", Outcome: out}
}

// record persists the delivery attempt. Failures are logged only: the
// gateway retries on its own and the payload is still in the request log.
func (in *Intake) record(ctx context.Context, res *payments.ValidationResult, status, errMsg, userAgent string) *webhooks.Webhook {
	w := &webhooks.Webhook{
		Status:         status,
		SignatureValid: res.Valid,
		SourceIP:       res.ClientIP,
		UserAgent:      userAgent,
		ErrorMessage:   nilIfEmpty(errMsg),
		Signature:      nilIfEmpty(res.Signature),
		WebhookType:    string(payments.WebhookNotify),
	}
	if pl := res.Payload; pl != nil {
		clean := payments.SanitizeForLogging(*pl)
		w.PaymentReference = pl.Reference
		w.WebhookType = string(payments.DetermineWebhookType(pl))
		w.TransactionID = nilIfEmpty(pl.TransactionID)
		w.IdempotencyKey = payments.IdempotencyKey(pl)
		amount := pl.AmountRands()
		w.Amount = &amount
		if id, ok := payments.ExtractOrderID(pl.Reference); ok {
			w.OrderID = &id
		}
		w.RawPayload, _ = json.Marshal(clean)
	} else {
		w.IdempotencyKey = payments.HashBody(res.RawBody)
	}

	saved, err := in.webhooks.Insert(ctx, w)
	if err != nil {
		in.logger.Errorw("record webhook", "status", status, "reference", w.PaymentReference, "error", err)
		return nil
	}
	return saved
}

func idOf(w *webhooks.Webhook) string {
	if w == nil {
		return ""
	}
	return w.ID
}

type HealthReport struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health backs GET on the webhook path.
func (in *Intake) Health(ctx context.Context) HealthReport {
	rep := HealthReport{Status: "healthy", Timestamp: in.now().UTC(), Checks: map[string]string{}}

	if err := in.db.Ping(ctx); err != nil {
		rep.Status = "unhealthy"
		rep.Checks["database"] = "unreachable: " + err.Error()
	} else {
		rep.Checks["database"] = "ok"
	}

	if secret, _ := in.config(ctx); secret == "" {
		rep.Status = "unhealthy"
		rep.Checks["webhook_secret"] = "missing"
	} else {
		rep.Checks["webhook_secret"] = "configured"
	}
	return rep
}
