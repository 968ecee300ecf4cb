package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"linkwave/internal/domain/paymentsrepo"
	"linkwave/internal/infra/breaker"
	"linkwave/internal/mailer"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"

	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

type MonitorConfig struct {
	FailedThreshold  int
	SuccessRateMin   int
	StaleAfter       time.Duration
	AlertEmail       string
	AlertWebhookURL  string
	AlertDisplayName string
}

func (c *MonitorConfig) defaults() {
	if c.FailedThreshold == 0 {
		c.FailedThreshold = 5
	}
	if c.SuccessRateMin == 0 {
		c.SuccessRateMin = 95
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 4 * time.Hour
	}
	if c.AlertDisplayName == "" {
		c.AlertDisplayName = "Linkwave Payment Monitor"
	}
}

type SyncStatsSource interface {
	SyncStats(ctx context.Context, since, staleBefore, dayStart time.Time) (paymentsrepo.SyncStats, error)
}

type Check struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Value     any    `json:"value"`
	Threshold any    `json:"threshold"`
	Message   string `json:"message"`
}

type AlertsSent struct {
	Email   bool `json:"email"`
	Webhook bool `json:"webhook"`
}

type MonitorResult struct {
	Status     string     `json:"status"`
	CheckedAt  time.Time  `json:"checked_at"`
	Checks     []Check    `json:"checks"`
	AlertsSent AlertsSent `json:"alerts_sent"`
	DurationMS int64      `json:"duration_ms"`
}

type PaymentSyncMonitor struct {
	stats  SyncStatsSource
	logs   paymentsrepo.MonitorLogStore
	mail   mailer.Client
	http   *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
	cfg    MonitorConfig
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewPaymentSyncMonitor(stats SyncStatsSource, logs paymentsrepo.MonitorLogStore, mail mailer.Client, cfg MonitorConfig, logger *zap.SugaredLogger) *PaymentSyncMonitor {
	cfg.defaults()
	return &PaymentSyncMonitor{
		stats:  stats,
		logs:   logs,
		mail:   mail,
		http:   &http.Client{Timeout: 10 * time.Second},
		cb:     breaker.New("alert-webhook"),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (m *PaymentSyncMonitor) Run(ctx context.Context) (*MonitorResult, error) {
	start := m.now()
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())

	st, err := m.stats.SyncStats(ctx, start.Add(-24*time.Hour), start.Add(-m.cfg.StaleAfter), dayStart)
	if err != nil {
		return nil, fmt.Errorf("load sync stats: %w", err)
	}

	res := &MonitorResult{CheckedAt: start.UTC(), Checks: m.evaluate(st)}
	res.Status = overall(res.Checks)

	if res.Status == StatusCritical {
		res.AlertsSent = m.alert(ctx, res)
	}
	res.DurationMS = m.now().Sub(start).Milliseconds()

	err = m.logs.InsertMonitorLog(ctx, paymentsrepo.MonitorLog{
		Status:           res.Status,
		Checks:           res.Checks,
		EmailAlertSent:   res.AlertsSent.Email,
		WebhookAlertSent: res.AlertsSent.Webhook,
		Duration:         time.Duration(res.DurationMS) * time.Millisecond,
	})
	if err != nil {
		m.logger.Errorw("persist monitor log", "error", err)
	}

	m.logger.Infow("payment sync monitor", "status", res.Status, "email_alert", res.AlertsSent.Email, "webhook_alert", res.AlertsSent.Webhook)
	return res, nil
}

func (m *PaymentSyncMonitor) evaluate(st paymentsrepo.SyncStats) []Check {
	failed := Check{Name: "Failed Syncs (24h)", Value: st.FailedLast24h, Threshold: m.cfg.FailedThreshold}
	switch {
	case st.FailedLast24h > m.cfg.FailedThreshold:
		failed.Status = CheckFail
		failed.Message = fmt.Sprintf("%d failed syncs exceed threshold of %d", st.FailedLast24h, m.cfg.FailedThreshold)
	case st.FailedLast24h > 0:
		failed.Status = CheckWarn
		failed.Message = fmt.Sprintf("%d failed syncs detected", st.FailedLast24h)
	default:
		failed.Status = CheckPass
		failed.Message = "No failed syncs"
	}

	rate := 100
	if st.TotalLast24h > 0 {
		rate = int(math.Round(float64(st.SyncedLast24h) / float64(st.TotalLast24h) * 100))
	}
	success := Check{
		Name:      "Sync Success Rate (24h)",
		Status:    CheckPass,
		Value:     fmt.Sprintf("%d%%", rate),
		Threshold: fmt.Sprintf("%d%%", m.cfg.SuccessRateMin),
		Message:   fmt.Sprintf("Success rate %d%% is healthy", rate),
	}
	if rate < m.cfg.SuccessRateMin {
		success.Status = CheckFail
		success.Message = fmt.Sprintf("Success rate %d%% is below threshold of %d%%", rate, m.cfg.SuccessRateMin)
	}

	hours := int(m.cfg.StaleAfter.Hours())
	stale := Check{
		Name:      fmt.Sprintf("Stale Pending Syncs (>%dh)", hours),
		Status:    CheckPass,
		Value:     st.StalePending,
		Threshold: 0,
		Message:   "No stale pending syncs",
	}
	if st.StalePending > 0 {
		stale.Status = CheckWarn
		stale.Message = fmt.Sprintf("%d payments pending sync for more than %d hours", st.StalePending, hours)
	}

	today := Check{
		Name:      "Payments Today",
		Status:    CheckPass,
		Value:     st.CompletedToday,
		Threshold: "N/A",
		Message:   fmt.Sprintf("%d payments processed today", st.CompletedToday),
	}

	return []Check{failed, success, stale, today}
}

func overall(checks []Check) string {
	status := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			return StatusCritical
		case CheckWarn:
			status = StatusWarning
		}
	}
	return status
}

func (m *PaymentSyncMonitor) alert(ctx context.Context, res *MonitorResult) AlertsSent {
	var sent AlertsSent

	if m.cfg.AlertEmail != "" && m.mail != nil {
		checks := make([]map[string]any, 0, len(res.Checks))
		for _, c := range res.Checks {
			checks = append(checks, map[string]any{"name": c.Name, "status": c.Status, "message": c.Message})
		}
		data := map[string]any{
			"Status":    strings.ToUpper(res.Status),
			"CheckedAt": res.CheckedAt.Format(time.RFC1123),
			"Checks":    checks,
		}
		if _, err := m.mail.Send(mailer.SyncAlertTemplate, "Finance", m.cfg.AlertEmail, data); err != nil {
			m.logger.Errorw("send sync alert email", "error", err)
		} else {
			sent.Email = true
		}
	}

	if m.cfg.AlertWebhookURL != "" {
		if err := m.postWebhook(ctx, res); err != nil {
			m.logger.Errorw("send sync alert webhook", "error", err)
		} else {
			sent.Webhook = true
		}
	}
	return sent
}

type webhookField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// postWebhook sends a Slack-compatible attachment listing the failing checks.
func (m *PaymentSyncMonitor) postWebhook(ctx context.Context, res *MonitorResult) error {
	var fields []webhookField
	for _, c := range res.Checks {
		if c.Status != CheckFail {
			continue
		}
		fields = append(fields, webhookField{
			Title: c.Name,
			Value: fmt.Sprintf("%v (threshold: %v)\n%s", c.Value, c.Threshold, c.Message),
		})
	}
	body, err := json.Marshal(map[string]any{
		"username":   m.cfg.AlertDisplayName,
		"icon_emoji": ":rotating_light:",
		"attachments": []map[string]any{{
			"color":  "#dc2626",
			"title":  "Payment Sync Alert: " + strings.ToUpper(res.Status),
			"fields": fields,
			"ts":     res.CheckedAt.Unix(),
		}},
	})
	if err != nil {
		return err
	}

	_, err = m.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.AlertWebhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := m.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("alert webhook: status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
