package billing

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/receivables"

	"go.uber.org/zap"
)

var ErrInvalidStatus = errors.New("invalid notification status")

var trackedStatuses = map[string]bool{
	notifylog.StatusPending:   true,
	notifylog.StatusSent:      true,
	notifylog.StatusDelivered: true,
	notifylog.StatusFailed:    true,
	notifylog.StatusBounced:   true,
	notifylog.StatusOpened:    true,
	notifylog.StatusClicked:   true,
}

const (
	TrendImproving = "improving"
	TrendWorsening = "worsening"
	TrendStable    = "stable"
)

// Tracker follows notifications after hand-off and computes receivables
// metrics.
type Tracker struct {
	log    notifylog.Store
	ar     receivables.Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewTracker(log notifylog.Store, ar receivables.Store, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{log: log, ar: ar, logger: logger, now: time.Now}
}

// UpdateStatus applies a provider delivery report. It returns false when no
// logged notification carries the provider id.
func (t *Tracker) UpdateStatus(ctx context.Context, providerMessageID, status string, at time.Time) (bool, error) {
	if !trackedStatuses[status] {
		return false, ErrInvalidStatus
	}
	if at.IsZero() {
		at = t.now()
	}
	ok, err := t.log.UpdateStatusByProviderID(ctx, providerMessageID, status, at)
	if err != nil {
		return false, err
	}
	if !ok {
		t.logger.Warnw("delivery report for unknown message", "provider_message_id", providerMessageID, "status", status)
	}
	return ok, nil
}

// MapClickatellStatus folds Clickatell message statuses into tracking
// statuses. Unknown statuses map to "".
func MapClickatellStatus(s string) string {
	switch strings.ToUpper(s) {
	case "RECEIVED_BY_RECIPIENT", "DELIVERED_TO_GATEWAY":
		return notifylog.StatusDelivered
	case "SENT_TO_SUPPLIER", "QUEUED", "RECEIVED_BY_GATEWAY":
		return notifylog.StatusSent
	case "ERROR_DELIVERING", "ROUTING_ERROR", "EXPIRED", "CANCELLED", "ERROR", "UNKNOWN_NUMBER", "OUT_OF_CREDIT":
		return notifylog.StatusFailed
	}
	return ""
}

// MapEmailEvent folds generic email provider events into tracking statuses.
func MapEmailEvent(event string) string {
	switch strings.ToLower(event) {
	case "delivered", "delivery":
		return notifylog.StatusDelivered
	case "bounce", "bounced", "dropped":
		return notifylog.StatusBounced
	case "open", "opened":
		return notifylog.StatusOpened
	case "click", "clicked":
		return notifylog.StatusClicked
	case "failed", "rejected", "deferred_final":
		return notifylog.StatusFailed
	}
	return ""
}

func (t *Tracker) History(ctx context.Context, invoiceID string) ([]*notifylog.Entry, error) {
	return t.log.ListByInvoice(ctx, invoiceID)
}

type AgingBucket struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

type AgingReport struct {
	AsOf    time.Time     `json:"as_of"`
	Total   float64       `json:"total"`
	Count   int           `json:"count"`
	Buckets []AgingBucket `json:"buckets"`
}

var agingLabels = []string{"current", "1-30", "31-60", "61-90", "90+"}

func agingIndex(daysPastDue int) int {
	switch {
	case daysPastDue <= 0:
		return 0
	case daysPastDue <= 30:
		return 1
	case daysPastDue <= 60:
		return 2
	case daysPastDue <= 90:
		return 3
	default:
		return 4
	}
}

// Age buckets open items by days past due as of asOf.
func Age(items []receivables.OpenItem, asOf time.Time) AgingReport {
	rep := AgingReport{AsOf: asOf, Buckets: make([]AgingBucket, len(agingLabels))}
	for i, l := range agingLabels {
		rep.Buckets[i].Label = l
	}
	for _, it := range items {
		b := &rep.Buckets[agingIndex(invoices.DaysBetween(it.DueDate, asOf))]
		b.Amount += it.AmountDue
		b.Count++
		rep.Total += it.AmountDue
		rep.Count++
	}
	for i := range rep.Buckets {
		rep.Buckets[i].Amount = round2(rep.Buckets[i].Amount)
	}
	rep.Total = round2(rep.Total)
	return rep
}

func (t *Tracker) ARAging(ctx context.Context, asOf time.Time) (AgingReport, error) {
	items, err := t.ar.OpenItems(ctx)
	if err != nil {
		return AgingReport{}, err
	}
	return Age(items, asOf), nil
}

type DSOReport struct {
	DSO          float64 `json:"dso"`
	TotalAR      float64 `json:"total_ar"`
	Revenue90d   float64 `json:"revenue_90d"`
	Average30d   float64 `json:"average_30d"`
	Trend        string  `json:"trend"`
	SnapshotDays int     `json:"snapshot_days"`
}

// ComputeDSO is total AR over average daily revenue of the last 90 days.
func ComputeDSO(totalAR, revenue90d float64) float64 {
	if revenue90d <= 0 {
		return 0
	}
	return round2(totalAR / (revenue90d / 90))
}

// DSOTrend compares against the recent average with a 2 day dead band.
func DSOTrend(current, average float64, samples int) string {
	switch {
	case samples == 0:
		return TrendStable
	case current < average-2:
		return TrendImproving
	case current > average+2:
		return TrendWorsening
	default:
		return TrendStable
	}
}

func (t *Tracker) DSO(ctx context.Context, asOf time.Time) (DSOReport, error) {
	aging, err := t.ARAging(ctx, asOf)
	if err != nil {
		return DSOReport{}, err
	}
	revenue, err := t.ar.Billed(ctx, asOf.AddDate(0, 0, -90), asOf)
	if err != nil {
		return DSOReport{}, err
	}
	avg, n, err := t.ar.AverageDSO(ctx, asOf.AddDate(0, 0, -30), asOf)
	if err != nil {
		return DSOReport{}, err
	}

	dso := ComputeDSO(aging.Total, revenue)
	return DSOReport{
		DSO:          dso,
		TotalAR:      aging.Total,
		Revenue90d:   round2(revenue),
		Average30d:   round2(avg),
		Trend:        DSOTrend(dso, avg, n),
		SnapshotDays: n,
	}, nil
}

// ComputeCEI is collected over billed as a percentage.
func ComputeCEI(collected, billed float64) float64 {
	if billed <= 0 {
		return 0
	}
	return round2(collected / billed * 100)
}

func (t *Tracker) CEI(ctx context.Context, from, to time.Time) (float64, error) {
	billed, err := t.ar.Billed(ctx, from, to)
	if err != nil {
		return 0, err
	}
	collected, err := t.ar.Collected(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return ComputeCEI(collected, billed), nil
}

type NotificationReport struct {
	Since        time.Time                `json:"since"`
	Channels     []notifylog.ChannelStats `json:"channels"`
	Total        int                      `json:"total"`
	Delivered    int                      `json:"delivered"`
	Failed       int                      `json:"failed"`
	DeliveryRate float64                  `json:"delivery_rate"`
}

func (t *Tracker) NotificationStats(ctx context.Context, since time.Time) (NotificationReport, error) {
	stats, err := t.log.Stats(ctx, since)
	if err != nil {
		return NotificationReport{}, err
	}
	rep := NotificationReport{Since: since, Channels: stats}
	for _, cs := range stats {
		rep.Total += cs.Total
		rep.Delivered += cs.Delivered
		rep.Failed += cs.Failed
	}
	if rep.Total > 0 {
		rep.DeliveryRate = round2(float64(rep.Delivered) / float64(rep.Total) * 100)
	}
	return rep, nil
}

type Metrics struct {
	AsOf          time.Time          `json:"as_of"`
	Aging         AgingReport        `json:"aging"`
	DSO           DSOReport          `json:"dso"`
	CEI30d        float64            `json:"cei_30d"`
	Notifications NotificationReport `json:"notifications"`
}

// Metrics bundles the admin dashboard figures.
func (t *Tracker) Metrics(ctx context.Context, asOf time.Time) (*Metrics, error) {
	dso, err := t.DSO(ctx, asOf)
	if err != nil {
		return nil, err
	}
	aging, err := t.ARAging(ctx, asOf)
	if err != nil {
		return nil, err
	}
	cei, err := t.CEI(ctx, asOf.AddDate(0, 0, -30), asOf)
	if err != nil {
		return nil, err
	}
	notif, err := t.NotificationStats(ctx, asOf.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	return &Metrics{AsOf: asOf, Aging: aging, DSO: dso, CEI30d: cei, Notifications: notif}, nil
}

// DailySnapshot stores the end-of-day AR position for trend reporting.
func (t *Tracker) DailySnapshot(ctx context.Context, date time.Time) (receivables.Snapshot, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	asOf := day.AddDate(0, 0, 1)

	items, err := t.ar.OpenItems(ctx)
	if err != nil {
		return receivables.Snapshot{}, err
	}
	aging := Age(items, day)

	revenue, err := t.ar.Billed(ctx, asOf.AddDate(0, 0, -90), asOf)
	if err != nil {
		return receivables.Snapshot{}, err
	}
	cei, err := t.CEI(ctx, asOf.AddDate(0, 0, -30), asOf)
	if err != nil {
		return receivables.Snapshot{}, err
	}

	s := receivables.Snapshot{
		Date:         day,
		TotalAR:      aging.Total,
		Current:      aging.Buckets[0].Amount,
		Days1To30:    aging.Buckets[1].Amount,
		Days31To60:   aging.Buckets[2].Amount,
		Days61To90:   aging.Buckets[3].Amount,
		Days90Plus:   aging.Buckets[4].Amount,
		InvoiceCount: aging.Count,
		DSO:          ComputeDSO(aging.Total, revenue),
		CEI:          cei,
	}
	if err := t.ar.UpsertSnapshot(ctx, s); err != nil {
		return s, err
	}
	t.logger.Infow("ar snapshot stored", "date", day.Format("2006-01-02"), "total_ar", s.TotalAR, "dso", s.DSO, "cei", s.CEI)
	return s, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
