package receivables

import (
	"context"
	"time"
)

// OpenItem is the receivable part of one invoice.
type OpenItem struct {
	InvoiceID string    `json:"invoice_id"`
	DueDate   time.Time `json:"due_date"`
	AmountDue float64   `json:"amount_due"`
}

type Snapshot struct {
	Date         time.Time `json:"snapshot_date"`
	TotalAR      float64   `json:"total_ar"`
	Current      float64   `json:"current"`
	Days1To30    float64   `json:"days_1_30"`
	Days31To60   float64   `json:"days_31_60"`
	Days61To90   float64   `json:"days_61_90"`
	Days90Plus   float64   `json:"days_90_plus"`
	InvoiceCount int       `json:"invoice_count"`
	DSO          float64   `json:"dso"`
	CEI          float64   `json:"cei"`
}

type Store interface {
	OpenItems(ctx context.Context) ([]OpenItem, error)
	// Billed sums invoice totals issued in [from, to).
	Billed(ctx context.Context, from, to time.Time) (float64, error)
	// Collected sums completed payments received in [from, to).
	Collected(ctx context.Context, from, to time.Time) (float64, error)
	AverageDSO(ctx context.Context, from, to time.Time) (float64, int, error)
	UpsertSnapshot(ctx context.Context, s Snapshot) error
}
