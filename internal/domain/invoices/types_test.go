package invoices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysOverdue(t *testing.T) {
	sast := time.FixedZone("SAST", 2*60*60)
	now := time.Date(2025, 3, 10, 8, 30, 0, 0, sast)

	testCases := []struct {
		name string
		due  time.Time
		want int
	}{
		{"due today", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 0},
		{"due yesterday", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), 1},
		{"due last month", time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC), 30},
		{"due in five days", time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), -5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inv := &Invoice{DueDate: tc.due}
			assert.Equal(t, tc.want, inv.DaysOverdue(now))
		})
	}
}

func TestOutstandingFallsBackToTotalMinusPaid(t *testing.T) {
	inv := &Invoice{TotalAmount: 799, AmountPaid: 300}
	assert.InDelta(t, 499.0, inv.Outstanding(), 0.001)

	inv.AmountDue = 120
	assert.InDelta(t, 120.0, inv.Outstanding(), 0.001)

	overpaid := &Invoice{TotalAmount: 100, AmountPaid: 150}
	assert.Zero(t, overpaid.Outstanding())
}
