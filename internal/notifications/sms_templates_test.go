package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectSMSTemplate(t *testing.T) {
	testCases := []struct {
		Name          string
		RemindersSent int
		DaysOverdue   int
		Want          string
	}{
		{"fresh and barely late", 0, 2, SMSFirstReminder},
		{"fresh but a week late", 0, 5, SMSSecondReminder},
		{"one sent within a week", 1, 6, SMSSecondReminder},
		{"two already sent", 2, 3, SMSFinalNotice},
		{"long overdue", 0, 10, SMSFinalNotice},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Equal(t, tc.Want, SelectSMSTemplate(tc.RemindersSent, tc.DaysOverdue))
		})
	}
}

func TestSAMobile(t *testing.T) {
	testCases := []struct {
		Phone      string
		Valid      bool
		Normalized string
	}{
		{"082 123 4567", true, "27821234567"},
		{"+27 82 123 4567", true, "27821234567"},
		{"821234567", true, "27821234567"},
		{"1821234567", false, ""},
		{"12345", false, ""},
		{"", false, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.Phone, func(t *testing.T) {
			assert.Equal(t, tc.Valid, ValidSAMobile(tc.Phone))
			if tc.Valid {
				assert.Equal(t, tc.Normalized, NormalizeSAMobile(tc.Phone))
			}
		})
	}
}

func TestRenderSMS(t *testing.T) {
	data := SMSReminderData{
		CustomerName:  "Thabo",
		InvoiceNumber: "INV-2025-0042",
		AmountDue:     499,
		DaysOverdue:   9,
		PayURL:        "https://pay.example.test/INV-2025-0042",
		SupportEmail:  "billing@example.test",
	}

	text, err := RenderSMS(SMSFinalNotice, data)
	require.NoError(t, err)
	assert.Equal(t, "FINAL NOTICE: Thabo, invoice INV-2025-0042 (R499.00) is 9 days overdue. Pay immediately: https://pay.example.test/INV-2025-0042 or email billing@example.test", text)

	text, err = RenderSMS(SMSFirstReminder, data)
	require.NoError(t, err)
	assert.Contains(t, text, "R499.00 is 9 day(s) overdue")

	_, err = RenderSMS("nope", data)
	assert.Error(t, err)
}
