package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/mailer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var reminderNow = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func overdueInvoice(id string, daysOverdue, count int, phone string) *invoices.Invoice {
	return &invoices.Invoice{
		ID:               id,
		InvoiceNumber:    "INV-" + id,
		CustomerID:       "cust-" + id,
		DueDate:          time.Date(2025, 6, 10-daysOverdue, 0, 0, 0, 0, time.UTC),
		TotalAmount:      450,
		AmountDue:        450,
		Status:           invoices.StatusOverdue,
		SMSReminderCount: count,
		Customer:         &customers.Customer{ID: "cust-" + id, FirstName: "Naledi", Email: "naledi@example.test", Phone: strp(phone)},
	}
}

func newReminders(inv *fakeInvoices, sms *fakeSMS, log *fakeNotifyLog) *SMSReminders {
	r := NewSMSReminders(inv, sms, log, SMSReminderConfig{PortalURL: "https://my.linkwave.test", SupportEmail: "billing@linkwave.test"}, zap.NewNop().Sugar())
	r.now = func() time.Time { return reminderNow }
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

func TestSMSRemindersProcess(t *testing.T) {
	store := newFakeInvoices(
		overdueInvoice("a", 2, 0, "0821234567"),
		overdueInvoice("b", 5, 1, "+27 83 555 0101"),
		overdueInvoice("c", 4, 0, "12345"),
		overdueInvoice("d", 6, 3, "0821234567"),
	)
	sms := &fakeSMS{}
	log := &fakeNotifyLog{}

	sum, err := newReminders(store, sms, log).Process(context.Background(), SMSReminderOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Processed)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 2, sum.Skipped)
	assert.Zero(t, sum.Failed)

	byID := map[string]SMSReminderResult{}
	for _, r := range sum.Results {
		byID[r.InvoiceID] = r
	}
	assert.Equal(t, "first_reminder", byID["a"].Template)
	assert.Equal(t, "second_reminder", byID["b"].Template)
	assert.Equal(t, "no valid mobile number", byID["c"].Error)
	assert.Equal(t, "maximum reminders sent", byID["d"].Error)

	assert.Equal(t, 1, store.byID["a"].SMSReminderCount)
	assert.Len(t, log.entries, 2)
	for _, e := range log.entries {
		assert.Equal(t, notifylog.StatusSent, e.Status)
		assert.Contains(t, *e.MessageContent, "https://my.linkwave.test/invoices/")
	}
}

func TestSMSRemindersDryRun(t *testing.T) {
	store := newFakeInvoices(overdueInvoice("a", 2, 0, "0821234567"))
	sms := &fakeSMS{}

	sum, err := newReminders(store, sms, &fakeNotifyLog{}).Process(context.Background(), SMSReminderOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Empty(t, sms.sent)
	assert.Zero(t, store.byID["a"].SMSReminderCount)
}

func TestSMSRemindersRecordsFailure(t *testing.T) {
	store := newFakeInvoices(overdueInvoice("a", 2, 0, "0821234567"))
	log := &fakeNotifyLog{}

	sum, err := newReminders(store, &fakeSMS{err: errors.New("out of credit")}, log).Process(context.Background(), SMSReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, "out of credit", store.smsErrors["a"])
	require.Len(t, log.entries, 1)
	assert.Equal(t, notifylog.StatusFailed, log.entries[0].Status)
}

func TestSMSRemindersExplicitInvoiceStillChecked(t *testing.T) {
	paid := overdueInvoice("p", 3, 0, "0821234567")
	paid.Status = invoices.StatusPaid
	store := newFakeInvoices(paid)

	sum, err := newReminders(store, &fakeSMS{}, &fakeNotifyLog{}).Process(context.Background(), SMSReminderOptions{InvoiceIDs: []string{"p"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
}

func TestSMSReminderStatus(t *testing.T) {
	inv := overdueInvoice("a", 2, 2, "0821234567")
	inv.SMSReminderError = strp("rejected")
	r := newReminders(newFakeInvoices(inv), &fakeSMS{}, &fakeNotifyLog{})

	st, err := r.Status(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, "rejected", *st.Error)

	_, err = r.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestEmailReminders(t *testing.T) {
	due := func(id string, days int, status string, email string) *invoices.Invoice {
		return &invoices.Invoice{
			ID: id, InvoiceNumber: "INV-" + id, CustomerID: "c-" + id, Status: status,
			DueDate:     time.Date(2025, 6, 10+days, 0, 0, 0, 0, time.UTC),
			TotalAmount: 300, AmountDue: 300,
			Customer: &customers.Customer{ID: "c-" + id, FirstName: "Anele", Email: email},
		}
	}
	store := newFakeStore()
	for _, inv := range []*invoices.Invoice{
		due("a", 5, invoices.StatusUnpaid, "anele@example.test"),
		due("b", 5, invoices.StatusSent, "not-an-email"),
		due("c", 5, invoices.StatusPaid, "anele@example.test"),
		due("d", 3, invoices.StatusUnpaid, "anele@example.test"),
	} {
		store.invoices.byID[inv.ID] = inv
	}

	er := NewEmailReminders(store, store.invoices, zap.NewNop().Sugar())
	er.now = func() time.Time { return reminderNow }

	sum, err := er.Process(context.Background(), EmailReminderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", sum.DueDate)
	assert.Equal(t, 1, sum.Queued)
	assert.Equal(t, 2, sum.Skipped)

	require.Len(t, store.outbox.msgs, 1)
	assert.Equal(t, mailer.InvoiceDueReminderTemplate, store.outbox.msgs[0].Template)
	assert.Equal(t, 5, store.outbox.msgs[0].Payload["DaysUntilDue"])
	assert.Equal(t, []string{"a"}, store.invoices.reminded)

	sum, err = er.Process(context.Background(), EmailReminderOptions{})
	require.NoError(t, err)
	assert.Zero(t, sum.Queued, "reminder already sent")
}
