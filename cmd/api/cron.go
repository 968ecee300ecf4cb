package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"linkwave/internal/billing"
	"linkwave/internal/params"
)

// paymentSyncMonitorHandler godoc
//
//	@Summary		Run the payment sync monitor
//	@Description	Evaluates Zoho sync health over the last 24 hours, alerts when critical and stores the result.
//	@Tags			cron
//	@Produce		json
//	@Success		200	{object}	reconcile.MonitorResult
//	@Failure		401	{object}	error
//	@Failure		500	{object}	error
//	@Security		ApiKeyAuth
//	@Router			/cron/payment-sync-monitor [get]
func (app *application) paymentSyncMonitorHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	res, err := app.monitor.Run(ctx)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, res)
}

// cronSMSRemindersHandler godoc
//
//	@Summary		Send overdue SMS reminders
//	@Tags			cron
//	@Accept			json
//	@Produce		json
//	@Param			options	body		billing.SMSReminderOptions	false	"Overrides; defaults 1-30 days overdue, max 3 reminders"
//	@Success		200		{object}	billing.SMSReminderSummary
//	@Failure		400		{object}	error
//	@Failure		401		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/cron/sms-reminders [post]
func (app *application) cronSMSRemindersHandler(w http.ResponseWriter, r *http.Request) {
	var opts billing.SMSReminderOptions
	if err := readOptionalJSON(w, r, &opts); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	sum, err := app.smsReminders.Process(r.Context(), opts)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, sum)
}

// cronInvoiceRemindersHandler godoc
//
//	@Summary		Queue "due soon" invoice emails
//	@Tags			cron
//	@Accept			json
//	@Produce		json
//	@Param			options	body		billing.EmailReminderOptions	false	"Overrides; days_before_due defaults to server config"
//	@Success		200		{object}	billing.EmailReminderSummary
//	@Failure		400		{object}	error
//	@Failure		401		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/cron/invoice-reminders [post]
func (app *application) cronInvoiceRemindersHandler(w http.ResponseWriter, r *http.Request) {
	var opts billing.EmailReminderOptions
	if err := readOptionalJSON(w, r, &opts); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if opts.DaysBeforeDue <= 0 {
		opts.DaysBeforeDue = app.config.scheduler.reminderDaysOut
	}

	sum, err := app.emailReminders.Process(r.Context(), opts)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, sum)
}

// cronZohoSyncHandler godoc
//
//	@Summary		Sync pending payments to Zoho Billing
//	@Tags			cron
//	@Produce		json
//	@Param			limit	query		int	false	"Batch size (default from server config, max 200)"
//	@Success		200		{object}	reconcile.BatchResult
//	@Failure		400		{object}	error
//	@Failure		401		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/cron/zoho-sync [post]
func (app *application) cronZohoSyncHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := params.ParseInt(r.URL.Query(), "limit", app.config.scheduler.zohoSyncBatch, 1, 200)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	res, err := app.sync.SyncPending(r.Context(), limit)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, res)
}

// cronARSnapshotHandler godoc
//
//	@Summary		Store the daily AR snapshot
//	@Tags			cron
//	@Produce		json
//	@Param			date	query		string	false	"YYYY-MM-DD (default: today)"
//	@Success		200		{object}	receivables.Snapshot
//	@Failure		400		{object}	error
//	@Failure		401		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/cron/ar-snapshot [post]
func (app *application) cronARSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	date, err := params.ParseTime(r.URL.Query(), "date", app.location)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	day := time.Now().In(app.location)
	if date != nil {
		day = *date
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	snap, err := app.tracker.DailySnapshot(ctx, day)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, snap)
}

// cronMonthlyInvoicesHandler godoc
//
//	@Summary		Generate recurring invoices
//	@Description	Invoices every active service billed on the given day (default: today) once per month, then syncs and sends each invoice.
//	@Tags			cron
//	@Accept			json
//	@Produce		json
//	@Param			options	body		billing.MonthlyBillingOptions	false	"Overrides; dry_run previews without writing"
//	@Success		200		{object}	billing.MonthlyBillingSummary
//	@Failure		400		{object}	error
//	@Failure		401		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/cron/monthly-invoices [post]
func (app *application) cronMonthlyInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	var opts billing.MonthlyBillingOptions
	if err := readOptionalJSON(w, r, &opts); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	sum, err := app.monthly.Process(r.Context(), opts)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidBillingOptions) {
			app.badRequestResponse(w, r, err)
			return
		}
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, sum)
}
