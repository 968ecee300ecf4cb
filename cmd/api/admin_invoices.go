package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"linkwave/internal/billing"

	"github.com/go-chi/chi/v5"
)

type notifyInvoicePayload struct {
	Trigger      string `json:"trigger" validate:"required,oneof=invoice_created invoice_updated manual_send payment_reminder overdue_notice"`
	ForceSend    bool   `json:"force_send"`
	SkipZohoSync bool   `json:"skip_zoho_sync"`
}

// notifyInvoiceHandler godoc
//
//	@Summary		Send an invoice notification
//	@Description	Syncs the invoice to Zoho, archives the document, creates a Pay Now link and queues the email.
//	@Tags			admin-invoices
//	@Accept			json
//	@Produce		json
//	@Param			invoiceID	path		string					true	"Invoice ID"
//	@Param			payload		body		notifyInvoicePayload	true	"Trigger and options"
//	@Success		200			{object}	billing.NotifyResult
//	@Failure		400			{object}	error
//	@Failure		404			{object}	error
//	@Failure		422			{object}	error	"Customer has no email"
//	@Security		ApiKeyAuth
//	@Router			/admin/invoices/{invoiceID}/notify [post]
func (app *application) notifyInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	var p notifyInvoicePayload
	if err := readOptionalJSON(w, r, &p); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if p.Trigger == "" {
		p.Trigger = billing.TriggerManualSend
	}
	if err := Validate.Struct(p); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	res, err := app.notifier.Process(ctx, chi.URLParam(r, "invoiceID"), p.Trigger, billing.NotifyOptions{
		ForceSend:    p.ForceSend,
		SkipZohoSync: p.SkipZohoSync,
	})
	switch {
	case errors.Is(err, billing.ErrInvoiceNotFound):
		app.notFoundResponse(w, r, err)
		return
	case errors.Is(err, billing.ErrInvalidTrigger):
		app.badRequestResponse(w, r, err)
		return
	case errors.Is(err, billing.ErrNoRecipient):
		app.unprocessableResponse(w, r, err)
		return
	case err != nil:
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, res)
}

// sendSMSReminderHandler godoc
//
//	@Summary		Send an SMS reminder for one invoice
//	@Tags			admin-invoices
//	@Produce		json
//	@Param			invoiceID	path		string	true	"Invoice ID"
//	@Param			dry_run		query		bool	false	"Render without sending"
//	@Success		200			{object}	billing.SMSReminderSummary
//	@Failure		500			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/invoices/{invoiceID}/sms-reminder [post]
func (app *application) sendSMSReminderHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	sum, err := app.smsReminders.Process(ctx, billing.SMSReminderOptions{
		InvoiceIDs: []string{chi.URLParam(r, "invoiceID")},
		DryRun:     r.URL.Query().Get("dry_run") == "true",
	})
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, sum)
}

// smsReminderStatusHandler godoc
//
//	@Summary		SMS reminder state of an invoice
//	@Tags			admin-invoices
//	@Produce		json
//	@Param			invoiceID	path		string	true	"Invoice ID"
//	@Success		200			{object}	billing.SMSReminderStatus
//	@Failure		404			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/invoices/{invoiceID}/sms-reminder [get]
func (app *application) smsReminderStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	st, err := app.smsReminders.Status(ctx, chi.URLParam(r, "invoiceID"))
	if errors.Is(err, billing.ErrInvoiceNotFound) {
		app.notFoundResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, st)
}

// payNowHandler godoc
//
//	@Summary		Create a Netcash Pay Now link
//	@Tags			admin-invoices
//	@Produce		json
//	@Param			invoiceID	path		string	true	"Invoice ID"
//	@Success		200			{object}	payments.PaymentResponse
//	@Failure		404			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/invoices/{invoiceID}/paynow [post]
func (app *application) payNowHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	resp, err := app.notifier.PayNowForInvoice(ctx, chi.URLParam(r, "invoiceID"))
	if errors.Is(err, billing.ErrInvoiceNotFound) {
		app.notFoundResponse(w, r, err)
		return
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, resp)
}

// invoiceNotificationsHandler godoc
//
//	@Summary		Notification history of an invoice
//	@Tags			admin-invoices
//	@Produce		json
//	@Param			invoiceID	path		string	true	"Invoice ID"
//	@Success		200			{object}	map[string]any	"Envelope: { data: { notifications } }"
//	@Security		ApiKeyAuth
//	@Router			/admin/invoices/{invoiceID}/notifications [get]
func (app *application) invoiceNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	entries, err := app.tracker.History(ctx, chi.URLParam(r, "invoiceID"))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, map[string]any{"notifications": entries})
}
