package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"linkwave/internal/domain/webhooks"
	"linkwave/internal/params"

	"github.com/go-chi/chi/v5"
)

// netcashWebhookHandler godoc
//
//	@Summary		Netcash payment notification
//	@Description	Validates, records and applies a Netcash notification. Always answers 200 so the gateway does not retry; the body reports what happened.
//	@Tags			payments
//	@Accept			json
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			X-Netcash-Signature	header		string	false	"HMAC-SHA256 of the raw body"
//	@Success		200					{object}	billing.IntakeResult
//	@Failure		429					{object}	error
//	@Router			/payments/netcash/webhook [post]
func (app *application) netcashWebhookHandler(w http.ResponseWriter, r *http.Request) {
	res := app.intake.Handle(r.Context(), r)
	if err := writeJSON(w, http.StatusOK, res); err != nil {
		app.logger.Errorw("write webhook response", "error", err)
	}
}

// netcashWebhookHealthHandler godoc
//
//	@Summary		Webhook endpoint health
//	@Description	Checks database reachability and that a webhook secret is configured.
//	@Tags			payments
//	@Produce		json
//	@Success		200	{object}	billing.HealthReport
//	@Failure		503	{object}	billing.HealthReport
//	@Router			/payments/netcash/webhook [get]
func (app *application) netcashWebhookHealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rep := app.intake.Health(ctx)
	status := http.StatusOK
	if rep.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// listWebhooksHandler godoc
//
//	@Summary		List received webhooks
//	@Description	Paginated webhook log with optional filters.
//	@Tags			admin-webhooks
//	@Produce		json
//	@Param			status		query		string	false	"received|processing|processed|failed|duplicate|invalid"
//	@Param			type		query		string	false	"payment_success|payment_failed|refund|chargeback|payment_pending"
//	@Param			reference	query		string	false	"Payment reference"
//	@Param			since		query		string	false	"YYYY-MM-DD or RFC3339"
//	@Param			page		query		int		false	"Page number (default: 1)"
//	@Param			limit		query		int		false	"Items per page (default 20, max 100)"
//	@Success		200			{object}	map[string]any	"Envelope: { data: { webhooks, pagination } }"
//	@Failure		400			{object}	error
//	@Failure		401			{object}	error
//	@Failure		403			{object}	error
//	@Failure		500			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/webhooks [get]
func (app *application) listWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	q := r.URL.Query()
	since, err := params.ParseTime(q, "since", app.location)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	pg := params.ParsePagination(q)
	list, total, err := app.store.Webhooks.List(ctx, webhooks.ListFilter{
		Status:      strings.TrimSpace(q.Get("status")),
		WebhookType: strings.TrimSpace(q.Get("type")),
		Reference:   strings.TrimSpace(q.Get("reference")),
		Since:       since,
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	})
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	pg.ComputeMeta(total)

	app.jsonResponse(w, http.StatusOK, map[string]any{
		"webhooks":   list,
		"pagination": pg,
	})
}

// getWebhookHandler godoc
//
//	@Summary		Get one webhook
//	@Description	Returns the webhook row with its audit trail.
//	@Tags			admin-webhooks
//	@Produce		json
//	@Param			webhookID	path		string	true	"Webhook ID"
//	@Success		200			{object}	map[string]any	"Envelope: { data: { webhook, audit } }"
//	@Failure		404			{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/webhooks/{webhookID} [get]
func (app *application) getWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := chi.URLParam(r, "webhookID")
	wh, err := app.store.Webhooks.GetByID(ctx, id)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if wh == nil {
		app.notFoundResponse(w, r, errors.New("webhook not found: "+id))
		return
	}

	audit, err := app.store.Webhooks.ListAudit(ctx, id)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{
		"webhook": wh,
		"audit":   audit,
	})
}
