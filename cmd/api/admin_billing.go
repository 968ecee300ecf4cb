package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"linkwave/internal/params"

	"github.com/go-chi/chi/v5"
)

func (app *application) asOf(r *http.Request) (time.Time, error) {
	t, err := params.ParseTime(r.URL.Query(), "as_of", app.location)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Now().In(app.location), nil
	}
	return *t, nil
}

// arAgingHandler godoc
//
//	@Summary		Accounts receivable aging
//	@Tags			admin-billing
//	@Produce		json
//	@Param			as_of	query		string	false	"YYYY-MM-DD or RFC3339 (default: now)"
//	@Success		200		{object}	billing.AgingReport
//	@Failure		400		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/billing/ar-aging [get]
func (app *application) arAgingHandler(w http.ResponseWriter, r *http.Request) {
	asOf, err := app.asOf(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rep, err := app.tracker.ARAging(ctx, asOf)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, rep)
}

// billingMetricsHandler godoc
//
//	@Summary		Billing dashboard metrics
//	@Description	AR aging, DSO with trend, 30 day CEI and notification delivery stats.
//	@Tags			admin-billing
//	@Produce		json
//	@Param			as_of	query		string	false	"YYYY-MM-DD or RFC3339 (default: now)"
//	@Success		200		{object}	billing.Metrics
//	@Failure		400		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/admin/billing/metrics [get]
func (app *application) billingMetricsHandler(w http.ResponseWriter, r *http.Request) {
	asOf, err := app.asOf(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	m, err := app.tracker.Metrics(ctx, asOf)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, m)
}

// listDeadNotificationsHandler godoc
//
//	@Summary		Notifications that exhausted their attempts
//	@Tags			admin-notifications
//	@Produce		json
//	@Param			page	query		int	false	"Page number (default: 1)"
//	@Param			limit	query		int	false	"Items per page (default 20, max 100)"
//	@Success		200		{object}	map[string]any	"Envelope: { data: { messages, pagination } }"
//	@Security		ApiKeyAuth
//	@Router			/admin/notifications/dead [get]
func (app *application) listDeadNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	pg := params.ParsePagination(r.URL.Query())
	msgs, total, err := app.dispatcher.ListDead(ctx, pg.Limit, pg.Offset)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	pg.ComputeMeta(total)

	app.jsonResponse(w, http.StatusOK, map[string]any{
		"messages":   msgs,
		"pagination": pg,
	})
}

// requeueNotificationHandler godoc
//
//	@Summary		Requeue a dead notification
//	@Description	Resets attempts and schedules the message for immediate delivery.
//	@Tags			admin-notifications
//	@Produce		json
//	@Param			messageID	path		string	true	"Outbox message ID"
//	@Success		200			{object}	map[string]any
//	@Failure		404			{object}	error	"No dead message with that ID"
//	@Security		ApiKeyAuth
//	@Router			/admin/notifications/{messageID}/requeue [post]
func (app *application) requeueNotificationHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := chi.URLParam(r, "messageID")
	ok, err := app.dispatcher.Requeue(ctx, id)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if !ok {
		app.notFoundResponse(w, r, errors.New("no dead notification "+id))
		return
	}

	if claims := getClaimsFromContext(r); claims != nil {
		app.logger.Infow("notification requeued", "id", id, "by", claims.Subject)
	}
	app.jsonResponse(w, http.StatusOK, map[string]any{"requeued": true, "id": id})
}
