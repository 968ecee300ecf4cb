package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"linkwave/internal/params"
	"linkwave/internal/reconcile"
	"linkwave/internal/reconcile/zoho"

	"github.com/go-chi/chi/v5"
)

// listPaymentsHandler godoc
//
//	@Summary		List payment transactions
//	@Description	Returns a paginated list of transactions. Optional filters: status, since.
//	@Tags			admin-payments
//	@Produce		json
//	@Param			status	query		string			false	"pending|completed|failed|refunded|chargeback"
//	@Param			since	query		string			false	"YYYY-MM-DD or RFC3339; created_at >= since"
//	@Param			page	query		int				false	"Page number (default: 1)"
//	@Param			limit	query		int				false	"Items per page (default 20, max 100)"
//	@Success		200		{object}	map[string]any	"Envelope: { data: { payments, pagination, status, since } }"
//	@Failure		400		{object}	error			"Bad Request"
//	@Failure		401		{object}	error			"Unauthorized"
//	@Failure		403		{object}	error			"Forbidden"
//	@Failure		500		{object}	error			"Internal Server Error"
//	@Security		ApiKeyAuth
//	@Router			/admin/payments [get]
func (app *application) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	q := r.URL.Query()
	status := strings.TrimSpace(q.Get("status"))

	since, err := params.ParseTime(q, "since", app.location)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	pg := params.ParsePagination(q)

	txs, total, err := app.store.Transactions.List(ctx, status, since, pg.Limit, pg.Offset)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	pg.ComputeMeta(total)

	app.jsonResponse(w, http.StatusOK, map[string]any{
		"payments":   txs,
		"pagination": pg,
		"status":     status,
		"since":      since,
	})
}

// syncPaymentHandler godoc
//
//	@Summary		Push one payment to Zoho Billing
//	@Description	Records the payment in Zoho. Already-synced payments are skipped unless force=true.
//	@Tags			admin-payments
//	@Produce		json
//	@Param			transactionID	path		string	true	"Transaction row ID"
//	@Param			force			query		bool	false	"Re-sync even when already mapped"
//	@Success		200				{object}	reconcile.Result
//	@Failure		404				{object}	error
//	@Failure		409				{object}	error	"Transaction not completed"
//	@Failure		422				{object}	error	"Customer or invoice not mapped to Zoho"
//	@Failure		502				{object}	error	"Zoho rejected the request"
//	@Failure		503				{object}	error	"Zoho unavailable"
//	@Security		ApiKeyAuth
//	@Router			/admin/payments/{transactionID}/sync [post]
func (app *application) syncPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")
	force := r.URL.Query().Get("force") == "true"

	res, err := app.sync.SyncPayment(r.Context(), id, reconcile.Options{ForceSync: force})
	if err != nil {
		app.syncErrorResponse(w, r, err)
		return
	}
	app.jsonResponse(w, http.StatusOK, res)
}

func (app *application) syncErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *zoho.APIError
	switch {
	case errors.Is(err, reconcile.ErrTransactionNotFound), errors.Is(err, reconcile.ErrInvoiceNotFound):
		app.notFoundResponse(w, r, err)
	case errors.Is(err, reconcile.ErrNotSyncable):
		app.conflictResponse(w, r, err)
	case errors.Is(err, reconcile.ErrNotMapped):
		app.unprocessableResponse(w, r, err)
	case errors.Is(err, zoho.ErrNotConfigured):
		app.serviceUnavailableResponse(w, r, err)
	case errors.As(err, &apiErr):
		app.logger.Errorw("zoho api error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSONError(w, r, http.StatusBadGateway, codeUpstream, fmt.Sprintf("zoho: %s", apiErr.Message))
	default:
		app.internalServerError(w, r, err)
	}
}
