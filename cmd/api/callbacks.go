package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"linkwave/internal/billing"
)

type smsCallbackPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Status    string `json:"status" validate:"required"`
	To        string `json:"to" validate:"omitempty,saphone"`
	Timestamp int64  `json:"timestamp"`
}

type emailCallbackPayload struct {
	MessageID string     `json:"message_id" validate:"required"`
	Event     string     `json:"event" validate:"required"`
	Email     string     `json:"email" validate:"omitempty,email"`
	Timestamp *time.Time `json:"timestamp"`
}

// smsCallbackHandler godoc
//
//	@Summary		Clickatell delivery report
//	@Tags			notifications
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		smsCallbackPayload	true	"Clickatell status callback"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	error
//	@Failure		401		{object}	error
//	@Router			/notifications/callbacks/sms [post]
func (app *application) smsCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var p smsCallbackPayload
	if err := readProviderJSON(w, r, &p); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(p); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var at time.Time
	if p.Timestamp > 0 {
		at = time.UnixMilli(p.Timestamp)
	}
	app.applyDeliveryReport(w, r, p.MessageID, billing.MapClickatellStatus(p.Status), p.Status, at)
}

// emailCallbackHandler godoc
//
//	@Summary		Email delivery event
//	@Tags			notifications
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		emailCallbackPayload	true	"Provider event"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	error
//	@Failure		401		{object}	error
//	@Router			/notifications/callbacks/email [post]
func (app *application) emailCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var p emailCallbackPayload
	if err := readProviderJSON(w, r, &p); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(p); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var at time.Time
	if p.Timestamp != nil {
		at = *p.Timestamp
	}
	app.applyDeliveryReport(w, r, p.MessageID, billing.MapEmailEvent(p.Event), p.Event, at)
}

// Unknown provider statuses are acknowledged and ignored so providers
// do not retry them.
func (app *application) applyDeliveryReport(w http.ResponseWriter, r *http.Request, messageID, status, raw string, at time.Time) {
	if status == "" {
		app.logger.Infow("ignoring provider status", "provider_message_id", messageID, "status", raw)
		app.jsonResponse(w, http.StatusOK, map[string]any{"updated": false, "ignored": strings.ToLower(raw)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	updated, err := app.tracker.UpdateStatus(ctx, messageID, status, at)
	switch {
	case errors.Is(err, billing.ErrInvalidStatus):
		app.badRequestResponse(w, r, fmt.Errorf("%w: %s", err, status))
		return
	case err != nil:
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusOK, map[string]any{"updated": updated, "status": status})
}
