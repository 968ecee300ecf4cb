package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"linkwave/internal/notifications"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var Validate *validator.Validate

func init() {
	Validate = validator.New(validator.WithRequiredStructEnabled())

	// South African mobile, local (0XXXXXXXXX) or international (27XXXXXXXXX) form.
	Validate.RegisterValidation("saphone", func(fl validator.FieldLevel) bool {
		return notifications.ValidSAMobile(fl.Field().String())
	})
}

// Machine readable codes carried in every error body.
const (
	codeBadRequest    = "bad_request"
	codeUnauthorized  = "unauthorized"
	codeForbidden     = "forbidden"
	codeNotFound      = "not_found"
	codeConflict      = "conflict"
	codeUnprocessable = "unprocessable"
	codeRateLimited   = "rate_limited"
	codeInternal      = "internal_error"
	codeUnavailable   = "service_unavailable"
	codeUpstream      = "upstream_error"
)

// apiError is the body of every non-2xx answer. request_id matches the
// X-Request-Id the request was logged under.
type apiError struct {
	Success   bool   `json:"success"`
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) error {
	return writeJSON(w, status, &apiError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// readJSON decodes a single JSON object from an admin caller, rejecting
// unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, data any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(data)
}

// readOptionalJSON is readJSON for endpoints where every field has a
// default, so an empty body is fine.
func readOptionalJSON(w http.ResponseWriter, r *http.Request, data any) error {
	if err := readJSON(w, r, data); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// readProviderJSON accepts fields we do not model; SMS and mail providers
// add to their callback bodies without notice.
func readProviderJSON(w http.ResponseWriter, r *http.Request, data any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(data)
}

func (app *application) jsonResponse(w http.ResponseWriter, status int, data any) error {
	type envelope struct {
		Data any `json:"data"`
	}
	return writeJSON(w, status, &envelope{Data: data})
}
