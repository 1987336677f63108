package handler

// RESPONSE HELPERS:
// Every error response from the API has the same shape:
//
//	{"error": "conflict", "message": "email already exists", "field": "email"}
//
// and every success response from the auth endpoints is an envelope:
//
//	{"message": "User logged in", "data": {...}}

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "conflict")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending field, when there is one
}

// Envelope wraps successful auth responses.
type Envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be written before the body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and machine-readable type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, apperror.ErrExhausted):
		return http.StatusServiceUnavailable, "exhausted"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// errors.Is walks the whole chain, so an AppError wrapped with
// fmt.Errorf("...: %w", err) still maps to its sentinel. Timeouts and
// outages get a generic message: their AppError text names internal
// operations. Unknown errors are a generic 500.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := errorStatus(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || status == http.StatusInternalServerError {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	resp := ErrorResponse{Error: errorType, Message: appErr.Message, Field: appErr.Field}
	switch status {
	case http.StatusGatewayTimeout:
		resp.Message = "The request timed out, please try again"
		resp.Field = ""
	case http.StatusServiceUnavailable:
		resp.Message = "Service temporarily unavailable, please try again"
		resp.Field = ""
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// AccountResponse is the public view of an account. Provider names the
// provider used for the current authentication.
type AccountResponse struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Fullname  string         `json:"fullname"`
	Email     *string        `json:"email"`
	AvatarURL string         `json:"avatarUrl"`
	IsAdmin   bool           `json:"isAdmin"`
	CreatedAt time.Time      `json:"createdAt"`
	Provider  model.Provider `json:"provider"`
}

func formatAccount(a *model.Account, provider model.Provider) AccountResponse {
	if provider == "" {
		provider = model.ProviderPassword
	}
	resp := AccountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Fullname:  a.Fullname,
		AvatarURL: a.AvatarURL,
		IsAdmin:   a.IsAdmin,
		CreatedAt: a.CreatedAt,
		Provider:  provider,
	}
	if a.Email != "" {
		email := a.Email
		resp.Email = &email
	}
	return resp
}

// SessionResponse is the data of a signup or login response.
type SessionResponse struct {
	AccessToken string `json:"accessToken"`
	AccountResponse
}
