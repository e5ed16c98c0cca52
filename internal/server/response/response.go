// Package response writes JSON bodies and client-facing errors for the HTTP API.
package response

import (
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Error codes returned to clients. Messages stay generic; the code is the only discriminator.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL"
	CodeUnavailable  = "UNAVAILABLE"
)

type errorBody struct {
	Error     apiError `json:"error"`
	RequestID string   `json:"requestId,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes data as the response body with the given status.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes {"error": {"code", "message"}, "requestId"}.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	JSON(w, status, errorBody{
		Error:     apiError{Code: code, Message: message},
		RequestID: chimiddleware.GetReqID(r.Context()),
	})
}

// Unauthorized writes the generic 401 body.
func Unauthorized(w http.ResponseWriter, r *http.Request) {
	Error(w, r, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
}

// Forbidden writes the generic 403 body.
func Forbidden(w http.ResponseWriter, r *http.Request) {
	Error(w, r, http.StatusForbidden, CodeForbidden, "forbidden")
}

// Internal writes the generic 500 body. Callers log the cause.
func Internal(w http.ResponseWriter, r *http.Request) {
	Error(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields and bodies over 1 MiB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
