// Package httpx provides the JSON response surface shared by all handlers.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/harborline/harborline/internal/shared"
)

// Envelope is the shape of every mutation/read response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ListEnvelope wraps paginated listings.
type ListEnvelope struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Data       any               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// JSON sends a raw JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends an enveloped success response.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// List sends an enveloped paginated response.
func List(w http.ResponseWriter, message string, data any, p shared.Pagination) {
	JSON(w, http.StatusOK, ListEnvelope{Success: true, Message: message, Data: data, Pagination: p})
}

// Fail sends an enveloped error response.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Success: false, Message: message})
}

// DecodeJSON decodes the request body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
