// Package httputil provides common HTTP utilities for service handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// ErrorResponse is the user-visible error envelope. It never carries stack
// traces or source locations.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// DataResponse wraps successful payloads.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful response in the {"data": ...} envelope.
func WriteData(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, DataResponse{Data: data})
}

// WriteServiceError maps an error onto the error envelope. Unknown errors
// are rendered as Internal without leaking their text.
func WriteServiceError(w http.ResponseWriter, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   string(errors.KindInternal),
			Message: "Internal server error",
		})
		return
	}

	kind := serviceErr.Kind
	status := serviceErr.HTTPStatus
	message := serviceErr.Message
	details := serviceErr.Details
	// Database, messaging, and policy failures surface as Internal without
	// their driver details.
	if kind == errors.KindDatabase || kind == errors.KindMessaging || kind == errors.KindPolicy {
		kind = errors.KindInternal
		message = "Internal server error"
		details = nil
	}

	WriteJSON(w, status, ErrorResponse{
		Error:   string(kind),
		Message: message,
		Details: details,
	})
}
