package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/BTreeMap/RecruitPipe/internal/flow"
	"github.com/BTreeMap/RecruitPipe/internal/lock"
	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/store"
)

// fallbackErrorResponse is written when a response body cannot be encoded.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response: %v", err))
	}
}

// writeJSONResponse encodes response before touching headers so an encoding failure
// still yields a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		data = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, flow.ErrInvalidRecipient),
		errors.Is(err, flow.ErrOutsideBusinessHours):
		return http.StatusBadRequest
	case errors.Is(err, flow.ErrContactDNC):
		return http.StatusForbidden
	case errors.Is(err, flow.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err in the error envelope. Internal errors are logged and their
// text is not exposed.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		slog.Error("Server."+op+": request failed", "error", err)
		msg = "Internal server error"
	case http.StatusNotFound:
		msg = "Not found"
	default:
		slog.Debug("Server."+op+": request rejected", "status", status, "error", err)
	}
	writeJSONResponse(w, status, models.Error(msg))
}
