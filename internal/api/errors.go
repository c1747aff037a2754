package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"buildgate/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error          string             `json:"error"`
	Code           string             `json:"code"`
	Details        interface{}        `json:"details,omitempty"`
	SuggestedFixes []errors.FixAction `json:"suggestedFixes,omitempty"`
}

// WriteError writes err as JSON with the given status
func WriteError(w http.ResponseWriter, err error, status int) {
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.InternalError),
	}

	var gwErr *errors.GatewayError
	if stderrors.As(err, &gwErr) {
		resp.Error = gwErr.Message
		resp.Code = string(gwErr.Code)
		resp.Details = gwErr.Details
		resp.SuggestedFixes = gwErr.SuggestedFixes
	}

	WriteJSON(w, resp, status)
}

// WriteGatewayError writes err with the status mapped from its code
func WriteGatewayError(w http.ResponseWriter, err error) {
	WriteError(w, err, MapErrorToStatus(errors.CodeOf(err)))
}

// MapErrorToStatus maps gateway error codes to HTTP status codes
func MapErrorToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.NotFound:
		return http.StatusNotFound // 404
	case errors.InvalidRequest:
		return http.StatusBadRequest // 400
	case errors.Unauthorized:
		return http.StatusUnauthorized // 401
	case errors.QueueFull, errors.Unavailable:
		return http.StatusServiceUnavailable // 503
	case errors.GitFailure:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.InvalidRequest, message, nil), http.StatusBadRequest)
}

// InternalError writes a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.InternalError, message, nil), http.StatusInternalServerError)
}
