package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes returned in ErrorResponse.Code
const (
	CodeInvalidBody     = "invalid_body"
	CodeUnsupportedType = "unsupported_media_type"
	CodeMissingAmount   = "missing_amount"
	CodeInvalidAmount   = "invalid_amount"
	CodeInvalidCustomer = "invalid_customer"
	CodeStoreFailed     = "store_failed"
	CodePublishFailed   = "publish_failed"
	CodeInternal        = "internal"
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an error response in JSON format
func WriteError(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code}, logger)
}
