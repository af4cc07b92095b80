package util

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// =============================================================================
// HTTP Response Helpers
// =============================================================================

// SetHTMLHeaders sets standard headers for HTML responses.
// maxAge is the Cache-Control max-age value in seconds (as string).
func SetHTMLHeaders(w http.ResponseWriter, maxAge string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "max-age="+maxAge)
}

// WriteJSON encodes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write JSON response", "error", err)
	}
}

// =============================================================================
// HTTP Error Helpers
// =============================================================================

// RespondBadRequest sends a 400 Bad Request error response.
func RespondBadRequest(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusBadRequest)
}

// RespondUnauthorized sends a 401 Unauthorized error response.
func RespondUnauthorized(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusUnauthorized)
}

// RespondMethodNotAllowed sends a 405 Method Not Allowed error response.
func RespondMethodNotAllowed(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusMethodNotAllowed)
}

// RespondInternalError sends a 500 Internal Server Error response.
func RespondInternalError(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusInternalServerError)
}
