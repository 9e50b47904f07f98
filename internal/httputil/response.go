package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"wahagate/internal/errors"
)

// WriteJSON writes v as a JSON body with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standardized error body with the status mapped from the error code
func WriteError(w http.ResponseWriter, err error, requestID string) {
	WriteJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err, requestID))
}

// SetRetryAfter sets Retry-After in whole seconds until resetAt, at least one second
func SetRetryAfter(w http.ResponseWriter, now, resetAt time.Time) {
	secs := int(resetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
