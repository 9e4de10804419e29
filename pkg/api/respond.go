package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dandytbermillo/annotation/pkg/types"
)

// errorBody is the JSON error envelope for every failed request.
type errorBody struct {
	Error     string    `json:"error"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP statuses. Messages only,
// never stack traces.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindAuthorization:
		status = http.StatusForbidden
	case types.KindNotFound:
		status = http.StatusNotFound
	case types.KindShutdown, types.KindOverloaded:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorBody{
		Error:     err.Error(),
		Status:    status,
		Timestamp: time.Now(),
	})
}
