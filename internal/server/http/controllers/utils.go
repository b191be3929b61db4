package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rivermail/syncd/internal/delta"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeDeltaError maps reader errors onto HTTP statuses: client errors for
// bad cursors and filters, 404 for unknown namespaces.
func writeDeltaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, delta.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, delta.ErrAmbiguousFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, delta.ErrUnknownNamespace):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseLimit returns 0 for empty or invalid values.
func parseLimit(limitStr string) int {
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseTimeout parses a timeout given in whole seconds, clamped to max.
func parseTimeout(s string, def, max time.Duration) time.Duration {
	if s == "" {
		return def
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return def
	}
	d := time.Duration(secs) * time.Second
	if d > max {
		return max
	}
	return d
}

// parseTypes splits a comma-separated object-type list.
func parseTypes(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
