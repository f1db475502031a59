// Package api provides the HTTP handlers for spells, spell actions, settings
// and plugins.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Reloader applies stored changes to the running session. Handlers call it
// after every successful write.
type Reloader func() error

func (f Reloader) reload() error {
	if f == nil {
		return nil
	}
	return f()
}

type errorResponse struct {
	Error string `json:"error"`
}

const timeFormat = time.RFC3339

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// itemID returns the path segment after prefix, empty for the collection.
func itemID(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}
