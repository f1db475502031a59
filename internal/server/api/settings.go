package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/spellcast/internal/presentation"
	"github.com/ayusman/spellcast/internal/store"
)

// SettingsHandler serves the presentation thresholds at /api/settings.
type SettingsHandler struct {
	store  *store.Store
	reload Reloader
}

// NewSettingsHandler creates a new SettingsHandler. reload may be nil.
func NewSettingsHandler(s *store.Store, reload Reloader) *SettingsHandler {
	return &SettingsHandler{store: s, reload: reload}
}

type settingsResponse struct {
	Thresholds presentation.Thresholds `json:"thresholds"`
}

// ServeHTTP handles GET and PUT /api/settings.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Settings().Thresholds(presentation.DefaultThresholds())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Thresholds: t})
}

// put replaces the thresholds. Omitted fields keep their stored values.
func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request) {
	current, err := h.store.Settings().Thresholds(presentation.DefaultThresholds())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}

	req := settingsResponse{Thresholds: current}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := req.Thresholds.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Settings().SetThresholds(req.Thresholds); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	if err := h.reload.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "Settings saved but not applied")
		return
	}

	writeJSON(w, http.StatusOK, req)
}
