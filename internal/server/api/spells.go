package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ayusman/spellcast/internal/store"
)

// SpellHandler handles HTTP requests for spell resources.
type SpellHandler struct {
	store  *store.Store
	reload Reloader
}

// NewSpellHandler creates a new SpellHandler with the given store. reload may be nil.
func NewSpellHandler(s *store.Store, reload Reloader) *SpellHandler {
	return &SpellHandler{store: s, reload: reload}
}

// ServeHTTP routes /api/spells and /api/spells/{id}.
func (h *SpellHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := itemID(r.URL.Path, "/api/spells")

	if id == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type spellRequest struct {
	Label   string  `json:"label"`
	Theme   string  `json:"theme"`
	Hue     *int    `json:"hue"`
	Effect  *string `json:"effect"`
	Enabled *bool   `json:"enabled"`
}

type spellResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Theme     string `json:"theme"`
	Hue       int    `json:"hue"`
	Effect    string `json:"effect"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type listSpellsResponse struct {
	Spells []spellResponse `json:"spells"`
}

func toSpellResponse(sp *store.Spell) spellResponse {
	return spellResponse{
		ID:        sp.ID,
		Label:     sp.Label,
		Theme:     sp.Theme,
		Hue:       sp.Hue,
		Effect:    sp.Effect,
		Enabled:   sp.Enabled,
		CreatedAt: sp.CreatedAt.Format(timeFormat),
		UpdatedAt: sp.UpdatedAt.Format(timeFormat),
	}
}

func validHue(h int) bool {
	return h >= 0 && h < 360
}

// list handles GET /api/spells.
func (h *SpellHandler) list(w http.ResponseWriter, r *http.Request) {
	spells, err := h.store.Spells().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list spells")
		return
	}

	response := listSpellsResponse{
		Spells: make([]spellResponse, 0, len(spells)),
	}
	for _, sp := range spells {
		response.Spells = append(response.Spells, toSpellResponse(sp))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/spells/{id}.
func (h *SpellHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	spell, err := h.store.Spells().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Spell not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get spell")
		return
	}

	writeJSON(w, http.StatusOK, toSpellResponse(spell))
}

// create handles POST /api/spells.
func (h *SpellHandler) create(w http.ResponseWriter, r *http.Request) {
	var req spellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "Label is required")
		return
	}

	spell := &store.Spell{
		ID:      uuid.New().String(),
		Label:   req.Label,
		Theme:   req.Theme,
		Hue:     240,
		Effect:  strings.ToLower(req.Label),
		Enabled: true,
	}
	if req.Hue != nil {
		spell.Hue = *req.Hue
	}
	if req.Effect != nil {
		spell.Effect = *req.Effect
	}
	if req.Enabled != nil {
		spell.Enabled = *req.Enabled
	}

	if !validHue(spell.Hue) {
		writeError(w, http.StatusBadRequest, "Hue must be in [0,360)")
		return
	}

	if _, err := h.store.Spells().GetByLabel(spell.Label); err == nil {
		writeError(w, http.StatusConflict, "Spell label already exists")
		return
	}

	if err := h.store.Spells().Create(spell); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create spell")
		return
	}

	if err := h.reload.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "Spell saved but not applied")
		return
	}

	writeJSON(w, http.StatusCreated, toSpellResponse(spell))
}

// update handles PUT /api/spells/{id}.
func (h *SpellHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	spell, err := h.store.Spells().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Spell not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get spell")
		return
	}

	var req spellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Label != "" {
		spell.Label = req.Label
	}
	if req.Theme != "" {
		spell.Theme = req.Theme
	}
	if req.Hue != nil {
		if !validHue(*req.Hue) {
			writeError(w, http.StatusBadRequest, "Hue must be in [0,360)")
			return
		}
		spell.Hue = *req.Hue
	}
	if req.Effect != nil {
		spell.Effect = *req.Effect
	}
	if req.Enabled != nil {
		spell.Enabled = *req.Enabled
	}

	if err := h.store.Spells().Update(spell); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update spell")
		return
	}

	if err := h.reload.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "Spell saved but not applied")
		return
	}

	writeJSON(w, http.StatusOK, toSpellResponse(spell))
}

// delete handles DELETE /api/spells/{id}.
func (h *SpellHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Spells().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Spell not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete spell")
		return
	}

	if err := h.reload.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "Spell deleted but not applied")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
