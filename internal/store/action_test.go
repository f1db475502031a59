package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func createSpell(t *testing.T, s *Store, id, label string, enabled bool) {
	t.Helper()
	if err := s.Spells().Create(&Spell{ID: id, Label: label, Enabled: enabled}); err != nil {
		t.Fatalf("failed to create spell %q: %v", label, err)
	}
}

func TestActionRepository_CRUD(t *testing.T) {
	s := newTestStore(t)
	createSpell(t, s, "spell-1", "Lumos", true)
	repo := s.Actions()

	action := &Action{
		ID:         "action-1",
		SpellID:    "spell-1",
		PluginName: "system-control",
		ActionName: "brightness-up",
		Enabled:    true,
	}
	if err := repo.Create(action); err != nil {
		t.Fatalf("failed to create action: %v", err)
	}

	got, err := repo.GetByID("action-1")
	if err != nil {
		t.Fatalf("failed to get action: %v", err)
	}
	if got.SpellID != "spell-1" || got.ActionName != "brightness-up" {
		t.Errorf("unexpected action: %+v", got)
	}
	if string(got.Config) != "{}" {
		t.Errorf("Config = %s, want {}", got.Config)
	}

	got.Config = json.RawMessage(`{"step":10}`)
	got.Enabled = false
	if err := repo.Update(got); err != nil {
		t.Fatalf("failed to update action: %v", err)
	}

	bound, err := repo.GetBySpellID("spell-1")
	if err != nil {
		t.Fatalf("failed to get action by spell: %v", err)
	}
	if string(bound.Config) != `{"step":10}` || bound.Enabled {
		t.Errorf("update not applied: %+v", bound)
	}

	list, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list actions: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 action, got %d", len(list))
	}

	if err := repo.Delete("action-1"); err != nil {
		t.Fatalf("failed to delete action: %v", err)
	}
	if _, err := repo.GetByID("action-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestActionRepository_GetBySpellID_None(t *testing.T) {
	s := newTestStore(t)
	createSpell(t, s, "spell-1", "Lumos", true)

	a, err := s.Actions().GetBySpellID("spell-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Errorf("expected no action, got %+v", a)
	}
}

func TestActionRepository_GetBySpellLabel(t *testing.T) {
	s := newTestStore(t)
	createSpell(t, s, "spell-1", "Lumos", true)
	createSpell(t, s, "spell-2", "Nox", false)
	repo := s.Actions()

	for _, a := range []*Action{
		{ID: "a1", SpellID: "spell-1", PluginName: "keyboard", ActionName: "press", Enabled: true},
		{ID: "a2", SpellID: "spell-2", PluginName: "keyboard", ActionName: "press", Enabled: true},
	} {
		if err := repo.Create(a); err != nil {
			t.Fatalf("failed to create action: %v", err)
		}
	}

	tests := []struct {
		label  string
		wantID string
	}{
		{"Lumos", "a1"},
		{"Nox", ""}, // spell disabled
		{"Expelliarmus", ""},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			a, err := repo.GetBySpellLabel(tt.label)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotID := ""
			if a != nil {
				gotID = a.ID
			}
			if gotID != tt.wantID {
				t.Errorf("GetBySpellLabel(%q) = %q, want %q", tt.label, gotID, tt.wantID)
			}
		})
	}
}

func TestActionRepository_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	createSpell(t, s, "spell-1", "Lumos", true)

	if err := s.Actions().Create(&Action{ID: "a1", SpellID: "spell-1", PluginName: "p", ActionName: "x", Enabled: true}); err != nil {
		t.Fatalf("failed to create action: %v", err)
	}
	if err := s.Spells().Delete("spell-1"); err != nil {
		t.Fatalf("failed to delete spell: %v", err)
	}

	if _, err := s.Actions().GetByID("a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("action should be deleted with its spell, got: %v", err)
	}
}

func TestActionRepository_UnknownSpell(t *testing.T) {
	s := newTestStore(t)

	err := s.Actions().Create(&Action{ID: "a1", SpellID: "missing", PluginName: "p", ActionName: "x"})
	if err == nil {
		t.Error("creating action for unknown spell should fail")
	}
}
