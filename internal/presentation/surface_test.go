package presentation

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestSurface_RenderIsIdempotent(t *testing.T) {
	m := newDefaultMapper()
	s := NewSurface(DefaultSpells())

	state := m.Present("Expelliarmus", 75)

	s.Render(state)
	first := s.Snapshot()

	s.Render(state)
	second := s.Snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second render changed the surface:\nfirst  %+v\nsecond %+v", first, second)
	}

	if len(second.ContainerClasses) != 1 || second.ContainerClasses[0] != "theme-red" {
		t.Errorf("ContainerClasses = %v, want [theme-red]", second.ContainerClasses)
	}
	if len(second.StatusClasses) != 2 {
		t.Errorf("StatusClasses = %v, want kind + one effect class", second.StatusClasses)
	}
}

func TestSurface_RenderResetsPreviousTheme(t *testing.T) {
	m := newDefaultMapper()
	s := NewSurface(DefaultSpells())

	s.Render(m.Present("Lumos", 90))
	if !s.Snapshot().Effects["lumos"] {
		t.Fatal("lumos effect should be active")
	}

	s.Render(m.Present("Expelliarmus", 90))
	snap := s.Snapshot()
	if snap.Effects["lumos"] {
		t.Error("lumos effect should be cleared")
	}
	if !snap.Effects["expelliarmus"] {
		t.Error("expelliarmus effect should be active")
	}

	s.Render(m.Present("Rien", 30))
	snap = s.Snapshot()
	for slot, on := range snap.Effects {
		if on {
			t.Errorf("effect %s still active after placeholder", slot)
		}
	}
	if len(snap.ContainerClasses) != 0 {
		t.Errorf("ContainerClasses = %v, want none", snap.ContainerClasses)
	}
	if snap.Background != "" {
		t.Errorf("Background = %q, want none", snap.Background)
	}
}

func TestSurface_UncertainSnapshotDropsBackground(t *testing.T) {
	m := newDefaultMapper()
	s := NewSurface(DefaultSpells())

	s.Render(m.Present("Lumos", 90))
	if s.Snapshot().Background == "" {
		t.Fatal("spell should tint the background")
	}

	// The page clears its inline color when the field is missing.
	s.Render(m.Present("Rien", 20))
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if bg, ok := fields["background"]; ok {
		t.Errorf("background = %v after an uncertain state, want it omitted", bg)
	}
}

func TestSurface_SnapshotIsACopy(t *testing.T) {
	s := NewSurface(DefaultSpells())
	s.Render(newDefaultMapper().Present("Lumos", 90))

	snap := s.Snapshot()
	snap.Effects["lumos"] = false
	snap.ContainerClasses[0] = "mutated"

	again := s.Snapshot()
	if !again.Effects["lumos"] || again.ContainerClasses[0] != "theme-gold" {
		t.Errorf("snapshot mutation leaked into surface: %+v", again)
	}
}

func TestMulti_RendersAllAndJoinsErrors(t *testing.T) {
	var a, b Recorder
	failing := RendererFunc(func(State) error { return errors.New("boom") })

	m := NewMulti(&a, failing)
	m.Add(&b)
	m.Add(nil)

	err := m.Render(Status(KindStatus, TextNoResult))
	if err == nil {
		t.Fatal("expected joined error")
	}

	for name, r := range map[string]*Recorder{"a": &a, "b": &b} {
		if got := len(r.States()); got != 1 {
			t.Errorf("recorder %s got %d states, want 1", name, got)
		}
	}
}
