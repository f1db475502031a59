package presentation

import (
	"sort"
	"sync"
)

// Element ids on the page. The page owns the elements; the surface only
// describes what text, classes and style they should carry.
const (
	ElementStatus    = "prediction"
	ElementContainer = "container"
)

// Snapshot is the observable state of the page elements.
type Snapshot struct {
	StatusText       string          `json:"status_text"`
	StatusClasses    []string        `json:"status_classes"`
	ContainerClasses []string        `json:"container_classes"`
	Effects          map[string]bool `json:"effects"`
	Background       string          `json:"background,omitempty"`
	State            State           `json:"state"`
}

// Surface models the named page elements: a status text element, a
// themable container and one effect slot per known spell. Render resets
// every element before applying the new state.
type Surface struct {
	mu       sync.RWMutex
	slots    []string
	snapshot Snapshot
}

// NewSurface creates a Surface with an effect slot for each spell.
func NewSurface(spells []Spell) *Surface {
	s := &Surface{}
	s.SetSpells(spells)
	return s
}

// SetSpells replaces the effect slots.
func (s *Surface) SetSpells(spells []Spell) {
	slots := make([]string, 0, len(spells))
	for _, sp := range spells {
		if sp.Effect != "" {
			slots = append(slots, sp.Effect)
		}
	}
	sort.Strings(slots)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = slots
	s.snapshot = s.apply(s.snapshot.State)
}

// Render implements Renderer.
func (s *Surface) Render(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = s.apply(state)
	return nil
}

// Snapshot returns a copy of the current element state.
func (s *Surface) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snapshot
	out.StatusClasses = append([]string(nil), s.snapshot.StatusClasses...)
	out.ContainerClasses = append([]string(nil), s.snapshot.ContainerClasses...)
	out.Effects = make(map[string]bool, len(s.snapshot.Effects))
	for k, v := range s.snapshot.Effects {
		out.Effects[k] = v
	}
	return out
}

// apply builds the element state for st from scratch.
func (s *Surface) apply(st State) Snapshot {
	snap := Snapshot{
		StatusText:       st.Text,
		StatusClasses:    []string{string(st.Kind)},
		ContainerClasses: []string{},
		Effects:          make(map[string]bool, len(s.slots)),
		State:            st,
	}
	if st.Kind == "" {
		snap.StatusClasses = []string{}
	}

	for _, slot := range s.slots {
		snap.Effects[slot] = false
	}

	if st.Theme != ThemeNone {
		snap.ContainerClasses = append(snap.ContainerClasses, "theme-"+st.Theme)
	}
	if st.Effect != "" {
		snap.StatusClasses = append(snap.StatusClasses, EffectClass(st.Effect))
		snap.Effects[st.Effect] = true
	}
	if st.Background != nil {
		snap.Background = st.Background.CSS()
	}

	return snap
}
