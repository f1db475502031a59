package presentation

import (
	"errors"
	"sync"
)

// Renderer is the single boundary between the session and anything that
// displays its state.
type Renderer interface {
	Render(state State) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(state State) error

// Render calls f(state).
func (f RendererFunc) Render(state State) error {
	return f(state)
}

// Multi fans a render out to several renderers. Every renderer is called
// even if an earlier one fails; the errors are joined.
type Multi struct {
	mu        sync.RWMutex
	renderers []Renderer
}

// NewMulti creates a Multi over the given renderers.
func NewMulti(renderers ...Renderer) *Multi {
	return &Multi{renderers: renderers}
}

// Add appends a renderer.
func (m *Multi) Add(r Renderer) {
	if r == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderers = append(m.renderers, r)
}

// Render implements Renderer.
func (m *Multi) Render(state State) error {
	m.mu.RLock()
	renderers := m.renderers
	m.mu.RUnlock()

	var errs []error
	for _, r := range renderers {
		if err := r.Render(state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every rendered state. Used by tests and the e2e suite.
type Recorder struct {
	mu     sync.Mutex
	states []State
}

// Render implements Renderer.
func (r *Recorder) Render(state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return nil
}

// States returns a copy of the recorded states.
func (r *Recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

// Last returns the most recent state and whether there was one.
func (r *Recorder) Last() (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return State{}, false
	}
	return r.states[len(r.states)-1], true
}
