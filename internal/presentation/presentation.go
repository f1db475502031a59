// Package presentation maps classifier predictions to what the page shows.
//
// Present is pure: the same label and confidence always yield the same State.
// Renderers receive whole States and must replace, never merge, what they
// showed before.
package presentation

import (
	"fmt"
	"strings"
)

// Kind identifies which variant of the page a State describes.
type Kind string

const (
	// KindStatus is an informational message (starting up, no result).
	KindStatus Kind = "status"
	// KindTransient is a temporary failure message; the loop keeps running.
	KindTransient Kind = "transient"
	// KindFailure is a persistent failure message; the loop never started.
	KindFailure Kind = "failure"
	// KindUncertain is shown when confidence is below the uncertain cutoff.
	KindUncertain Kind = "uncertain"
	// KindWaiting is the placeholder shown for low-confidence, unthemed labels.
	KindWaiting Kind = "waiting"
	// KindLabel shows a plain label with its confidence on the neutral theme.
	KindLabel Kind = "label"
	// KindSpell is a recognized spell with its themed effect.
	KindSpell Kind = "spell"
)

// Theme names used on the themable container.
const (
	ThemeNone    = ""
	ThemeNeutral = "neutral"
	ThemeGold    = "gold"
	ThemeRed     = "red"
)

// NeutralHue is the background hue used when no spell theme applies.
const NeutralHue = 240

// Status texts.
const (
	TextStarting         = "Starting..."
	TextWaiting          = "Waiting for a spell..."
	TextNoResult         = "⚠️ No result"
	TextDetectionError   = "⚠️ Detection error"
	TextModelUnavailable = "⚠️ Model unavailable"
)

// HSL is a background color in hue/saturation/lightness form.
type HSL struct {
	Hue        int `json:"hue"`
	Saturation int `json:"saturation"`
	Lightness  int `json:"lightness"`
}

// CSS returns the color as a CSS hsl() value.
func (c HSL) CSS() string {
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", c.Hue, c.Saturation, c.Lightness)
}

// State is the complete visible state of the presentation surface.
type State struct {
	Kind       Kind   `json:"kind"`
	Text       string `json:"text"`
	Label      string `json:"label,omitempty"`
	Confidence int    `json:"confidence"`
	Theme      string `json:"theme,omitempty"`
	// Effect names the overlay slot to activate, empty for none.
	Effect     string `json:"effect,omitempty"`
	Background *HSL   `json:"background,omitempty"`
}

// Themed reports whether the state carries a spell effect.
func (s State) Themed() bool {
	return s.Effect != ""
}

// Spell describes how a recognized label is themed.
type Spell struct {
	Label  string `json:"label"`
	Theme  string `json:"theme"`
	Hue    int    `json:"hue"`
	Effect string `json:"effect"`
}

// DefaultSpells returns the built-in spell themes.
func DefaultSpells() []Spell {
	return []Spell{
		{Label: "Lumos", Theme: ThemeGold, Hue: 60, Effect: "lumos"},
		{Label: "Expelliarmus", Theme: ThemeRed, Hue: 0, Effect: "expelliarmus"},
	}
}

// Thresholds holds the confidence cutoffs, all in percentage points.
type Thresholds struct {
	// Hysteresis is the confidence shift needed to re-render the same label.
	Hysteresis int `json:"hysteresis"`
	// Uncertain is the cutoff below which every label is uncertain.
	Uncertain int `json:"uncertain"`
	// Label is the cutoff from which an unthemed label is shown.
	Label int `json:"label"`
	// Spell is the cutoff a spell must exceed to show its effect.
	Spell int `json:"spell"`
}

// DefaultThresholds returns the 5/40/50/60 cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Hysteresis: 5,
		Uncertain:  40,
		Label:      50,
		Spell:      60,
	}
}

// Validate checks that the thresholds are usable percentages.
func (t Thresholds) Validate() error {
	for name, v := range map[string]int{
		"hysteresis": t.Hysteresis,
		"uncertain":  t.Uncertain,
		"label":      t.Label,
		"spell":      t.Spell,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s threshold %d out of range [0,100]", name, v)
		}
	}
	return nil
}

// Mapper turns (label, confidence) pairs into States.
type Mapper struct {
	thresholds Thresholds
	spells     map[string]Spell
}

// NewMapper creates a Mapper with the given thresholds and spells.
// Spell labels are matched exactly.
func NewMapper(thresholds Thresholds, spells []Spell) *Mapper {
	m := &Mapper{
		thresholds: thresholds,
		spells:     make(map[string]Spell, len(spells)),
	}
	for _, s := range spells {
		m.spells[s.Label] = s
	}
	return m
}

// Thresholds returns the mapper's cutoffs.
func (m *Mapper) Thresholds() Thresholds {
	return m.thresholds
}

// Present maps a label and a confidence percentage (0-100) to a State.
func (m *Mapper) Present(label string, confidence int) State {
	t := m.thresholds

	if confidence < t.Uncertain {
		return State{
			Kind:       KindUncertain,
			Text:       fmt.Sprintf("⚠️ Uncertain detection: %s (%d%%). %s", label, confidence, TextWaiting),
			Label:      label,
			Confidence: confidence,
		}
	}

	if spell, ok := m.spells[label]; ok && confidence > t.Spell {
		return State{
			Kind:       KindSpell,
			Text:       labelText(label, confidence),
			Label:      label,
			Confidence: confidence,
			Theme:      spell.Theme,
			Effect:     spell.Effect,
			Background: background(spell.Hue, confidence),
		}
	}

	if confidence >= t.Label {
		return State{
			Kind:       KindLabel,
			Text:       labelText(label, confidence),
			Label:      label,
			Confidence: confidence,
			Theme:      ThemeNeutral,
			Background: background(NeutralHue, confidence),
		}
	}

	return State{
		Kind:       KindWaiting,
		Text:       TextWaiting,
		Label:      label,
		Confidence: confidence,
	}
}

// Status builds a non-prediction State of the given kind.
func Status(kind Kind, text string) State {
	return State{Kind: kind, Text: text}
}

// Failure builds the persistent state shown when initialization fails.
func Failure(err error) State {
	return State{Kind: KindFailure, Text: "⚠️ Error: " + err.Error()}
}

// EffectClass returns the CSS class toggled on an effect slot.
func EffectClass(effect string) string {
	return strings.ToLower(effect) + "-active"
}

func labelText(label string, confidence int) string {
	return fmt.Sprintf("✨ %s (%d%%) ✨", label, confidence)
}

// background saturates the hue with confidence: 50% + confidence/2.
func background(hue, confidence int) *HSL {
	return &HSL{Hue: hue, Saturation: 50 + confidence/2, Lightness: 20}
}
