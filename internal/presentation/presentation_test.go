package presentation

import (
	"errors"
	"strings"
	"testing"
)

func newDefaultMapper() *Mapper {
	return NewMapper(DefaultThresholds(), DefaultSpells())
}

func TestMapper_Present(t *testing.T) {
	tests := []struct {
		name       string
		label      string
		confidence int
		wantKind   Kind
		wantTheme  string
		wantEffect string
		wantText   string
	}{
		{
			name:       "expelliarmus above spell cutoff",
			label:      "Expelliarmus",
			confidence: 75,
			wantKind:   KindSpell,
			wantTheme:  ThemeRed,
			wantEffect: "expelliarmus",
			wantText:   "Expelliarmus (75%)",
		},
		{
			name:       "lumos above spell cutoff",
			label:      "Lumos",
			confidence: 61,
			wantKind:   KindSpell,
			wantTheme:  ThemeGold,
			wantEffect: "lumos",
			wantText:   "Lumos (61%)",
		},
		{
			name:       "lumos at spell cutoff is plain",
			label:      "Lumos",
			confidence: 60,
			wantKind:   KindLabel,
			wantTheme:  ThemeNeutral,
			wantText:   "Lumos (60%)",
		},
		{
			name:       "rien low confidence shows placeholder",
			label:      "Rien",
			confidence: 30,
			wantKind:   KindUncertain,
			wantText:   TextWaiting,
		},
		{
			name:       "unknown label at label cutoff",
			label:      "Rien",
			confidence: 50,
			wantKind:   KindLabel,
			wantTheme:  ThemeNeutral,
			wantText:   "Rien (50%)",
		},
		{
			name:       "unknown label between cutoffs waits",
			label:      "Rien",
			confidence: 45,
			wantKind:   KindWaiting,
			wantText:   TextWaiting,
		},
		{
			name:       "spell between cutoffs waits",
			label:      "Lumos",
			confidence: 49,
			wantKind:   KindWaiting,
			wantText:   TextWaiting,
		},
		{
			name:       "label matching is exact",
			label:      "lumos",
			confidence: 90,
			wantKind:   KindLabel,
			wantTheme:  ThemeNeutral,
			wantText:   "lumos (90%)",
		},
	}

	m := newDefaultMapper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Present(tt.label, tt.confidence)

			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Theme != tt.wantTheme {
				t.Errorf("Theme = %q, want %q", got.Theme, tt.wantTheme)
			}
			if got.Effect != tt.wantEffect {
				t.Errorf("Effect = %q, want %q", got.Effect, tt.wantEffect)
			}
			if !strings.Contains(got.Text, tt.wantText) {
				t.Errorf("Text = %q, want it to contain %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestMapper_BelowUncertainIsAlwaysUncertain(t *testing.T) {
	m := newDefaultMapper()
	labels := []string{"Lumos", "Expelliarmus", "Rien", ""}

	for _, label := range labels {
		for c := 0; c < 40; c++ {
			got := m.Present(label, c)
			if got.Kind != KindUncertain {
				t.Fatalf("Present(%q, %d).Kind = %q, want uncertain", label, c, got.Kind)
			}
			if got.Themed() || got.Theme != ThemeNone {
				t.Fatalf("Present(%q, %d) is themed: %+v", label, c, got)
			}
		}
	}
}

func TestMapper_LumosGoldOnlyAboveSpellCutoff(t *testing.T) {
	m := newDefaultMapper()

	for c := 0; c <= 100; c++ {
		got := m.Present("Lumos", c)
		gold := got.Theme == ThemeGold && got.Effect == "lumos"
		if c > 60 && !gold {
			t.Errorf("Present(Lumos, %d) = %+v, want gold", c, got)
		}
		if c <= 60 && gold {
			t.Errorf("Present(Lumos, %d) is gold, want not", c)
		}
	}
}

func TestMapper_Background(t *testing.T) {
	m := newDefaultMapper()

	got := m.Present("Lumos", 80)
	if got.Background == nil {
		t.Fatal("expected a background for a spell")
	}
	if css := got.Background.CSS(); css != "hsl(60, 90%, 20%)" {
		t.Errorf("Background = %s, want hsl(60, 90%%, 20%%)", css)
	}

	got = m.Present("Rien", 55)
	if got.Background == nil || got.Background.Hue != NeutralHue {
		t.Errorf("Background = %+v, want neutral hue", got.Background)
	}

	if got := m.Present("Rien", 20); got.Background != nil {
		t.Errorf("uncertain Background = %+v, want nil", got.Background)
	}
}

func TestMapper_CustomThresholds(t *testing.T) {
	m := NewMapper(Thresholds{Hysteresis: 5, Uncertain: 10, Label: 20, Spell: 30}, DefaultSpells())

	if got := m.Present("Lumos", 31); got.Kind != KindSpell {
		t.Errorf("Kind = %q, want spell with custom cutoff", got.Kind)
	}
	if got := m.Present("Rien", 15); got.Kind != KindWaiting {
		t.Errorf("Kind = %q, want waiting with custom cutoff", got.Kind)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds invalid: %v", err)
	}

	bad := DefaultThresholds()
	bad.Spell = 101
	if err := bad.Validate(); err == nil {
		t.Error("expected error for spell threshold above 100")
	}

	bad = DefaultThresholds()
	bad.Hysteresis = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative hysteresis")
	}
}

func TestFailure(t *testing.T) {
	got := Failure(errors.New("camera denied"))
	if got.Kind != KindFailure {
		t.Errorf("Kind = %q, want failure", got.Kind)
	}
	if !strings.Contains(got.Text, "camera denied") {
		t.Errorf("Text = %q, want the error message", got.Text)
	}
}
