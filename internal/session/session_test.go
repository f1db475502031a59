package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"github.com/ayusman/spellcast/internal/capture"
	"github.com/ayusman/spellcast/internal/classifier"
	"github.com/ayusman/spellcast/internal/presentation"
)

// frameSource hands out a fresh frame per read, or err when set.
type frameSource struct {
	mu  sync.Mutex
	err error
}

func (f *frameSource) ReadFrame() (*gocv.Mat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	return &m, nil
}

func newTestSession(t *testing.T, c classifier.Classifier) (*Session, *presentation.Recorder) {
	t.Helper()
	rec := &presentation.Recorder{}
	mapper := presentation.NewMapper(presentation.DefaultThresholds(), presentation.DefaultSpells())
	s := New(DefaultConfig(), &frameSource{}, c, mapper, rec, zaptest.NewLogger(t))
	return s, rec
}

func TestPredictionStateAccepts(t *testing.T) {
	tests := []struct {
		name       string
		state      PredictionState
		label      string
		confidence int
		want       bool
	}{
		{"first prediction", PredictionState{}, "Lumos", 70, true},
		{"same label within threshold", PredictionState{"Lumos", 70, true}, "Lumos", 73, false},
		{"same label at threshold", PredictionState{"Lumos", 70, true}, "Lumos", 75, false},
		{"same label past threshold", PredictionState{"Lumos", 70, true}, "Lumos", 76, true},
		{"same label drop past threshold", PredictionState{"Lumos", 70, true}, "Lumos", 64, true},
		{"label change", PredictionState{"Lumos", 70, true}, "Expelliarmus", 70, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Accepts(tt.label, tt.confidence, 5); got != tt.want {
				t.Errorf("Accepts(%q, %d) = %v, want %v", tt.label, tt.confidence, got, tt.want)
			}
		})
	}
}

func TestPollRendersPrediction(t *testing.T) {
	mock := classifier.NewMockClassifier(
		classifier.Prediction{Label: "Lumos", Confidence: 0.75},
		classifier.Prediction{Label: "Rien", Confidence: 0.25},
	)
	s, rec := newTestSession(t, mock)

	out := s.Poll(context.Background())
	if out.Result != ResultRendered {
		t.Fatalf("Result = %s, want %s", out.Result, ResultRendered)
	}
	if out.Next != DefaultPollInterval {
		t.Errorf("Next = %v, want %v", out.Next, DefaultPollInterval)
	}

	st, ok := rec.Last()
	if !ok {
		t.Fatal("nothing rendered")
	}
	if st.Text != "✨ Lumos (75%) ✨" {
		t.Errorf("Text = %q", st.Text)
	}
	if st.Theme != presentation.ThemeGold {
		t.Errorf("Theme = %q, want gold", st.Theme)
	}

	last := s.Last()
	if last.Label != "Lumos" || last.Confidence != 75 {
		t.Errorf("Last() = %+v", last)
	}
}

func TestPollHysteresis(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.70})
	s, rec := newTestSession(t, mock)
	ctx := context.Background()

	steps := []struct {
		confidence float64
		label      string
		want       Result
	}{
		{0.70, "Lumos", ResultRendered},
		{0.73, "Lumos", ResultUnchanged},
		{0.75, "Lumos", ResultUnchanged},
		{0.76, "Lumos", ResultRendered},
		{0.76, "Expelliarmus", ResultRendered},
		{0.76, "Expelliarmus", ResultUnchanged},
	}

	for i, step := range steps {
		mock.SetPredictions(classifier.Prediction{Label: step.label, Confidence: step.confidence})
		if out := s.Poll(ctx); out.Result != step.want {
			t.Errorf("step %d: Result = %s, want %s", i, out.Result, step.want)
		}
	}

	if got := len(rec.States()); got != 3 {
		t.Errorf("rendered %d states, want 3", got)
	}
}

func TestPollSeries(t *testing.T) {
	// Rien 30 -> Expelliarmus 75 -> Expelliarmus 77 -> Lumos 55
	mock := classifier.NewMockClassifier()
	s, rec := newTestSession(t, mock)
	ctx := context.Background()

	series := []classifier.Prediction{
		{Label: "Rien", Confidence: 0.30},
		{Label: "Expelliarmus", Confidence: 0.75},
		{Label: "Expelliarmus", Confidence: 0.77},
		{Label: "Lumos", Confidence: 0.55},
	}
	for _, p := range series {
		mock.SetPredictions(p)
		s.Poll(ctx)
	}

	states := rec.States()
	if len(states) != 3 {
		t.Fatalf("rendered %d states, want 3", len(states))
	}
	if !strings.Contains(states[0].Text, presentation.TextWaiting) {
		t.Errorf("states[0].Text = %q, want waiting placeholder", states[0].Text)
	}
	if states[1].Theme != presentation.ThemeRed {
		t.Errorf("states[1].Theme = %q, want red", states[1].Theme)
	}
	if states[2].Kind != presentation.KindLabel || states[2].Theme != presentation.ThemeNeutral {
		t.Errorf("states[2] = %+v, want neutral label", states[2])
	}
}

func TestPollErrorContinues(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.80})
	s, rec := newTestSession(t, mock)
	ctx := context.Background()

	s.Poll(ctx)

	mock.SetError(errors.New("inference failed"))
	out := s.Poll(ctx)
	if out.Result != ResultError {
		t.Fatalf("Result = %s, want %s", out.Result, ResultError)
	}
	if out.Next != DefaultErrorBackoff {
		t.Errorf("Next = %v, want %v", out.Next, DefaultErrorBackoff)
	}
	st, _ := rec.Last()
	if st.Kind != presentation.KindTransient || st.Text != presentation.TextDetectionError {
		t.Errorf("last state = %+v, want detection error", st)
	}

	// The same prediction renders again after the error.
	mock.SetError(nil)
	if out := s.Poll(ctx); out.Result != ResultRendered {
		t.Errorf("after error: Result = %s, want %s", out.Result, ResultRendered)
	}
}

func TestPollEmptyResult(t *testing.T) {
	mock := classifier.NewMockClassifier()
	s, rec := newTestSession(t, mock)

	out := s.Poll(context.Background())
	if out.Result != ResultEmpty {
		t.Fatalf("Result = %s, want %s", out.Result, ResultEmpty)
	}
	if out.Next != DefaultPollInterval {
		t.Errorf("Next = %v, want %v", out.Next, DefaultPollInterval)
	}
	st, _ := rec.Last()
	if st.Text != presentation.TextNoResult {
		t.Errorf("Text = %q, want %q", st.Text, presentation.TextNoResult)
	}
}

func TestPollFrameNotReady(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.80})
	rec := &presentation.Recorder{}
	mapper := presentation.NewMapper(presentation.DefaultThresholds(), nil)
	source := &frameSource{err: capture.ErrFrameNotReady}
	s := New(DefaultConfig(), source, mock, mapper, rec, zaptest.NewLogger(t))

	out := s.Poll(context.Background())
	if out.Result != ResultNotReady {
		t.Fatalf("Result = %s, want %s", out.Result, ResultNotReady)
	}
	if out.Next != DefaultNotReadyDelay {
		t.Errorf("Next = %v, want %v", out.Next, DefaultNotReadyDelay)
	}
	if mock.Calls() != 0 {
		t.Errorf("classifier called %d times, want 0", mock.Calls())
	}
	if len(rec.States()) != 0 {
		t.Errorf("rendered %d states, want 0", len(rec.States()))
	}
}

func TestPollNoClassifier(t *testing.T) {
	s, rec := newTestSession(t, nil)

	out := s.Poll(context.Background())
	if out.Result != ResultNoClassifier {
		t.Fatalf("Result = %s, want %s", out.Result, ResultNoClassifier)
	}
	if out.Next != DefaultModelRetryDelay {
		t.Errorf("Next = %v, want %v", out.Next, DefaultModelRetryDelay)
	}
	if !errors.Is(out.Err, ErrNoClassifier) {
		t.Errorf("Err = %v, want ErrNoClassifier", out.Err)
	}
	st, _ := rec.Last()
	if st.Text != presentation.TextModelUnavailable {
		t.Errorf("Text = %q", st.Text)
	}
}

func TestPollPaused(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.80})
	s, _ := newTestSession(t, mock)

	s.SetEnabled(false)
	if out := s.Poll(context.Background()); out.Result != ResultPaused {
		t.Fatalf("Result = %s, want %s", out.Result, ResultPaused)
	}
	if mock.Calls() != 0 {
		t.Errorf("classifier called while paused")
	}

	s.SetEnabled(true)
	if out := s.Poll(context.Background()); out.Result != ResultRendered {
		t.Errorf("Result = %s, want %s", out.Result, ResultRendered)
	}
}

func TestPollBusy(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.80})
	mock.Block = make(chan struct{})
	mock.Started = make(chan struct{}, 1)
	s, _ := newTestSession(t, mock)
	ctx := context.Background()

	done := make(chan Outcome, 1)
	go func() { done <- s.Poll(ctx) }()
	<-mock.Started

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if out := s.Poll(ctx); out.Result != ResultBusy {
				t.Errorf("concurrent Poll Result = %s, want %s", out.Result, ResultBusy)
			}
		}()
	}
	wg.Wait()

	close(mock.Block)
	if out := <-done; out.Result != ResultRendered {
		t.Errorf("first Poll Result = %s, want %s", out.Result, ResultRendered)
	}
	if mock.Calls() != 1 {
		t.Errorf("Calls = %d, want 1", mock.Calls())
	}
	if mock.MaxInFlight() != 1 {
		t.Errorf("MaxInFlight = %d, want 1", mock.MaxInFlight())
	}
}

func TestSetMapperForcesRender(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.55})
	s, rec := newTestSession(t, mock)
	ctx := context.Background()

	s.Poll(ctx)
	first, _ := rec.Last()
	if first.Kind != presentation.KindLabel {
		t.Fatalf("Kind = %s, want label", first.Kind)
	}

	th := presentation.DefaultThresholds()
	th.Spell = 50
	s.SetMapper(presentation.NewMapper(th, presentation.DefaultSpells()))

	if out := s.Poll(ctx); out.Result != ResultRendered {
		t.Fatalf("Result = %s, want %s", out.Result, ResultRendered)
	}
	second, _ := rec.Last()
	if second.Kind != presentation.KindSpell {
		t.Errorf("Kind = %s, want spell", second.Kind)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.80})
	rec := &presentation.Recorder{}
	mapper := presentation.NewMapper(presentation.DefaultThresholds(), presentation.DefaultSpells())
	cfg := Config{PollInterval: 5 * time.Millisecond}
	s := New(cfg, &frameSource{}, mock, mapper, rec, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for mock.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	if mock.Calls() < 3 {
		t.Errorf("Calls = %d, want at least 3", mock.Calls())
	}
	// Only the first prediction passes hysteresis.
	if got := len(rec.States()); got != 1 {
		t.Errorf("rendered %d states, want 1", got)
	}
}

func TestOpenModelTimeout(t *testing.T) {
	rec := &presentation.Recorder{}
	mapper := presentation.NewMapper(presentation.DefaultThresholds(), nil)
	source := &countingSource{}

	hang := classifier.LoaderFunc(func(ctx context.Context, url string) (classifier.Classifier, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := Config{ModelLoadTimeout: 20 * time.Millisecond}
	s, err := Open(context.Background(), cfg, source, hang, "http://model/", mapper, rec, zaptest.NewLogger(t))
	if err == nil {
		s.Close()
		t.Fatal("Open() expected error")
	}

	var initErr *InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("error = %T, want *InitializationError", err)
	}
	if initErr.Stage != StageModel {
		t.Errorf("Stage = %q, want %q", initErr.Stage, StageModel)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}

	st, _ := rec.Last()
	if st.Kind != presentation.KindFailure || !strings.HasPrefix(st.Text, "⚠️ Error: ") {
		t.Errorf("last state = %+v, want failure", st)
	}
	if source.reads != 0 {
		t.Errorf("frame source read %d times, want 0", source.reads)
	}
}

func TestOpenSuccess(t *testing.T) {
	mock := classifier.NewMockClassifier(classifier.Prediction{Label: "Lumos", Confidence: 0.80})
	rec := &presentation.Recorder{}
	mapper := presentation.NewMapper(presentation.DefaultThresholds(), nil)

	s, err := Open(context.Background(), Config{}, &frameSource{}, classifier.StaticLoader(mock), "http://model/", mapper, rec, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	st, _ := rec.Last()
	if st.Text != presentation.TextStarting {
		t.Errorf("Text = %q, want %q", st.Text, presentation.TextStarting)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !mock.Closed() {
		t.Error("classifier not closed")
	}
}

type countingSource struct{ reads int }

func (c *countingSource) ReadFrame() (*gocv.Mat, error) {
	c.reads++
	return nil, capture.ErrFrameNotReady
}
