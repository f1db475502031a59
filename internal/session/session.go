// Package session runs the prediction loop: it polls the classifier with the
// current frame, at most one call at a time, and renders a new presentation
// state only when the prediction changed enough to matter.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/spellcast/internal/classifier"
	"github.com/ayusman/spellcast/internal/presentation"
)

// Default loop timing.
const (
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultNotReadyDelay    = 500 * time.Millisecond
	DefaultErrorBackoff     = 1000 * time.Millisecond
	DefaultModelRetryDelay  = 1000 * time.Millisecond
	DefaultModelLoadTimeout = 10 * time.Second
)

// FrameSource supplies the current frame. Any error means no frame is ready.
type FrameSource interface {
	ReadFrame() (*gocv.Mat, error)
}

// Config holds the loop timing.
type Config struct {
	PollInterval     time.Duration
	NotReadyDelay    time.Duration
	ErrorBackoff     time.Duration
	ModelRetryDelay  time.Duration
	ModelLoadTimeout time.Duration
}

// DefaultConfig returns the 500ms/500ms/1s/1s/10s timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		NotReadyDelay:    DefaultNotReadyDelay,
		ErrorBackoff:     DefaultErrorBackoff,
		ModelRetryDelay:  DefaultModelRetryDelay,
		ModelLoadTimeout: DefaultModelLoadTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.NotReadyDelay <= 0 {
		c.NotReadyDelay = d.NotReadyDelay
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.ModelRetryDelay <= 0 {
		c.ModelRetryDelay = d.ModelRetryDelay
	}
	if c.ModelLoadTimeout <= 0 {
		c.ModelLoadTimeout = d.ModelLoadTimeout
	}
	return c
}

// PredictionState is the last prediction that reached the page.
type PredictionState struct {
	Label      string
	Confidence int
	Valid      bool
}

// Accepts reports whether a new prediction passes the hysteresis gate:
// the label changed, or confidence moved by more than threshold points.
func (p PredictionState) Accepts(label string, confidence, threshold int) bool {
	if !p.Valid || label != p.Label {
		return true
	}
	delta := confidence - p.Confidence
	if delta < 0 {
		delta = -delta
	}
	return delta > threshold
}

// Result says what a single poll did.
type Result string

const (
	ResultBusy         Result = "busy"
	ResultPaused       Result = "paused"
	ResultNotReady     Result = "not_ready"
	ResultNoClassifier Result = "no_classifier"
	ResultError        Result = "error"
	ResultEmpty        Result = "empty"
	ResultUnchanged    Result = "unchanged"
	ResultRendered     Result = "rendered"
)

// Outcome is the result of a poll and the delay before the next one.
type Outcome struct {
	Result     Result
	Next       time.Duration
	Prediction *classifier.Prediction
	Err        error
}

// Session owns the state of one prediction loop.
type Session struct {
	config     Config
	source     FrameSource
	classifier classifier.Classifier
	renderer   presentation.Renderer
	logger     *zap.Logger

	busy    atomic.Bool
	enabled atomic.Bool

	mu     sync.RWMutex
	mapper *presentation.Mapper
	last   PredictionState
}

// New creates a Session over an already loaded classifier. Most callers
// should use Open, which loads the model first.
func New(cfg Config, source FrameSource, c classifier.Classifier, mapper *presentation.Mapper, renderer presentation.Renderer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		config:     cfg.withDefaults(),
		source:     source,
		classifier: c,
		renderer:   renderer,
		mapper:     mapper,
		logger:     logger.Named("session"),
	}
	s.enabled.Store(true)
	return s
}

// Open loads the model within cfg.ModelLoadTimeout and returns a ready
// Session. On failure the persistent failure state is rendered and an
// *InitializationError is returned.
func Open(ctx context.Context, cfg Config, source FrameSource, loader classifier.Loader, modelURL string, mapper *presentation.Mapper, renderer presentation.Renderer, logger *zap.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	renderer.Render(presentation.Status(presentation.KindStatus, presentation.TextStarting))

	logger.Named("session").Info("loading model", zap.String("url", modelURL), zap.Duration("timeout", cfg.ModelLoadTimeout))

	c, err := classifier.LoadWithTimeout(ctx, loader, modelURL, cfg.ModelLoadTimeout)
	if err != nil {
		return nil, Fail(renderer, logger, StageModel, err)
	}

	return New(cfg, source, c, mapper, renderer, logger), nil
}

// Fail renders the persistent failure state for stage and returns the
// matching InitializationError.
func Fail(renderer presentation.Renderer, logger *zap.Logger, stage string, err error) error {
	initErr := &InitializationError{Stage: stage, Err: err}
	if logger != nil {
		logger.Error("initialization failed", zap.String("stage", stage), zap.Error(err))
	}
	renderer.Render(presentation.Failure(initErr))
	return initErr
}

// SetEnabled pauses or resumes classification. A paused session keeps
// polling at the normal cadence but never calls the classifier.
func (s *Session) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled reports whether classification is running.
func (s *Session) Enabled() bool {
	return s.enabled.Load()
}

// SetMapper swaps the presentation mapper. The next prediction always
// renders with the new mapper.
func (s *Session) SetMapper(m *presentation.Mapper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapper = m
	s.last = PredictionState{}
}

// Last returns the last prediction that was rendered.
func (s *Session) Last() PredictionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Close releases the classifier.
func (s *Session) Close() error {
	if s.classifier == nil {
		return nil
	}
	return s.classifier.Close()
}

// Run polls until ctx is cancelled. The delay before each poll is the one
// chosen by the previous poll; an in-flight classification always completes
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("prediction loop started")
	defer s.logger.Info("prediction loop stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			out := s.Poll(ctx)
			timer.Reset(out.Next)
		}
	}
}

// Poll performs one Idle -> Busy -> Idle cycle.
func (s *Session) Poll(ctx context.Context) Outcome {
	if !s.busy.CompareAndSwap(false, true) {
		return Outcome{Result: ResultBusy, Next: s.config.PollInterval}
	}
	defer s.busy.Store(false)

	if !s.Enabled() {
		return Outcome{Result: ResultPaused, Next: s.config.PollInterval}
	}

	if s.classifier == nil {
		s.status(presentation.KindTransient, presentation.TextModelUnavailable)
		return Outcome{Result: ResultNoClassifier, Next: s.config.ModelRetryDelay, Err: ErrNoClassifier}
	}

	frame, err := s.source.ReadFrame()
	if err != nil {
		s.logger.Debug("frame not ready", zap.Error(err))
		return Outcome{Result: ResultNotReady, Next: s.config.NotReadyDelay, Err: err}
	}
	defer frame.Close()

	predictions, err := s.classifier.Classify(ctx, frame)
	if err != nil {
		s.logger.Warn("classification failed", zap.Error(err))
		s.status(presentation.KindTransient, presentation.TextDetectionError)
		return Outcome{Result: ResultError, Next: s.config.ErrorBackoff, Err: err}
	}

	if len(predictions) == 0 {
		s.logger.Debug("no results returned")
		s.status(presentation.KindStatus, presentation.TextNoResult)
		return Outcome{Result: ResultEmpty, Next: s.config.PollInterval}
	}

	top := predictions[0]
	result := s.accept(top)
	return Outcome{Result: result, Next: s.config.PollInterval, Prediction: &top}
}

// accept applies the hysteresis gate and renders the prediction if it passes.
func (s *Session) accept(p classifier.Prediction) Result {
	confidence := p.Percent()

	s.mu.Lock()
	mapper := s.mapper
	if !s.last.Accepts(p.Label, confidence, mapper.Thresholds().Hysteresis) {
		s.mu.Unlock()
		return ResultUnchanged
	}
	s.last = PredictionState{Label: p.Label, Confidence: confidence, Valid: true}
	s.mu.Unlock()

	s.logger.Debug("prediction",
		zap.String("label", p.Label),
		zap.Int("confidence", confidence),
	)

	if err := s.renderer.Render(mapper.Present(p.Label, confidence)); err != nil {
		s.logger.Warn("render failed", zap.Error(err))
	}
	return ResultRendered
}

// status renders a non-prediction message. It replaces whatever prediction
// was on the page, so the next prediction must render again.
func (s *Session) status(kind presentation.Kind, text string) {
	s.mu.Lock()
	s.last = PredictionState{}
	s.mu.Unlock()

	if err := s.renderer.Render(presentation.Status(kind, text)); err != nil {
		s.logger.Warn("render failed", zap.Error(err))
	}
}
