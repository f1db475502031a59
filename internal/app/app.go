// Package app wires the camera, the classifier, the prediction session and
// the presentation surfaces into the running application.
package app

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ayusman/spellcast/internal/capture"
	"github.com/ayusman/spellcast/internal/classifier"
	"github.com/ayusman/spellcast/internal/plugin"
	"github.com/ayusman/spellcast/internal/presentation"
	"github.com/ayusman/spellcast/internal/session"
	"github.com/ayusman/spellcast/internal/store"
)

// ErrAlreadyStarted is returned by Start on a running App.
var ErrAlreadyStarted = errors.New("app already started")

// SpellAware is implemented by renderers that keep per-spell state, such as
// effect slots, and need the spell list when it changes.
type SpellAware interface {
	SetSpells(spells []presentation.Spell)
}

// Config holds configuration options for the application.
type Config struct {
	Store     *store.Store
	Camera    capture.Camera
	CameraFPS int
	Loader    classifier.Loader
	ModelURL  string
	Session   session.Config
	Plugins   *plugin.Manager
	Executor  *plugin.Executor
	Logger    *zap.Logger
}

// App is the main application that runs the prediction loop and renders
// its states.
type App struct {
	config   Config
	logger   *zap.Logger
	renderer *presentation.Multi
	actions  *ActionTrigger

	mu      sync.RWMutex
	spells  []SpellAware
	session *session.Session
	enabled  bool
	starting bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		config:   config,
		logger:   logger.Named("app"),
		renderer: presentation.NewMulti(),
		enabled:  true,
	}

	if config.Plugins != nil && config.Executor != nil && config.Store != nil {
		a.actions = NewActionTrigger(config.Store, config.Plugins, config.Executor, logger)
		a.renderer.Add(a.actions)
	}

	return a
}

// AddRenderer adds a presentation surface. Renderers implementing SpellAware
// receive the spell list now and on every reload.
func (a *App) AddRenderer(r presentation.Renderer) error {
	a.renderer.Add(r)

	sa, ok := r.(SpellAware)
	if !ok {
		return nil
	}

	a.mu.Lock()
	a.spells = append(a.spells, sa)
	a.mu.Unlock()

	spells, err := a.loadSpells()
	if err != nil {
		return err
	}
	sa.SetSpells(spells)
	return nil
}

// Renderer returns the renderer that fans out to every surface.
func (a *App) Renderer() presentation.Renderer {
	return a.renderer
}

func (a *App) loadSpells() ([]presentation.Spell, error) {
	if a.config.Store == nil {
		return presentation.DefaultSpells(), nil
	}
	return a.config.Store.Spells().Enabled()
}

// Mapper builds a presentation mapper from the stored thresholds and the
// enabled spells.
func (a *App) Mapper() (*presentation.Mapper, error) {
	spells, err := a.loadSpells()
	if err != nil {
		return nil, err
	}

	thresholds := presentation.DefaultThresholds()
	if a.config.Store != nil {
		thresholds, err = a.config.Store.Settings().Thresholds(thresholds)
		if err != nil {
			return nil, err
		}
	}

	return presentation.NewMapper(thresholds, spells), nil
}

// Reload re-reads spells and thresholds from the store and applies them to
// the running session and the spell-aware surfaces.
func (a *App) Reload() error {
	mapper, err := a.Mapper()
	if err != nil {
		return err
	}
	spells, err := a.loadSpells()
	if err != nil {
		return err
	}

	a.mu.RLock()
	sess := a.session
	aware := append([]SpellAware(nil), a.spells...)
	a.mu.RUnlock()

	for _, sa := range aware {
		sa.SetSpells(spells)
	}
	if sess != nil {
		sess.SetMapper(mapper)
	}

	a.logger.Info("settings reloaded",
		zap.Int("spells", len(spells)),
		zap.Any("thresholds", mapper.Thresholds()),
	)
	return nil
}

// DiscoverPlugins scans the plugin directory and loads available plugins.
func (a *App) DiscoverPlugins() error {
	if a.config.Plugins == nil {
		return nil
	}
	return a.config.Plugins.Discover()
}

// Start opens the camera, loads the model and starts the prediction loop.
// Initialization failures render the persistent failure state and are
// returned as *session.InitializationError; the loop is not started.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil || a.starting {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.starting = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.starting = false
		a.mu.Unlock()
	}()

	mapper, err := a.Mapper()
	if err != nil {
		return err
	}

	cam := a.config.Camera
	if a.config.CameraFPS > 0 {
		cam.SetFPS(a.config.CameraFPS)
	}
	if err := cam.Open(); err != nil {
		return session.Fail(a.renderer, a.logger, session.StageCamera, err)
	}

	sess, err := session.Open(ctx, a.config.Session, cam, a.config.Loader, a.config.ModelURL, mapper, a.renderer, a.logger)
	if err != nil {
		cam.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	sess.SetEnabled(a.enabled)
	a.session = sess
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		sess.Run(runCtx)
	}()

	a.logger.Info("application started", zap.String("model", a.config.ModelURL))
	return nil
}

// Stop halts the prediction loop and releases the camera and the model.
// Pending plugin actions are awaited.
func (a *App) Stop() {
	a.mu.Lock()
	cancel, done, sess := a.cancel, a.done, a.session
	a.cancel, a.done, a.session = nil, nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	if err := sess.Close(); err != nil {
		a.logger.Warn("error closing classifier", zap.Error(err))
	}
	if err := a.config.Camera.Close(); err != nil {
		a.logger.Warn("error closing camera", zap.Error(err))
	}
	if a.actions != nil {
		a.actions.Wait()
	}

	a.logger.Info("application stopped")
}

// SetEnabled pauses or resumes classification.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	sess := a.session
	a.mu.Unlock()

	if sess != nil {
		sess.SetEnabled(enabled)
	}
	a.logger.Info("recognition toggled", zap.Bool("enabled", enabled))
}

// IsEnabled returns whether classification is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Status reports the loop state for the health endpoint.
func (a *App) Status() map[string]any {
	a.mu.RLock()
	sess := a.session
	enabled := a.enabled
	a.mu.RUnlock()

	status := map[string]any{
		"enabled": enabled,
		"running": sess != nil,
	}
	if sess != nil {
		if last := sess.Last(); last.Valid {
			status["last_label"] = last.Label
			status["last_confidence"] = last.Confidence
		}
	}
	return status
}
