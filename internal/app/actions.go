package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ayusman/spellcast/internal/plugin"
	"github.com/ayusman/spellcast/internal/presentation"
	"github.com/ayusman/spellcast/internal/store"
)

// ActionTrigger is a Renderer that runs the plugin action bound to a spell
// when the spell is first shown. The same spell does not fire again until
// some other state has been rendered in between.
type ActionTrigger struct {
	store    *store.Store
	plugins  *plugin.Manager
	executor *plugin.Executor
	logger   *zap.Logger

	mu   sync.Mutex
	last string
	wg   sync.WaitGroup
}

// NewActionTrigger creates an ActionTrigger.
func NewActionTrigger(s *store.Store, plugins *plugin.Manager, executor *plugin.Executor, logger *zap.Logger) *ActionTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionTrigger{
		store:    s,
		plugins:  plugins,
		executor: executor,
		logger:   logger.Named("actions"),
	}
}

// Render implements presentation.Renderer. Lookup failures are logged, not
// returned, so a broken binding never disturbs the other surfaces.
func (t *ActionTrigger) Render(state presentation.State) error {
	t.mu.Lock()
	if state.Kind != presentation.KindSpell {
		t.last = ""
		t.mu.Unlock()
		return nil
	}
	if state.Label == t.last {
		t.mu.Unlock()
		return nil
	}
	t.last = state.Label
	t.mu.Unlock()

	action, err := t.store.Actions().GetBySpellLabel(state.Label)
	if err != nil {
		t.logger.Error("action lookup failed", zap.String("spell", state.Label), zap.Error(err))
		return nil
	}
	if action == nil {
		return nil
	}

	p, err := t.plugins.Get(action.PluginName)
	if err != nil {
		t.logger.Warn("bound plugin not found",
			zap.String("spell", state.Label),
			zap.String("plugin", action.PluginName),
		)
		return nil
	}

	req := &plugin.Request{
		Action:     action.ActionName,
		Spell:      state.Label,
		Confidence: state.Confidence,
		Config:     action.Config,
	}

	t.wg.Add(1)
	go t.run(p, req)
	return nil
}

func (t *ActionTrigger) run(p *plugin.Plugin, req *plugin.Request) {
	defer t.wg.Done()

	logger := t.logger.With(
		zap.String("plugin", p.Manifest.Name),
		zap.String("action", req.Action),
		zap.String("spell", req.Spell),
	)

	resp, err := t.executor.Execute(context.Background(), p, req)
	if err != nil {
		logger.Error("plugin execution failed", zap.Error(err))
		return
	}
	if !resp.Success {
		logger.Warn("plugin reported failure", zap.String("error", resp.Error))
		return
	}
	logger.Info("plugin action executed")
}

// Wait blocks until every started action has finished.
func (t *ActionTrigger) Wait() {
	t.wg.Wait()
}
