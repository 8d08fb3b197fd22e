package strategyhost

import (
	"fmt"
	"plugin"

	"github.com/atlas-quant/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Artifact is the loaded plugin handle. It owns the dynamically loaded
// library and must outlive every Instance constructed from it (spec §4.5
// Ownership & lifetime). The Go plugin runtime has no unload primitive —
// once mapped, a .so stays resident for the process lifetime — so Artifact
// enforces the destroy-before-unload ORDERING the ABI requires without
// being able to physically unmap memory; this limitation is inherent to
// stdlib plugin and is documented rather than worked around.
type Artifact struct {
	logger   *zap.Logger
	path     string
	create   Factory
	instances int
}

// Open resolves the artifact at path and looks up its Factory entry
// point. Failure (file missing, symbol missing, wrong signature) is a
// PluginError, fatal at startup per spec §7.
func Open(logger *zap.Logger, path string) (*Artifact, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, &types.PluginError{Artifact: path, Reason: fmt.Sprintf("open: %v", err)}
	}
	sym, err := p.Lookup(EntrySymbol)
	if err != nil {
		return nil, &types.PluginError{Artifact: path, Reason: fmt.Sprintf("missing entry point %q: %v", EntrySymbol, err)}
	}
	// plugin.Lookup commonly returns a pointer to the symbol's type;
	// support both `var CreateStrategy Factory` and a plain func, whose
	// value carries the unnamed func type.
	var factory Factory
	switch f := sym.(type) {
	case Factory:
		factory = f
	case *Factory:
		factory = *f
	case func(types.Mode, SettingsView, map[string]types.InstrumentMeta, EventSink) (Instance, error):
		factory = f
	default:
		return nil, &types.PluginError{Artifact: path, Reason: fmt.Sprintf("entry point %q has the wrong signature", EntrySymbol)}
	}
	return &Artifact{logger: logger, path: path, create: factory}, nil
}

// NewFromFactory wraps an in-process Factory directly, bypassing
// plugin.Open. Used by the test strategy host, which cannot build a real
// .so in this environment, and by any future in-process builtin.
func NewFromFactory(logger *zap.Logger, label string, factory Factory) *Artifact {
	return &Artifact{logger: logger, path: label, create: factory}
}

// NewInstance invokes the artifact's create entry point for one trial.
func (a *Artifact) NewInstance(mode types.Mode, settings SettingsView, instruments map[string]types.InstrumentMeta, sink EventSink) (Instance, error) {
	inst, err := a.create(mode, settings, instruments, sink)
	if err != nil {
		return nil, &types.PluginError{Artifact: a.path, Reason: err.Error()}
	}
	if inst == nil {
		return nil, &types.PluginError{Artifact: a.path, Reason: "create returned a nil instance"}
	}
	a.instances++
	if a.logger != nil {
		a.logger.Debug("strategy instance created", zap.String("artifact", a.path))
	}
	return &trackedInstance{Instance: inst, artifact: a}, nil
}

// trackedInstance wraps a plugin Instance so Destroy decrements the
// artifact's live-instance count, enforcing destroy-before-unload
// ordering.
type trackedInstance struct {
	Instance
	artifact *Artifact
}

func (t *trackedInstance) Destroy() {
	t.Instance.Destroy()
	t.artifact.instances--
}

// LiveInstances reports how many instances created from this artifact
// have not yet been destroyed.
func (a *Artifact) LiveInstances() int { return a.instances }
