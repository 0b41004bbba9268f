package plugins

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

// Definition declares one compiled-in plugin. New builds a fresh instance per invocation.
type Definition struct {
	ID          string
	Kind        Kind
	Description string
	New         func(params Params) (any, error)
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("plugin id is empty")
	}
	if def.New == nil {
		return fmt.Errorf("plugin %s has no constructor", def.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("plugin already registered for id=%s", def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// List returns definitions sorted by kind then id.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) instantiate(kind Kind, conf acquisition.PluginConf) (any, error) {
	if !conf.IsSet() {
		return nil, fmt.Errorf("%w: missing %s plugin", apperr.ErrInvalidArgument, kind)
	}
	def, ok := r.Get(conf.PluginID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown %s plugin %q", apperr.ErrInvalidArgument, kind, conf.PluginID)
	}
	if def.Kind != kind {
		return nil, fmt.Errorf("%w: plugin %q is a %s plugin, not %s", apperr.ErrInvalidArgument, conf.PluginID, def.Kind, kind)
	}
	inst, err := def.New(Params(conf.Params))
	if err != nil {
		return nil, fmt.Errorf("%w: plugin %q: %v", apperr.ErrInvalidArgument, conf.PluginID, err)
	}
	return inst, nil
}

// Check verifies that conf names a plugin of the right kind whose parameters are valid.
func (r *Registry) Check(kind Kind, conf acquisition.PluginConf) error {
	_, err := r.instantiate(kind, conf)
	return err
}

// Scanner returns the plugin as a Scanner or StreamScanner (at least one is implemented).
func (r *Registry) Scanner(conf acquisition.PluginConf) (any, error) {
	inst, err := r.instantiate(KindScan, conf)
	if err != nil {
		return nil, err
	}
	switch inst.(type) {
	case Scanner, StreamScanner:
		return inst, nil
	}
	return nil, fmt.Errorf("plugin %q does not implement a scanner", conf.PluginID)
}

func (r *Registry) Validator(conf acquisition.PluginConf) (Validator, error) {
	inst, err := r.instantiate(KindValidation, conf)
	if err != nil {
		return nil, err
	}
	v, ok := inst.(Validator)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement Validator", conf.PluginID)
	}
	return v, nil
}

func (r *Registry) Namer(conf acquisition.PluginConf) (ProductNamer, error) {
	inst, err := r.instantiate(KindNaming, conf)
	if err != nil {
		return nil, err
	}
	n, ok := inst.(ProductNamer)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement ProductNamer", conf.PluginID)
	}
	return n, nil
}

func (r *Registry) Generator(conf acquisition.PluginConf) (SipGenerator, error) {
	inst, err := r.instantiate(KindGeneration, conf)
	if err != nil {
		return nil, err
	}
	g, ok := inst.(SipGenerator)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement SipGenerator", conf.PluginID)
	}
	return g, nil
}

func (r *Registry) PostProcessor(conf acquisition.PluginConf) (PostProcessor, error) {
	inst, err := r.instantiate(KindPostProcessing, conf)
	if err != nil {
		return nil, err
	}
	p, ok := inst.(PostProcessor)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement PostProcessor", conf.PluginID)
	}
	return p, nil
}

var paramValidator = validator.New(validator.WithRequiredStructEnabled())

// Decode maps params onto a typed config struct and validates its `validate` tags.
// Fields already set on out act as defaults.
func Decode(params Params, out any) error {
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
	}
	if err := paramValidator.Struct(out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
