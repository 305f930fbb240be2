package servicecache

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Kind is a collaborator category.
type Kind string

const (
	KindRecognizer  Kind = "recognizer"
	KindTranslator  Kind = "translator"
	KindSynthesizer Kind = "synthesizer"
	KindDiarizer    Kind = "diarizer"
	KindSeparator   Kind = "separator"
	KindGender      Kind = "gender"
)

// Key identifies one cached handle.
type Key struct {
	Kind    Kind
	Engine  string
	Model   string
	Device  string
	Options string
}

// NewKey builds a key with options canonicalized as sorted "k=v" pairs.
func NewKey(kind Kind, engine, model, device string, options map[string]string) Key {
	key := Key{Kind: kind, Engine: engine, Model: model, Device: device}
	if len(options) > 0 {
		names := slices.Sorted(maps.Keys(options))
		pairs := make([]string, 0, len(names))
		for _, name := range names {
			pairs = append(pairs, name+"="+options[name])
		}
		key.Options = strings.Join(pairs, ",")
	}
	return key
}

func (k Key) String() string {
	parts := []string{string(k.Kind), k.Engine}
	if k.Model != "" {
		parts = append(parts, k.Model)
	}
	if k.Device != "" {
		parts = append(parts, k.Device)
	}
	if k.Options != "" {
		parts = append(parts, k.Options)
	}
	return strings.Join(parts, "/")
}

// Factory creates a handle for key. It may block while models load.
type Factory func(ctx context.Context, key Key) (any, error)

// Registry maps (kind, engine) to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]map[string]Factory)}
}

// Register installs a factory, replacing any previous one for the same engine.
func (r *Registry) Register(kind Kind, engine string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[kind] == nil {
		r.factories[kind] = make(map[string]Factory)
	}
	r.factories[kind][engine] = factory
}

// Lookup returns the factory for (kind, engine).
func (r *Registry) Lookup(kind Kind, engine string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[kind][engine]
	if !ok {
		return nil, fmt.Errorf("%w: %s engine %q", ErrUnknownEngine, kind, engine)
	}
	return factory, nil
}

// Engines lists registered engine ids for kind, sorted.
func (r *Registry) Engines(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories[kind]))
}
