// Package engine holds the named tagger and retriever strategies built at
// startup and resolves per-request preferences into an immutable Snapshot.
//
// The registry is never mutated after New returns, so requests that prefer
// different engines run concurrently without sharing any switchable state.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/nadzzz/homenlu/internal/retrieval"
	"github.com/nadzzz/homenlu/internal/tagger"
)

// NoRetriever disables the retrieval fallback when used as a retriever name.
const NoRetriever = "none"

// Default retrieval gating.
const (
	DefaultThreshold = 250.0
	DefaultTopK      = 2
)

// Preferences is the engine part of a request's settings payload.
// Zero values mean "use the configured default".
type Preferences struct {
	Tagger              string   `mapstructure:"tagger"`
	Retriever           string   `mapstructure:"retriever"`
	SimilarityThreshold *float64 `mapstructure:"similarity_threshold"`
	TopK                *int     `mapstructure:"top_k"`
}

// DecodePreferences reads Preferences out of a free-form settings map.
// Unrelated keys are ignored.
func DecodePreferences(settings map[string]any) (Preferences, error) {
	var p Preferences
	if len(settings) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(settings); err != nil {
		return Preferences{}, fmt.Errorf("decoding engine settings: %w", err)
	}
	return p, nil
}

// Snapshot is the request-scoped engine selection. Retriever is nil when
// retrieval is disabled.
type Snapshot struct {
	Tagger    tagger.Tagger
	Retriever retrieval.Retriever
	Threshold float64
	TopK      int
}

// TaggerName is the selected tagger's name, or "".
func (s Snapshot) TaggerName() string {
	if s.Tagger == nil {
		return ""
	}
	return s.Tagger.Name()
}

// RetrieverName is the selected retriever's name, or NoRetriever.
func (s Snapshot) RetrieverName() string {
	if s.Retriever == nil {
		return NoRetriever
	}
	return s.Retriever.Name()
}

// Options configures New.
type Options struct {
	Taggers          []tagger.Tagger
	Retrievers       []retrieval.Retriever
	DefaultTagger    string
	DefaultRetriever string
	Threshold        float64
	TopK             int
}

// Registry is the compile-time strategy set for one process.
type Registry struct {
	taggers    map[string]tagger.Tagger
	retrievers map[string]retrieval.Retriever
	defaults   Snapshot
}

// New builds the registry. The default tagger must be registered; an
// unknown default retriever disables retrieval with a warning.
func New(opts Options) (*Registry, error) {
	r := &Registry{
		taggers:    make(map[string]tagger.Tagger, len(opts.Taggers)),
		retrievers: make(map[string]retrieval.Retriever, len(opts.Retrievers)),
	}
	for _, t := range opts.Taggers {
		r.taggers[t.Name()] = t
	}
	for _, rt := range opts.Retrievers {
		r.retrievers[rt.Name()] = rt
	}

	def, ok := r.taggers[opts.DefaultTagger]
	if !ok {
		return nil, fmt.Errorf("default tagger %q is not registered (have %v)", opts.DefaultTagger, r.TaggerNames())
	}
	r.defaults.Tagger = def

	if opts.DefaultRetriever != "" && opts.DefaultRetriever != NoRetriever {
		if rt, ok := r.retrievers[opts.DefaultRetriever]; ok {
			r.defaults.Retriever = rt
		} else {
			slog.Warn("default retriever not registered, retrieval disabled", "retriever", opts.DefaultRetriever)
		}
	}

	r.defaults.Threshold = opts.Threshold
	if r.defaults.Threshold <= 0 {
		r.defaults.Threshold = DefaultThreshold
	}
	r.defaults.TopK = opts.TopK
	if r.defaults.TopK <= 0 {
		r.defaults.TopK = DefaultTopK
	}
	return r, nil
}

// Default returns the snapshot used when a request states no preferences.
func (r *Registry) Default() Snapshot { return r.defaults }

// Resolve applies p on top of the defaults. Unknown engine names fall back
// to the default with a warning rather than failing the request.
func (r *Registry) Resolve(p Preferences) Snapshot {
	s := r.defaults

	if p.Tagger != "" {
		if t, ok := r.taggers[p.Tagger]; ok {
			s.Tagger = t
		} else {
			slog.Warn("unknown tagger requested, using default", "requested", p.Tagger, "default", s.TaggerName())
		}
	}

	switch p.Retriever {
	case "":
	case NoRetriever:
		s.Retriever = nil
	default:
		if rt, ok := r.retrievers[p.Retriever]; ok {
			s.Retriever = rt
		} else {
			slog.Warn("unknown retriever requested, using default", "requested", p.Retriever, "default", s.RetrieverName())
		}
	}

	if p.SimilarityThreshold != nil && *p.SimilarityThreshold >= 0 {
		s.Threshold = *p.SimilarityThreshold
	}
	if p.TopK != nil && *p.TopK > 0 {
		s.TopK = *p.TopK
	}
	return s
}

// ResolveSettings decodes a settings payload and resolves it. Undecodable
// settings are logged and the defaults are used.
func (r *Registry) ResolveSettings(settings map[string]any) Snapshot {
	p, err := DecodePreferences(settings)
	if err != nil {
		slog.Warn("ignoring malformed engine settings", "error", err)
		return r.defaults
	}
	return r.Resolve(p)
}

// TaggerNames lists the registered taggers, sorted.
func (r *Registry) TaggerNames() []string {
	names := make([]string, 0, len(r.taggers))
	for n := range r.taggers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RetrieverNames lists the registered retrievers, sorted.
func (r *Registry) RetrieverNames() []string {
	names := make([]string, 0, len(r.retrievers))
	for n := range r.retrievers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered backend.
func (r *Registry) Close() error {
	var errs []error
	for name, t := range r.taggers {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing tagger %s: %w", name, err))
		}
	}
	for name, rt := range r.retrievers {
		if err := rt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing retriever %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
