// Package loader combines discovery, parsing, merging, and validation into
// the configuration load pipeline.
//
// A Load resolves the participating files for an environment, parses each
// one, folds them left-to-right through the merge engine (base files before
// environment overlays, ascending format priority), applies an optional
// environment-variable overlay, and validates the result against the
// configured schema. Validation failures fail the load with a single error
// aggregating every violation.
//
// Loaded documents are cached per environment. Concurrent loads for the same
// environment are coalesced so at most one recomputation is in flight per
// cache key; the file watcher invalidates entries when config files change.
package loader

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/layercfg/layercfg/discover"
	"github.com/layercfg/layercfg/merge"
	"github.com/layercfg/layercfg/parser"
	"github.com/layercfg/layercfg/schema"
)

const defaultCacheSize = 16

// Loader loads, merges, and validates configuration for named environments.
// A Loader is safe for concurrent use.
type Loader struct {
	dir       string
	baseName  string
	rules     schema.Schema
	mergeOpts merge.Options
	parsers   *parser.Registry
	envPrefix string
	logger    zerolog.Logger

	cache *lru.Cache[string, merge.Document]
	group singleflight.Group
}

// Option configures a Loader.
type Option func(*Loader)

// WithBaseName sets the config file base name. Default "config".
func WithBaseName(name string) Option {
	return func(l *Loader) { l.baseName = name }
}

// WithSchema sets the validation schema. Without a schema, loads skip
// validation.
func WithSchema(s schema.Schema) Option {
	return func(l *Loader) { l.rules = s }
}

// WithMergeOptions sets the options passed to every merge in the pipeline.
func WithMergeOptions(opts merge.Options) Option {
	return func(l *Loader) { l.mergeOpts = opts }
}

// WithParsers replaces the default parser registry.
func WithParsers(r *parser.Registry) Option {
	return func(l *Loader) { l.parsers = r }
}

// WithEnvPrefix enables the environment-variable overlay: variables named
// PREFIX_A_B override key "a.b" after all files are merged. Values are taken
// verbatim; no interpolation is performed.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithLogger sets the logger. Default is a no-op logger; a library should
// stay silent unless asked.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithCacheSize sets the maximum number of cached per-environment results.
func WithCacheSize(size int) Option {
	return func(l *Loader) {
		if size > 0 {
			cache, err := lru.New[string, merge.Document](size)
			if err == nil {
				l.cache = cache
			}
		}
	}
}

// New creates a Loader reading configuration files from dir.
func New(dir string, opts ...Option) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory must not be empty")
	}

	cache, err := lru.New[string, merge.Document](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	l := &Loader{
		dir:      dir,
		baseName: "config",
		parsers:  parser.NewRegistry(),
		logger:   zerolog.Nop(),
		cache:    cache,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load returns the merged and validated configuration for env. An empty env
// loads base files only. Results are cached per environment; the returned
// document is a private deep copy the caller may mutate freely.
func (l *Loader) Load(ctx context.Context, environment string) (merge.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if doc, ok := l.cache.Get(environment); ok {
		l.logger.Debug().Str("env", environment).Msg("config cache hit")
		return merge.Clone(doc), nil
	}

	v, err, _ := l.group.Do(environment, func() (any, error) {
		// A concurrent load may have filled the cache while this call was
		// queued behind the flight leader.
		if doc, ok := l.cache.Get(environment); ok {
			return doc, nil
		}
		doc, err := l.compute(environment)
		if err != nil {
			return nil, err
		}
		l.cache.Add(environment, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return merge.Clone(v.(merge.Document)), nil
}

func (l *Loader) compute(environment string) (merge.Document, error) {
	files, err := discover.Discover(l.dir, l.baseName, environment)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().
		Str("env", environment).
		Int("files", len(files)).
		Msg("discovered config files")

	merged := merge.Document{}
	for _, f := range files {
		doc, err := l.parsers.Parse(f.Path, f.Format)
		if err != nil {
			return nil, err
		}
		merged, err = merge.Merge(merged, doc, l.mergeOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %q: %w", f.Path, err)
		}
		l.logger.Debug().
			Str("path", f.Path).
			Str("format", string(f.Format)).
			Bool("base", f.IsBase).
			Msg("merged config file")
	}

	if l.envPrefix != "" {
		overlay, err := l.envOverlay()
		if err != nil {
			return nil, err
		}
		if len(overlay) > 0 {
			merged, err = merge.Merge(merged, overlay, l.mergeOpts)
			if err != nil {
				return nil, fmt.Errorf("failed to merge environment overlay: %w", err)
			}
		}
	}

	if l.rules != nil {
		result := schema.Validate(merged, l.rules)
		if !result.Valid {
			l.logger.Warn().
				Str("env", environment).
				Strs("errors", result.Errors).
				Msg("config validation failed")
			return nil, result.Err()
		}
		merged = result.Validated
	}

	return merged, nil
}

// envOverlay builds a document from environment variables carrying the
// configured prefix: PREFIX_DATABASE_HOST becomes key "database.host".
func (l *Loader) envOverlay() (merge.Document, error) {
	prefix := l.envPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	k := koanf.New(".")
	provider := env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "_", ".")
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("failed to read environment overlay: %w", err)
	}
	return k.Raw(), nil
}

// Invalidate drops the cached result for env. The next Load recomputes it.
func (l *Loader) Invalidate(environment string) {
	l.cache.Remove(environment)
}

// InvalidateAll drops every cached result. Used when a base file changes,
// since base files feed every environment.
func (l *Loader) InvalidateAll() {
	l.cache.Purge()
}
