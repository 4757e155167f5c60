// Package parser turns configuration files into documents.
//
// Parsing is thin plumbing over the koanf parser ecosystem: each supported
// format maps to a koanf.Parser, and files are loaded through koanf's file
// provider. The registry is dependency-injected into the loader rather than
// held in package-level state, so callers can add or replace formats per
// loader instance.
package parser

import (
	"fmt"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/layercfg/layercfg/discover"
	"github.com/layercfg/layercfg/merge"
)

// Registry maps file formats to koanf parsers.
type Registry struct {
	parsers map[discover.Format]koanf.Parser
}

// NewRegistry returns a registry with the built-in formats registered:
// JSON, YAML, TOML, and dotenv.
func NewRegistry() *Registry {
	return &Registry{
		parsers: map[discover.Format]koanf.Parser{
			discover.FormatJSON:   json.Parser(),
			discover.FormatYAML:   yaml.Parser(),
			discover.FormatTOML:   toml.Parser(),
			discover.FormatDotenv: dotenv.Parser(),
		},
	}
}

// Register adds or replaces the parser for a format.
func (r *Registry) Register(format discover.Format, p koanf.Parser) {
	r.parsers[format] = p
}

// Supports reports whether the registry has a parser for format.
func (r *Registry) Supports(format discover.Format) bool {
	_, ok := r.parsers[format]
	return ok
}

// Parse loads the file at path using the parser registered for format and
// returns the raw nested document.
func (r *Registry) Parse(path string, format discover.Format) (merge.Document, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser registered for format %q", format)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), p); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return k.Raw(), nil
}
