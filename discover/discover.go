// Package discover finds the configuration files that participate in a load
// and resolves their merge order.
//
// For a base name "app" and environment "production", a directory may hold
// base files (app.json, app.yaml, ...) and environment overlays
// (app.production.yaml, ...). Base files always merge before environment
// files; within each group files merge in ascending format priority, so the
// highest-priority format wins on conflicting keys.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format identifies a supported configuration file format.
type Format string

const (
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatTOML   Format = "toml"
	FormatDotenv Format = "dotenv"
)

// formatPriority orders formats from lowest to highest merge precedence.
var formatPriority = map[Format]int{
	FormatJSON:   0,
	FormatYAML:   1,
	FormatTOML:   2,
	FormatDotenv: 3,
}

var extensions = map[string]Format{
	".json": FormatJSON,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".toml": FormatTOML,
	".env":  FormatDotenv,
}

// Priority returns the format's merge precedence; higher merges later and
// therefore wins conflicting keys. Unknown formats return -1.
func Priority(f Format) int {
	if p, ok := formatPriority[f]; ok {
		return p
	}
	return -1
}

// FormatForPath returns the format implied by the path's extension.
func FormatForPath(path string) (Format, bool) {
	f, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// FileInfo describes one discovered configuration file.
type FileInfo struct {
	Path   string
	Format Format

	// IsBase is true for base files (no environment suffix).
	IsBase bool

	// Env is the environment name for overlay files, empty for base files.
	Env string
}

// ParseName matches a file name against the base-name convention and reports
// the environment segment and format. It returns ok=false for names that are
// not configuration files of baseName.
func ParseName(name, baseName string) (env string, format Format, ok bool) {
	ext := filepath.Ext(name)
	format, known := extensions[strings.ToLower(ext)]
	if !known {
		return "", "", false
	}
	stem := strings.TrimSuffix(name, ext)
	if stem == baseName {
		return "", format, true
	}
	withEnv := baseName + "."
	if strings.HasPrefix(stem, withEnv) {
		env = stem[len(withEnv):]
		if env != "" && !strings.Contains(env, ".") {
			return env, format, true
		}
	}
	return "", "", false
}

// Discover scans dir (non-recursively) for configuration files named after
// baseName and returns them in merge order: base files first, then files for
// the requested env, each group ordered by ascending format priority. An
// empty env discovers base files only. A missing directory is an error; a
// directory with no matching files is not.
func Discover(dir, baseName, env string) ([]FileInfo, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory must not be empty")
	}
	if baseName == "" {
		return nil, fmt.Errorf("config base name must not be empty")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory %q: %w", dir, err)
	}

	var base, overlays []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileEnv, format, ok := ParseName(entry.Name(), baseName)
		if !ok {
			continue
		}
		info := FileInfo{
			Path:   filepath.Join(dir, entry.Name()),
			Format: format,
			IsBase: fileEnv == "",
			Env:    fileEnv,
		}
		switch {
		case info.IsBase:
			base = append(base, info)
		case env != "" && fileEnv == env:
			overlays = append(overlays, info)
		}
	}

	byPriority := func(files []FileInfo) {
		sort.SliceStable(files, func(i, j int) bool {
			return Priority(files[i].Format) < Priority(files[j].Format)
		})
	}
	byPriority(base)
	byPriority(overlays)

	return append(base, overlays...), nil
}
