package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercfg/layercfg/discover"
	"github.com/layercfg/layercfg/merge"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParse_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  host: localhost
  port: 8080
features:
  - auth
  - api
`)

	doc, err := NewRegistry().Parse(path, discover.FormatYAML)
	require.NoError(t, err)

	server, ok := doc["server"].(merge.Document)
	require.True(t, ok)
	assert.Equal(t, "localhost", server["host"])
	assert.Equal(t, 8080, server["port"])
	assert.Equal(t, []any{"auth", "api"}, doc["features"])
}

func TestParse_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", `{"name":"app","debug":true,"port":8080}`)

	doc, err := NewRegistry().Parse(path, discover.FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "app", doc["name"])
	assert.Equal(t, true, doc["debug"])
	assert.Equal(t, float64(8080), doc["port"], "JSON numbers decode as float64")
}

func TestParse_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", `
name = "app"

[server]
host = "localhost"
`)

	doc, err := NewRegistry().Parse(path, discover.FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "app", doc["name"])
	server, ok := doc["server"].(merge.Document)
	require.True(t, ok)
	assert.Equal(t, "localhost", server["host"])
}

func TestParse_Dotenv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.env", "APP_NAME=layered\nDEBUG=true\n")

	doc, err := NewRegistry().Parse(path, discover.FormatDotenv)
	require.NoError(t, err)

	assert.Equal(t, "layered", doc["APP_NAME"])
	assert.Equal(t, "true", doc["DEBUG"], "dotenv values are strings")
}

func TestParse_InvalidSyntax(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", `{"broken":`)

	_, err := NewRegistry().Parse(path, discover.FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestParse_MissingFile(t *testing.T) {
	_, err := NewRegistry().Parse(filepath.Join(t.TempDir(), "missing.yaml"), discover.FormatYAML)
	assert.Error(t, err)
}

func TestParse_UnregisteredFormat(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.ini", "a=1")

	_, err := NewRegistry().Parse(path, discover.Format("ini"))
	assert.Error(t, err)
}

func TestRegistry_Supports(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Supports(discover.FormatJSON))
	assert.True(t, r.Supports(discover.FormatYAML))
	assert.True(t, r.Supports(discover.FormatTOML))
	assert.True(t, r.Supports(discover.FormatDotenv))
	assert.False(t, r.Supports(discover.Format("ini")))
}
