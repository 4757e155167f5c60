package loader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercfg/layercfg/merge"
	"github.com/layercfg/layercfg/schema"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_BaseAndEnvironmentOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
database:
  host: localhost
  port: 5432
log_level: info
`)
	writeConfig(t, dir, "config.production.yaml", `
database:
  host: db.internal
log_level: warn
`)

	l, err := New(dir)
	require.NoError(t, err)

	doc, err := l.Load(context.Background(), "production")
	require.NoError(t, err)

	db, ok := doc["database"].(merge.Document)
	require.True(t, ok)
	assert.Equal(t, "db.internal", db["host"], "environment overlay wins")
	assert.Equal(t, 5432, db["port"], "base keys not overridden survive")
	assert.Equal(t, "warn", doc["log_level"])
}

func TestLoad_FormatPriorityAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.json", `{"name":"from-json","only_json":1}`)
	writeConfig(t, dir, "config.yaml", "name: from-yaml\n")

	l, err := New(dir)
	require.NoError(t, err)

	doc, err := l.Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "from-yaml", doc["name"], "higher-priority format wins")
	assert.Equal(t, float64(1), doc["only_json"])
}

func TestLoad_ValidationFailureAggregatesErrors(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "port: not-a-number\n")

	l, err := New(dir, WithSchema(schema.Schema{
		"port": {Type: schema.TypeNumber},
		"name": {Required: true},
	}))
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "port should be number, got string")
}

func TestLoad_SchemaFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "name: app\n")

	l, err := New(dir, WithSchema(schema.Schema{
		"name":  {Required: true, Type: schema.TypeString},
		"level": {Default: "info"},
	}))
	require.NoError(t, err)

	doc, err := l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "info", doc["level"])
}

func TestLoad_EnvVarOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
database:
  host: localhost
`)
	t.Setenv("LAYERTEST_DATABASE_HOST", "from-env")

	l, err := New(dir, WithEnvPrefix("LAYERTEST"))
	require.NoError(t, err)

	doc, err := l.Load(context.Background(), "")
	require.NoError(t, err)

	db, ok := doc["database"].(merge.Document)
	require.True(t, ok)
	assert.Equal(t, "from-env", db["host"])
}

func TestLoad_CachesPerEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "value: first\n")

	l, err := New(dir)
	require.NoError(t, err)

	doc, err := l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "first", doc["value"])

	// Changing the file without invalidation must not change the result.
	writeConfig(t, dir, "config.yaml", "value: second\n")
	doc, err = l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "first", doc["value"])

	l.Invalidate("")
	doc, err = l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "second", doc["value"])
}

func TestLoad_InvalidateAll(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "value: first\n")
	writeConfig(t, dir, "config.production.yaml", "extra: true\n")

	l, err := New(dir)
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "")
	require.NoError(t, err)
	_, err = l.Load(context.Background(), "production")
	require.NoError(t, err)

	writeConfig(t, dir, "config.yaml", "value: second\n")
	l.InvalidateAll()

	doc, err := l.Load(context.Background(), "production")
	require.NoError(t, err)
	assert.Equal(t, "second", doc["value"])
}

func TestLoad_ReturnedDocumentIsPrivateCopy(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
database:
  host: localhost
`)

	l, err := New(dir)
	require.NoError(t, err)

	first, err := l.Load(context.Background(), "")
	require.NoError(t, err)
	first["database"].(merge.Document)["host"] = "mutated"

	second, err := l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "localhost", second["database"].(merge.Document)["host"])
}

func TestLoad_ConcurrentLoadsCoalesce(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "value: shared\n")

	l, err := New(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]merge.Document, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := l.Load(context.Background(), "")
			assert.NoError(t, err)
			results[i] = doc
		}(i)
	}
	wg.Wait()

	for _, doc := range results {
		require.NotNil(t, doc)
		assert.Equal(t, "shared", doc["value"])
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "value: x\n")

	l, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Load(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_CustomBaseName(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", "name: custom\n")
	writeConfig(t, dir, "config.yaml", "name: wrong\n")

	l, err := New(dir, WithBaseName("app"))
	require.NoError(t, err)

	doc, err := l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "custom", doc["name"])
}

func TestLoad_MergeOptionsPropagate(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "features: [auth]\n")
	writeConfig(t, dir, "config.production.yaml", "features: [auth, api]\n")

	l, err := New(dir, WithMergeOptions(merge.Options{ArrayPolicy: merge.ArrayUnique}))
	require.NoError(t, err)

	doc, err := l.Load(context.Background(), "production")
	require.NoError(t, err)
	assert.Equal(t, []any{"auth", "api"}, doc["features"])
}

func TestNew_EmptyDirectory(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestLoad_MissingDirectory(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "")
	assert.Error(t, err)
}
