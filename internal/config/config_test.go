package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[scribe]
folder = "`+dir+`"
logging = false

[lsp]
command = "lean"
args = ["--server"]
`), 0644))

	t.Setenv("SCRIBE_SERVER_PORT", "9999")
	t.Setenv("SCRIBE_LSP_DIAGNOSTICS_WAIT", "500ms")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Scribe.Folder)
	assert.False(t, cfg.Scribe.Logging)
	assert.Equal(t, "lean", cfg.LSP.Command)
	assert.Equal(t, []string{"--server"}, cfg.LSP.Args)
	assert.Equal(t, 500*time.Millisecond, cfg.LSP.DiagnosticsWait)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 50, cfg.History.Capacity)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, Validate(cfg))
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, DefaultConfigFile))
	require.Error(t, err, "explicit path outside the working directory must exist")

	t.Setenv("HOME", dir)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scribe"), cfg.Scribe.Folder)

	err = Validate(cfg)
	assert.ErrorIs(t, err, ErrNoScribeFolder)

	require.NoError(t, os.Mkdir(cfg.Scribe.Folder, 0755))
	require.NoError(t, Validate(cfg))

	cfg.History.Capacity = 0
	assert.Error(t, Validate(cfg))
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "must not overwrite an existing file")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.LSP.DiagnosticsWait)
}

func TestLoadModels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelsFileName), []byte(`{
  "models": [
    {"type": "openai", "name": "gpt-4o", "cost": [2.5, 10], "limit": 128000, "params": {"model": "gpt-4o"}},
    {"type": "ollama", "name": "llama", "params": {"model": "llama3"}}
  ],
  "default": ["gpt-4o"]
}`), 0644))

	mf, err := LoadModels(dir)
	require.NoError(t, err)
	require.Len(t, mf.Models, 2)
	assert.Equal(t, 2.5, mf.Models[0].InputCost())
	assert.Equal(t, 10.0, mf.Models[0].OutputCost())
	assert.Equal(t, 0.0, mf.Models[1].OutputCost())
	assert.True(t, mf.IsDefault("gpt-4o"))
	assert.False(t, mf.IsDefault("llama"))
}

func TestLoadModels_RejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelsFileName), []byte(`{"models":[{"name":"a"},{"name":"a"}]}`), 0644))
	_, err := LoadModels(dir)
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadEnv_SkipsPlaceholders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFileName), []byte(
		"SCRIBE_TEST_REAL_KEY=sk-real\nSCRIBE_TEST_PLACEHOLDER=sk-...\n"), 0644))
	t.Setenv("SCRIBE_TEST_REAL_KEY", "")
	t.Setenv("SCRIBE_TEST_PLACEHOLDER", "")

	require.NoError(t, LoadEnv(dir))
	assert.Equal(t, "sk-real", os.Getenv("SCRIBE_TEST_REAL_KEY"))
	assert.Equal(t, "", os.Getenv("SCRIBE_TEST_PLACEHOLDER"))

	assert.NoError(t, LoadEnv(t.TempDir()), "missing .env is fine")
}

func TestModelsFile_ValidateModels(t *testing.T) {
	valid := &ModelsFile{
		Models:  []ModelDescriptor{{Name: "gpt", Cost: []float64{1, 2}, Limit: 100}},
		Default: []string{"gpt"},
	}
	assert.NoError(t, valid.ValidateModels())

	invalid := &ModelsFile{
		Models: []ModelDescriptor{
			{Name: "gpt", Cost: []float64{1}},
			{Name: "local", Cost: []float64{0, 0}, Limit: -1},
		},
		Default: []string{"gpt", "claude"},
	}
	err := invalid.ValidateModels()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "gpt": cost must be [input, output], got 1 entries`)
	assert.Contains(t, err.Error(), `model "local": negative limit -1`)
	assert.Contains(t, err.Error(), `default model "claude" is not listed in models`)
}
