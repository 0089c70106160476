package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ansibleconnect.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "wca", cfg.General.DefaultPipeline)
	assert.Equal(t, 8000, cfg.General.Port)
	assert.Equal(t, 10, cfg.General.MultiTaskMaxRequests)
	assert.Equal(t, "dummy", cfg.Secrets.Backend)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
[general]
default_pipeline = "ollama"
port = 9000

[pipelines.ollama]
provider = "ollama"
base_url = "http://localhost:11434"
model_id = "llama3"

[pipelines.wca]
provider = "wca"
base_url = "https://api.dataplatform.cloud.ibm.com"
retry_count = 4
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.General.DefaultPipeline)
	assert.Equal(t, 9000, cfg.General.Port)
	assert.Equal(t, 10, cfg.General.MultiTaskMaxRequests)

	require.Contains(t, cfg.Pipelines, "ollama")
	assert.Equal(t, "ollama", cfg.Pipelines["ollama"].Provider)
	assert.Equal(t, "llama3", cfg.Pipelines["ollama"].ModelID)

	require.Contains(t, cfg.Pipelines, "wca")
	assert.Equal(t, 4, cfg.Pipelines["wca"].RetryCount)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ANSIBLECONNECT_GENERAL_PORT", "8443")

	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.General.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ansibleconnect.toml")
	require.NoError(t, InitConfig(path))

	// Refuses to overwrite an existing file.
	assert.Error(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "wca", cfg.General.DefaultPipeline)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[pipelines.wca]
provider = "wca"
base_url = "https://api.dataplatform.cloud.ibm.com"
`))
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))

	cfg.Pipelines["missing"] = cfg.Pipelines["wca"]
	cfg.General.DefaultPipeline = "unknown"
	assert.Error(t, Validate(cfg))

	cfg.General.DefaultPipeline = "wca"
	entry := cfg.Pipelines["wca"]
	entry.BaseURL = ""
	cfg.Pipelines["wca"] = entry
	assert.Error(t, Validate(cfg))

	entry.Provider = "wca-onprem"
	entry.BaseURL = "https://cpd.example.com"
	cfg.Pipelines["wca"] = entry
	assert.Error(t, Validate(cfg), "on-prem requires a username")

	entry.Username = "bob"
	cfg.Pipelines["wca"] = entry
	assert.NoError(t, Validate(cfg))
}
