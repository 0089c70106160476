package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ansibleconnect/internal/pipeline"
)

// Config represents the application configuration
type Config struct {
	General struct {
		DefaultPipeline      string `koanf:"default_pipeline"`
		Port                 int    `koanf:"port"`
		MultiTaskMaxRequests int    `koanf:"multi_task_max_requests"`
	} `koanf:"general"`

	// Pipelines maps a pipeline entry name to its provider settings.
	Pipelines map[string]pipeline.Config `koanf:"pipelines"`

	Secrets struct {
		// Backend selects the secret store; only "dummy" is built in.
		Backend string `koanf:"backend"`
		// DummySecrets is a comma-separated "org:api_key<sep>model_id" list.
		DummySecrets string `koanf:"dummy_secrets"`
		DummyAPIKey  string `koanf:"dummy_api_key"`
		DummyModelID string `koanf:"dummy_model_id"`
	} `koanf:"secrets"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"general.default_pipeline":        "wca",
		"general.port":                    8000,
		"general.multi_task_max_requests": 10,
		"secrets.backend":                 "dummy",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./ansibleconnect.toml", "$HOME/.ansibleconnect.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix ANSIBLECONNECT_
	k.Load(env.Provider("ANSIBLECONNECT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ANSIBLECONNECT_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Ansible Connect Configuration

[general]
default_pipeline = "wca"
port = 8000
multi_task_max_requests = 10

[pipelines.wca]
provider = "wca"
base_url = "https://api.dataplatform.cloud.ibm.com"
model_id = ""
api_key = ""
timeout_seconds = 20
retry_count = 4
verify_ssl = true

[pipelines.ollama]
provider = "ollama"
base_url = "http://localhost:11434"
model_id = "llama3"

[secrets]
backend = "dummy"
# dummy_secrets = "11009103:my-key<sep>my-model"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.General.DefaultPipeline == "" {
		return fmt.Errorf("default pipeline is required")
	}
	if config.General.MultiTaskMaxRequests < 1 {
		return fmt.Errorf("multi_task_max_requests must be at least 1")
	}

	entry, ok := config.Pipelines[config.General.DefaultPipeline]
	if !ok {
		return fmt.Errorf("configuration for pipeline %s not found", config.General.DefaultPipeline)
	}

	switch entry.Provider {
	case "wca", "wca-onprem":
		if entry.BaseURL == "" {
			return fmt.Errorf("%s base_url is required", entry.Provider)
		}
		if entry.Provider == "wca-onprem" && entry.Username == "" {
			return fmt.Errorf("wca-onprem username is required")
		}
	case "ollama":
		if entry.BaseURL == "" {
			return fmt.Errorf("ollama base_url is required")
		}
	case "":
		return fmt.Errorf("pipeline %s does not name a provider", config.General.DefaultPipeline)
	}

	return nil
}
