package pipeline

import "time"

// Config is the static configuration of one provider entry. All providers
// read from the same shape; fields irrelevant to a provider are ignored.
type Config struct {
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	ModelID  string `koanf:"model_id"`
	APIKey   string `koanf:"api_key"`

	// TimeoutSeconds bounds a single-task request; multi-task requests scale
	// it linearly. Zero disables the timeout.
	TimeoutSeconds int `koanf:"timeout_seconds"`

	// RetryCount is the total attempt budget per backend call, counting the
	// first call.
	RetryCount int  `koanf:"retry_count"`
	VerifySSL  bool `koanf:"verify_ssl"`

	// SaaS identity provider overrides.
	IdpURL      string `koanf:"idp_url"`
	IdpLogin    string `koanf:"idp_login"`
	IdpPassword string `koanf:"idp_password"`

	// One-click trial defaults.
	OneClickDefaultModelID string `koanf:"one_click_default_model_id"`
	OneClickDefaultAPIKey  string `koanf:"one_click_default_api_key"`

	// On-prem deployments authenticate with a username besides the key.
	Username string `koanf:"username"`

	EnableHealthCheck bool `koanf:"enable_health_check"`
}

// TaskTimeout returns the request deadline for a prompt carrying taskCount
// tasks, or zero when no timeout is configured.
func (c Config) TaskTimeout(taskCount int) time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	if taskCount < 1 {
		taskCount = 1
	}
	return time.Duration(c.TimeoutSeconds*taskCount) * time.Second
}
