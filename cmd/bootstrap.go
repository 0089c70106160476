package cmd

import (
	"fmt"

	"github.com/ansibleconnect/internal/config"
	"github.com/ansibleconnect/internal/pipeline"
	"github.com/ansibleconnect/internal/pipeline/langchain"
	"github.com/ansibleconnect/internal/pipeline/wca"
	"github.com/ansibleconnect/internal/secrets"
)

// newFactory wires every known provider constructor into a factory. The WCA
// SaaS provider resolves per-organization credentials through the secret
// manager; the others carry their credentials in configuration.
func newFactory(manager secrets.Manager) *pipeline.DefaultFactory {
	factory := pipeline.NewDefaultFactory()
	factory.Register(wca.ProviderSaaS, func(cfg pipeline.Config) (pipeline.MetaData, error) {
		return wca.NewSaaS(cfg, manager), nil
	})
	factory.Register(wca.ProviderOnPrem, func(cfg pipeline.Config) (pipeline.MetaData, error) {
		return wca.NewOnPrem(cfg)
	})
	factory.Register(langchain.ProviderOllama, func(cfg pipeline.Config) (pipeline.MetaData, error) {
		return langchain.NewOllama(cfg), nil
	})
	return factory
}

// buildPipelines constructs every configured pipeline and returns them along
// with the default one.
func buildPipelines(cfg *config.Config) (pipeline.MetaData, map[string]pipeline.MetaData, error) {
	manager := secrets.NewDummyManager(
		cfg.Secrets.DummySecrets, cfg.Secrets.DummyAPIKey, cfg.Secrets.DummyModelID)
	factory := newFactory(manager)

	pipelines := make(map[string]pipeline.MetaData, len(cfg.Pipelines))
	for name, entry := range cfg.Pipelines {
		p, err := factory.Create(entry.Provider, entry)
		if err != nil {
			return nil, nil, fmt.Errorf("building pipeline %s: %w", name, err)
		}
		pipelines[name] = p
	}

	defaultPipeline, ok := pipelines[cfg.General.DefaultPipeline]
	if !ok {
		return nil, nil, fmt.Errorf("default pipeline %s is not configured", cfg.General.DefaultPipeline)
	}
	return defaultPipeline, pipelines, nil
}

func loadValidConfig(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
