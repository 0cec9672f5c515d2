package provider

import (
	"fmt"

	"go.uber.org/zap"

	"dnswatch/internal/config"
	"dnswatch/internal/domain"
)

// Constructor builds an endpoint provider from its configuration.
type Constructor func(name string, ec config.EndpointConfig, pc config.ProviderConfig, logger *zap.Logger) (domain.Provider, error)

// Factory builds the decision service chain from config.
type Factory struct {
	cfg          config.ProviderConfig
	retry        *Retrier
	logger       *zap.Logger
	constructors map[string]Constructor
}

// NewFactory creates a factory with the built-in endpoints registered. Every
// endpoint it builds shares retrier.
func NewFactory(cfg config.ProviderConfig, retrier *Retrier, logger *zap.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		retry:        retrier,
		logger:       logger,
		constructors: make(map[string]Constructor),
	}
	f.constructors["openai"] = newOpenAIEndpoint
	f.constructors["ollama"] = newOpenAIEndpoint
	return f
}

// RegisterConstructor adds or replaces an endpoint constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.constructors[name] = ctor
}

func (f *Factory) endpoint(name string) config.EndpointConfig {
	switch name {
	case "openai":
		return f.cfg.OpenAI
	case "ollama":
		return f.cfg.Ollama
	}
	return config.EndpointConfig{}
}

// Build returns the default endpoint followed by the failover endpoints,
// each wrapped in the shared retrier. A single endpoint is returned as is.
func (f *Factory) Build() (domain.Provider, error) {
	names := []string{f.cfg.Default}
	seen := map[string]bool{f.cfg.Default: true}
	for _, n := range f.cfg.Failover {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	chain := make([]domain.Provider, 0, len(names))
	for _, name := range names {
		ctor, ok := f.constructors[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
		p, err := ctor(name, f.endpoint(name), f.cfg, f.logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		chain = append(chain, WithRetry(p, f.retry))
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return NewFailover(chain, f.logger), nil
}

func newOpenAIEndpoint(name string, ec config.EndpointConfig, pc config.ProviderConfig, logger *zap.Logger) (domain.Provider, error) {
	if name == "openai" && ec.APIKey == "" {
		return nil, fmt.Errorf("provider.%s.api_key is required", name)
	}
	if ec.Model == "" {
		return nil, fmt.Errorf("provider.%s.model is required", name)
	}
	return NewOpenAI(OpenAIConfig{
		Name:    name,
		APIKey:  ec.APIKey,
		BaseURL: ec.BaseURL,
		Model:   ec.Model,
		Timeout: pc.RequestTimeout,
	}, logger), nil
}

// NewRetrierFromConfig maps the retry section onto a RetryPolicy.
func NewRetrierFromConfig(rc config.RetryConfig, logger *zap.Logger) *Retrier {
	return NewRetrier(RetryPolicy{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: rc.InitialDelay,
		Factor:       rc.Factor,
		MaxDelay:     rc.MaxDelay,
	}, logger)
}
