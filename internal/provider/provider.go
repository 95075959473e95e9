package provider

import (
	"fmt"

	"github.com/eqho10/eqho-aios/internal/config"
	"go.uber.org/zap"
)

// New builds the backend selected by cfg.LLM.Provider. Credentials are
// resolved through cfg, so a missing API key fails here before any agent
// runs.
func New(cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		key, err := cfg.Secret(cfg.LLM.APIKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("anthropic backend: %w", err)
		}
		b, err := NewAnthropicBackend(AnthropicConfig{
			Endpoint:    cfg.LLM.Endpoint,
			APIKey:      key,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.ProviderClaudeCLI:
		b, err := NewCLIBackend(CLIConfig{
			Command:   cfg.LLM.CLI.Command,
			Args:      cfg.LLM.CLI.Args,
			ModelFlag: cfg.LLM.CLI.ModelFlag,
			Model:     cfg.LLM.Model,
			Timeout:   cfg.LLM.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm.provider %q", config.ErrInvalid, cfg.LLM.Provider)
	}
}
