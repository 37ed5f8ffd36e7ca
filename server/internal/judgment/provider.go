package judgment

import (
	"fmt"

	"github.com/aeroledger/aeroledger/server/internal/config"
)

// NewLLM builds the transport named by cfg.Provider.
func NewLLM(cfg config.JudgmentConfig) (LLM, error) {
	key := cfg.APIKey()
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(key, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
	case "anthropic":
		return NewAnthropic(key, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
	}
	return nil, fmt.Errorf("judgment: unknown provider %q", cfg.Provider)
}
