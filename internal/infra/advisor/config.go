package advisor

import (
	"fmt"
	"log/slog"
	"time"
)

// Providers understood by New.
const (
	ProviderOpenAI = "openai"
	ProviderBasic  = "basic"
	ProviderNone   = "none"
)

// Config selects and tunes the advisor.
type Config struct {
	Provider      string        `yaml:"provider"` // openai, basic, none
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	Temperature   float32       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	RatePerMinute int           `yaml:"rate_per_minute"` // 0 = unlimited
	Burst         int           `yaml:"burst"`
	// FallbackBasic answers with the rule-based advisor when the model fails.
	FallbackBasic bool `yaml:"fallback_basic"`
}

// New builds the advisor described by cfg.
func New(cfg Config) (Advisor, error) {
	switch cfg.Provider {
	case ProviderNone:
		return Nop{}, nil
	case "", ProviderBasic:
		return Basic{}, nil
	case ProviderOpenAI:
		model, err := NewOpenAI(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			if cfg.FallbackBasic {
				slog.Warn("AI advisor unavailable, using basic analysis", "error", err)
				return Basic{}, nil
			}
			return nil, fmt.Errorf("failed to create openai advisor: %w", err)
		}

		var adv Advisor = NewLimited(model, cfg.RatePerMinute, cfg.Burst, WithCallTimeout(cfg.Timeout))
		if cfg.FallbackBasic {
			adv = Fallback{Primary: adv, Secondary: Basic{}}
		}
		return adv, nil
	}
	return nil, fmt.Errorf("unknown advisor provider %q", cfg.Provider)
}
