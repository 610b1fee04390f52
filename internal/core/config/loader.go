package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/advisor"
	"github.com/vietddude/inframate/internal/resilience/recovery"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands environment variables and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	def := recovery.DefaultConfig()
	if c.Recovery.BaseDelay == 0 {
		c.Recovery.BaseDelay = def.BaseDelay
	}
	if c.Recovery.BackoffFactor == 0 {
		c.Recovery.BackoffFactor = def.BackoffFactor
	}
	if c.Recovery.MaxDelay == 0 {
		c.Recovery.MaxDelay = def.MaxDelay
	}
	if c.Recovery.LoopWindow == 0 {
		c.Recovery.LoopWindow = def.LoopWindow
	}
	if c.Recovery.LoopThreshold == 0 {
		c.Recovery.LoopThreshold = def.LoopThreshold
	}

	if c.Advisor.Provider == "" {
		c.Advisor.Provider = advisor.ProviderBasic
	}
	if c.Advisor.Timeout == 0 {
		c.Advisor.Timeout = recovery.DefaultAdvisorTimeout
	}
	if c.Advisor.APIKey == "" {
		// Same variables the CI pipeline exports
		c.Advisor.APIKey = firstEnv("INFRAMATE_AI_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY")
	}

	if c.History.Backend == "" {
		c.History.Backend = BackendMemory
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = 1024
	}
	if c.History.BatchSize == 0 {
		c.History.BatchSize = 50
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = 2 * time.Second
	}
	if c.History.FlushTimeout == 0 {
		c.History.FlushTimeout = 10 * time.Second
	}

	if c.Workflow.Name == "" {
		c.Workflow.Name = "inframate"
	}
	if c.Workflow.ResultsFile == "" {
		c.Workflow.ResultsFile = "workflow_results.json"
	}
}

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	for name, n := range c.Recovery.MaxRetries {
		sev, err := domain.ParseSeverity(name)
		if err != nil || !sev.Valid() {
			add("recovery.max_retries: unknown severity %q", name)
		}
		if n < 0 {
			add("recovery.max_retries.%s must not be negative", name)
		}
	}
	if c.Recovery.BaseDelay < 0 || c.Recovery.MaxDelay < 0 {
		add("recovery delays must not be negative")
	}
	if c.Recovery.MaxDelay > 0 && c.Recovery.BaseDelay > c.Recovery.MaxDelay {
		add("recovery.base_delay %s exceeds max_delay %s", c.Recovery.BaseDelay, c.Recovery.MaxDelay)
	}
	if c.Recovery.BackoffFactor < 1 {
		add("recovery.backoff_factor %.2f must be >= 1", c.Recovery.BackoffFactor)
	}
	if c.Recovery.LoopThreshold < -1 {
		add("recovery.loop_threshold %d must be -1 or positive", c.Recovery.LoopThreshold)
	}

	switch c.Advisor.Provider {
	case advisor.ProviderOpenAI, advisor.ProviderBasic, advisor.ProviderNone:
	default:
		add("advisor.provider %q must be openai, basic or none", c.Advisor.Provider)
	}

	switch c.History.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			add("history.backend postgres requires database.url")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			add("history.backend redis requires redis.url")
		}
	default:
		add("history.backend %q must be memory, postgres or redis", c.History.Backend)
	}

	seen := make(map[string]bool)
	for i, p := range c.Workflow.Phases {
		if p.Name == "" {
			add("workflow.phases[%d] has no name", i)
		}
		if seen[p.Name] {
			add("workflow phase %q defined twice", p.Name)
		}
		seen[p.Name] = true
		if len(p.Command) == 0 {
			add("workflow phase %q has no command", p.Name)
		}
	}

	return errors.Join(errs...)
}

// RecoveryConfig converts the recovery section for the supervisor.
func (c *AppConfig) RecoveryConfig() recovery.Config {
	cfg := recovery.DefaultConfig()
	for name, n := range c.Recovery.MaxRetries {
		if sev, err := domain.ParseSeverity(name); err == nil && sev.Valid() {
			cfg.MaxRetries[sev] = n
		}
	}
	cfg.BaseDelay = c.Recovery.BaseDelay
	cfg.BackoffFactor = c.Recovery.BackoffFactor
	cfg.MaxDelay = c.Recovery.MaxDelay
	cfg.LoopWindow = c.Recovery.LoopWindow
	cfg.LoopThreshold = max(c.Recovery.LoopThreshold, 0)
	return cfg
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
