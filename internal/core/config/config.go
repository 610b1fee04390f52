package config

import (
	"time"

	"github.com/vietddude/inframate/internal/infra/advisor"
	redisclient "github.com/vietddude/inframate/internal/infra/redis"
	"github.com/vietddude/inframate/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Recovery RecoveryConfig     `yaml:"recovery"`
	Advisor  advisor.Config     `yaml:"advisor"`
	History  HistoryConfig      `yaml:"history"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Workflow WorkflowConfig     `yaml:"workflow"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RecoveryConfig holds retry budgets, backoff and loop detection settings.
type RecoveryConfig struct {
	// MaxRetries is keyed by severity name: low, medium, high, critical.
	MaxRetries    map[string]int `yaml:"max_retries"`
	BaseDelay     time.Duration  `yaml:"base_delay"`
	BackoffFactor float64        `yaml:"backoff_factor"`
	MaxDelay      time.Duration  `yaml:"max_delay"`
	LoopWindow    time.Duration  `yaml:"loop_window"`
	LoopThreshold int            `yaml:"loop_threshold"` // -1 disables loop detection
}

// History backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// HistoryConfig controls where recovery attempts are archived.
type HistoryConfig struct {
	Backend       string        `yaml:"backend"`   // memory, postgres, redis
	Retention     time.Duration `yaml:"retention"` // 0 = keep forever
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
}

// WorkflowConfig describes the phases run by `inframate run`.
type WorkflowConfig struct {
	Name        string        `yaml:"name"`
	Phases      []PhaseConfig `yaml:"phases"`
	Autonomous  bool          `yaml:"autonomous"` // keep going after unrecovered failures
	Parallel    bool          `yaml:"parallel"`
	ResultsFile string        `yaml:"results_file"`
}

// PhaseConfig is one workflow phase backed by an external command.
type PhaseConfig struct {
	Name    string        `yaml:"name"`
	Command []string      `yaml:"command"`
	Dir     string        `yaml:"dir"`
	Env     []string      `yaml:"env"`
	Timeout time.Duration `yaml:"timeout"`
}
