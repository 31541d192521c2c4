package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir   string `json:"dataDir"`
	HTTPAddr  string `json:"httpAddr"`
	FsyncMode string `json:"fsyncMode"` // always | interval | never

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // json | text

	Queue        QueueDefaults `json:"queue"`
	LLM          LLMConfig     `json:"llm"`
	Conversation Conversation  `json:"conversation"`
}

// QueueDefaults captures per-queue baseline behavior.
type QueueDefaults struct {
	Concurrency   int           `json:"concurrency"`
	MaxAttempts   int           `json:"maxAttempts"`
	BackoffBase   time.Duration `json:"backoffBase"`
	BackoffCap    time.Duration `json:"backoffCap"`
	LeaseDuration time.Duration `json:"leaseDuration"`
	SweepInterval time.Duration `json:"sweepInterval"`
	PollInterval  time.Duration `json:"pollInterval"`
}

// LLMConfig holds the language-model collaborator settings.
type LLMConfig struct {
	BaseURL        string `json:"baseURL"`
	APIKey         string `json:"-"`
	ChatModel      string `json:"chatModel"`
	EmbeddingModel string `json:"embeddingModel"`
}

// Conversation holds orchestrator context lifecycle settings.
type Conversation struct {
	IdleTTL       time.Duration `json:"idleTTL"`
	EvictInterval time.Duration `json:"evictInterval"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:   DefaultDataDir(),
		HTTPAddr:  ":8080",
		FsyncMode: "always",
		LogLevel:  "info",
		LogFormat: "json",
		Queue: QueueDefaults{
			Concurrency:   3,
			MaxAttempts:   3,
			BackoffBase:   200 * time.Millisecond,
			BackoffCap:    30 * time.Second,
			LeaseDuration: 30 * time.Second,
			SweepInterval: time.Second,
			PollInterval:  100 * time.Millisecond,
		},
		LLM: LLMConfig{
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Conversation: Conversation{
			IdleTTL:       30 * time.Minute,
			EvictInterval: time.Minute,
		},
	}
}

// Load reads configuration from a JSON file and overlays environment
// variables. An empty path returns defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot start with.
func (c Config) Validate() error {
	switch c.FsyncMode {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("invalid fsyncMode %q", c.FsyncMode)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue concurrency must be >= 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue maxAttempts must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	return nil
}
