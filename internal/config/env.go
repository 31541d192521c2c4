package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays IBRAIN_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	setString("IBRAIN_DATA_DIR", &cfg.DataDir)
	setString("IBRAIN_HTTP_ADDR", &cfg.HTTPAddr)
	setString("IBRAIN_FSYNC_MODE", &cfg.FsyncMode)
	setString("IBRAIN_LOG_LEVEL", &cfg.LogLevel)
	setString("IBRAIN_LOG_FORMAT", &cfg.LogFormat)

	setInt("IBRAIN_QUEUE_CONCURRENCY", &cfg.Queue.Concurrency)
	setInt("IBRAIN_QUEUE_MAX_ATTEMPTS", &cfg.Queue.MaxAttempts)
	setDuration("IBRAIN_QUEUE_BACKOFF_BASE", &cfg.Queue.BackoffBase)
	setDuration("IBRAIN_QUEUE_BACKOFF_CAP", &cfg.Queue.BackoffCap)
	setDuration("IBRAIN_QUEUE_LEASE_DURATION", &cfg.Queue.LeaseDuration)
	setDuration("IBRAIN_QUEUE_SWEEP_INTERVAL", &cfg.Queue.SweepInterval)
	setDuration("IBRAIN_QUEUE_POLL_INTERVAL", &cfg.Queue.PollInterval)

	setString("IBRAIN_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("IBRAIN_LLM_API_KEY", &cfg.LLM.APIKey)
	setString("IBRAIN_LLM_CHAT_MODEL", &cfg.LLM.ChatModel)
	setString("IBRAIN_LLM_EMBEDDING_MODEL", &cfg.LLM.EmbeddingModel)
	// OPENAI_API_KEY works as a fallback for the common case.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	setDuration("IBRAIN_CONVERSATION_IDLE_TTL", &cfg.Conversation.IdleTTL)
	setDuration("IBRAIN_CONVERSATION_EVICT_INTERVAL", &cfg.Conversation.EvictInterval)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
