// Package config provides environment-driven configuration for go-panda.
// File-based config loading is out of scope; cmd/panda loads a .env file
// before calling Load, so every knob is a plain environment variable.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults for the orchestration core.
const (
	DefaultPort              = "7860"
	DefaultLogLevel          = "info"
	DefaultBreakerThreshold  = 3
	DefaultBreakerBase       = 5 * time.Second
	DefaultBreakerMax        = 5 * time.Minute
	DefaultObserverQueueCap  = 64
	DefaultWorkerPoolSize    = 8
	DefaultSessionTTL        = 10 * time.Minute
	DefaultTranscribeTimeout = 15 * time.Second
	DefaultRetrieveTimeout   = 3 * time.Second
	DefaultGenerateTimeout   = 60 * time.Second
	DefaultSynthesizeTimeout = 30 * time.Second
)

// Defaults for the local collaborator services.
const (
	DefaultModelBaseURL = "http://localhost:11434/v1"
	DefaultModelName    = "llama3.2"
	DefaultSTTBaseURL   = "http://localhost:8001"
	DefaultTTSBaseURL   = "http://localhost:8002"
	DefaultVoice        = "af_heart"
)

// ModelConfig holds connection settings for the streaming language model
// (any OpenAI-compatible chat completions endpoint).
type ModelConfig struct {
	BaseURL string
	APIKey  string
	Name    string
}

// SpeechConfig holds endpoints for the STT and TTS sidecar services.
type SpeechConfig struct {
	STTBaseURL string
	TTSBaseURL string
	Voice      string
}

// AgentConfig holds connection settings for one remote agent.
type AgentConfig struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// StageTimeouts holds the per-stage deadlines for pipeline execution.
type StageTimeouts struct {
	Transcribe time.Duration
	Retrieve   time.Duration
	Generate   time.Duration
	Synthesize time.Duration
}

// Config is the full configuration for the orchestration core.
type Config struct {
	Port     string
	LogLevel string

	// Circuit breaker tuning (shared by all agents).
	BreakerThreshold int
	BreakerBase      time.Duration
	BreakerMax       time.Duration

	// Broadcast bus.
	ObserverQueueCap int

	// Session orchestrator.
	WorkerPoolSize int
	SessionTTL     time.Duration

	Stages StageTimeouts

	Model  ModelConfig
	Speech SpeechConfig

	// Remote agents. An agent with an empty BaseURL is not registered.
	Agents []AgentConfig
}

// Load reads configuration from the environment with defaults.
func Load() Config {
	return Config{
		Port:     envStr("PANDA_PORT", DefaultPort),
		LogLevel: envStr("PANDA_LOG_LEVEL", DefaultLogLevel),

		BreakerThreshold: envInt("PANDA_BREAKER_THRESHOLD", DefaultBreakerThreshold),
		BreakerBase:      envDuration("PANDA_BREAKER_BASE", DefaultBreakerBase),
		BreakerMax:       envDuration("PANDA_BREAKER_MAX", DefaultBreakerMax),

		ObserverQueueCap: envInt("PANDA_OBSERVER_QUEUE_CAP", DefaultObserverQueueCap),

		WorkerPoolSize: envInt("PANDA_WORKER_POOL_SIZE", DefaultWorkerPoolSize),
		SessionTTL:     envDuration("PANDA_SESSION_TTL", DefaultSessionTTL),

		Stages: StageTimeouts{
			Transcribe: envDuration("PANDA_TRANSCRIBE_TIMEOUT", DefaultTranscribeTimeout),
			Retrieve:   envDuration("PANDA_RETRIEVE_TIMEOUT", DefaultRetrieveTimeout),
			Generate:   envDuration("PANDA_GENERATE_TIMEOUT", DefaultGenerateTimeout),
			Synthesize: envDuration("PANDA_SYNTHESIZE_TIMEOUT", DefaultSynthesizeTimeout),
		},

		Model: ModelConfig{
			BaseURL: envStr("PANDA_MODEL_BASE_URL", DefaultModelBaseURL),
			APIKey:  envStr("PANDA_MODEL_API_KEY", ""),
			Name:    envStr("PANDA_MODEL_NAME", DefaultModelName),
		},

		Speech: SpeechConfig{
			STTBaseURL: envStr("PANDA_STT_BASE_URL", DefaultSTTBaseURL),
			TTSBaseURL: envStr("PANDA_TTS_BASE_URL", DefaultTTSBaseURL),
			Voice:      envStr("PANDA_VOICE", DefaultVoice),
		},

		Agents: []AgentConfig{
			{Name: "scott", BaseURL: envStr("PANDA_SCOTT_BASE_URL", ""), Timeout: envDuration("PANDA_SCOTT_TIMEOUT", 8*time.Second)},
			{Name: "penny", BaseURL: envStr("PANDA_PENNY_BASE_URL", ""), Timeout: envDuration("PANDA_PENNY_TIMEOUT", 20*time.Second)},
			{Name: "sensei", BaseURL: envStr("PANDA_SENSEI_BASE_URL", ""), Timeout: envDuration("PANDA_SENSEI_TIMEOUT", 30*time.Second)},
			{Name: "echo", BaseURL: envStr("PANDA_ECHO_BASE_URL", ""), Timeout: envDuration("PANDA_ECHO_TIMEOUT", 8*time.Second)},
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
