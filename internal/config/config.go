package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the transcript gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Transcription provider endpoints
	// BatchProviderURL accepts multipart audio uploads and returns a
	// transcript (optionally diarized into speaker segments).
	// StreamProviderURL is the low-latency streaming relay; chunks are sent
	// continuously over a WebSocket tagged with a session id.
	BatchProviderURL  string `envconfig:"BATCH_PROVIDER_URL" required:"true"`
	StreamProviderURL string `envconfig:"STREAM_PROVIDER_URL" default:""`

	// Analysis and tokenizer services (debate assistant collaborators).
	// When the primary analysis endpoint fails, the fallback is tried; when
	// both are unset and mock mode is allowed, canned responses are served
	// and tagged as such.
	AnalysisURL         string `envconfig:"ANALYSIS_URL" default:""`
	AnalysisFallbackURL string `envconfig:"ANALYSIS_FALLBACK_URL" default:""`
	AnalysisAllowMock   bool   `envconfig:"ANALYSIS_ALLOW_MOCK" default:"false"`
	TokenizerURL        string `envconfig:"TOKENIZER_URL" default:""`

	// Redis live fan-out of transcript events (disabled when empty)
	RedisAddr   string `envconfig:"REDIS_ADDR" default:""`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"transcript:"`

	// Audio capture configuration
	SampleRate      int `envconfig:"SAMPLE_RATE" default:"16000"` // Hz, mono capture
	Channels        int `envconfig:"CHANNELS" default:"1"`
	ChunkIntervalMs int `envconfig:"CHUNK_INTERVAL_MS" default:"250"` // capture chunk emission interval

	// Chunked-upload backend: length of each capture window before the clip
	// is finalized and uploaded.
	RecordingDurationMs int `envconfig:"RECORDING_DURATION_MS" default:"5000"`

	// Streaming backend: cadence at which accumulated chunks are packaged
	// and sent. The capture interval runs at half this value so a chunk is
	// always ready when the sender fires.
	SendCadenceMs int `envconfig:"SEND_CADENCE_MS" default:"1000"`

	// Provider payload guards (bytes)
	MinPayloadBytes int `envconfig:"MIN_PAYLOAD_BYTES" default:"8192"`
	MaxPayloadBytes int `envconfig:"MAX_PAYLOAD_BYTES" default:"20971520"` // 20MB

	// Retry budgets per backend. Exact timing is configurable rather than
	// normative; these are the shipped defaults.
	NativeMaxRetries  int `envconfig:"NATIVE_MAX_RETRIES" default:"3"`
	NativeRetryBaseMs int `envconfig:"NATIVE_RETRY_BASE_MS" default:"300"`
	NativeRestartMs   int `envconfig:"NATIVE_RESTART_MS" default:"100"` // delay after a natural engine end in continuous mode
	StreamMaxRetries  int `envconfig:"STREAM_MAX_RETRIES" default:"2"`
	StreamRetryBaseMs int `envconfig:"STREAM_RETRY_BASE_MS" default:"1000"`
	UploadMaxAttempts int `envconfig:"UPLOAD_MAX_ATTEMPTS" default:"2"`
	UploadRetryBaseMs int `envconfig:"UPLOAD_RETRY_BASE_MS" default:"500"`
	RetryMaxBackoffMs int `envconfig:"RETRY_MAX_BACKOFF_MS" default:"30000"`

	// Circuit breaker guarding provider HTTP calls
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Silence gating for captured clips: clips whose RMS energy stays below
	// this threshold are treated like empty clips and skipped.
	SilenceRMSThreshold float64 `envconfig:"SILENCE_RMS_THRESHOLD" default:"120.0"`

	// Optional YAML profile file overriding backend tuning (see profile.go)
	ProfileFile string `envconfig:"PROFILE_FILE" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the
// environment, then applies the optional YAML profile overlay.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized
// deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ProfileFile != "" {
		if err := cfg.applyProfile(cfg.ProfileFile); err != nil {
			return nil, fmt.Errorf("failed to apply profile %s: %w", cfg.ProfileFile, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BatchProviderURL == "" {
		return fmt.Errorf("BATCH_PROVIDER_URL is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("only mono capture is supported, got %d channels", c.Channels)
	}
	if c.SendCadenceMs < 2*c.ChunkIntervalMs {
		// The streaming backend halves the cadence for its capture interval;
		// a cadence shorter than two chunk intervals starves the sender.
		return fmt.Errorf("SEND_CADENCE_MS (%d) must be at least twice CHUNK_INTERVAL_MS (%d)", c.SendCadenceMs, c.ChunkIntervalMs)
	}
	if c.MinPayloadBytes >= c.MaxPayloadBytes {
		return fmt.Errorf("MIN_PAYLOAD_BYTES must be below MAX_PAYLOAD_BYTES")
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
