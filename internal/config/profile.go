package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is an optional YAML overlay for backend tuning. Operators keep one
// profile per venue (lecture hall vs. small meeting room) and point
// PROFILE_FILE at it; anything left zero keeps the env-derived value.
type Profile struct {
	Capture struct {
		ChunkIntervalMs     int     `yaml:"chunk_interval_ms"`
		SilenceRMSThreshold float64 `yaml:"silence_rms_threshold"`
	} `yaml:"capture"`
	Chunked struct {
		RecordingDurationMs int `yaml:"recording_duration_ms"`
		UploadMaxAttempts   int `yaml:"upload_max_attempts"`
		UploadRetryBaseMs   int `yaml:"upload_retry_base_ms"`
	} `yaml:"chunked"`
	Streaming struct {
		SendCadenceMs     int `yaml:"send_cadence_ms"`
		StreamMaxRetries  int `yaml:"stream_max_retries"`
		StreamRetryBaseMs int `yaml:"stream_retry_base_ms"`
	} `yaml:"streaming"`
	Native struct {
		NativeMaxRetries  int `yaml:"native_max_retries"`
		NativeRetryBaseMs int `yaml:"native_retry_base_ms"`
		NativeRestartMs   int `yaml:"native_restart_ms"`
	} `yaml:"native"`
}

func (c *Config) applyProfile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var p Profile
	if err := yaml.NewDecoder(file).Decode(&p); err != nil {
		return err
	}

	if p.Capture.ChunkIntervalMs > 0 {
		c.ChunkIntervalMs = p.Capture.ChunkIntervalMs
	}
	if p.Capture.SilenceRMSThreshold > 0 {
		c.SilenceRMSThreshold = p.Capture.SilenceRMSThreshold
	}
	if p.Chunked.RecordingDurationMs > 0 {
		c.RecordingDurationMs = p.Chunked.RecordingDurationMs
	}
	if p.Chunked.UploadMaxAttempts > 0 {
		c.UploadMaxAttempts = p.Chunked.UploadMaxAttempts
	}
	if p.Chunked.UploadRetryBaseMs > 0 {
		c.UploadRetryBaseMs = p.Chunked.UploadRetryBaseMs
	}
	if p.Streaming.SendCadenceMs > 0 {
		c.SendCadenceMs = p.Streaming.SendCadenceMs
	}
	if p.Streaming.StreamMaxRetries > 0 {
		c.StreamMaxRetries = p.Streaming.StreamMaxRetries
	}
	if p.Streaming.StreamRetryBaseMs > 0 {
		c.StreamRetryBaseMs = p.Streaming.StreamRetryBaseMs
	}
	if p.Native.NativeMaxRetries > 0 {
		c.NativeMaxRetries = p.Native.NativeMaxRetries
	}
	if p.Native.NativeRetryBaseMs > 0 {
		c.NativeRetryBaseMs = p.Native.NativeRetryBaseMs
	}
	if p.Native.NativeRestartMs > 0 {
		c.NativeRestartMs = p.Native.NativeRestartMs
	}
	return nil
}
