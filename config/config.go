// Package config loads client settings from defaults, an optional YAML file,
// an optional .env file and SPEAKSCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultEndpoint = "http://127.0.0.1:8000/predict_audio"

type Config struct {
	Endpoint         string         `yaml:"endpoint"`
	RequestTimeoutMS int            `yaml:"request_timeout_ms"`
	CelebrationMS    int            `yaml:"celebration_ms"`
	LogPath          string         `yaml:"log_path"`
	MetricsBind      string         `yaml:"metrics_bind"`
	TraceFile        string         `yaml:"trace_file"`
	Upload           UploadConfig   `yaml:"upload"`
	Recorder         RecorderConfig `yaml:"recorder"`
}

type UploadConfig struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

type RecorderConfig struct {
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	Format      string `yaml:"format"` // wav or flac
	ArtifactDir string `yaml:"artifact_dir"`
	Device      string `yaml:"device"`
}

func Default() Config {
	return Config{
		Endpoint:         DefaultEndpoint,
		RequestTimeoutMS: 60000,
		CelebrationMS:    5000,
		Upload: UploadConfig{
			MaxBytes:     10 * 1024 * 1024,
			AllowedTypes: []string{"audio/wav", "audio/mpeg"},
		},
		Recorder: RecorderConfig{
			SampleRate: 16000,
			Channels:   1,
			Format:     "wav",
		},
	}
}

// Load builds a Config. path and envFile are optional; a missing default
// .env is ignored, a missing explicit one is an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return cfg, fmt.Errorf("failed to load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return cfg, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Endpoint, "SPEAKSCORE_ENDPOINT")
	overrideInt(&cfg.RequestTimeoutMS, "SPEAKSCORE_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.CelebrationMS, "SPEAKSCORE_CELEBRATION_MS")
	overrideString(&cfg.LogPath, "SPEAKSCORE_LOG_PATH")
	overrideString(&cfg.MetricsBind, "SPEAKSCORE_METRICS_BIND")
	overrideString(&cfg.TraceFile, "SPEAKSCORE_TRACE_FILE")
	overrideInt64(&cfg.Upload.MaxBytes, "SPEAKSCORE_UPLOAD_MAX_BYTES")
	overrideStringSlice(&cfg.Upload.AllowedTypes, "SPEAKSCORE_UPLOAD_ALLOWED_TYPES")
	overrideInt(&cfg.Recorder.SampleRate, "SPEAKSCORE_RECORDER_SAMPLE_RATE")
	overrideInt(&cfg.Recorder.Channels, "SPEAKSCORE_RECORDER_CHANNELS")
	overrideString(&cfg.Recorder.Format, "SPEAKSCORE_RECORDER_FORMAT")
	overrideString(&cfg.Recorder.ArtifactDir, "SPEAKSCORE_RECORDER_ARTIFACT_DIR")
	overrideString(&cfg.Recorder.Device, "SPEAKSCORE_RECORDER_DEVICE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", c.Endpoint)
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("request_timeout_ms must be positive, got %d", c.RequestTimeoutMS)
	}
	if c.CelebrationMS < 0 {
		return fmt.Errorf("celebration_ms must not be negative, got %d", c.CelebrationMS)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}
	return nil
}

func (u *UploadConfig) Validate() error {
	if u.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be positive, got %d", u.MaxBytes)
	}
	if len(u.AllowedTypes) == 0 {
		return errors.New("allowed_types must not be empty")
	}
	return nil
}

func (r *RecorderConfig) Validate() error {
	if r.SampleRate < 8000 || r.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", r.SampleRate)
	}
	if r.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", r.Channels)
	}
	switch strings.ToLower(r.Format) {
	case "wav", "flac":
	default:
		return fmt.Errorf("format must be wav or flac, got %q", r.Format)
	}
	return nil
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c Config) Celebration() time.Duration {
	return time.Duration(c.CelebrationMS) * time.Millisecond
}
