// Package config loads banditd configuration from defaults, an optional
// YAML file and BANDITD_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/fractal-lba/banditd/internal/pending"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix = "BANDITD_"

	maxConfigFileSize = 1024 * 1024
)

var validate = validator.New()

// Config is the full service configuration
type Config struct {
	Server  ServerConfig   `koanf:"server"`
	Bandit  BanditConfig   `koanf:"bandit"`
	Pending pending.Config `koanf:"pending"`
	Journal JournalConfig  `koanf:"journal"`
	Logging LoggingConfig  `koanf:"logging"`
	Tracing TracingConfig  `koanf:"tracing"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	RateLimit       float64       `koanf:"rate_limit" validate:"gte=0"` // requests/sec, 0 disables
	RateBurst       int           `koanf:"rate_burst" validate:"gte=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	MetricsUser     string        `koanf:"metrics_user"`
	MetricsPassword string        `koanf:"metrics_password"`
}

type BanditConfig struct {
	ContextDimension  int      `koanf:"context_dimension" validate:"gte=1,lte=1024"`
	NumActions        int      `koanf:"num_actions" validate:"gte=1,lte=1024"`
	Domains           []string `koanf:"domains" validate:"min=1,dive,required"`
	DefaultAlgorithm  string   `koanf:"default_algorithm" validate:"oneof=doubly_robust offset_tree"`
	DoublyRobustAlpha float64  `koanf:"doubly_robust_alpha" validate:"gt=0"`
	LearningRate      float64  `koanf:"learning_rate" validate:"gt=0,lte=1"`
	MaxTreeDepth      int      `koanf:"max_tree_depth" validate:"gte=1,lte=32"`
	MinSamples        int      `koanf:"min_samples" validate:"gte=1"`
	Seed              uint64   `koanf:"seed"`
}

type JournalConfig struct {
	Dir    string `koanf:"dir"`
	Replay bool   `koanf:"replay"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint" validate:"required_if=Enabled true"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	ServiceName  string  `koanf:"service_name"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	oc := orchestrator.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       1000,
			RateBurst:       2000,
			MaxBodyBytes:    1 << 20,
		},
		Bandit: BanditConfig{
			ContextDimension:  oc.ContextDimension,
			NumActions:        oc.NumActions,
			Domains:           oc.Domains,
			DefaultAlgorithm:  oc.DefaultAlgorithm.String(),
			DoublyRobustAlpha: oc.DoublyRobustAlpha,
			LearningRate:      oc.LearningRate,
			MaxTreeDepth:      oc.MaxTreeDepth,
			MinSamples:        oc.MinSamples,
		},
		Pending: pending.DefaultConfig(),
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{
			Endpoint:     "localhost:4317",
			Insecure:     true,
			SamplingRate: 0.1,
			ServiceName:  "banditd",
		},
	}
}

// Load reads path (if non-empty) then the environment on top of Default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// BANDITD_BANDIT_NUM_ACTIONS -> bandit.num_actions
	provider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		trimmed := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return trimmed, value
		}
		name := parts[0] + "." + parts[1]
		if name == "bandit.domains" {
			return name, splitList(value)
		}
		return name, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := api.ParseAlgorithm(c.Bandit.DefaultAlgorithm); err != nil {
		return err
	}
	if c.Server.MetricsUser != "" && c.Server.MetricsPassword == "" {
		return fmt.Errorf("server.metrics_password is required when server.metrics_user is set")
	}
	return nil
}

// Orchestrator converts the bandit section into orchestrator settings
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		ContextDimension:  c.Bandit.ContextDimension,
		NumActions:        c.Bandit.NumActions,
		Domains:           c.Bandit.Domains,
		DefaultAlgorithm:  api.Algorithm(c.Bandit.DefaultAlgorithm),
		DoublyRobustAlpha: c.Bandit.DoublyRobustAlpha,
		LearningRate:      c.Bandit.LearningRate,
		MaxTreeDepth:      c.Bandit.MaxTreeDepth,
		MinSamples:        c.Bandit.MinSamples,
		Seed:              c.Bandit.Seed,
	}
}
