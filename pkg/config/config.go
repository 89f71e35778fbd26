// Package config builds the single immutable worker configuration from
// defaults, an optional YAML file and the process environment. No other
// package reads the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds accepted by BackendConfig.Kind.
const (
	BackendServer   = "server"
	BackendLlamaCpp = "llamacpp"
)

// DefaultEndpoint is the Hugging Face Hub base URL.
const DefaultEndpoint = "https://huggingface.co"

// TokenEnvVars lists the environment variables consulted for a hub token, in
// priority order.
var TokenEnvVars = []string{"HUGGINGFACE_TOKEN", "HF_TOKEN", "HUGGINGFACEHUB_TOKEN", "HF_ACCESS_TOKEN"}

// TokenFiles lists the token cache files consulted after TokenEnvVars,
// relative to the home directory, in priority order.
var TokenFiles = []string{
	filepath.Join(".huggingface", "token"),
	filepath.Join(".cache", "huggingface", "token"),
	filepath.Join(".config", "huggingface", "token"),
}

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config is the top-level worker configuration.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Generation GenerationConfig `yaml:"generation"`
	Backend    BackendConfig    `yaml:"backend"`
	Hub        HubConfig        `yaml:"hub"`
	LogLevel   string           `yaml:"log_level"`
}

// ModelConfig holds the model artifact overrides and cache location.
type ModelConfig struct {
	Path              string `yaml:"path"`       // Direct file path, used as-is when it exists.
	Dir               string `yaml:"dir"`        // Cache directory for downloaded artifacts.
	URL               string `yaml:"url"`        // Direct download URL.
	File              string `yaml:"file"`       // File name expected in Dir; never fetched.
	Repository        string `yaml:"repository"` // Single repository to search instead of the built-in list.
	AllowNonQuantized bool   `yaml:"allow_non_quantized"`
}

// GenerationConfig holds the model load parameters.
type GenerationConfig struct {
	ContextLength int `yaml:"context_length"`
	Threads       int `yaml:"threads"`
	GPULayers     int `yaml:"gpu_layers"`
}

// BackendConfig selects and tunes the generation backend.
type BackendConfig struct {
	Kind         string        `yaml:"kind"`
	ServerBinary string        `yaml:"server_binary"`
	LoadTimeout  time.Duration `yaml:"load_timeout"`
}

// HubConfig holds the model hub endpoint and credentials.
type HubConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"-"` //nolint:gosec // resolved from the environment, never from YAML
}

// Default returns the configuration used when nothing is overridden. home is
// the user's home directory and may be empty.
func Default(home string) Config {
	return Config{
		Model: ModelConfig{
			Dir: defaultModelDir(home),
		},
		Generation: GenerationConfig{
			ContextLength: 4096,
			Threads:       max(1, runtime.NumCPU()-1),
		},
		Backend: BackendConfig{
			Kind:         BackendServer,
			ServerBinary: "llama-server",
			LoadTimeout:  5 * time.Minute,
		},
		Hub: HubConfig{
			Endpoint: DefaultEndpoint,
		},
		LogLevel: "info",
	}
}

// defaultModelDir mirrors os.UserConfigDir without touching the environment.
func defaultModelDir(home string) string {
	if home == "" {
		return filepath.Join("ocr-screenshot", "danube", "models")
	}

	base := filepath.Join(home, ".config")
	if runtime.GOOS == "darwin" {
		base = filepath.Join(home, "Library", "Application Support")
	}

	return filepath.Join(base, "ocr-screenshot", "danube", "models")
}

// Load builds the configuration. Values from the YAML file at path (skipped
// when path is empty) override the defaults; environment variables override
// both. References such as ${VAR} in the YAML are expanded through lookup
// before parsing.
func Load(path string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	home := homeDir(lookup)
	cfg := Default(home)

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration
		if err != nil {
			return Config{}, fmt.Errorf("config: load: %w", err)
		}

		expanded := os.Expand(string(data), func(key string) string {
			v, _ := lookup(key)
			return v
		})

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	cfg.Hub.Token = discoverToken(lookup, home)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func homeDir(lookup LookupFunc) string {
	if h, ok := lookup("HOME"); ok && h != "" {
		return h
	}

	if h, ok := lookup("USERPROFILE"); ok && h != "" {
		return h
	}

	return ""
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("DANUBE_MODEL_PATH", &cfg.Model.Path)
	str("DANUBE_MODEL_DIR", &cfg.Model.Dir)
	str("DANUBE_MODEL_URL", &cfg.Model.URL)
	str("DANUBE_MODEL_FILE", &cfg.Model.File)
	str("DANUBE_MODEL_REPO", &cfg.Model.Repository)
	str("DANUBE_BACKEND", &cfg.Backend.Kind)
	str("DANUBE_LLAMA_SERVER", &cfg.Backend.ServerBinary)
	str("DANUBE_HF_ENDPOINT", &cfg.Hub.Endpoint)
	str("DANUBE_LOG_LEVEL", &cfg.LogLevel)

	// Only an explicit "0" (or absence) keeps the quantized-only rule.
	if v, ok := lookup("DANUBE_ALLOW_NON_Q4"); ok && v != "" {
		cfg.Model.AllowNonQuantized = v != "0"
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DANUBE_N_CTX", &cfg.Generation.ContextLength},
		{"DANUBE_N_THREADS", &cfg.Generation.Threads},
		{"DANUBE_GPU_LAYERS", &cfg.Generation.GPULayers},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", e.key, err)
		}

		*e.dst = n
	}

	if v, ok := lookup("DANUBE_LOAD_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: DANUBE_LOAD_TIMEOUT: %w", err)
		}

		cfg.Backend.LoadTimeout = d
	}

	return nil
}

// discoverToken returns the first non-empty token from TokenEnvVars, then from
// TokenFiles under home. Unreadable files are skipped.
func discoverToken(lookup LookupFunc, home string) string {
	for _, key := range TokenEnvVars {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	if home == "" {
		return ""
	}

	for _, rel := range TokenFiles {
		data, err := os.ReadFile(filepath.Join(home, rel)) //nolint:gosec // well-known token cache locations
		if err != nil {
			continue
		}

		if v := strings.TrimSpace(string(data)); v != "" {
			return v
		}
	}

	return ""
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Model.Dir == "" {
		return fmt.Errorf("config: model dir is required")
	}

	if c.Generation.ContextLength < 256 {
		return fmt.Errorf("config: context length %d is below the minimum of 256", c.Generation.ContextLength)
	}

	if c.Generation.Threads < 1 {
		return fmt.Errorf("config: thread count must be at least 1, got %d", c.Generation.Threads)
	}

	if c.Generation.GPULayers < 0 {
		return fmt.Errorf("config: gpu layers must not be negative, got %d", c.Generation.GPULayers)
	}

	switch c.Backend.Kind {
	case BackendServer:
		if c.Backend.ServerBinary == "" {
			return fmt.Errorf("config: backend %q: server binary is required", c.Backend.Kind)
		}
	case BackendLlamaCpp:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend.Kind)
	}

	if c.Backend.LoadTimeout <= 0 {
		return fmt.Errorf("config: load timeout must be positive")
	}

	u, err := url.Parse(c.Hub.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: hub endpoint %q is not an absolute http(s) URL", c.Hub.Endpoint)
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}

	return lvl, nil
}
