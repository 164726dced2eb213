// Package config resolves settings from .env, an optional YAML file and the
// process environment, in increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvFileEnvVar    = "ASKSHOT_ENV"
	ConfigFileEnvVar = "ASKSHOT_CONFIG"

	DefaultAPIBaseURL       = "https://askshot.xyz"
	DefaultDBFile           = "askshot.db"
	DefaultInjectRetryDelay = 100
	DefaultCaptureTimeout   = 10
	DefaultRequestTimeout   = 30
	DefaultHotkey           = "Ctrl+Shift+A"

	CaptureSourceChrome  = "chrome"
	CaptureSourceDisplay = "display"
)

type LoadOptions struct {
	EnvPathOverride    string
	ConfigPathOverride string
	DBPathOverride     string
}

type Config struct {
	APIBaseURL        string `yaml:"api_base_url"`
	DBPath            string `yaml:"db_path"`
	ChromeDebugURL    string `yaml:"chrome_debug_url"`
	ChromeHeadless    bool   `yaml:"chrome_headless"`
	CaptureSource     string `yaml:"capture_source"`
	InjectRetryDelay  int    `yaml:"inject_retry_delay_ms"`
	CaptureTimeoutSec int    `yaml:"capture_timeout_sec"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	EnableFileLogging bool   `yaml:"enable_file_logging"`
	Hotkey            string `yaml:"hotkey"`
}

func defaults() *Config {
	return &Config{
		APIBaseURL:        DefaultAPIBaseURL,
		DBPath:            defaultDBPath(),
		CaptureSource:     CaptureSourceChrome,
		InjectRetryDelay:  DefaultInjectRetryDelay,
		CaptureTimeoutSec: DefaultCaptureTimeout,
		RequestTimeoutSec: DefaultRequestTimeout,
		Hotkey:            DefaultHotkey,
	}
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources, lowest priority first:
	// 1) built-in defaults
	// 2) YAML file from ASKSHOT_CONFIG (or the override)
	// 3) .env next to the executable, else ASKSHOT_ENV; never overrides the real environment
	// 4) the process environment
	cfg := defaults()

	if envPath := resolveEnvPath(opts.EnvPathOverride); envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
	}

	if path := firstNonEmpty(opts.ConfigPathOverride, os.Getenv(ConfigFileEnvVar)); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if p := strings.TrimSpace(opts.DBPathOverride); p != "" {
		cfg.DBPath = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}
	switch c.CaptureSource {
	case CaptureSourceChrome, CaptureSourceDisplay:
	default:
		return fmt.Errorf("CAPTURE_SOURCE must be %q or %q, got %q", CaptureSourceChrome, CaptureSourceDisplay, c.CaptureSource)
	}
	if c.InjectRetryDelay <= 0 {
		c.InjectRetryDelay = DefaultInjectRetryDelay
	}
	if c.CaptureTimeoutSec <= 0 {
		c.CaptureTimeoutSec = DefaultCaptureTimeout
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = DefaultRequestTimeout
	}
	return nil
}

func (c *Config) InjectRetryDelayDuration() time.Duration {
	return time.Duration(c.InjectRetryDelay) * time.Millisecond
}

func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHROME_DEBUG_URL"); v != "" {
		cfg.ChromeDebugURL = v
	}
	if v := os.Getenv("CHROME_HEADLESS"); v != "" {
		cfg.ChromeHeadless = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("CAPTURE_SOURCE"); v != "" {
		cfg.CaptureSource = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("ENABLE_FILE_LOGGING"); v != "" {
		cfg.EnableFileLogging = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("HOTKEY"); v != "" {
		cfg.Hotkey = v
	}
	setInt(&cfg.InjectRetryDelay, "INJECT_RETRY_DELAY_MS")
	setInt(&cfg.CaptureTimeoutSec, "CAPTURE_TIMEOUT_SEC")
	setInt(&cfg.RequestTimeoutSec, "REQUEST_TIMEOUT_SEC")
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func resolveEnvPath(override string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}

	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvFileEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func defaultDBPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "askshot", DefaultDBFile)
	}
	return DefaultDBFile
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
