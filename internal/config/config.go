package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for porter.
type Config struct {
	Logging         LoggingConfig         `yaml:"logging"`
	Source          SourceConfig          `yaml:"source"`
	Sink            SinkConfig            `yaml:"sink"`
	Store           StoreConfig           `yaml:"store"`
	Crossposting    CrosspostingConfig    `yaml:"crossposting"`
	Crosscommenting CrosscommentingConfig `yaml:"crosscommenting"`
	Resync          ResyncConfig          `yaml:"resync"`
	Metrics         MetricsConfig         `yaml:"metrics"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // "debug" | "info" | "warn" | "error"
	File  string `yaml:"file,omitempty"`
}

// SourceConfig points at the VK community whose wall is mirrored.
type SourceConfig struct {
	Token   string `yaml:"token"`
	GroupID int64  `yaml:"groupId"`
	BaseURL string `yaml:"baseUrl,omitempty"`
	// LongPollWait is the long-poll hold time in seconds, 1..90.
	LongPollWait int `yaml:"longPollWait,omitempty"`
}

// SinkConfig points at the Telegram channel and its linked discussion group.
type SinkConfig struct {
	Token     string `yaml:"token"`
	ChannelID int64  `yaml:"channelId"`
	ChatID    int64  `yaml:"chatId,omitempty"`
}

type StoreConfig struct {
	DBPath string `yaml:"dbPath"`
}

type CrosspostingConfig struct {
	Enabled       bool `yaml:"enabled"`
	IgnoreReposts bool `yaml:"ignoreReposts"`
	IgnorePolls   bool `yaml:"ignorePolls"`
}

type CrosscommentingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ResyncConfig schedules the periodic sweep that flags mirrored posts whose
// source has disappeared. Schedule is standard cron syntax.
type ResyncConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Depth    int    `yaml:"depth"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.porter).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".porter"
	}
	return filepath.Join(home, ".porter")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "porter.yaml")
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets tokens come from the environment so the config file
// can be shared without secrets.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VK_TOKEN"); v != "" {
		cfg.Source.Token = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Sink.Token = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. A failure here is fatal
// at startup: running with a broken setup would silently lose events.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Source.Token == "" {
		errs = append(errs, "source.token is required")
	}
	if cfg.Source.GroupID == 0 {
		errs = append(errs, "source.groupId is required")
	}
	if cfg.Source.LongPollWait < 0 || cfg.Source.LongPollWait > 90 {
		errs = append(errs, "source.longPollWait must be between 0 and 90")
	}

	if cfg.Sink.Token == "" {
		errs = append(errs, "sink.token is required")
	}
	if cfg.Crossposting.Enabled && cfg.Sink.ChannelID == 0 {
		errs = append(errs, "sink.channelId is required when crossposting is enabled")
	}
	if cfg.Crosscommenting.Enabled && cfg.Sink.ChatID == 0 {
		errs = append(errs, "sink.chatId is required when crosscommenting is enabled")
	}
	if cfg.Crosscommenting.Enabled && cfg.Sink.ChannelID == 0 {
		errs = append(errs, "sink.channelId is required when crosscommenting is enabled")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if cfg.Resync.Enabled {
		if cfg.Resync.Schedule == "" {
			errs = append(errs, "resync.schedule is required when resync is enabled")
		}
		if cfg.Resync.Depth < 1 {
			errs = append(errs, "resync.depth must be >= 1")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy of the config with tokens masked, safe to print.
func Sanitize(cfg *Config) *Config {
	cp := *cfg
	cp.Source.Token = maskString(cp.Source.Token)
	cp.Sink.Token = maskString(cp.Sink.Token)
	return &cp
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
