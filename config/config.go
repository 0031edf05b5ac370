package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Camera sources understood by the live scanner.
const (
	SourceScreen = "screen"
	SourceReplay = "replay"
)

// Output formats for scan results.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// EnvPrefix is prepended to every environment override (QRSCAN_FPS, ...).
const EnvPrefix = "QRSCAN"

// Config holds runtime configuration for scanning and app behavior.
// Fields may be loaded from a config file and overridden by environment
// variables or command-line flags.
type Config struct {
	Debug    bool   `json:"debug" mapstructure:"debug"`
	LogLevel string `json:"log_level" mapstructure:"log_level"`

	// Camera source
	Source      string  `json:"source" mapstructure:"source"`
	ReplayDir   string  `json:"replay_dir" mapstructure:"replay_dir"`
	ReplayLoop  bool    `json:"replay_loop" mapstructure:"replay_loop"`
	ReplayTorch bool    `json:"replay_torch" mapstructure:"replay_torch"`
	FPS         float64 `json:"fps" mapstructure:"fps"`

	// Selection rectangle for the screen source (zero size = full screen)
	SelectionX int `json:"selection_x" mapstructure:"selection_x"`
	SelectionY int `json:"selection_y" mapstructure:"selection_y"`
	SelectionW int `json:"selection_w" mapstructure:"selection_w"`
	SelectionH int `json:"selection_h" mapstructure:"selection_h"`

	// Permissions required before the camera is bound, and the device
	// paths that back them.
	Permissions     []string          `json:"permissions" mapstructure:"permissions"`
	PermissionPaths map[string]string `json:"permission_paths" mapstructure:"permission_paths"`

	// Decoding
	TryHarder    bool `json:"try_harder" mapstructure:"try_harder"`
	MaxDimension int  `json:"max_dimension" mapstructure:"max_dimension"`

	// Session behavior
	StopOnFirst  bool   `json:"stop_on_first" mapstructure:"stop_on_first"`
	OutputFormat string `json:"output_format" mapstructure:"output_format"`
	PreviewPath  string `json:"preview_path" mapstructure:"preview_path"`

	// HTTP analysis server
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
	CacheSize  int    `json:"cache_size" mapstructure:"cache_size"`
}

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:           false,
		LogLevel:        "info",
		Source:          SourceScreen,
		ReplayDir:       "",
		ReplayLoop:      true,
		ReplayTorch:     false,
		FPS:             10,
		Permissions:     []string{"camera"},
		PermissionPaths: map[string]string{},
		TryHarder:       true,
		MaxDimension:    1280,
		StopOnFirst:     true,
		OutputFormat:    FormatText,
		PreviewPath:     "",
		ListenAddr:      ":8080",
		CacheSize:       256,
	}
}

// Validate clamps/normalizes values to safe ranges. Only an unusable camera
// source is reported as an error.
func (c *Config) Validate() error {
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	if c.Source == "" {
		c.Source = SourceScreen
	}
	if c.FPS <= 0 || c.FPS > 60 {
		c.FPS = 10
	}
	if c.SelectionW < 0 || c.SelectionH < 0 {
		c.SelectionW, c.SelectionH = 0, 0
	}
	if c.MaxDimension < 0 {
		c.MaxDimension = 0
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.PermissionPaths == nil {
		c.PermissionPaths = map[string]string{}
	}
	switch c.OutputFormat = strings.ToLower(c.OutputFormat); c.OutputFormat {
	case FormatText, FormatJSON, FormatYAML:
	default:
		c.OutputFormat = FormatText
	}
	switch c.Source {
	case SourceScreen:
	case SourceReplay:
		if c.ReplayDir == "" {
			return errors.New("config: replay source requires replay_dir")
		}
	default:
		return fmt.Errorf("config: unknown source %q", c.Source)
	}
	return nil
}

// Level maps LogLevel onto a slog level, defaulting to info. Debug forces
// debug level.
func (c *Config) Level() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// HasSelection reports whether a non-empty capture rectangle is configured.
func (c *Config) HasSelection() bool { return c.SelectionW > 0 && c.SelectionH > 0 }

// Load reads configuration from the given file path (JSON, YAML or TOML by
// extension) and applies QRSCAN_* environment overrides. A missing file
// yields DefaultConfig() plus overrides. On decode error it returns defaults
// with the error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return DefaultConfig(), fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("debug", cfg.Debug)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("source", cfg.Source)
	v.SetDefault("replay_dir", cfg.ReplayDir)
	v.SetDefault("replay_loop", cfg.ReplayLoop)
	v.SetDefault("replay_torch", cfg.ReplayTorch)
	v.SetDefault("fps", cfg.FPS)
	v.SetDefault("selection_x", cfg.SelectionX)
	v.SetDefault("selection_y", cfg.SelectionY)
	v.SetDefault("selection_w", cfg.SelectionW)
	v.SetDefault("selection_h", cfg.SelectionH)
	v.SetDefault("permissions", cfg.Permissions)
	v.SetDefault("permission_paths", cfg.PermissionPaths)
	v.SetDefault("try_harder", cfg.TryHarder)
	v.SetDefault("max_dimension", cfg.MaxDimension)
	v.SetDefault("stop_on_first", cfg.StopOnFirst)
	v.SetDefault("output_format", cfg.OutputFormat)
	v.SetDefault("preview_path", cfg.PreviewPath)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("cache_size", cfg.CacheSize)
}

// Save writes the configuration to the given path in JSON format.
func (c *Config) Save(path string) error {
	_ = c.Validate()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
