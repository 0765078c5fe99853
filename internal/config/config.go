// Package config loads loopwatch settings from .loopwatch/config.yaml,
// LOOPWATCH_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DirName is the per-project directory holding config, history and logs.
const DirName = ".loopwatch"

// Config is the resolved configuration.
type Config struct {
	Agent     AgentConfig   `mapstructure:"agent"`
	Run       RunConfig     `mapstructure:"run"`
	OutputDir string        `mapstructure:"output_dir"`
	History   HistoryConfig `mapstructure:"history"`
	Log       LogConfig     `mapstructure:"log"`
	UI        UIConfig      `mapstructure:"ui"`
	Verify    VerifyConfig  `mapstructure:"verify"`
}

type AgentConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RunConfig struct {
	MaxIterations  int `mapstructure:"max_iterations"`
	MaxTaskRetries int `mapstructure:"max_task_retries"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	File   string `mapstructure:"file"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type UIConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// VerifyConfig controls the working tree check after each completed task.
type VerifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var defaults = map[string]any{
	"agent.command":        "claude",
	"agent.timeout":        "30m",
	"run.max_iterations":   50,
	"run.max_task_retries": 3,
	"output_dir":           filepath.Join(DirName, "iterations"),
	"history.path":         filepath.Join(DirName, "history.db"),
	"log.file":             filepath.Join(DirName, "loopwatch.log"),
	"log.level":            "info",
	"log.format":           "text",
	"ui.tick_interval":     "1s",
	"verify.enabled":       true,
}

// Loader assembles a Config for one working directory.
type Loader struct {
	dir string
	v   *viper.Viper
}

// NewLoader prepares a loader rooted at dir (usually the working directory).
func NewLoader(dir string) *Loader {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(dir, DirName))

	v.SetEnvPrefix("LOOPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{dir: dir, v: v}
}

// BindFlag makes a command-line flag override key when the flag is set.
// A nil flag is ignored.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return nil
	}
	if err := l.v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("bind flag %s: %w", flag.Name, err)
	}
	return nil
}

// ConfigFile returns the config file that was read, or "".
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load reads the config file if present and returns the validated result.
// Relative paths are resolved against the loader's directory.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.OutputDir = l.resolve(cfg.OutputDir)
	cfg.History.Path = l.resolve(cfg.History.Path)
	cfg.Log.File = l.resolve(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.dir, path)
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.Command == "" {
		errs = append(errs, errors.New("agent.command must not be empty"))
	}
	if c.Agent.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("agent.timeout must be positive, got %v", c.Agent.Timeout))
	}
	if c.Run.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("run.max_iterations must be positive, got %d", c.Run.MaxIterations))
	}
	if c.Run.MaxTaskRetries <= 0 {
		errs = append(errs, fmt.Errorf("run.max_task_retries must be positive, got %d", c.Run.MaxTaskRetries))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir must not be empty"))
	}
	if c.UI.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("ui.tick_interval must be positive, got %v", c.UI.TickInterval))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
