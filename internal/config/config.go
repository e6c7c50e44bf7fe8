// Package config loads the supctl configuration file and maps it onto
// supervisor options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib/supervisor"
)

var (
	// ConfigFile overrides the default config file location (--config).
	ConfigFile string
	// Verbose switches logging from production to development output.
	Verbose bool
)

// FileConfig is the on-disk configuration shape.
type FileConfig struct {
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	DefaultTimeout        time.Duration `mapstructure:"default_timeout"`
	MaxRetries            int           `mapstructure:"max_retries"`
	StallWindow           int           `mapstructure:"stall_window"`
	CPUStallThreshold     float64       `mapstructure:"cpu_stall_threshold"`
	MemoryWarnThreshold   float64       `mapstructure:"memory_warn_threshold"`
	AutoRecovery          bool          `mapstructure:"auto_recovery"`
	EscalationTimeout     time.Duration `mapstructure:"escalation_timeout"`
	AdaptiveTimeoutFactor float64       `mapstructure:"adaptive_timeout_factor"`
	MaxConcurrent         int           `mapstructure:"max_concurrent"`
	CleanupInterval       time.Duration `mapstructure:"cleanup_interval"`

	LogLevel    string `mapstructure:"log_level"`
	HistoryFile string `mapstructure:"history_file"`
}

// Init wires viper to the config file: an explicit --config path, or
// config.toml under ~/.supctl. A missing file is not an error; defaults
// apply.
func Init() error {
	if ConfigFile != "" {
		viper.SetConfigFile(ConfigFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Dir returns ~/.supctl, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".supctl")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// Load unmarshals the active configuration.
func Load() (*FileConfig, error) {
	var fc FileConfig
	if err := viper.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &fc, nil
}

// SupervisorConfig maps the file configuration onto supervisor options.
// Range validation happens in supervisor.New.
func (fc *FileConfig) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		PollInterval:          fc.PollInterval,
		DefaultTimeout:        fc.DefaultTimeout,
		MaxRetries:            fc.MaxRetries,
		StallWindow:           fc.StallWindow,
		CPUStallThreshold:     fc.CPUStallThreshold,
		MemoryWarnThreshold:   fc.MemoryWarnThreshold,
		AutoRecovery:          fc.AutoRecovery,
		EscalationTimeout:     fc.EscalationTimeout,
		AdaptiveTimeoutFactor: fc.AdaptiveTimeoutFactor,
		MaxConcurrent:         fc.MaxConcurrent,
		CleanupInterval:       fc.CleanupInterval,
	}
}

// HistoryPath returns the configured sqlite history location, defaulting to
// history.db under the config directory.
func (fc *FileConfig) HistoryPath() (string, error) {
	if fc.HistoryFile != "" {
		return fc.HistoryFile, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

func setDefaults() {
	def := supervisor.DefaultConfig()
	viper.SetDefault("poll_interval", def.PollInterval)
	viper.SetDefault("default_timeout", def.DefaultTimeout)
	viper.SetDefault("max_retries", def.MaxRetries)
	viper.SetDefault("stall_window", def.StallWindow)
	viper.SetDefault("cpu_stall_threshold", def.CPUStallThreshold)
	viper.SetDefault("memory_warn_threshold", def.MemoryWarnThreshold)
	viper.SetDefault("auto_recovery", def.AutoRecovery)
	viper.SetDefault("escalation_timeout", def.EscalationTimeout)
	viper.SetDefault("adaptive_timeout_factor", def.AdaptiveTimeoutFactor)
	viper.SetDefault("max_concurrent", def.MaxConcurrent)
	viper.SetDefault("cleanup_interval", def.CleanupInterval)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("history_file", "")
}
