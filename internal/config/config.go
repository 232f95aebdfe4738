// Package config defines service configuration and its layered loading.
package config

import (
	"errors"
	"fmt"
)

// Name strategy values accepted in configuration.
const (
	StrategyMapping   = "mapping"
	StrategyHeuristic = "heuristic"
)

// Config contains all process configuration. The engine itself takes no
// implicit environment input; everything it needs arrives through here.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// UploadDir holds uploaded QCW files, OutputDir generated reports,
	// AssetDir institute branding (logo.png, name.txt).
	UploadDir string `koanf:"upload_dir"`
	OutputDir string `koanf:"output_dir"`
	AssetDir  string `koanf:"asset_dir"`

	// DBDSN is the sqlite DSN for session persistence.
	DBDSN string `koanf:"db_dsn"`

	// RetentionHours bounds how long sessions and uploads are kept.
	RetentionHours int `koanf:"retention_hours"`

	// DeviationThreshold is the norm-mode failure gate in percent.
	DeviationThreshold float64 `koanf:"deviation_threshold"`

	// NameStrategy selects machine name resolution: "mapping" or "heuristic".
	NameStrategy string `koanf:"name_strategy"`

	// InstituteName is the default report footer text, overridable per
	// upload.
	InstituteName string `koanf:"institute_name"`

	// TelegramBotToken and TelegramChatID enable the report push
	// notification when both are set.
	TelegramBotToken string `koanf:"telegram_bot_token"`
	TelegramChatID   string `koanf:"telegram_chat_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":8080",
		UploadDir:          "uploads",
		OutputDir:          "outputs",
		AssetDir:           "assets",
		DBDSN:              "file:qcw_analyzer.db?_pragma=busy_timeout(5000)",
		RetentionHours:     24,
		DeviationThreshold: 3.0,
		NameStrategy:       StrategyMapping,
		InstituteName:      "Institute/Hospital Name Here",
	}
}

// Validate rejects configurations the service cannot run with.
func Validate(cfg *Config) error {
	if cfg.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if cfg.NameStrategy != StrategyMapping && cfg.NameStrategy != StrategyHeuristic {
		return fmt.Errorf("name_strategy must be %q or %q, got %q", StrategyMapping, StrategyHeuristic, cfg.NameStrategy)
	}
	if cfg.DeviationThreshold <= 0 {
		return errors.New("deviation_threshold must be > 0")
	}
	if cfg.RetentionHours <= 0 {
		return errors.New("retention_hours must be > 0")
	}
	return nil
}
