package sched

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	TickMS          int    `yaml:"tick_ms"`          // 10 (by default)
	PriorityLevels  int    `yaml:"priority_levels"`  // 8 (by default)
	DefaultCapacity int    `yaml:"default_capacity"` // 1 (by default)
	LogLevel        string `yaml:"log_level"`        // info (by default)
	Telemetry       string `yaml:"telemetry"`        // none | otel | prometheus
	MetricsAddr     string `yaml:"metrics_addr"`     // prometheus listen address
	CSVPath         string `yaml:"csv_path"`         // empty = no CSV event log
}

// If the config file is not found, we use default values
func defaultConfig() Config {
	return Config{
		TickMS:          10,
		PriorityLevels:  8,
		DefaultCapacity: 1,
		LogLevel:        "info",
		Telemetry:       "none",
		MetricsAddr:     ":9464",
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}
	return cfg.clamp()
}

// clamp applies the sanity limits.
func (cfg Config) clamp() Config {
	def := defaultConfig()
	if cfg.TickMS <= 0 {
		cfg.TickMS = def.TickMS
	}
	if cfg.PriorityLevels <= 0 {
		cfg.PriorityLevels = def.PriorityLevels
	} else if cfg.PriorityLevels > 255 {
		cfg.PriorityLevels = 255
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = def.DefaultCapacity
	}
	switch cfg.Telemetry {
	case "none", "otel", "prometheus":
	default:
		cfg.Telemetry = def.Telemetry
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	return cfg
}

// LoadDeclaration reads a static task graph from YAML. Unlike Load, a missing
// or malformed file is an error: there is no sensible default system.
func LoadDeclaration(path string) (Declaration, error) {
	var decl Declaration
	data, err := os.ReadFile(path)
	if err != nil {
		return decl, fmt.Errorf("read declaration: %w", err)
	}
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return decl, fmt.Errorf("parse declaration %s: %w", path, err)
	}
	return decl, nil
}
