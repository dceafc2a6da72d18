package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the kiln configuration file (~/.config/kiln/config.yaml).
// All optional fields are pointers so we can distinguish "not set" from zero
// values.
type Config struct {
	DataDir string `yaml:"data_dir"`

	MaxLength          *int64 `yaml:"max_length"`
	CalibrationSamples *int64 `yaml:"calibration_samples"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kiln", "config.yaml")
}

// applyConfig applies config file defaults when the corresponding CLI
// flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config) {
	if cfg.DataDir != "" && !c.IsSet("data") {
		dataDir = cfg.DataDir
	}
	if cfg.MaxLength != nil && !c.IsSet("max-length") {
		maxLength = *cfg.MaxLength
	}
	if cfg.CalibrationSamples != nil && !c.IsSet("calibration-samples") {
		calibSamples = *cfg.CalibrationSamples
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
