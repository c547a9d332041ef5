package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration file (~/.config/optimum/config.yaml).
// Numeric fields are pointers so "not set" can be told apart from zero.
type Config struct {
	OutputDir string `yaml:"output_dir"`

	// Quantization defaults
	ISA        string `yaml:"isa"`
	NumSamples *int64 `yaml:"num_samples"`

	// Output
	LogLevel string `yaml:"log_level"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "optimum", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or doesn't parse.
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

// applyOutputConfig applies config file defaults to the output directory
// when the CLI flag was not explicitly set.
func applyOutputConfig(c *cli.Command, cfg Config, output *string) {
	if cfg.OutputDir != "" && !c.IsSet("output") {
		*output = cfg.OutputDir
	}
}

// applyQuantizeConfig applies config file defaults to quantize command
// variables.
func applyQuantizeConfig(c *cli.Command, cfg Config, output, isa *string, numSamples *int64) {
	applyOutputConfig(c, cfg, output)
	if cfg.ISA != "" && !c.IsSet("isa") {
		*isa = cfg.ISA
	}
	if cfg.NumSamples != nil && !c.IsSet("num-samples") {
		*numSamples = *cfg.NumSamples
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr, logLevel *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*logLevel = cfg.LogLevel
	}
}
