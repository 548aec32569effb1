// Package config provides configuration management for sievefold.
package config

import (
	"path/filepath"
)

// Config holds the settings shared by every sievefold command.
type Config struct {
	DatabaseURL string
	OutputDir   string
	ScriptName  string
	LogLevel    string
	LogFormat   string

	// Exclude lists rule names never consolidated.
	Exclude []string

	// ReincludeSynced enables re-including disabled rules that appear in a
	// synced manifest.
	ReincludeSynced bool
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		DatabaseURL: "sqlite://./sievefold.db",
		OutputDir:   ".",
		ScriptName:  "consolidated.sieve",
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// OutputPath is where consolidate writes the merged script by default.
func (c *Config) OutputPath() string {
	return filepath.Join(c.OutputDir, c.ScriptName)
}
