package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/solatis/sievefold/internal/logging"
)

// Keys understood in config files, SF_ environment variables and flags.
const (
	KeyDatabaseURL     = "database.url"
	KeyOutputDir       = "output.dir"
	KeyScriptName      = "output.script_name"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyExclude         = "consolidate.exclude"
	KeyReincludeSynced = "consolidate.reinclude_synced"
)

// credentialKeys may never appear in a config file. Mail account access
// belongs to the acquisition tool.
var credentialKeys = []string{
	"password",
	"app_password",
	"account.password",
	"account.app_password",
	"imap.password",
	"credentials",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence. flags maps
// config keys to the command-line flags that override them.
func LoadConfig(configPath string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault(KeyDatabaseURL, d.DatabaseURL)
	v.SetDefault(KeyOutputDir, d.OutputDir)
	v.SetDefault(KeyScriptName, d.ScriptName)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyExclude, []string{})
	v.SetDefault(KeyReincludeSynced, false)

	// Bind environment variables with SF_ prefix
	v.SetEnvPrefix("SF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoCredentialsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:     v.GetString(KeyDatabaseURL),
		OutputDir:       v.GetString(KeyOutputDir),
		ScriptName:      v.GetString(KeyScriptName),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
		Exclude:         v.GetStringSlice(KeyExclude),
		ReincludeSynced: v.GetBool(KeyReincludeSynced),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks database URL presence, log format and script name.
func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("%s must not be empty", KeyDatabaseURL)
	}
	if !logging.ValidFormat(cfg.LogFormat) {
		return fmt.Errorf("%s must be json or console, got %q", KeyLogFormat, cfg.LogFormat)
	}
	if cfg.ScriptName == "" {
		return fmt.Errorf("%s must not be empty", KeyScriptName)
	}
	if strings.ContainsAny(cfg.ScriptName, `/\`) {
		return fmt.Errorf("%s must be a file name, got %q", KeyScriptName, cfg.ScriptName)
	}
	return nil
}

// validateNoCredentialsInConfig rejects mail account credentials in config files.
func validateNoCredentialsInConfig(v *viper.Viper) error {
	for _, key := range credentialKeys {
		if v.InConfig(key) {
			return fmt.Errorf("mail account credentials not allowed in config files (found %q)", key)
		}
	}
	return nil
}
