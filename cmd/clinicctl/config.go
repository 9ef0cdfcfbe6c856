package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the CLI configuration. Precedence is flag, then CLINICCTL_*
// environment, then the config file, then defaults.
type Config struct {
	APIURL          string
	SessionFile     string
	PollInterval    time.Duration
	PollMaxAttempts int
}

// configDir is ~/.config/clinicctl.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clinicctl"
	}
	return filepath.Join(home, ".config", "clinicctl")
}

// loadConfig reads configPath, or config.yaml in configDir when empty.
// Only flags that were set on fs override the other sources.
func loadConfig(fs *flag.FlagSet, configPath string) (Config, error) {
	v := viper.New()

	dir := configDir()
	v.SetDefault("api_url", "http://localhost:8080")
	v.SetDefault("session_file", filepath.Join(dir, "session.yaml"))
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("poll_max_attempts", 150)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CLINICCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "config" {
				return
			}
			v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
		})
	}

	cfg := Config{
		APIURL:          strings.TrimRight(v.GetString("api_url"), "/"),
		SessionFile:     v.GetString("session_file"),
		PollInterval:    v.GetDuration("poll_interval"),
		PollMaxAttempts: v.GetInt("poll_max_attempts"),
	}

	if cfg.APIURL == "" {
		return Config{}, errors.New("api_url is required")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("poll_interval must be positive, got %q", v.GetString("poll_interval"))
	}
	if cfg.PollMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("poll_max_attempts must be positive, got %d", cfg.PollMaxAttempts)
	}
	return cfg, nil
}
