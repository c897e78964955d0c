// Package config loads chatsave settings.
//
// Sources, lowest to highest priority:
//  1. built-in defaults
//  2. the YAML file given by --config, or ~/.config/chatsave/config.yaml
//  3. a .env file in the working directory
//  4. CHATSAVE_* environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type WriteMode string

const (
	// WriteIncremental persists only the changed session, keyed by id.
	WriteIncremental WriteMode = "incremental"
	// WriteRewrite deletes and reinserts every session on each change.
	WriteRewrite WriteMode = "rewrite"
)

type Config struct {
	// DBPath overrides the project-local database. Empty means
	// <cwd>/.chatsave/chatsave.db.
	DBPath string `yaml:"db_path"`

	// DatasetDir reads seed sessions from disk instead of the bundled file.
	DatasetDir  string `yaml:"dataset_dir"`
	DatasetName string `yaml:"dataset_name"`

	WriteMode WriteMode `yaml:"write_mode"`

	// Timezone used to bucket sessions by calendar day. Empty = local.
	Timezone string `yaml:"timezone"`

	Reply ReplyConfig `yaml:"reply"`

	Server ServerConfig `yaml:"server"`

	Log LogConfig `yaml:"log"`
}

type ReplyConfig struct {
	Delay  time.Duration `yaml:"delay"`
	Prefix string        `yaml:"prefix"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		DatasetName: "mock_sessions.json",
		WriteMode:   WriteIncremental,
		Reply: ReplyConfig{
			Delay:  time.Second,
			Prefix: "AI says: ",
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns ~/.config/chatsave/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "chatsave", "config.yaml")
}

// Load builds the configuration. A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = DefaultPath()
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.WriteMode {
	case WriteIncremental, WriteRewrite:
	default:
		return fmt.Errorf("invalid write_mode %q (want %q or %q)", c.WriteMode, WriteIncremental, WriteRewrite)
	}
	if c.Reply.Delay < 0 {
		return fmt.Errorf("reply delay must not be negative, got %s", c.Reply.Delay)
	}
	if c.DatasetName == "" {
		return errors.New("dataset_name must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone, defaulting to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := getEnv("CHATSAVE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := getEnv("CHATSAVE_DATASET_DIR"); v != "" {
		cfg.DatasetDir = v
	}
	if v := getEnv("CHATSAVE_DATASET_NAME"); v != "" {
		cfg.DatasetName = v
	}
	if v := getEnv("CHATSAVE_WRITE_MODE"); v != "" {
		cfg.WriteMode = WriteMode(strings.ToLower(v))
	}
	if v := getEnv("CHATSAVE_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}

	delay, err := parseOptionalDurationEnv("CHATSAVE_REPLY_DELAY")
	if err != nil {
		return err
	}
	if delay != nil {
		cfg.Reply.Delay = *delay
	}
	if v, ok := os.LookupEnv("CHATSAVE_REPLY_PREFIX"); ok {
		cfg.Reply.Prefix = v
	}

	if v := getEnv("CHATSAVE_ADDR"); v != "" {
		cfg.Server.Addr = v
	} else if port := getEnv("PORT"); port != "" {
		if strings.Contains(port, " ") {
			return fmt.Errorf("invalid PORT value: %q", port)
		}
		if !strings.Contains(port, ":") {
			port = ":" + port
		}
		cfg.Server.Addr = port
	}

	if v := getEnv("CHATSAVE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getEnv("CHATSAVE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	value := getEnv(key)
	if value == "" {
		return nil, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &d, nil
}
