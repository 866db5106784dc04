// Package config loads the daemon configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/taurusgroup/tssd/internal/kv"
	"github.com/taurusgroup/tssd/internal/log"
)

const (
	DefaultDirName    = ".tssd"
	DefaultListenAddr = "127.0.0.1:50051"
	DefaultAdminAddr  = "127.0.0.1:9091"
	DefaultLogLevel   = "info"
	// SeedFileName is the name of the recovery seed file in Dir.
	SeedFileName = "recovery.seed"
)

// Config is the configuration of a daemon. Zero values of optional fields are replaced by defaults.
type Config struct {
	// Dir holds the key database and the recovery seed.
	Dir        string `toml:"dir"`
	ListenAddr string `toml:"listen_addr"`
	// AdminAddr is the address of the admin HTTP server. "none" disables it.
	AdminAddr string `toml:"admin_addr"`
	LogLevel  string `toml:"log_level"`
	LogJSON   bool   `toml:"log_json"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	dir := DefaultDirName
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, DefaultDirName)
	}
	return &Config{
		Dir:        dir,
		ListenAddr: DefaultListenAddr,
		AdminAddr:  DefaultAdminAddr,
		LogLevel:   DefaultLogLevel,
	}
}

// Load reads the file at path on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys %s", strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration can be used to start a daemon.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("config: empty dir")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("config: listen_addr: %w", err)
	}
	if c.AdminEnabled() {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			return fmt.Errorf("config: admin_addr: %w", err)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	return nil
}

// AdminEnabled returns false when the admin server is disabled.
func (c *Config) AdminEnabled() bool {
	return c.AdminAddr != "" && c.AdminAddr != "none"
}

// DBPath returns the path of the key database.
func (c *Config) DBPath() string { return filepath.Join(c.Dir, kv.FileName) }

// SeedPath returns the path of the recovery seed.
func (c *Config) SeedPath() string { return filepath.Join(c.Dir, SeedFileName) }

// Logger returns the logger described by the configuration.
func (c *Config) Logger() log.Logger {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	return log.New(nil, level, c.LogJSON)
}
