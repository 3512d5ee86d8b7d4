package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opd-ai/remotelink"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the remotelink CLI configuration.
type Config struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	AuthToken        string        `yaml:"auth_token"`
	PeerFingerprint  string        `yaml:"peer_fingerprint"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	FreshnessWindow  time.Duration `yaml:"freshness_window"`
	DispatchQueue    int           `yaml:"dispatch_queue"`

	Retry RetryConfig `yaml:"retry"`
	NAT   NATConfig   `yaml:"nat"`
	Log   LogConfig   `yaml:"log"`
}

// RetryConfig controls connect retries.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// NATConfig controls STUN discovery.
type NATConfig struct {
	STUNServer     string        `yaml:"stun_server"`
	LocalPort      int           `yaml:"local_port"`
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the default config file path: ~/.remotelink/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".remotelink", "config.yaml")
	}
	return filepath.Join(home, ".remotelink", "config.yaml")
}

// defaultConfig mirrors remotelink.NewOptions.
func defaultConfig() *Config {
	opts := remotelink.NewOptions()
	return &Config{
		Host:             opts.Host,
		Port:             opts.Port,
		HandshakeTimeout: opts.HandshakeTimeout,
		DialTimeout:      opts.DialTimeout,
		WriteTimeout:     opts.WriteTimeout,
		Retry: RetryConfig{
			Attempts:   opts.Retry.Attempts,
			Backoff:    opts.Retry.Initial,
			MaxBackoff: opts.Retry.Max,
		},
		NAT: NATConfig{
			STUNServer:     opts.NAT.STUNServer,
			LocalPort:      opts.NAT.LocalPort,
			Timeout:        opts.NAT.Timeout,
			ConnectTimeout: opts.NAT.ConnectTimeout,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// A world-readable file exposes the auth token.
	if perm := info.Mode().Perm(); cfg.AuthToken != "" && perm&0o077 != 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "Load",
			"path":        path,
			"permissions": fmt.Sprintf("%04o", perm),
		}).Warn("Config file with auth_token is readable by other users, expected 0600")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.NAT.LocalPort < 0 || c.NAT.LocalPort > 65535 {
		return fmt.Errorf("nat.local_port %d out of range", c.NAT.LocalPort)
	}
	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry.attempts must not be negative")
	}
	if c.DispatchQueue < 0 {
		return fmt.Errorf("dispatch_queue must not be negative")
	}
	return nil
}

// Options converts the file configuration into session options.
func (c *Config) Options() *remotelink.Options {
	opts := remotelink.NewOptions()
	opts.Host = c.Host
	opts.Port = c.Port
	opts.AuthToken = c.AuthToken
	opts.PeerFingerprint = c.PeerFingerprint
	opts.HandshakeTimeout = c.HandshakeTimeout
	opts.DialTimeout = c.DialTimeout
	opts.WriteTimeout = c.WriteTimeout
	opts.FreshnessWindow = c.FreshnessWindow
	opts.DispatchQueue = c.DispatchQueue

	opts.Retry.Attempts = c.Retry.Attempts
	if c.Retry.Backoff > 0 {
		opts.Retry.Initial = c.Retry.Backoff
	}
	if c.Retry.MaxBackoff > 0 {
		opts.Retry.Max = c.Retry.MaxBackoff
	}

	opts.NAT.STUNServer = c.NAT.STUNServer
	opts.NAT.LocalPort = c.NAT.LocalPort
	if c.NAT.Timeout > 0 {
		opts.NAT.Timeout = c.NAT.Timeout
	}
	if c.NAT.ConnectTimeout > 0 {
		opts.NAT.ConnectTimeout = c.NAT.ConnectTimeout
	}
	return opts
}

// configureLogging applies level and format ("text" or "json") to logrus.
func configureLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	logrus.SetOutput(os.Stderr)
	return nil
}
