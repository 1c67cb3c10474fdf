package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidLevel    = errors.New("unknown log level")
	ErrInvalidFormat   = errors.New("unknown log format")
	ErrNegativeGrace   = errors.New("shutdown grace must not be negative")
	ErrNegativeBacklog = errors.New("listen backlog must not be negative")
	ErrEmptyHost       = errors.New("host must not be empty")
)

type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Remote   RemoteConfig   `yaml:"remote"`
	Logging  LoggingConfig  `yaml:"logging"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

type ListenConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Backlog int    `yaml:"backlog"`
}
type RemoteConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
type ShutdownConfig struct {
	Grace time.Duration `yaml:"grace"`
}

func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Host: "127.0.0.1", Port: 63790, Backlog: 16},
		Remote:  RemoteConfig{Host: "127.0.0.1", Port: 6379},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file on top of Default, so keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Listen.Host == "" {
		return fmt.Errorf("listen: %w", ErrEmptyHost)
	}
	if c.Remote.Host == "" {
		return fmt.Errorf("remote: %w", ErrEmptyHost)
	}
	if !validPort(c.Listen.Port) {
		return fmt.Errorf("listen port %d: %w", c.Listen.Port, ErrInvalidPort)
	}
	if !validPort(c.Remote.Port) {
		return fmt.Errorf("remote port %d: %w", c.Remote.Port, ErrInvalidPort)
	}
	if c.Listen.Backlog < 0 {
		return fmt.Errorf("backlog %d: %w", c.Listen.Backlog, ErrNegativeBacklog)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%q: %w", c.Logging.Level, ErrInvalidLevel)
	}
	switch c.Logging.Format {
	case "console", "text", "json":
	default:
		return fmt.Errorf("%q: %w", c.Logging.Format, ErrInvalidFormat)
	}
	if c.Shutdown.Grace < 0 {
		return ErrNegativeGrace
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.Port))
}

func (c *Config) RemoteAddr() string {
	return net.JoinHostPort(c.Remote.Host, strconv.Itoa(c.Remote.Port))
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
