package rcluster

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables that override the
// configuration loaded by LoadConfig.
const EnvPrefix = "RCLUSTER_"

// Config is the file representation of a client configuration.
//
//	seeds:
//	  - 10.0.0.1:7000
//	  - 10.0.0.2:7000
//	connect_timeout: 2s
//	read_timeout: 500ms
//	retry_limit: 5
type Config struct {
	Seeds          []string      `yaml:"seeds"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	Persistent     bool          `yaml:"persistent"`
	Password       string        `yaml:"password"`
	ClientName     string        `yaml:"client_name"`
	RetryLimit     int           `yaml:"retry_limit"`
	MaxRedirects   int           `yaml:"max_redirects"`
}

// DefaultConfig returns the configuration with default values and no seed.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		RetryLimit:     DefaultRetryLimit,
		MaxRedirects:   DefaultMaxRedirects,
	}
}

// LoadConfig loads the configuration from the YAML file at path, on top
// of the default values, then applies the overrides from the RCLUSTER_*
// environment variables (e.g. RCLUSTER_SEEDS=host1:7000,host2:7000). If
// path is empty, only the defaults and environment are used. The resulting
// configuration is validated.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig is like LoadConfig but does not validate the configuration,
// so that the caller can complete it first.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("rcluster: read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("rcluster: parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("SEEDS"); ok {
		c.Seeds = c.Seeds[:0]
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Seeds = append(c.Seeds, s)
			}
		}
	}
	if v, ok := get("PASSWORD"); ok {
		c.Password = v
	}
	if v, ok := get("CLIENT_NAME"); ok {
		c.ClientName = v
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"CONNECT_TIMEOUT", &c.ConnectTimeout},
		{"READ_TIMEOUT", &c.ReadTimeout},
		{"WRITE_TIMEOUT", &c.WriteTimeout},
	}
	for _, d := range durations {
		if v, ok := get(d.name); ok {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("rcluster: invalid %s%s: %w", EnvPrefix, d.name, err)
			}
			*d.dst = dur
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"RETRY_LIMIT", &c.RetryLimit},
		{"MAX_REDIRECTS", &c.MaxRedirects},
	}
	for _, n := range ints {
		if v, ok := get(n.name); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("rcluster: invalid %s%s: %w", EnvPrefix, n.name, err)
			}
			*n.dst = i
		}
	}

	if v, ok := get("PERSISTENT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("rcluster: invalid %sPERSISTENT: %w", EnvPrefix, err)
		}
		c.Persistent = b
	}
	return nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return errors.New("rcluster: at least one seed is required")
	}
	for _, s := range c.Seeds {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("rcluster: invalid seed address %q: %w", s, err)
		}
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("rcluster: timeouts must not be negative")
	}
	if c.RetryLimit < 0 {
		return errors.New("rcluster: retry_limit must not be negative")
	}
	if c.MaxRedirects < 0 {
		return errors.New("rcluster: max_redirects must not be negative")
	}
	return nil
}

// Options returns the client options corresponding to the configuration.
func (c *Config) Options(logger *zap.Logger) *Options {
	return &Options{
		ConnectTimeout: c.ConnectTimeout,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		Persistent:     c.Persistent,
		Password:       c.Password,
		ClientName:     c.ClientName,
		RetryLimit:     c.RetryLimit,
		MaxRedirects:   c.MaxRedirects,
		Logger:         logger,
	}
}

// NewClient creates a client for the configured seeds and options.
func (c *Config) NewClient(logger *zap.Logger) (*Client, error) {
	return New(c.Seeds, c.Options(logger))
}
