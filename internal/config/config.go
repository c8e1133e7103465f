// Package config loads clusterkv connection settings the way the rest of
// the codebase loads configuration: a struct literal wins over a YAML file,
// and a thin layer of environment variables wins over both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the options a Context is constructed with. Zero values mean
// "not set": the file layer only fills gaps the base left, while a set
// environment variable overrides both (see Load).
type Config struct {
	Addrs            []string      `yaml:"addrs"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRedirectCount int           `yaml:"maxRedirectCount"`
	Async            bool          `yaml:"async"`
}

// fileConfig mirrors Config's YAML shape but keeps Addrs and Timeout as
// strings, since the file form allows a comma-separated seed list and a
// duration string ("5s") rather than Go-native types.
type fileConfig struct {
	Addrs            string `yaml:"addrs"`
	Timeout          string `yaml:"timeout"`
	MaxRedirectCount int    `yaml:"maxRedirectCount"`
	Async            bool   `yaml:"async"`
}

// LoadConfigFile reads a YAML config file and returns the Config it
// describes. The addrs field is the same comma-separated "host:port,…" shape
// accepted everywhere else in the package.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		MaxRedirectCount: fc.MaxRedirectCount,
		Async:            fc.Async,
	}
	if fc.Addrs != "" {
		cfg.Addrs = splitAddrs(fc.Addrs)
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("config: %s: timeout %q: %w", path, fc.Timeout, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// ApplyEnv overlays CLUSTERKV_ADDRS, CLUSTERKV_TIMEOUT and
// CLUSTERKV_MAX_REDIRECTS onto cfg, matching the precedence CLI flags get
// over config-file values elsewhere in the codebase: any variable that is
// set wins over whatever cfg already held, set or not.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("CLUSTERKV_ADDRS"); v != "" {
		cfg.Addrs = splitAddrs(v)
	}
	if v := os.Getenv("CLUSTERKV_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CLUSTERKV_TIMEOUT=%q: %w", v, err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("CLUSTERKV_MAX_REDIRECTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CLUSTERKV_MAX_REDIRECTS=%q: %w", v, err)
		}
		cfg.MaxRedirectCount = n
	}
	return nil
}

// Merge layers override on top of c, field by field, and returns the
// result: a non-zero field in override replaces the corresponding field in
// c, a zero field leaves c's value untouched.
func (c Config) Merge(override Config) Config {
	out := c
	if len(override.Addrs) > 0 {
		out.Addrs = override.Addrs
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.MaxRedirectCount != 0 {
		out.MaxRedirectCount = override.MaxRedirectCount
	}
	if override.Async {
		out.Async = override.Async
	}
	return out
}

// Load builds a Config from an explicit base (typically a struct literal
// built by the caller), an optional YAML file, and the environment: the file
// only fills fields the base left unset, and any set environment variable
// then replaces whatever the first two layers produced.
func Load(base Config, path string) (*Config, error) {
	cfg := base
	if path != "" {
		fileCfg, err := LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg.Merge(cfg)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitAddrs(s string) []string {
	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}
