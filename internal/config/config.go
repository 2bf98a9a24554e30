// Package config resolves the gateway host configuration from defaults, an
// optional TOML file and ASSETGATE_* environment variables, in that order.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cerrors "cloudeng.io/errors"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	ModeDev  = "dev"
	ModeProd = "prod"

	envPrefix = "ASSETGATE_"
)

type Config struct {
	Mode          string            `toml:"mode"`
	LocalHost     string            `toml:"listen_host"`
	LocalPort     int               `toml:"listen_port"`
	LogLevel      string            `toml:"log_level"`
	LogFormat     string            `toml:"log_format"`
	Upstream      string            `toml:"upstream"`
	Tool          string            `toml:"tool"`
	HMRPath       string            `toml:"hmr_path,omitempty"`
	ProjectDir    string            `toml:"project_dir"`
	Command       []string          `toml:"command"`
	Env           map[string]string `toml:"env,omitempty"`
	DistDir       string            `toml:"dist_dir"`
	ShutdownGrace Duration          `toml:"shutdown_grace"`
	DrainTimeout  Duration          `toml:"drain_timeout"`
	DialTimeout   Duration          `toml:"dial_timeout"`
	UI            UIConfig          `toml:"ui"`

	// File is the TOML file the config was read from, if any.
	File string `toml:"-"`
}

// Duration reads and writes as a Go duration string such as "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the settings used when nothing is configured: a Vite dev
// server on port 4001 started with "bun run dev" from ./ui.
func Default() Config {
	return Config{
		Mode:          ModeDev,
		LocalHost:     "127.0.0.1",
		LocalPort:     4000,
		LogLevel:      "info",
		LogFormat:     "json",
		Upstream:      "http://localhost:4001",
		Tool:          "vite",
		ProjectDir:    "ui",
		Command:       []string{"bun", "run", "dev"},
		DistDir:       defaultDistDir(),
		ShutdownGrace: Duration{5 * time.Second},
		DrainTimeout:  Duration{10 * time.Second},
		DialTimeout:   Duration{5 * time.Second},
		UI:            DefaultUI(),
	}
}

// Load resolves the configuration. path may be empty, in which case
// ASSETGATE_CONFIG is consulted; a missing file is only an error when a
// path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
		explicit = path != ""
	}
	if !explicit {
		path = defaultFile()
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if explicit || !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	}
	if err := cfg.mergeEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.File = path
	return nil
}

func (c *Config) mergeEnv() error {
	errs := &cerrors.M{}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok {
			errs.Append(envError(key, dst.UnmarshalText([]byte(v))))
		}
	}
	str("MODE", &c.Mode)
	str("LOCAL_HOST", &c.LocalHost)
	if v, ok := lookup("LOCAL_PORT"); ok {
		n, err := strconv.Atoi(v)
		errs.Append(envError("LOCAL_PORT", err))
		if err == nil {
			c.LocalPort = n
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("UPSTREAM", &c.Upstream)
	str("TOOL", &c.Tool)
	str("HMR_PATH", &c.HMRPath)
	str("PROJECT_DIR", &c.ProjectDir)
	if v, ok := lookup("COMMAND"); ok {
		c.Command = strings.Fields(v)
	}
	str("DIST_DIR", &c.DistDir)
	dur("SHUTDOWN_GRACE", &c.ShutdownGrace)
	dur("DRAIN_TIMEOUT", &c.DrainTimeout)
	dur("DIAL_TIMEOUT", &c.DialTimeout)
	if v, ok := lookup("ENV"); ok {
		env, err := parseEnvList(v)
		errs.Append(envError("ENV", err))
		if c.Env == nil {
			c.Env = map[string]string{}
		}
		for k, val := range env {
			c.Env[k] = val
		}
	}
	return errs.Err()
}

// lookup treats an empty variable as unset.
func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

func envError(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s%s: %w", envPrefix, key, err)
}

// parseEnvList reads "KEY=value,KEY2=value2".
func parseEnvList(v string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, val, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("malformed entry %q, want KEY=value", pair)
		}
		out[strings.TrimSpace(k)] = val
	}
	return out, nil
}

func (c *Config) normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Tool = strings.ToLower(strings.TrimSpace(c.Tool))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.UI.normalize()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	errs := &cerrors.M{}
	switch c.Mode {
	case ModeDev, ModeProd:
	default:
		errs.Append(fmt.Errorf("mode %q: want %q or %q", c.Mode, ModeDev, ModeProd))
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		errs.Append(fmt.Errorf("listen_port %d out of range", c.LocalPort))
	}
	switch c.Tool {
	case "", "none", "vite", "webpack":
	case "custom":
		if c.HMRPath == "" {
			errs.Append(fmt.Errorf("tool %q requires hmr_path", c.Tool))
		}
	default:
		errs.Append(fmt.Errorf("tool %q: want vite, webpack, custom or none", c.Tool))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs.Append(fmt.Errorf("log_format %q: want json or text", c.LogFormat))
	}
	for _, d := range []struct {
		name string
		v    Duration
	}{
		{"shutdown_grace", c.ShutdownGrace},
		{"drain_timeout", c.DrainTimeout},
		{"dial_timeout", c.DialTimeout},
	} {
		if d.v.Duration <= 0 {
			errs.Append(fmt.Errorf("%s must be positive, got %s", d.name, d.v))
		}
	}
	errs.Append(c.UI.validate()...)
	return errs.Err()
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.LocalHost, strconv.Itoa(c.LocalPort))
}

// ChildEnv is the environment layered over the dev server's inherited one:
// the public UI settings, overridden by explicit env entries.
func (c Config) ChildEnv() map[string]string {
	out := c.UI.Env()
	for k, v := range c.Env {
		out[k] = v
	}
	return out
}

// TOML renders the effective configuration.
func (c Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}

func defaultDistDir() string {
	execPath, err := os.Executable()
	if err != nil || execPath == "" {
		return filepath.Clean("ui/build")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(execPath), "..", "ui", "build"))
}
