package gateway

import (
	"errors"
	"maps"
	"net/url"
	"slices"
	"strings"

	cerrors "cloudeng.io/errors"

	"assetgate/cli/internal/assets"
)

// Config is a validated, immutable gateway configuration. Obtain one from
// ConfigBuilder.Build.
type Config struct {
	base       *url.URL
	tool       Tool
	assets     assets.Source
	projectDir string
	command    []string
	env        map[string]string
}

// Base returns a copy of the upstream URL, or nil when none is configured.
func (c Config) Base() *url.URL {
	if c.base == nil {
		return nil
	}
	u := *c.base
	return &u
}

func (c Config) Tool() Tool { return c.tool }

// Assets returns the production asset source, or nil.
func (c Config) Assets() assets.Source { return c.assets }

func (c Config) ProjectDir() string { return c.projectDir }

func (c Config) Command() []string { return slices.Clone(c.command) }

func (c Config) Env() map[string]string { return maps.Clone(c.env) }

// ConfigBuilder collects settings; each setter overwrites its own field
// only, so calls may come in any order and may repeat.
type ConfigBuilder struct {
	base       string
	tool       Tool
	assets     assets.Source
	projectDir string
	command    []string
	env        map[string]string
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{env: map[string]string{}}
}

func (b *ConfigBuilder) Base(raw string) *ConfigBuilder {
	b.base = strings.TrimSpace(raw)
	return b
}

func (b *ConfigBuilder) Tool(t Tool) *ConfigBuilder {
	b.tool = t
	return b
}

func (b *ConfigBuilder) Assets(src assets.Source) *ConfigBuilder {
	b.assets = src
	return b
}

func (b *ConfigBuilder) ProjectDir(dir string) *ConfigBuilder {
	b.projectDir = dir
	return b
}

// Command replaces the argv used to start the dev server.
func (b *ConfigBuilder) Command(argv ...string) *ConfigBuilder {
	b.command = slices.Clone(argv)
	return b
}

func (b *ConfigBuilder) Env(key, value string) *ConfigBuilder {
	b.env[key] = value
	return b
}

// EnvMap merges env into the configured variables.
func (b *ConfigBuilder) EnvMap(env map[string]string) *ConfigBuilder {
	maps.Copy(b.env, env)
	return b
}

// Build validates the collected settings. Every problem found is reported;
// a single problem is returned as a *ConfigError, several as an errors.M
// whose members are *ConfigError.
func (b *ConfigBuilder) Build() (Config, error) {
	cfg := Config{
		tool:       b.tool,
		assets:     b.assets,
		projectDir: b.projectDir,
		command:    slices.Clone(b.command),
		env:        maps.Clone(b.env),
	}
	errs := &cerrors.M{}
	if b.base != "" {
		u, err := parseBase(b.base)
		errs.Append(err)
		cfg.base = u
	}
	for _, err := range cfg.validate() {
		// An unparsable base is already reported as InvalidURL.
		if b.base != "" && errors.Is(err, ErrMissingUpstream) {
			continue
		}
		errs.Append(err)
	}
	if err := errs.Err(); err != nil {
		if all := errs.Unwrap(); len(all) == 1 {
			return Config{}, all[0]
		}
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() []error {
	var errs []error
	needsUpstream := len(c.command) > 0 || c.tool.Kind() == ToolHMR
	if needsUpstream && c.base == nil {
		errs = append(errs, configErrorf(MissingUpstream, "a command or hot reload tool requires an upstream base URL"))
	}
	if len(c.command) > 0 && c.projectDir == "" {
		errs = append(errs, configErrorf(MissingProjectDir, "command %q needs a project directory", strings.Join(c.command, " ")))
	}
	if c.tool.Kind() == ToolHMR {
		p := c.tool.HMRPath()
		if !strings.HasPrefix(p, "/") || strings.ContainsAny(p, "?#") {
			errs = append(errs, configErrorf(InvalidURL, "hot reload path %q must be an absolute path", p))
		}
	}
	return errs
}

// parseBase accepts http(s)://host[:port] with at most a trailing slash.
func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigError{Kind: InvalidURL, Detail: raw, Err: err}
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return nil, configErrorf(InvalidURL, "%q: scheme must be http or https", raw)
	case u.Host == "":
		return nil, configErrorf(InvalidURL, "%q: missing host", raw)
	case u.Path != "" && u.Path != "/":
		return nil, configErrorf(InvalidURL, "%q: base must not carry a path", raw)
	case u.RawQuery != "" || u.ForceQuery:
		return nil, configErrorf(InvalidURL, "%q: base must not carry a query", raw)
	case u.Fragment != "":
		return nil, configErrorf(InvalidURL, "%q: base must not carry a fragment", raw)
	}
	u.Path = ""
	u.RawPath = ""
	return u, nil
}
