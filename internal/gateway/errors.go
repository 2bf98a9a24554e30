package gateway

import (
	"errors"
	"fmt"
)

type ConfigErrorKind string

const (
	MissingUpstream    ConfigErrorKind = "missing_upstream"
	MissingProjectDir  ConfigErrorKind = "missing_project_dir"
	InvalidURL         ConfigErrorKind = "invalid_url"
	MissingAssetSource ConfigErrorKind = "missing_asset_source"
)

// ConfigError reports a gateway configuration that cannot work. It is
// fatal at startup.
type ConfigError struct {
	Kind   ConfigErrorKind
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "gateway config: " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	return ok && t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

var (
	ErrMissingUpstream    = &ConfigError{Kind: MissingUpstream}
	ErrMissingProjectDir  = &ConfigError{Kind: MissingProjectDir}
	ErrInvalidURL         = &ConfigError{Kind: InvalidURL}
	ErrMissingAssetSource = &ConfigError{Kind: MissingAssetSource}
)

var (
	ErrSpawnNotDevMode = errors.New("gateway: spawn requires a dev mode registration")
	ErrNoCommand       = errors.New("gateway: no command configured")
	ErrAlreadySpawned  = errors.New("gateway: dev server already spawned")
)

func configErrorf(kind ConfigErrorKind, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
