package supervisor

import (
	"errors"
	"fmt"
)

type ProcessErrorKind string

const SpawnFailed ProcessErrorKind = "spawn_failed"

// ProcessError reports a child process that could not be started.
type ProcessError struct {
	Kind    ProcessErrorKind
	Command string
	Dir     string
	Err     error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %q in %q: %v", e.Kind, e.Command, e.Dir, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) Is(target error) bool {
	t, ok := target.(*ProcessError)
	return ok && t.Kind == e.Kind && t.Command == "" && t.Err == nil
}

// ErrSpawnFailed matches every ProcessError of kind SpawnFailed.
var ErrSpawnFailed = &ProcessError{Kind: SpawnFailed}

var (
	errEmptyCommand = errors.New("empty command")
	errNoRegistry   = errors.New("no cancellation registry")
)
