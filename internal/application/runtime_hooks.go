package application

import "context"

// Hooks replace the run and shutdown phases, for callers that only need the
// wiring checked.
type Hooks struct {
	Run      func(context.Context) error
	Shutdown func(context.Context) error
}

func (a *Application) setRunHook(fn func(context.Context) error) {
	if a == nil || fn == nil {
		return
	}
	a.runFn = fn
}

func (a *Application) setShutdownHook(fn func(context.Context) error) {
	if a == nil || fn == nil {
		return
	}
	a.shutdownFn = fn
}
