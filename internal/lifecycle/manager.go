package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"assetgate/cli/internal/logging"
)

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs a set of long-lived jobs until one of them fails, all of them
// return, or the parent context is done. Shutdown jobs then run in the order
// they were added.
type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

type ManagerOption func(*Manager)

// WithShutdownTimeout bounds the context handed to each shutdown job.
func WithShutdownTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

func WithLogger(lg *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if lg != nil {
			m.logger = lg
		}
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		shutdownTimeout: 10 * time.Second,
		logger:          logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait blocks until the run phase ends and every shutdown job ran.
// A run job returning (even with a nil error) ends the run phase for all
// jobs, so a host can join an HTTP server against a child process.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		defer stop()
	}

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs := m.snapshot(&m.runJobs)
	shutdownJobs := m.snapshot(&m.shutdownJobs)

	errCh := make(chan error, len(runJobs))
	exited := make(chan string, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := j.run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", j.name, err)
			}
			exited <- j.name
			cancelRuns()
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	case name := <-exited:
		m.logger.Info("run job exited, stopping", "job", name)
	case <-doneCh:
	}
	cancelRuns()
	<-doneCh
	close(errCh)

	var runErr error
	for err := range errCh {
		runErr = errors.Join(runErr, err)
	}

	var shutdownErr error
	for _, j := range shutdownJobs {
		sctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		err := j.run(sctx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown job failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot(jobs *[]job) []job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job, len(*jobs))
	copy(out, *jobs)
	return out
}
