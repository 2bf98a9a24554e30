// Package supervisor runs the frontend dev server as a child process and
// guarantees it does not outlive the gateway.
package supervisor

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"cloudeng.io/os/executil"
	"cloudeng.io/webapp/devserver"

	"assetgate/cli/internal/lifecycle"
	"assetgate/cli/internal/logging"
)

const (
	defaultGrace = 5 * time.Second
	outputSettle = 250 * time.Millisecond
)

// Spec describes the process to run.
type Spec struct {
	Command []string
	Dir     string
	// Env is layered over the inherited environment; these keys win.
	Env map[string]string
}

// Observer is told when the child starts and exits.
type Observer interface {
	ProcessStarted()
	ProcessExited(code int)
}

type options struct {
	grace     time.Duration
	stdout    io.Writer
	stderr    io.Writer
	logger    *slog.Logger
	observer  Observer
	extractor devserver.URLExtractor
	expected  *url.URL
}

type Option func(*options)

// WithGrace sets how long a terminated child may take to exit before it is
// killed.
func WithGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.grace = d
		}
	}
}

func WithStdout(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.stdout = w
		}
	}
}

func WithStderr(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.stderr = w
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.logger = lg
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithAnnouncement scans the child's stdout with extractor and logs the
// address the dev server reports. A warning is logged when it differs from
// expected.
func WithAnnouncement(extractor devserver.URLExtractor, expected *url.URL) Option {
	return func(o *options) {
		o.extractor = extractor
		o.expected = expected
	}
}

// Handle owns a running child process.
type Handle struct {
	cmd    *exec.Cmd
	pid    int
	grace  time.Duration
	logger *slog.Logger

	done     chan struct{}
	err      error
	exitCode int

	termOnce sync.Once
	termDone chan struct{}
}

// Spawn starts spec and returns once the process is running; it does not
// wait for the dev server to accept connections. The process is registered
// with reg, so cancelling the registry (or ctx) terminates it.
func Spawn(ctx context.Context, reg *lifecycle.Registry, spec Spec, opts ...Option) (*Handle, error) {
	o := options{
		grace:  defaultGrace,
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	cmdline := strings.Join(spec.Command, " ")
	if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
		return nil, &ProcessError{Kind: SpawnFailed, Command: cmdline, Dir: spec.Dir, Err: errEmptyCommand}
	}
	if st, err := os.Stat(spec.Dir); err != nil || !st.IsDir() {
		if err == nil {
			err = &os.PathError{Op: "chdir", Path: spec.Dir, Err: os.ErrInvalid}
		}
		return nil, &ProcessError{Kind: SpawnFailed, Command: cmdline, Dir: spec.Dir, Err: err}
	}

	if reg == nil {
		return nil, &ProcessError{Kind: SpawnFailed, Command: cmdline, Dir: spec.Dir, Err: errNoRegistry}
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...) // #nosec G204
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	setProcessGroup(cmd)

	// The pipes are owned here rather than by exec so that cmd.Wait returns
	// as soon as the child exits, even while a grandchild keeps the write
	// end open.
	p, err := openPipes(cmd, o.stderr)
	if err != nil {
		return nil, &ProcessError{Kind: SpawnFailed, Command: cmdline, Dir: spec.Dir, Err: err}
	}
	if err := cmd.Start(); err != nil {
		p.closeAll()
		return nil, &ProcessError{Kind: SpawnFailed, Command: cmdline, Dir: spec.Dir, Err: err}
	}
	p.closeWriters()

	if ctx == nil {
		ctx = context.Background()
	}
	regCtx, release := reg.Register(ctx, "process:"+spec.Command[0])
	h := &Handle{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		grace:    o.grace,
		logger:   o.logger.With("pid", cmd.Process.Pid),
		done:     make(chan struct{}),
		termDone: make(chan struct{}),
	}
	h.logger.Info("child process started", "cmd", cmdline, "dir", spec.Dir)
	if o.observer != nil {
		o.observer.ProcessStarted()
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		var wg sync.WaitGroup
		if p.stderrR != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = io.Copy(o.stderr, p.stderrR)
			}()
		}
		h.forwardStdout(p.stdoutR, o)
		wg.Wait()
		p.closeReaders()
	}()
	go func() {
		err := cmd.Wait()
		// Give buffered output a moment to reach the writers; processes
		// that inherited the pipes must not hold up exit reporting.
		select {
		case <-drained:
		case <-time.After(outputSettle):
		}
		h.exitCode = exitCode(cmd)
		h.err = err
		close(h.done)
		h.logger.Info("child process exited", "code", h.exitCode, "err", err)
		if o.observer != nil {
			o.observer.ProcessExited(h.exitCode)
		}
	}()
	// The registration lasts until the child has exited and its output is
	// closed; cancelling the registry at any point before that terminates
	// the whole group.
	go func() {
		defer release()
		var exited, output <-chan struct{} = h.done, drained
		for exited != nil || output != nil {
			select {
			case <-regCtx.Done():
				h.terminate()
				return
			case <-exited:
				exited = nil
			case <-output:
				output = nil
			}
		}
	}()
	return h, nil
}

type pipes struct {
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

// openPipes connects the child's stdout to a pipe the gateway scans. stderr
// goes straight to an *os.File writer, otherwise through a second pipe.
func openPipes(cmd *exec.Cmd, stderr io.Writer) (*pipes, error) {
	p := &pipes{}
	var err error
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		return nil, err
	}
	cmd.Stdout = p.stdoutW
	if f, ok := stderr.(*os.File); ok {
		cmd.Stderr = f
		return p, nil
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}
	cmd.Stderr = p.stderrW
	return p, nil
}

func (p *pipes) closeWriters() {
	for _, f := range []*os.File{p.stdoutW, p.stderrW} {
		if f != nil {
			_ = f.Close()
		}
	}
}

func (p *pipes) closeReaders() {
	for _, f := range []*os.File{p.stdoutR, p.stderrR} {
		if f != nil {
			_ = f.Close()
		}
	}
}

func (p *pipes) closeAll() {
	p.closeWriters()
	p.closeReaders()
}

// MergeEnv overlays env on base. Keys are applied in sorted order so the
// result is stable.
func MergeEnv(base []string, env map[string]string) []string {
	out := slices.Clone(base)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = executil.ReplaceEnvVar(out, k, env[k])
	}
	return out
}

func (h *Handle) forwardStdout(r io.Reader, o options) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	announced := o.extractor == nil
	for sc.Scan() {
		line := sc.Bytes()
		if !announced {
			announced = h.checkAnnouncement(line, o)
		}
		_, _ = o.stdout.Write(line)
		_, _ = o.stdout.Write([]byte{'\n'})
	}
	// Keep draining so the child never blocks on a full pipe.
	_, _ = io.Copy(o.stdout, r)
}

func (h *Handle) checkAnnouncement(line []byte, o options) bool {
	u, err := o.extractor(line)
	if u == nil && err == nil {
		return false
	}
	if err != nil {
		h.logger.Warn("could not parse dev server address", "line", string(line), "err", err)
		return true
	}
	h.logger.Info("dev server announced address", "url", u.String())
	if o.expected != nil && !sameAuthority(u, o.expected) {
		h.logger.Warn("dev server address differs from configured upstream",
			"announced", u.String(), "upstream", o.expected.String())
	}
	return true
}

func sameAuthority(a, b *url.URL) bool {
	norm := func(u *url.URL) string {
		host := u.Hostname()
		if host == "127.0.0.1" || host == "::1" {
			host = "localhost"
		}
		return host + ":" + u.Port()
	}
	return norm(a) == norm(b)
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// Pid returns the child's process id.
func (h *Handle) Pid() int { return h.pid }

// Done is closed once the child has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode is -1 while the child is running or when it was killed by a
// signal.
func (h *Handle) ExitCode() int {
	if h.Running() {
		return -1
	}
	return h.exitCode
}

// Wait blocks until the child exits and returns its exit error, or until
// ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel starts termination and returns immediately. Use Stop to also wait.
func (h *Handle) Cancel() {
	go h.terminate()
}

// Stop terminates the child and waits for termination to complete or for
// ctx to end.
func (h *Handle) Stop(ctx context.Context) error {
	h.Cancel()
	select {
	case <-h.termDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate asks the process group to exit and kills it once the grace
// period has elapsed.
func (h *Handle) terminate() {
	h.termOnce.Do(func() {
		defer close(h.termDone)
		if !h.Running() {
			// Members of the group can outlive the leader and keep its
			// output pipe open.
			_ = killGroup(h.cmd)
			return
		}
		h.logger.Info("terminating child process", "grace", h.grace.String())
		if err := terminateGroup(h.cmd); err != nil {
			h.logger.Debug("terminate signal failed", "err", err)
		}
		timer := time.NewTimer(h.grace)
		defer timer.Stop()
		select {
		case <-h.done:
			return
		case <-timer.C:
		}
		h.logger.Warn("child process ignored termination, killing")
		if err := killGroup(h.cmd); err != nil {
			h.logger.Debug("kill failed", "err", err)
		}
		<-h.done
	})
}
