package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status is the lifecycle state of the supervised helper.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusBackoff Status = "backoff"
	StatusFailed  Status = "failed"
)

// Default supervision timings.
const (
	DefaultRestartDelay    = time.Second
	DefaultMaxRestartDelay = time.Minute
	DefaultStableAfter     = 2 * time.Minute
	DefaultGracefulTimeout = 10 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a running supervisor.
	ErrAlreadyStarted = errors.New("process: already started")

	// ErrNoBinary is returned by Start when Config.Binary is empty.
	ErrNoBinary = errors.New("process: binary is required")
)

// Config describes the helper program and its restart policy.
type Config struct {
	Name   string
	Binary string
	Args   []string

	// Env is appended to the parent environment.
	Env     []string
	WorkDir string

	// RestartDelay is the first backoff interval; it doubles up to
	// MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestarts bounds consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// A run lasting StableAfter resets the backoff and restart budget.
	StableAfter time.Duration

	GracefulTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = c.Binary
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.MaxRestartDelay < c.RestartDelay {
		c.MaxRestartDelay = max(DefaultMaxRestartDelay, c.RestartDelay)
	}
	if c.StableAfter <= 0 {
		c.StableAfter = DefaultStableAfter
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
}

// Logger is the logging interface used by the Supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Helper stdout/stderr lines are logged at debug.
func WithLogger(l Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// Stats is a point-in-time view of the helper.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime_ns,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Supervisor runs one helper process and restarts it when it exits.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastErr   error
	startedAt time.Time

	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a stopped Supervisor.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the helper and supervises it until ctx is cancelled or Stop
// is called. An error means the first launch failed; nothing is left running.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Binary == "" {
		return ErrNoBinary
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	exited, err := s.launch()
	if err != nil {
		s.setFailed(err)
		close(s.done)
		return err
	}

	go s.supervise(ctx, exited)
	return nil
}

// launch starts one helper run. The returned channel yields the exit error.
func (s *Supervisor) launch() (<-chan error, error) {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // operator-configured helper
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Dir = s.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("helper started", "name", s.cfg.Name, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.logOutput(&wg, "stdout", stdout)
	go s.logOutput(&wg, "stderr", stderr)

	exited := make(chan error, 1)
	go func() {
		// Pipes must be drained before Wait closes them.
		wg.Wait()
		exited <- cmd.Wait()
	}()
	return exited, nil
}

func (s *Supervisor) logOutput(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("helper output", "name", s.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

func (s *Supervisor) supervise(ctx context.Context, exited <-chan error) {
	defer close(s.done)

	policy := s.restartPolicy()

	for {
		select {
		case <-ctx.Done():
			s.terminate(exited)
			return
		case <-s.stop:
			s.terminate(exited)
			return
		case err := <-exited:
			ran := s.recordExit(err)
			if ran >= s.cfg.StableAfter {
				policy.Reset()
				s.mu.Lock()
				s.restarts = 0
				s.mu.Unlock()
			}

			delay := policy.NextBackOff()
			if delay == backoff.Stop {
				s.logger.Error("helper restart budget exhausted", "name", s.cfg.Name, "restarts", s.cfg.MaxRestarts)
				s.setStatus(StatusFailed)
				return
			}

			s.mu.Lock()
			s.status = StatusBackoff
			s.restarts++
			attempt := s.restarts
			s.mu.Unlock()
			s.logger.Info("restarting helper", "name", s.cfg.Name, "attempt", attempt, "delay", delay)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.setStatus(StatusStopped)
				return
			case <-s.stop:
				timer.Stop()
				s.setStatus(StatusStopped)
				return
			case <-timer.C:
			}

			next, err := s.launch()
			if err != nil {
				s.logger.Error("helper relaunch failed", "name", s.cfg.Name, "error", err)
				failed := make(chan error, 1)
				failed <- err
				next = failed
			}
			exited = next
		}
	}
}

// restartPolicy doubles the delay from RestartDelay up to MaxRestartDelay
// and never gives up unless MaxRestarts is set.
func (s *Supervisor) restartPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.RestartDelay
	eb.MaxInterval = s.cfg.MaxRestartDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	if s.cfg.MaxRestarts > 0 {
		return backoff.WithMaxRetries(eb, uint64(s.cfg.MaxRestarts))
	}
	return eb
}

// recordExit records an unexpected exit and returns how long the run lasted.
func (s *Supervisor) recordExit(err error) time.Duration {
	if err == nil {
		err = errors.New("exited with status 0")
	}

	s.mu.Lock()
	ran := time.Since(s.startedAt)
	s.lastErr = err
	s.status = StatusFailed
	s.cmd = nil
	s.mu.Unlock()

	s.logger.Warn("helper exited", "name", s.cfg.Name, "error", err, "ran", ran.Round(time.Millisecond))
	return ran
}

// terminate signals the helper's process group with SIGTERM, then SIGKILL
// after GracefulTimeout, and waits for it to exit.
func (s *Supervisor) terminate(exited <-chan error) {
	s.mu.RLock()
	cmd := s.cmd
	s.mu.RUnlock()

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		s.logger.Info("stopping helper", "name", s.cfg.Name, "pid", pid)
		signalGroup(pid, syscall.SIGTERM, s.logger)

		select {
		case <-exited:
		case <-time.After(s.cfg.GracefulTimeout):
			s.logger.Warn("helper ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.GracefulTimeout)
			signalGroup(pid, syscall.SIGKILL, s.logger)
			<-exited
		}
	}

	s.mu.Lock()
	s.cmd = nil
	s.status = StatusStopped
	s.mu.Unlock()
}

func signalGroup(pid int, sig syscall.Signal, logger Logger) {
	// A negative pid addresses the group created by Setpgid.
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		logger.Warn("signalling helper process group failed", "pid", pid, "signal", sig.String(), "error", err)
	}
}

// Stop terminates the helper and waits for supervision to end. It is safe
// to call more than once and before Start.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	s.stopOnce.Do(func() { close(s.stop) })
	if started {
		<-s.done
	}
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Supervisor) setFailed(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastErr = err
	s.mu.Unlock()
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats returns a snapshot for the ops API.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:     s.cfg.Name,
		Status:   s.status,
		Restarts: s.restarts,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	if s.status == StatusRunning {
		st.Uptime = time.Since(s.startedAt)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
