// Package process implements the Process Unit: one supervised child process
// with a status state machine, readiness detection, retry-eligible restart,
// graceful stop with signal escalation, stdin injection, and captured
// stdout/stderr logging.
package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gophpeek/pmcore/internal/config"
	"github.com/gophpeek/pmcore/internal/logger"
	"github.com/gophpeek/pmcore/internal/readiness"
)

// Status is a Process Unit's place in its lifecycle state machine.
type Status string

const (
	StatusCreated            Status = "created"
	StatusRunning            Status = "running"
	StatusReady              Status = "ready"
	StatusStopping           Status = "stopping"
	StatusStopped            Status = "stopped"
	StatusCompleted          Status = "completed"
	StatusFailedByReadyCheck Status = "failed_by_ready_check"
	StatusCrashed            Status = "crashed"
	StatusCouldNotSpawn      Status = "could_not_spawn"
)

// IsLive reports whether the status is Running or Ready.
func (s Status) IsLive() bool {
	return s == StatusRunning || s == StatusReady
}

// IsTerminal reports whether the status only changes via prepare_for_restart.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusCrashed, StatusCouldNotSpawn, StatusFailedByReadyCheck:
		return true
	default:
		return false
	}
}

// Options configures a Unit at construction time.
type Options struct {
	Env     map[string]string
	WorkDir string
	Checks  []readiness.Check

	MaxBufferSize int
	MaxLogSize    int
	Separator     string
	Flags         map[string]logger.FlagDef

	// LoggingPipeline, when set, routes captured output through the
	// redaction/multiline/JSON/level-detection/filter pipeline into
	// structured slog records in addition to the raw ring buffer.
	LoggingPipeline *config.LoggingConfig
	BaseLogger      *slog.Logger

	StopSignal  syscall.Signal
	StopTimeout time.Duration
}

// Unit owns one child process: its command line, its readiness checks, and
// an exclusively-owned ProcessLogger that survives the unit across restarts.
type Unit struct {
	id      string
	command []string
	opts    Options

	log *logger.ProcessLogger

	stdoutWriter *logger.ProcessWriter
	stderrWriter *logger.ProcessWriter

	mu           sync.Mutex
	status       Status
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	wasKilled    bool
	checksTotal  int
	checksPassed int

	ready    *completion
	finished *completion

	readinessCancel context.CancelFunc
	escalation      *time.Timer
	errSub          func()

	listenerMu  sync.Mutex
	nextListen  int
	onReady     map[int]func()
	onExit      map[int]func(code int, signal string)
	onCrash     map[int]func(error)
	exitFired   sync.Once
}

// NewUnit constructs a Unit in the Created state, owning a fresh
// ProcessLogger sized per opts.
func NewUnit(id string, command []string, opts Options) (*Unit, error) {
	lg, err := logger.NewProcessLogger(opts.MaxBufferSize, opts.MaxLogSize, opts.Separator)
	if err != nil {
		return nil, err
	}
	for name, def := range opts.Flags {
		lg.AddFlag(name, def)
	}
	if opts.StopSignal == 0 {
		opts.StopSignal = syscall.SIGINT
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = time.Second
	}
	if opts.BaseLogger == nil {
		opts.BaseLogger = slog.Default()
	}

	u := &Unit{
		id:          id,
		command:     command,
		opts:        opts,
		log:         lg,
		status:      StatusCreated,
		ready:       newCompletion(),
		finished:    newCompletion(),
		checksTotal: len(opts.Checks),
		onReady:     make(map[int]func()),
		onExit:      make(map[int]func(code int, signal string)),
		onCrash:     make(map[int]func(error)),
	}
	return u, nil
}

// ID returns the unit's identifier.
func (u *Unit) ID() string { return u.id }

// Logger returns the unit's exclusively-owned ProcessLogger.
func (u *Unit) Logger() *logger.ProcessLogger { return u.log }

// Status returns the unit's current status.
func (u *Unit) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// Pid returns the child's process ID, or 0 if it was never spawned.
func (u *Unit) Pid() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cmd == nil || u.cmd.Process == nil {
		return 0
	}
	return u.cmd.Process.Pid
}

// Ready returns the one-shot readiness completion's done channel.
func (u *Unit) Ready() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ready.Done()
}

// WaitReady blocks until the unit becomes ready or readiness is rejected.
func (u *Unit) WaitReady(ctx context.Context) error {
	u.mu.Lock()
	r := u.ready
	u.mu.Unlock()
	return r.Wait(ctx)
}

// Finished returns the one-shot completion's done channel.
func (u *Unit) Finished() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished.Done()
}

// WaitFinished blocks until the unit finishes (resolve) or crashes (reject).
func (u *Unit) WaitFinished(ctx context.Context) error {
	u.mu.Lock()
	f := u.finished
	u.mu.Unlock()
	return f.Wait(ctx)
}

// OnReady registers a listener fired once the unit reaches Ready. Returns an
// unsubscribe func.
func (u *Unit) OnReady(fn func()) func() {
	u.listenerMu.Lock()
	id := u.nextListen
	u.nextListen++
	u.onReady[id] = fn
	u.listenerMu.Unlock()
	return func() { u.listenerMu.Lock(); delete(u.onReady, id); u.listenerMu.Unlock() }
}

// OnExit registers a listener fired exactly once per lifetime when the
// child's exit is observed.
func (u *Unit) OnExit(fn func(code int, signal string)) func() {
	u.listenerMu.Lock()
	id := u.nextListen
	u.nextListen++
	u.onExit[id] = fn
	u.listenerMu.Unlock()
	return func() { u.listenerMu.Lock(); delete(u.onExit, id); u.listenerMu.Unlock() }
}

// OnCrash registers a listener fired when the unit transitions into Crashed,
// CouldNotSpawn, or FailedByReadyCheck.
func (u *Unit) OnCrash(fn func(error)) func() {
	u.listenerMu.Lock()
	id := u.nextListen
	u.nextListen++
	u.onCrash[id] = fn
	u.listenerMu.Unlock()
	return func() { u.listenerMu.Lock(); delete(u.onCrash, id); u.listenerMu.Unlock() }
}

// recordEvent notes a supervisor-lifecycle event (started, ready, crashed,
// exited) in both of this unit's ProcessWriter log buffers, so a unit's
// replayed log history shows what the process printed interleaved with what
// the supervisor did to it.
func (u *Unit) recordEvent(message string) {
	if u.stdoutWriter != nil {
		u.stdoutWriter.AddEvent(message)
	}
	if u.stderrWriter != nil {
		u.stderrWriter.AddEvent(message)
	}
}

// GetLogs returns this unit's entire retained stdout+stderr log history,
// oldest first within each stream.
func (u *Unit) GetLogs() []logger.LogEntry {
	var entries []logger.LogEntry
	if u.stdoutWriter != nil {
		entries = append(entries, u.stdoutWriter.GetLogs()...)
	}
	if u.stderrWriter != nil {
		entries = append(entries, u.stderrWriter.GetLogs()...)
	}
	return entries
}

// GetRecentLogs returns up to n of this unit's most recent entries from
// each stream.
func (u *Unit) GetRecentLogs(n int) []logger.LogEntry {
	var entries []logger.LogEntry
	if u.stdoutWriter != nil {
		entries = append(entries, u.stdoutWriter.GetRecentLogs(n)...)
	}
	if u.stderrWriter != nil {
		entries = append(entries, u.stderrWriter.GetRecentLogs(n)...)
	}
	return entries
}

func (u *Unit) fireReady() {
	u.listenerMu.Lock()
	fns := make([]func(), 0, len(u.onReady))
	for _, fn := range u.onReady {
		fns = append(fns, fn)
	}
	u.listenerMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (u *Unit) fireCrash(err error) {
	u.recordEvent(fmt.Sprintf("unit crashed: %v", err))
	u.listenerMu.Lock()
	fns := make([]func(error), 0, len(u.onCrash))
	for _, fn := range u.onCrash {
		fns = append(fns, fn)
	}
	u.listenerMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (u *Unit) fireExitOnce(code int, signal string) {
	u.exitFired.Do(func() {
		u.recordEvent(fmt.Sprintf("unit exited, code %d signal %q", code, signal))
		u.listenerMu.Lock()
		fns := make([]func(int, string), 0, len(u.onExit))
		for _, fn := range u.onExit {
			fns = append(fns, fn)
		}
		u.listenerMu.Unlock()
		for _, fn := range fns {
			fn(code, signal)
		}
	})
}

// chunkWriter forwards raw process output bytes to the owning logger, and
// optionally through the structured ambient pipeline.
type chunkWriter struct {
	log     *logger.ProcessLogger
	isError bool
	mirror  io.Writer
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.log.AddChunk(string(p), w.isError, "")
	if w.mirror != nil {
		_, _ = w.mirror.Write(p)
	}
	return len(p), nil
}

// Start spawns the child process. Fails with ErrInvalidState if the unit is
// not Created.
func (u *Unit) Start() error {
	u.mu.Lock()
	if u.status != StatusCreated {
		u.mu.Unlock()
		return ErrInvalidState
	}

	if len(u.command) == 0 {
		u.mu.Unlock()
		return fmt.Errorf("%w: empty command", ErrInvalidState)
	}

	cmd := exec.Command(u.command[0], u.command[1:]...)
	cmd.Dir = u.opts.WorkDir
	if len(u.opts.Env) > 0 {
		env := append([]string(nil), cmd.Environ()...)
		for k, v := range u.opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = sysProcAttr()

	processName := filepath.Base(u.command[0])

	var stdoutMirror, stderrMirror io.Writer
	if u.opts.LoggingPipeline != nil {
		if pw, err := logger.NewProcessWriter(u.opts.BaseLogger, processName, u.id, "stdout", u.opts.LoggingPipeline); err == nil {
			stdoutMirror = pw
			u.stdoutWriter = pw
		}
		if pw, err := logger.NewProcessWriter(u.opts.BaseLogger, processName, u.id, "stderr", u.opts.LoggingPipeline); err == nil {
			stderrMirror = pw
			u.stderrWriter = pw
		}
	}
	cmd.Stdout = &chunkWriter{log: u.log, isError: false, mirror: stdoutMirror}
	cmd.Stderr = &chunkWriter{log: u.log, isError: true, mirror: stderrMirror}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		u.status = StatusCouldNotSpawn
		wrapped := fmt.Errorf("%w: %v", ErrSpawnFailed, err)
		u.ready.settle(wrapped)
		u.finished.settle(wrapped)
		u.mu.Unlock()
		u.fireCrash(wrapped)
		return wrapped
	}

	if err := cmd.Start(); err != nil {
		u.status = StatusCouldNotSpawn
		wrapped := fmt.Errorf("%w: %v", ErrSpawnFailed, err)
		u.ready.settle(wrapped)
		u.finished.settle(wrapped)
		u.mu.Unlock()
		u.fireCrash(wrapped)
		return wrapped
	}

	u.cmd = cmd
	u.stdin = stdin
	u.status = StatusRunning
	u.checksPassed = 0
	u.mu.Unlock()

	u.errSub = u.log.OnError(func(text string) { u.handleErrorChunk(text) })

	u.recordEvent(fmt.Sprintf("unit started, pid %d", cmd.Process.Pid))

	u.armReadiness()
	go u.watchExit(cmd)

	return nil
}

func (u *Unit) armReadiness() {
	ctx, cancel := context.WithCancel(context.Background())
	u.mu.Lock()
	u.readinessCancel = cancel
	checks := u.opts.Checks
	u.mu.Unlock()

	resultCh := readiness.Run(ctx, u.log, checks)
	go func() {
		err := <-resultCh
		u.onReadinessResult(err)
	}()
}

func (u *Unit) onReadinessResult(err error) {
	u.mu.Lock()
	if !u.status.IsLive() {
		u.mu.Unlock()
		return
	}
	if err != nil {
		u.status = StatusFailedByReadyCheck
		wrapped := fmt.Errorf("%w: %v", ErrReadyCheckTimeout, err)
		u.ready.settle(wrapped)
		u.finished.settle(wrapped)
		u.mu.Unlock()
		u.fireCrash(wrapped)
		return
	}
	u.status = StatusReady
	u.checksPassed = u.checksTotal
	u.mu.Unlock()
	u.ready.settle(nil)
	u.recordEvent("unit passed readiness checks")
	u.fireReady()
}

func (u *Unit) handleErrorChunk(text string) {
	u.mu.Lock()
	if !u.status.IsLive() {
		u.mu.Unlock()
		return
	}
	u.status = StatusCrashed
	if u.readinessCancel != nil {
		u.readinessCancel()
	}
	wrapped := fmt.Errorf("%w: %s", ErrRuntimeCrash, text)
	u.mu.Unlock()
	u.ready.settle(wrapped)
	u.finished.settle(wrapped)
	u.fireCrash(wrapped)
}

func (u *Unit) watchExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	code := 0
	signal := ""
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() {
					signal = ws.Signal().String()
					code = -1
				} else {
					code = ws.ExitStatus()
				}
			} else {
				code = exitErr.ExitCode()
			}
		} else {
			code = -1
		}
	}

	u.mu.Lock()
	if u.readinessCancel != nil {
		u.readinessCancel()
	}
	if u.escalation != nil {
		u.escalation.Stop()
	}

	switch u.status {
	case StatusStopping:
		u.status = StatusStopped
		u.mu.Unlock()
		u.finished.settle(nil)
	case StatusRunning, StatusReady:
		if err == nil && u.checksPassed == u.checksTotal {
			u.status = StatusCompleted
			u.mu.Unlock()
			u.finished.settle(nil)
		} else {
			u.status = StatusCrashed
			wrapped := fmt.Errorf("%w: exit code %d", ErrRuntimeCrash, code)
			u.mu.Unlock()
			u.ready.settle(wrapped)
			u.finished.settle(wrapped)
			u.fireCrash(wrapped)
		}
	default:
		// Already finalized via error chunk or readiness timeout; exit
		// info is still reported via fireExitOnce below.
		u.mu.Unlock()
	}

	u.fireExitOnce(code, signal)
}

// Stop requests a graceful stop: delivers signal (default SIGINT), then
// escalates to SIGKILL if the unit is still Stopping after timeout. Returns
// once the stop signal has been delivered; callers await Finished()/
// WaitFinished for completion.
func (u *Unit) Stop(timeout time.Duration, signal syscall.Signal) error {
	if timeout == 0 {
		timeout = u.opts.StopTimeout
	}
	if signal == 0 {
		signal = u.opts.StopSignal
	}

	u.mu.Lock()
	if !u.status.IsLive() {
		u.mu.Unlock()
		return ErrInvalidState
	}
	u.status = StatusStopping
	cmd := u.cmd
	u.mu.Unlock()

	deliverSignal(cmd, signal)

	u.mu.Lock()
	u.escalation = time.AfterFunc(timeout, func() {
		u.mu.Lock()
		stillStopping := u.status == StatusStopping
		u.mu.Unlock()
		if stillStopping {
			_ = u.Kill()
		}
	})
	u.mu.Unlock()

	return nil
}

// Kill delivers SIGKILL immediately. Fails with ErrInvalidState unless the
// unit is live or Stopping.
func (u *Unit) Kill() error {
	u.mu.Lock()
	if !u.status.IsLive() && u.status != StatusStopping {
		u.mu.Unlock()
		return ErrInvalidState
	}
	u.wasKilled = true
	u.status = StatusCrashed
	cmd := u.cmd
	if u.readinessCancel != nil {
		u.readinessCancel()
	}
	u.mu.Unlock()

	deliverSignal(cmd, syscall.SIGKILL)

	wrapped := fmt.Errorf("%w: killed", ErrRuntimeCrash)
	u.ready.settle(wrapped)
	u.finished.settle(wrapped)
	u.fireCrash(wrapped)
	return nil
}

// Restart stops a live/Stopping unit and waits for it to finish before
// preparing and starting it again; otherwise it prepares and starts
// immediately.
func (u *Unit) Restart() error {
	u.mu.Lock()
	status := u.status
	u.mu.Unlock()

	if status.IsLive() || status == StatusStopping {
		if status.IsLive() {
			if err := u.Stop(0, 0); err != nil {
				return err
			}
		}
		_ = u.WaitFinished(context.Background())
	}

	if err := u.PrepareForRestart(); err != nil {
		return err
	}
	return u.Start()
}

// PrepareForRestart resets the unit to Created with fresh completion
// signals. Fails with ErrInvalidState if the unit is live or Stopping.
func (u *Unit) PrepareForRestart() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.status.IsLive() || u.status == StatusStopping {
		return ErrInvalidState
	}
	if u.errSub != nil {
		u.errSub()
		u.errSub = nil
	}
	if u.readinessCancel != nil {
		u.readinessCancel()
		u.readinessCancel = nil
	}
	if u.escalation != nil {
		u.escalation.Stop()
		u.escalation = nil
	}

	u.status = StatusCreated
	u.checksPassed = 0
	u.wasKilled = false
	u.cmd = nil
	u.stdin = nil
	u.exitFired = sync.Once{}
	u.ready = newCompletion()
	u.finished = newCompletion()
	return nil
}

// SendStdin writes input (plus a trailing newline) to the child's stdin and
// records a typed-log entry of type UserInput or UserInputSecret.
func (u *Unit) SendStdin(input string, secret bool) error {
	u.mu.Lock()
	if u.stdin == nil {
		u.mu.Unlock()
		return ErrStdinUnavailable
	}
	if !u.status.IsLive() {
		u.mu.Unlock()
		return ErrNotRunning
	}
	stdin := u.stdin
	u.mu.Unlock()

	if _, err := io.WriteString(stdin, input+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	tag := logger.TypeUserInput
	if secret {
		tag = logger.TypeUserInputSecret
	}
	u.log.AddTypedEntry(input, tag)
	return nil
}

// Cleanup releases all timers and subscriptions. Idempotent.
func (u *Unit) Cleanup() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.errSub != nil {
		u.errSub()
		u.errSub = nil
	}
	if u.readinessCancel != nil {
		u.readinessCancel()
		u.readinessCancel = nil
	}
	if u.escalation != nil {
		u.escalation.Stop()
		u.escalation = nil
	}
}

// WasKilled reports whether Kill() was ever invoked on this lifetime.
func (u *Unit) WasKilled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.wasKilled
}
