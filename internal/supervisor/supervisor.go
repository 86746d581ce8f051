// Package supervisor owns the three ordered cohorts (dependencies, main,
// cleanup), orchestrates their lifecycle and retry policy, and emits a typed
// event stream to its subscribers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gophpeek/pmcore/internal/crashreport"
	"github.com/gophpeek/pmcore/internal/logger"
	"github.com/gophpeek/pmcore/internal/process"
)

// Config configures retry and cleanup policy.
type Config struct {
	MaxRetries       int
	CleanupTimeout   time.Duration
	CrashReporter    crashreport.Sink
}

// Supervisor owns three ordered cohorts of Process Units and enforces the
// dependency-gates-main, retry-on-crash, and ordered-cleanup lifecycle.
type Supervisor struct {
	mu sync.Mutex

	dependencies map[string]*process.Unit
	main         map[string]*process.Unit
	cleanup      map[string]*process.Unit
	cleanupOrder []string

	retryCount map[string]int
	maxRetries int

	cleanupTimeout time.Duration
	running        bool

	teardown map[string]func()
	reporter crashreport.Sink

	listenerMu   sync.Mutex
	nextListener int
	listeners    map[int]func(Event)
}

// New constructs a Supervisor. Zero-value Config fields fall back to the
// documented defaults (max_retries=3, cleanup_timeout_ms=5000).
func New(cfg Config) *Supervisor {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CleanupTimeout == 0 {
		cfg.CleanupTimeout = 5 * time.Second
	}
	if cfg.CrashReporter == nil {
		cfg.CrashReporter = crashreport.NoopReporter{}
	}
	return &Supervisor{
		dependencies:   make(map[string]*process.Unit),
		main:           make(map[string]*process.Unit),
		cleanup:        make(map[string]*process.Unit),
		retryCount:     make(map[string]int),
		maxRetries:     cfg.MaxRetries,
		cleanupTimeout: cfg.CleanupTimeout,
		teardown:       make(map[string]func()),
		reporter:       cfg.CrashReporter,
		listeners:      make(map[int]func(Event)),
	}
}

// OnEvent subscribes to the supervisor's event stream. Returns an
// unsubscribe func.
func (s *Supervisor) OnEvent(fn func(Event)) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return func() { s.listenerMu.Lock(); delete(s.listeners, id); s.listenerMu.Unlock() }
}

func (s *Supervisor) emit(ev Event) {
	s.listenerMu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Supervisor) emitStatus(format string, args ...interface{}) {
	ev := newEvent(EventStatusMessage)
	ev.Message = fmt.Sprintf(format, args...)
	s.emit(ev)
}

func (s *Supervisor) emitStateUpdate() {
	ev := newEvent(EventStateUpdate)
	ev.State = s.snapshotState()
	s.emit(ev)
}

func (s *Supervisor) snapshotState() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := map[string][]string{}
	for id := range s.dependencies {
		snap[string(CohortDependency)] = append(snap[string(CohortDependency)], id)
	}
	for id := range s.main {
		snap[string(CohortMain)] = append(snap[string(CohortMain)], id)
	}
	for _, id := range s.cleanupOrder {
		snap[string(CohortCleanup)] = append(snap[string(CohortCleanup)], id)
	}
	return snap
}

func cohortMap(s *Supervisor, cohort Cohort) map[string]*process.Unit {
	switch cohort {
	case CohortDependency:
		return s.dependencies
	case CohortMain:
		return s.main
	case CohortCleanup:
		return s.cleanup
	default:
		return nil
	}
}

// AddDependency registers a dependency unit under id.
func (s *Supervisor) AddDependency(id string, unit *process.Unit) { s.add(id, CohortDependency, unit) }

// AddMain registers a main unit under id.
func (s *Supervisor) AddMain(id string, unit *process.Unit) { s.add(id, CohortMain, unit) }

// AddCleanup registers a cleanup unit under id, appending it to the
// insertion-ordered cleanup sequence if not already present.
func (s *Supervisor) AddCleanup(id string, unit *process.Unit) {
	s.mu.Lock()
	if _, exists := s.cleanup[id]; !exists {
		s.cleanupOrder = append(s.cleanupOrder, id)
	}
	s.cleanup[id] = unit
	s.mu.Unlock()
	s.emitAdded(id, CohortCleanup)
}

func (s *Supervisor) add(id string, cohort Cohort, unit *process.Unit) {
	s.mu.Lock()
	cohortMap(s, cohort)[id] = unit
	s.mu.Unlock()
	s.emitAdded(id, cohort)
}

func (s *Supervisor) emitAdded(id string, cohort Cohort) {
	ev := newEvent(EventProcessAdded)
	ev.ID, ev.Cohort = id, cohort
	s.emit(ev)
}

// RemoveDependency tears down id's wiring and removes it from the
// dependency cohort. Safe to call while running.
func (s *Supervisor) RemoveDependency(id string) { s.remove(id, CohortDependency) }

// RemoveMain tears down id's wiring and removes it from the main cohort.
func (s *Supervisor) RemoveMain(id string) { s.remove(id, CohortMain) }

// RemoveCleanup tears down id's wiring and removes it from the cleanup
// cohort and its insertion order.
func (s *Supervisor) RemoveCleanup(id string) {
	s.mu.Lock()
	delete(s.cleanup, id)
	for i, cid := range s.cleanupOrder {
		if cid == id {
			s.cleanupOrder = append(s.cleanupOrder[:i], s.cleanupOrder[i+1:]...)
			break
		}
	}
	s.teardownID(id)
	s.mu.Unlock()
	s.emitRemoved(id, CohortCleanup)
}

func (s *Supervisor) remove(id string, cohort Cohort) {
	s.mu.Lock()
	delete(cohortMap(s, cohort), id)
	s.teardownID(id)
	s.mu.Unlock()
	s.emitRemoved(id, cohort)
}

func (s *Supervisor) emitRemoved(id string, cohort Cohort) {
	ev := newEvent(EventProcessRemoved)
	ev.ID, ev.Cohort = id, cohort
	s.emit(ev)
}

// teardownID invokes and clears id's stored unsubscribe func. Caller must
// hold s.mu.
func (s *Supervisor) teardownID(id string) {
	if fn, ok := s.teardown[id]; ok {
		fn()
		delete(s.teardown, id)
	}
}

// GetDependency looks up a dependency unit by id.
func (s *Supervisor) GetDependency(id string) (*process.Unit, bool) { return s.get(id, CohortDependency) }

// GetMain looks up a main unit by id.
func (s *Supervisor) GetMain(id string) (*process.Unit, bool) { return s.get(id, CohortMain) }

// GetCleanup looks up a cleanup unit by id.
func (s *Supervisor) GetCleanup(id string) (*process.Unit, bool) { return s.get(id, CohortCleanup) }

func (s *Supervisor) get(id string, cohort Cohort) (*process.Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := cohortMap(s, cohort)[id]
	return u, ok
}

// GetLogs returns the id unit's retained stdout+stderr log history across
// all three cohorts, or nil if no unit is registered under id.
func (s *Supervisor) GetLogs(id string) []logger.LogEntry {
	u, ok := s.lookupAnyCohort(id)
	if !ok {
		return nil
	}
	return u.GetLogs()
}

// GetRecentLogs returns up to n of the id unit's most recent log entries
// per stream, or nil if no unit is registered under id.
func (s *Supervisor) GetRecentLogs(id string, n int) []logger.LogEntry {
	u, ok := s.lookupAnyCohort(id)
	if !ok {
		return nil
	}
	return u.GetRecentLogs(n)
}

func (s *Supervisor) lookupAnyCohort(id string) (*process.Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.dependencies[id]; ok {
		return u, true
	}
	if u, ok := s.main[id]; ok {
		return u, true
	}
	if u, ok := s.cleanup[id]; ok {
		return u, true
	}
	return nil, false
}

// wireUnit installs handler callbacks for id (tearing down any prior
// registration first) per the fixed wiring order: on_crash, on_exit,
// on_ready, logger.on_log, logger.on_error.
func (s *Supervisor) wireUnit(id string, cohort Cohort, unit *process.Unit) {
	s.mu.Lock()
	s.teardownID(id)
	s.mu.Unlock()

	var unsubs []func()

	unsubs = append(unsubs, unit.OnCrash(func(err error) {
		s.handleCrash(id, cohort, unit, err)
	}))

	unsubs = append(unsubs, unit.OnExit(func(code int, signal string) {
		ev := newEvent(EventProcessStopped)
		ev.ID, ev.Cohort = id, cohort
		if signal != "" {
			ev.Signal = &signal
		} else {
			ev.ExitCode = &code
		}
		s.emit(ev)
		s.emitStatus("process %s stopped", id)
		s.emitStateUpdate()
	}))

	unsubs = append(unsubs, unit.OnReady(func() {
		ev := newEvent(EventProcessReady)
		ev.ID, ev.Cohort = id, cohort
		s.emit(ev)
		s.emitStatus("process %s ready", id)
		s.emitStateUpdate()
	}))

	unsubs = append(unsubs, unit.Logger().OnLog(func(message string) {
		ev := newEvent(EventProcessLog)
		ev.ID, ev.Cohort, ev.Message = id, cohort, message
		s.emit(ev)
	}))

	unsubs = append(unsubs, unit.Logger().OnError(func(message string) {
		ev := newEvent(EventProcessLog)
		ev.ID, ev.Cohort, ev.Message, ev.IsError = id, cohort, message, true
		s.emit(ev)
	}))

	s.mu.Lock()
	s.teardown[id] = func() {
		for _, fn := range unsubs {
			fn()
		}
	}
	s.mu.Unlock()
}

// handleCrash implements the spec's handle_crash algorithm.
func (s *Supervisor) handleCrash(id string, cohort Cohort, unit *process.Unit, err error) {
	s.mu.Lock()
	current := s.retryCount[id]
	s.mu.Unlock()

	retry := current
	ev := newEvent(EventProcessCrashed)
	ev.ID, ev.Cohort, ev.Err, ev.RetryCount = id, cohort, err, &retry
	s.emit(ev)

	if cohort == CohortDependency {
		s.emitStatus("dependency %s crashed: %v", id, err)
		report := s.reporter.GenerateReport(id, unit, crashreport.KindDependencyFailed, &crashreport.Context{
			Error: err, CohortKind: string(cohort),
		})
		s.reporter.SaveReport(report)
		go s.Stop()
		return
	}

	if current < s.maxRetries {
		s.mu.Lock()
		s.retryCount[id] = current + 1
		s.mu.Unlock()
		s.emitStatus("retry %d/%d for %s", current+1, s.maxRetries, id)
		rc := current
		report := s.reporter.GenerateReport(id, unit, crashreport.KindCrash, &crashreport.Context{
			Error: err, CohortKind: string(cohort), RetryCount: &rc,
		})
		s.reporter.SaveReport(report)
		_ = unit.Restart()
		s.emitStateUpdate()
		return
	}

	s.emitStatus("process %s crashed too many times, giving up", id)
	rc := current
	report := s.reporter.GenerateReport(id, unit, crashreport.KindMaxRetriesExceeded, &crashreport.Context{
		Error: err, CohortKind: string(cohort), RetryCount: &rc,
	})
	s.reporter.SaveReport(report)
	_ = unit.Stop(0, 0)
	go s.Stop()
}

// Start brings up dependencies, awaits their readiness, then starts main
// processes. Fails fast with ErrNoMainProcesses if the main cohort is empty.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if len(s.main) == 0 {
		s.mu.Unlock()
		return ErrNoMainProcesses
	}
	s.running = true
	deps := copyMap(s.dependencies)
	mains := copyMap(s.main)
	s.mu.Unlock()

	s.emit(newEvent(EventManagerStarted))

	for id, unit := range deps {
		s.wireUnit(id, CohortDependency, unit)
		s.emitStarted(id, CohortDependency)
		if err := unit.Start(); err != nil {
			s.emitStatus("dependency %s failed to spawn: %v", id, err)
		}
	}

	if len(deps) > 0 {
		failedID, failErr := s.awaitDependencyJoin(deps)
		if failErr != nil {
			ev := newEvent(EventDependencyFailed)
			ev.ID, ev.Err = failedID, failErr
			s.emit(ev)
			s.stopUnits(deps)
			s.Stop()
			return nil
		}
	}

	for id, unit := range mains {
		s.wireUnit(id, CohortMain, unit)
		s.emitStarted(id, CohortMain)
		if err := unit.Start(); err != nil {
			s.emitStatus("main %s failed to spawn: %v", id, err)
		}
	}

	s.emitStateUpdate()
	return nil
}

func (s *Supervisor) emitStarted(id string, cohort Cohort) {
	ev := newEvent(EventProcessStarted)
	ev.ID, ev.Cohort = id, cohort
	s.emit(ev)
}

// awaitDependencyJoin waits for every dependency's ready signal. On the
// first rejection it cancels the wait on the others (rather than letting
// them race to their own outcome) and returns that dependency's id/error.
func (s *Supervisor) awaitDependencyJoin(deps map[string]*process.Unit) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		id  string
		err error
	}
	resultCh := make(chan result, len(deps))
	for id, unit := range deps {
		go func(id string, u *process.Unit) {
			resultCh <- result{id: id, err: u.WaitReady(ctx)}
		}(id, unit)
	}

	var failedID string
	var failErr error
	for i := 0; i < len(deps); i++ {
		r := <-resultCh
		if r.err != nil && failErr == nil && !errors.Is(r.err, context.Canceled) {
			failedID, failErr = r.id, r.err
			cancel()
		}
	}
	return failedID, failErr
}

func (s *Supervisor) stopUnits(units map[string]*process.Unit) {
	var wg sync.WaitGroup
	for _, unit := range units {
		if !unit.Status().IsLive() {
			continue
		}
		wg.Add(1)
		go func(u *process.Unit) {
			defer wg.Done()
			_ = u.Stop(0, 0)
			_ = u.WaitFinished(context.Background())
		}(unit)
	}
	wg.Wait()
}

// Stop runs the shutdown sequence: stop live mains, run cleanup in
// insertion order (each bounded by cleanup_timeout_ms), then stop
// dependencies.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.running = false
	mains := copyMap(s.main)
	cleanupOrder := append([]string(nil), s.cleanupOrder...)
	cleanupUnits := copyMap(s.cleanup)
	deps := copyMap(s.dependencies)
	timeout := s.cleanupTimeout
	s.mu.Unlock()

	s.emit(newEvent(EventManagerStopping))

	s.stopUnits(mains)

	s.emit(newEvent(EventCleanupStarted))
	s.emitStatus("Running cleanup processes...")
	for _, id := range cleanupOrder {
		unit, ok := cleanupUnits[id]
		if !ok {
			continue
		}
		s.wireUnit(id, CohortCleanup, unit)
		_ = unit.Start()
		if err := cleanupWithTimeout(unit, timeout); err != nil {
			ev := newEvent(EventCleanupTimeout)
			ev.ID, ev.Err = id, err
			s.emit(ev)
			report := s.reporter.GenerateReport(id, unit, crashreport.KindCleanupFailed, &crashreport.Context{
				Error: err, CohortKind: string(CohortCleanup),
			})
			s.reporter.SaveReport(report)
		}
	}

	s.stopUnits(deps)

	s.emit(newEvent(EventCleanupFinished))
	s.emit(newEvent(EventManagerStopped))
	s.emitStateUpdate()
}

// cleanupWithTimeout races a cleanup unit's Finished completion against
// timeout. The loser is abandoned, never canceled: if the unit later
// settles, its result is simply never observed.
func cleanupWithTimeout(unit *process.Unit, timeout time.Duration) error {
	select {
	case <-unit.Finished():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: %s after %s", ErrCleanupTimeout, unit.ID(), timeout)
	}
}

// RestartProcess looks up id (strictly within cohort if non-nil, otherwise
// main then dependency then cleanup) and restarts it.
func (s *Supervisor) RestartProcess(id string, cohort *Cohort) {
	unit, found := s.findForRestart(id, cohort)
	if !found {
		s.emitStatus("Process %s not found", id)
		return
	}
	resolvedCohort := CohortMain
	if cohort != nil {
		resolvedCohort = *cohort
	} else {
		resolvedCohort = s.cohortOf(id)
	}
	ev := newEvent(EventProcessRestarting)
	ev.ID, ev.Cohort = id, resolvedCohort
	s.emit(ev)
	_ = unit.Restart()
	s.emitStateUpdate()
}

func (s *Supervisor) findForRestart(id string, cohort *Cohort) (*process.Unit, bool) {
	if cohort != nil {
		return s.get(id, *cohort)
	}
	if u, ok := s.get(id, CohortMain); ok {
		return u, true
	}
	if u, ok := s.get(id, CohortDependency); ok {
		return u, true
	}
	return s.get(id, CohortCleanup)
}

func (s *Supervisor) cohortOf(id string) Cohort {
	if _, ok := s.get(id, CohortMain); ok {
		return CohortMain
	}
	if _, ok := s.get(id, CohortDependency); ok {
		return CohortDependency
	}
	return CohortCleanup
}

// RestartAll stops everything, resets every unit to Created, and starts
// again; or, if not currently running, simply starts.
func (s *Supervisor) RestartAll() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		s.emitStatus("Not running, starting...")
		if err := s.Start(); err != nil {
			s.emitStatus("%v", err)
		}
		return
	}

	s.emit(newEvent(EventManagerRestarting))
	s.emitStatus("stopping processes")
	s.Stop()

	s.emitStatus("preparing for restart")
	for _, unit := range s.allUnits() {
		_ = unit.PrepareForRestart()
	}

	s.emitStatus("starting dependencies")
	s.emitStatus("starting main")
	if err := s.Start(); err != nil {
		s.emitStatus("%v", err)
		return
	}
	s.emitStatus("All processes restarted")
}

// RestartAllMain restarts every live main unit and unconditionally clears
// its retry counter.
func (s *Supervisor) RestartAllMain() {
	s.mu.Lock()
	mains := copyMap(s.main)
	s.mu.Unlock()

	for id, unit := range mains {
		if unit.Status().IsLive() {
			_ = unit.Restart()
		}
		s.mu.Lock()
		s.retryCount[id] = 0
		s.mu.Unlock()
	}
}

// SendStdin looks up id in main, then dependency, then cleanup, and
// delegates to the unit's SendStdin.
func (s *Supervisor) SendStdin(id string, input string, secret bool) error {
	if u, ok := s.get(id, CohortMain); ok {
		return u.SendStdin(input, secret)
	}
	if u, ok := s.get(id, CohortDependency); ok {
		return u.SendStdin(input, secret)
	}
	if u, ok := s.get(id, CohortCleanup); ok {
		return u.SendStdin(input, secret)
	}
	return ErrProcessNotFound
}

func (s *Supervisor) allUnits() []*process.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*process.Unit, 0, len(s.dependencies)+len(s.main)+len(s.cleanup))
	for _, u := range s.dependencies {
		out = append(out, u)
	}
	for _, u := range s.main {
		out = append(out, u)
	}
	for _, u := range s.cleanup {
		out = append(out, u)
	}
	return out
}

func copyMap(m map[string]*process.Unit) map[string]*process.Unit {
	out := make(map[string]*process.Unit, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
