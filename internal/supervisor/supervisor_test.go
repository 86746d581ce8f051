package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/gophpeek/pmcore/internal/matcher"
	"github.com/gophpeek/pmcore/internal/process"
	"github.com/gophpeek/pmcore/internal/readiness"
)

func mustUnit(t *testing.T, id string, command []string, opts process.Options) *process.Unit {
	t.Helper()
	u, err := process.NewUnit(id, command, opts)
	if err != nil {
		t.Fatalf("NewUnit(%s): %v", id, err)
	}
	return u
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		r.mu.Lock()
		for _, ev := range r.events {
			if ev.Kind == kind {
				r.mu.Unlock()
				return ev
			}
		}
		r.mu.Unlock()
		select {
		case <-ticker.C:
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}

func TestSupervisor_NoMainProcesses(t *testing.T) {
	s := New(Config{})
	if err := s.Start(); err != ErrNoMainProcesses {
		t.Errorf("expected ErrNoMainProcesses, got %v", err)
	}
}

func TestSupervisor_NoDeps_HappyExit(t *testing.T) {
	s := New(Config{})
	rec := &eventRecorder{}
	s.OnEvent(rec.record)

	main := mustUnit(t, "main", []string{"/bin/echo", "hello"}, process.Options{MaxBufferSize: 10, MaxLogSize: 10})
	s.AddMain("main", main)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitFor(t, EventProcessStopped, 2*time.Second)
}

func TestSupervisor_DependencyGatesMain(t *testing.T) {
	s := New(Config{})
	rec := &eventRecorder{}
	s.OnEvent(rec.record)

	dep := mustUnit(t, "dep", []string{"/bin/sh", "-c", "echo Database is ready!; sleep 2"}, process.Options{
		MaxBufferSize: 20, MaxLogSize: 20,
		Checks: []readiness.Check{{Pattern: matcher.Literal("Database is ready!"), Timeout: 5 * time.Second}},
	})
	main := mustUnit(t, "main", []string{"/bin/sleep", "2"}, process.Options{MaxBufferSize: 10, MaxLogSize: 10})

	s.AddDependency("dep", dep)
	s.AddMain("main", main)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	rec.waitFor(t, EventProcessReady, 2*time.Second)
	ev := rec.waitFor(t, EventProcessStarted, 2*time.Second)
	_ = ev

	// every process:started for main must be preceded by process:ready for
	// dep, per the ordering invariant.
	kinds := rec.kinds()
	readyIdx, startedMainIdx := -1, -1
	for i, ev := range rec.eventsCopy() {
		if ev.Kind == EventProcessReady && ev.ID == "dep" && readyIdx == -1 {
			readyIdx = i
		}
		if ev.Kind == EventProcessStarted && ev.ID == "main" && startedMainIdx == -1 {
			startedMainIdx = i
		}
	}
	if readyIdx == -1 || startedMainIdx == -1 || readyIdx > startedMainIdx {
		t.Errorf("expected dep ready before main started, kinds=%v readyIdx=%d startedMainIdx=%d", kinds, readyIdx, startedMainIdx)
	}
}

func (r *eventRecorder) eventsCopy() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestSupervisor_RetryThenGiveUp(t *testing.T) {
	s := New(Config{MaxRetries: 2})
	rec := &eventRecorder{}
	s.OnEvent(rec.record)

	main := mustUnit(t, "flaky", []string{"/bin/sh", "-c", "exit 1"}, process.Options{MaxBufferSize: 10, MaxLogSize: 10})
	s.AddMain("flaky", main)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitFor(t, EventManagerStopped, 3*time.Second)

	restarts := 0
	for _, ev := range rec.eventsCopy() {
		if ev.Kind == EventProcessCrashed {
			restarts++
		}
	}
	if restarts < 3 {
		t.Errorf("expected at least 3 crash events (2 retries + final), got %d", restarts)
	}
}

func TestSupervisor_CleanupOrderAndTimeout(t *testing.T) {
	s := New(Config{CleanupTimeout: 80 * time.Millisecond})
	rec := &eventRecorder{}
	s.OnEvent(rec.record)

	main := mustUnit(t, "main", []string{"/bin/sleep", "1"}, process.Options{MaxBufferSize: 10, MaxLogSize: 10})
	a := mustUnit(t, "A", []string{"/bin/echo", "a-done"}, process.Options{MaxBufferSize: 10, MaxLogSize: 10})
	b := mustUnit(t, "B", []string{"/bin/sleep", "5"}, process.Options{MaxBufferSize: 10, MaxLogSize: 10})
	c := mustUnit(t, "C", []string{"/bin/echo", "c-done"}, process.Options{MaxBufferSize: 10, MaxLogSize: 10})

	s.AddMain("main", main)
	s.AddCleanup("A", a)
	s.AddCleanup("B", b)
	s.AddCleanup("C", c)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()

	rec.waitFor(t, EventCleanupFinished, 2*time.Second)

	timeoutID := ""
	cleanupFinishedCount := 0
	stopped := map[string]bool{}
	for _, ev := range rec.eventsCopy() {
		if ev.Kind == EventCleanupTimeout {
			timeoutID = ev.ID
		}
		if ev.Kind == EventCleanupFinished {
			cleanupFinishedCount++
		}
		if ev.Kind == EventProcessStopped {
			stopped[ev.ID] = true
		}
	}
	if timeoutID != "B" {
		t.Errorf("expected B to time out, got %q", timeoutID)
	}
	if cleanupFinishedCount != 1 {
		t.Errorf("expected exactly one cleanup:finished, got %d", cleanupFinishedCount)
	}
	if !stopped["A"] {
		t.Errorf("expected cleanup unit A to emit process:stopped")
	}
	if !stopped["C"] {
		t.Errorf("expected cleanup unit C to emit process:stopped")
	}
}

func TestSupervisor_SendStdin_ProcessNotFound(t *testing.T) {
	s := New(Config{})
	if err := s.SendStdin("ghost", "x", false); err != ErrProcessNotFound {
		t.Errorf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestSupervisor_RestartProcess_NotFoundEmitsStatus(t *testing.T) {
	s := New(Config{})
	rec := &eventRecorder{}
	s.OnEvent(rec.record)

	s.RestartProcess("ghost", nil)

	ev := rec.waitFor(t, EventStatusMessage, time.Second)
	if ev.Message == "" {
		t.Errorf("expected a status message")
	}
}
