package main

import (
	"context"
	"sync"
	"time"

	"github.com/gophpeek/pmcore/internal/audit"
	"github.com/gophpeek/pmcore/internal/metrics"
	"github.com/gophpeek/pmcore/internal/signals"
	"github.com/gophpeek/pmcore/internal/supervisor"
	"github.com/gophpeek/pmcore/internal/tracing"
)

// wireEventBridge subscribes to the supervisor's event stream and fans each
// event out to the audit trail, Prometheus counters, and OpenTelemetry
// spans. stoppedCh is closed exactly once, when the manager reports it has
// fully stopped (whether from a signal-driven Stop or a crash-triggered
// self-stop).
func wireEventBridge(sup *supervisor.Supervisor, auditLogger *audit.Logger, tp *tracing.Provider, stoppedCh chan struct{}) func() {
	var startTimes sync.Map // id -> time.Time, set on process:started

	var closeOnce sync.Once
	_, span := tracing.StartSupervisorSpan(context.Background(), "run")

	return sup.OnEvent(func(ev supervisor.Event) {
		switch ev.Kind {
		case supervisor.EventProcessAdded:
			auditLogger.LogProcessAdded(string(ev.Cohort), ev.ID, nil)

		case supervisor.EventProcessRemoved:
			auditLogger.LogProcessRemoved(string(ev.Cohort), ev.ID)

		case supervisor.EventProcessStarted:
			startTimes.Store(ev.ID, time.Now())
			auditLogger.LogProcessStart(string(ev.Cohort), ev.ID, 0)
			metrics.RecordProcessStart(string(ev.Cohort), ev.ID, float64(time.Now().Unix()))
			if unit, ok := lookupUnit(sup, ev.Cohort, ev.ID); ok {
				if pid := unit.Pid(); pid > 0 {
					signals.Track(pid, string(ev.Cohort), ev.ID)
				}
			}

		case supervisor.EventProcessReady:
			if startedAt, ok := startTimes.Load(ev.ID); ok {
				metrics.RecordReadinessDuration(string(ev.Cohort), ev.ID, time.Since(startedAt.(time.Time)).Seconds())
			}

		case supervisor.EventProcessStopped:
			exitCode := 0
			if ev.ExitCode != nil {
				exitCode = *ev.ExitCode
			}
			auditLogger.LogProcessStop(string(ev.Cohort), ev.ID, 0, "exited")
			metrics.RecordProcessStop(string(ev.Cohort), ev.ID, exitCode)
			if unit, ok := lookupUnit(sup, ev.Cohort, ev.ID); ok {
				if pid := unit.Pid(); pid > 0 {
					signals.Untrack(pid)
				}
			}

		case supervisor.EventProcessCrashed:
			sig := ""
			if ev.Signal != nil {
				sig = *ev.Signal
			}
			auditLogger.LogProcessCrash(string(ev.Cohort), ev.ID, 0, sig)
			metrics.RecordProcessCrash(string(ev.Cohort), ev.ID)
			tracing.RecordError(span, ev.Err, "process crashed")
			if unit, ok := lookupUnit(sup, ev.Cohort, ev.ID); ok {
				if pid := unit.Pid(); pid > 0 {
					signals.Untrack(pid)
				}
			}

		case supervisor.EventProcessRestarting:
			retry := 0
			if ev.RetryCount != nil {
				retry = *ev.RetryCount
			}
			auditLogger.LogProcessRestart(string(ev.Cohort), ev.ID, "manual", retry)
			metrics.RecordProcessRestart(string(ev.Cohort), ev.ID, "manual")

		case supervisor.EventDependencyFailed:
			reason := ""
			if ev.Err != nil {
				reason = ev.Err.Error()
			}
			auditLogger.LogDependencyFailed(ev.ID, reason)

		case supervisor.EventCleanupTimeout:
			auditLogger.LogCleanupTimeout(ev.ID, 0)
			metrics.RecordCleanupTimeout(ev.ID)

		case supervisor.EventManagerStopped:
			tracing.RecordSuccess(span)
			span.End()
			closeOnce.Do(func() { close(stoppedCh) })
		}
	})
}
