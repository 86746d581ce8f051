package signals

import (
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"
)

// WaitFunc is the function signature for syscall.Wait4
// Allows mocking in tests
type WaitFunc func(pid int, wstatus *syscall.WaitStatus, options int, rusage *syscall.Rusage) (wpid int, err error)

// waitFunc is the function used for waiting on child processes
// Can be replaced in tests for mocking
var waitFunc WaitFunc = syscall.Wait4
var waitFuncMu sync.RWMutex

// unitIdentity names the cohort and Process Unit id a tracked child PID
// belongs to, so a reap log line can say which unit's child exited instead
// of just the bare PID.
type unitIdentity struct {
	cohort string
	id     string
}

var (
	trackedPIDs   = make(map[int]unitIdentity)
	trackedPIDsMu sync.Mutex
)

// Track records that pid is a direct child spawned for the named unit, so
// the reaper can attribute a future zombie at that PID back to its cohort
// and id. The cmd/pmcored event bridge calls this on process:started.
func Track(pid int, cohort, id string) {
	trackedPIDsMu.Lock()
	defer trackedPIDsMu.Unlock()
	trackedPIDs[pid] = unitIdentity{cohort: cohort, id: id}
}

// Untrack removes a PID from the tracked set, e.g. once the Process Unit
// has already observed and handled its own child's exit. Untracking a PID
// that was never tracked is a no-op.
func Untrack(pid int) {
	trackedPIDsMu.Lock()
	defer trackedPIDsMu.Unlock()
	delete(trackedPIDs, pid)
}

func lookupUnit(pid int) (unitIdentity, bool) {
	trackedPIDsMu.Lock()
	defer trackedPIDsMu.Unlock()
	identity, ok := trackedPIDs[pid]
	return identity, ok
}

// getWaitFunc returns the current wait function with proper synchronization
func getWaitFunc() WaitFunc {
	waitFuncMu.RLock()
	defer waitFuncMu.RUnlock()
	return waitFunc
}

// setWaitFunc sets the wait function with proper synchronization (for testing)
func setWaitFunc(f WaitFunc) {
	waitFuncMu.Lock()
	defer waitFuncMu.Unlock()
	waitFunc = f
}

// ReapZombies continuously reaps zombie processes belonging to any cohort.
// This is critical when the supervisor runs as PID 1 in a container: a
// Process Unit's own grandchildren (processes its direct child forked and
// never waited on) become the supervisor's responsibility once their
// parent exits, and without this loop they accumulate as defunct entries
// until the PID table is exhausted. The interval parameter controls how
// often zombie reaping occurs; if interval is 0 or negative, it defaults to
// 1 second.
func ReapZombies(interval time.Duration) {
	if interval <= 0 {
		interval = 1 * time.Second // Default to 1 second if not configured
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		reapAll()
	}
}

// logReap emits a reap log line, naming the owning cohort/unit when pid was
// tracked and falling back to "orphaned grandchild" otherwise.
func logReap(pid int, status syscall.WaitStatus) {
	if identity, ok := lookupUnit(pid); ok {
		slog.Debug("reaped zombie process",
			"pid", pid,
			"status", status,
			"cohort", identity.cohort,
			"id", identity.id,
		)
		return
	}
	slog.Debug("reaped orphaned grandchild zombie process",
		"pid", pid,
		"status", status,
	)
}

// reapAll reaps all zombie child processes across every cohort.
func reapAll() {
	waitFn := getWaitFunc()
	for {
		var status syscall.WaitStatus
		pid, err := waitFn(-1, &status, syscall.WNOHANG, nil)

		if err != nil || pid <= 0 {
			// No more zombies to reap
			break
		}

		logReap(pid, status)
	}
}

// ReapCount returns the number of zombies reaped in a single pass.
// Useful for testing and monitoring the dependency/main/cleanup cohorts'
// combined child process count.
func ReapCount() int {
	waitFn := getWaitFunc()
	count := 0
	for {
		var status syscall.WaitStatus
		pid, err := waitFn(-1, &status, syscall.WNOHANG, nil)

		if err != nil || pid <= 0 {
			break
		}

		count++
		logReap(pid, status)
	}
	return count
}

// IsPID1 returns true if the current process is PID 1, i.e. the supervisor
// is acting as a container's init process and so owns reaping every
// cohort's grandchildren.
func IsPID1() bool {
	return os.Getpid() == 1
}
