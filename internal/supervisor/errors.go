package supervisor

import "errors"

// ErrNoMainProcesses is returned by Start when the main cohort is empty.
var ErrNoMainProcesses = errors.New("supervisor: no main processes configured")

// ErrProcessNotFound is returned by SendStdin when id is not registered in
// any cohort. RestartProcess does not return it; it emits a status message.
var ErrProcessNotFound = errors.New("supervisor: process not found")

// ErrCleanupTimeout marks a cleanup unit that did not finish within
// cleanup_timeout_ms. The unit is abandoned, not killed.
var ErrCleanupTimeout = errors.New("supervisor: cleanup timed out")
