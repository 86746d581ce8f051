// Package crashreport implements the Crash Reporter sink: it snapshots a
// Process Unit into an immutable report and persists it best-effort.
package crashreport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gophpeek/pmcore/internal/logger"
	"github.com/gophpeek/pmcore/internal/process"
)

// Kind enumerates why a report was generated.
type Kind string

const (
	KindCrash               Kind = "crash"
	KindCleanupFailed       Kind = "cleanup_failed"
	KindDependencyFailed    Kind = "dependency_failed"
	KindMaxRetriesExceeded  Kind = "max_retries_exceeded"
)

// CrashReport is an immutable snapshot of a unit at the moment of failure.
type CrashReport struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	ProcessID    string                 `json:"process_id"`
	CohortKind   string                 `json:"cohort_kind"`
	Kind         Kind                   `json:"kind"`
	ErrorMessage string                 `json:"error_message"`
	ErrorStack   string                 `json:"error_stack,omitempty"`
	Logs         string                 `json:"logs"`
	Status       string                 `json:"status"`
	RetryCount   *int                   `json:"retry_count,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// Context carries the optional fields generate_report pulls from.
type Context struct {
	Error      error
	RetryCount *int
	CohortKind string
	Extra      map[string]interface{}
}

// Sink is the abstract crash-report contract; Reporter and NoopReporter both
// satisfy it.
type Sink interface {
	GenerateReport(processID string, unit *process.Unit, kind Kind, ctx *Context) CrashReport
	SaveReport(report CrashReport)
	GetReports() []CrashReport
	ClearReports()
	GetReportsDir() string
}

// Reporter is the filesystem-backed sink. save_report never fails
// observably: write errors are swallowed and the report stays in memory.
type Reporter struct {
	mu         sync.Mutex
	reportsDir string
	history    []CrashReport
	resource   func(pid int) map[string]interface{}
}

// DefaultReportsDir returns <system-temp>/<appName>/crash-reports.
func DefaultReportsDir(appName string) string {
	return filepath.Join(os.TempDir(), appName, "crash-reports")
}

// NewReporter builds a filesystem-backed Reporter. resourceSampler is
// optional; when set it is called to attach a best-effort resource snapshot
// to generated reports.
func NewReporter(reportsDir string, resourceSampler func(pid int) map[string]interface{}) *Reporter {
	if reportsDir == "" {
		reportsDir = DefaultReportsDir("pmcore")
	}
	return &Reporter{reportsDir: reportsDir, resource: resourceSampler}
}

// GenerateReport snapshots unit's logs and status into an immutable report.
func (r *Reporter) GenerateReport(processID string, unit *process.Unit, kind Kind, ctx *Context) CrashReport {
	logs := "No logs available"
	if unit != nil {
		if snapshot, err := unit.Logger().GetLogs(logger.GetLogsOptions{}); err == nil {
			logs = snapshot
		}
	}

	status := ""
	var pid int
	if unit != nil {
		status = string(unit.Status())
		pid = unit.Pid()
	}

	report := CrashReport{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		ProcessID:  processID,
		Kind:       kind,
		Logs:       logs,
		Status:     status,
	}

	if ctx != nil {
		report.CohortKind = ctx.CohortKind
		report.RetryCount = ctx.RetryCount
		if ctx.Error != nil {
			report.ErrorMessage = ctx.Error.Error()
			report.ErrorStack = fmt.Sprintf("%+v", ctx.Error)
		}
		if ctx.Extra != nil {
			report.Context = ctx.Extra
		}
	}

	if r.resource != nil && pid > 0 {
		if report.Context == nil {
			report.Context = map[string]interface{}{}
		}
		report.Context["resource"] = r.resource(pid)
	}

	return report
}

// SaveReport appends report to the in-memory history and best-effort writes
// it to {reports_dir}/{ts}_{process_id}.json.
func (r *Reporter) SaveReport(report CrashReport) {
	r.mu.Lock()
	r.history = append(r.history, report)
	r.mu.Unlock()

	_ = os.MkdirAll(r.reportsDir, 0o755)
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(report.Timestamp.Format(time.RFC3339Nano))
	path := filepath.Join(r.reportsDir, fmt.Sprintf("%s_%s.json", ts, report.ProcessID))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

// GetReports returns a snapshot copy of the in-memory history.
func (r *Reporter) GetReports() []CrashReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CrashReport, len(r.history))
	copy(out, r.history)
	return out
}

// ClearReports empties the in-memory history.
func (r *Reporter) ClearReports() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// GetReportsDir returns the configured reports directory.
func (r *Reporter) GetReportsDir() string {
	return r.reportsDir
}

// NoopReporter discards everything; used when the caller disables crash
// persistence entirely.
type NoopReporter struct{}

func (NoopReporter) GenerateReport(processID string, unit *process.Unit, kind Kind, ctx *Context) CrashReport {
	status := ""
	if unit != nil {
		status = string(unit.Status())
	}
	report := CrashReport{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		ProcessID:    processID,
		Kind:         kind,
		Logs:         "No logs available (noop)",
		ErrorMessage: "No error message available (noop)",
		Status:       status,
	}
	if ctx != nil && ctx.Error != nil {
		report.ErrorMessage = ctx.Error.Error()
	}
	return report
}

func (NoopReporter) SaveReport(CrashReport)      {}
func (NoopReporter) GetReports() []CrashReport   { return nil }
func (NoopReporter) ClearReports()               {}
func (NoopReporter) GetReportsDir() string       { return "" }

var _ Sink = (*Reporter)(nil)
var _ Sink = NoopReporter{}
