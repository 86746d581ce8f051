package logger

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/gophpeek/pmcore/internal/config"
	"github.com/gophpeek/pmcore/internal/metrics"
)

// maxBufferSize bounds how much unterminated output a ProcessWriter will
// accumulate before it gives up waiting for a newline and flushes what it
// has. A unit that writes to stdout without ever emitting "\n" (a stuck
// progress bar, a hung child writing raw bytes) would otherwise grow this
// buffer without bound for the lifetime of the unit.
const maxBufferSize = 1 << 20 // 1 MiB

// ProcessWriter is the per-stream tail of a Process Unit's logging
// pipeline: Multiline -> Redaction -> JSON -> Level -> Filters -> Log.
// A unit with a stdout and a stderr stream owns two ProcessWriters, each
// writing into the shared base *slog.Logger under its own logBuffer so the
// unit's recent output can be replayed (crash reports, "show me the last
// N lines") without re-reading the process's original output.
type ProcessWriter struct {
	Logger      *slog.Logger
	ProcessName string
	InstanceID  string
	Stream      string // stdout or stderr

	// Pipeline stages, nil when the corresponding config section is absent.
	redactor      *Redactor
	multiline     *MultilineBuffer
	jsonParser    *JSONParser
	levelDetector *LevelDetector
	filters       *LogFilters

	logBuffer *LogBuffer
	buffer    bytes.Buffer
}

// NewProcessWriter builds a ProcessWriter for one stream of one Process
// Unit. cfg may be nil, in which case every pipeline stage is skipped and
// lines are logged as-is; the log buffer is always created.
func NewProcessWriter(logger *slog.Logger, processName, instanceID, stream string, cfg *config.LoggingConfig) (*ProcessWriter, error) {
	pw := &ProcessWriter{
		Logger:      logger,
		ProcessName: processName,
		InstanceID:  instanceID,
		Stream:      stream,
		logBuffer:   NewLogBuffer(maxBufferSize / 1024),
	}

	if cfg == nil {
		return pw, nil
	}

	var err error
	pw.redactor, err = NewRedactor(cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redactor: %w", err)
	}

	pw.multiline, err = NewMultilineBuffer(cfg.Multiline)
	if err != nil {
		return nil, fmt.Errorf("failed to create multiline buffer: %w", err)
	}

	pw.jsonParser = NewJSONParser(cfg.JSON)

	pw.levelDetector, err = NewLevelDetector(cfg.LevelDetection)
	if err != nil {
		return nil, fmt.Errorf("failed to create level detector: %w", err)
	}

	pw.filters, err = NewLogFilters(cfg.Filters, cfg.MinLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create log filters: %w", err)
	}

	return pw, nil
}

// Write implements io.Writer, feeding captured process output through the
// logging pipeline one complete line at a time.
func (pw *ProcessWriter) Write(p []byte) (n int, err error) {
	pw.buffer.Write(p)

	scanner := bufio.NewScanner(&pw.buffer)
	var remaining bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		pw.processLine(line)
	}

	if pw.multiline != nil && pw.multiline.ShouldFlush() {
		entry := pw.multiline.Flush()
		if entry != "" {
			pw.processEntry(entry)
		}
	}

	if pw.buffer.Len() > 0 {
		remaining.Write(pw.buffer.Bytes())
	}
	pw.buffer = remaining

	// A unit that never terminates its output with a newline would grow
	// this buffer forever; flush it as its own entry once it crosses
	// maxBufferSize rather than waiting on a line ending that never comes.
	if pw.buffer.Len() > maxBufferSize {
		line := pw.buffer.String()
		pw.buffer.Reset()
		pw.processLine(line)
	}

	return len(p), nil
}

// processLine runs one line through multiline buffering before handing a
// complete entry to processEntry.
func (pw *ProcessWriter) processLine(line string) {
	if pw.multiline != nil && pw.multiline.IsEnabled() {
		complete, entry := pw.multiline.Add(line)
		if !complete {
			return
		}
		if entry != "" {
			pw.processEntry(entry)
		}
		return
	}

	pw.processEntry(line)
}

// processEntry applies redaction, JSON extraction, level detection, and
// filtering to one complete log entry, then both logs it through the base
// slog.Logger and retains it in this writer's logBuffer.
func (pw *ProcessWriter) processEntry(entry string) {
	if pw.redactor != nil && pw.redactor.IsEnabled() {
		var matched []string
		entry, matched = pw.redactor.RedactMatched(entry)
		for _, pattern := range matched {
			metrics.RecordRedaction(pw.InstanceID, pattern)
		}
	}

	var message string
	var level slog.Level
	var attrs []slog.Attr

	if pw.jsonParser != nil && pw.jsonParser.IsEnabled() {
		isJSON, data := pw.jsonParser.Parse(entry)
		if isJSON {
			message, level, attrs = pw.jsonParser.ToLogAttrs(data)
			if message == "" {
				message = entry
			}
		} else {
			message = entry
			level = slog.LevelInfo
		}
	} else {
		message = entry
		level = slog.LevelInfo
	}

	if pw.levelDetector != nil && pw.levelDetector.IsEnabled() && level == slog.LevelInfo {
		level = pw.levelDetector.Detect(entry)
	}

	if pw.filters != nil && !pw.filters.ShouldLog(entry, level) {
		return
	}

	baseAttrs := []any{
		"process", pw.ProcessName,
		"unit_id", pw.InstanceID,
		"stream", pw.Stream,
	}
	for _, attr := range attrs {
		baseAttrs = append(baseAttrs, attr.Key, attr.Value)
	}

	switch level {
	case slog.LevelDebug:
		pw.Logger.Debug(message, baseAttrs...)
	case slog.LevelWarn:
		pw.Logger.Warn(message, baseAttrs...)
	case slog.LevelError:
		pw.Logger.Error(message, baseAttrs...)
	default:
		pw.Logger.Info(message, baseAttrs...)
	}

	pw.record(message, levelString(level), pw.Stream)
}

// record appends one entry to this writer's logBuffer, a no-op if the
// writer was constructed bypassing NewProcessWriter.
func (pw *ProcessWriter) record(message, level, stream string) {
	if pw.logBuffer == nil {
		return
	}
	pw.logBuffer.Add(LogEntry{
		Timestamp:   time.Now(),
		ProcessName: pw.ProcessName,
		InstanceID:  pw.InstanceID,
		Stream:      stream,
		Message:     message,
		Level:       level,
	})
}

// GetLogs returns this writer's entire retained log history, oldest first.
func (pw *ProcessWriter) GetLogs() []LogEntry {
	if pw.logBuffer == nil {
		return []LogEntry{}
	}
	return pw.logBuffer.GetAll()
}

// GetRecentLogs returns this writer's last n retained entries, oldest first.
func (pw *ProcessWriter) GetRecentLogs(n int) []LogEntry {
	if pw.logBuffer == nil {
		return []LogEntry{}
	}
	return pw.logBuffer.GetRecent(n)
}

// AddEvent records a supervisor-originated note (unit started, restarting,
// crashed) alongside this writer's captured process output, so replaying a
// unit's log history shows lifecycle events interleaved with what the
// process itself printed.
func (pw *ProcessWriter) AddEvent(message string) {
	if pw.logBuffer == nil {
		return
	}
	pw.logBuffer.Add(LogEntry{
		Timestamp:   time.Now(),
		ProcessName: pw.ProcessName,
		InstanceID:  pw.InstanceID,
		Stream:      "event",
		Message:     message,
		Level:       "event",
	})
}

// levelString renders a slog.Level the way LogEntry.Level expects it:
// lowercase, and defaulting unrecognized levels to "info" rather than
// surfacing slog's numeric fallback formatting.
func levelString(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// Flush drains any buffered partial line and any pending multiline entry.
// Must be called when the unit's process exits, or its last, unterminated
// burst of output is lost.
func (pw *ProcessWriter) Flush() {
	if pw.buffer.Len() > 0 {
		line := pw.buffer.String()
		pw.buffer.Reset()
		if line != "" {
			pw.processLine(line)
		}
	}

	if pw.multiline != nil && pw.multiline.BufferSize() > 0 {
		entry := pw.multiline.Flush()
		if entry != "" {
			pw.processEntry(entry)
		}
	}
}
