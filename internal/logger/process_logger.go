package logger

import (
	"strings"
	"sync"
	"time"
)

// TypeTag classifies an entry in the typed log sequence.
type TypeTag string

const (
	TypeLog             TypeTag = "log"
	TypeError           TypeTag = "error"
	TypeInfo            TypeTag = "info"
	TypeWarn            TypeTag = "warn"
	TypeDebug           TypeTag = "debug"
	TypeUserInput       TypeTag = "user_input"
	TypeUserInputSecret TypeTag = "user_input_secret"
)

// TypedEntry is one record in the ordered typed-log sequence.
type TypedEntry struct {
	Type      TypeTag
	Text      string
	Timestamp time.Time
}

// GetLogsOptions configures GetLogs. A nil NumberOfLines means "use the
// logger's max_log_size"; a nil Separator means "use the logger's default".
type GetLogsOptions struct {
	Index           int
	NumberOfLines   *int
	Separator       *string
	MostRecentFirst bool
}

// ProcessLogger is the bounded, flag-aware log ring buffer owned by exactly
// one Process Unit for its lifetime (it survives that unit's restarts).
type ProcessLogger struct {
	mu sync.Mutex

	maxBufferSize    int
	maxLogSize       int
	defaultSeparator string

	logs   []string
	errors []string

	typedLog []TypedEntry

	flags map[string]*FlagState

	logListeners   map[int]func(string)
	errorListeners map[int]func(string)
	nextListener   int
}

// NewProcessLogger constructs a ProcessLogger. It fails with ErrInvalidConfig
// if maxLogSize exceeds maxBufferSize.
func NewProcessLogger(maxBufferSize, maxLogSize int, defaultSeparator string) (*ProcessLogger, error) {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	if maxLogSize <= 0 {
		maxLogSize = maxBufferSize
	}
	if maxLogSize > maxBufferSize {
		return nil, ErrInvalidConfig
	}
	return &ProcessLogger{
		maxBufferSize:    maxBufferSize,
		maxLogSize:       maxLogSize,
		defaultSeparator: defaultSeparator,
		flags:            make(map[string]*FlagState),
		logListeners:     make(map[int]func(string)),
		errorListeners:   make(map[int]func(string)),
	}, nil
}

// AddChunk appends a chunk of captured process output, mirrors it to the
// error buffer when isError is set, evicts the oldest chunk once over
// capacity (renumbering flag matches as it does), and evaluates every
// registered flag against the new chunk.
func (l *ProcessLogger) AddChunk(text string, isError bool, typeTag TypeTag) {
	if typeTag == "" {
		if isError {
			typeTag = TypeError
		} else {
			typeTag = TypeLog
		}
	}

	l.mu.Lock()

	l.logs = append(l.logs, text)
	l.typedLog = append(l.typedLog, TypedEntry{Type: typeTag, Text: text, Timestamp: time.Now()})
	if len(l.logs) > l.maxBufferSize {
		l.logs = l.logs[1:]
		l.typedLog = l.typedLog[1:]
		l.evictFlagIndex()
	}

	logIndex := len(l.logs) - 1
	l.evaluateFlags(text, logIndex)

	var errListeners []func(string)
	var logListeners []func(string)
	if isError {
		l.errors = append(l.errors, text)
		if len(l.errors) > l.maxBufferSize {
			l.errors = l.errors[1:]
		}
		errListeners = snapshotListeners(l.errorListeners)
	} else {
		logListeners = snapshotListeners(l.logListeners)
	}
	l.mu.Unlock()

	for _, fn := range logListeners {
		fn(text)
	}
	for _, fn := range errListeners {
		fn(text)
	}
}

// AddTypedEntry appends an entry that carries no log-ring semantics (e.g.
// stdin echoes) directly to the typed sequence.
func (l *ProcessLogger) AddTypedEntry(text string, typeTag TypeTag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typedLog = append(l.typedLog, TypedEntry{Type: typeTag, Text: text, Timestamp: time.Now()})
}

func snapshotListeners(m map[int]func(string)) []func(string) {
	out := make([]func(string), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

// evictFlagIndex decrements every stored match's log_index by one, dropping
// (and decrementing count for) any match whose index would go negative.
// Caller must hold l.mu.
func (l *ProcessLogger) evictFlagIndex() {
	for _, state := range l.flags {
		kept := state.Matches[:0]
		for _, m := range state.Matches {
			m.LogIndex--
			if m.LogIndex < 0 {
				if state.Count > 0 {
					state.Count--
				}
				continue
			}
			kept = append(kept, m)
		}
		state.Matches = kept
	}
}

// evaluateFlags matches text against every registered flag. Caller must hold
// l.mu.
func (l *ProcessLogger) evaluateFlags(text string, logIndex int) {
	for _, state := range l.flags {
		ok, matched := state.Definition.Pattern.Match(text)
		if !ok {
			continue
		}
		state.Count++
		state.Matches = append(state.Matches, FlagMatch{
			LogIndex:          logIndex,
			MatchedText:       matched,
			TimestampMs:       time.Now().UnixMilli(),
			ContextWindowSize: state.Definition.ContextWindowSize,
		})
	}
}

// GetLogs returns a joined window of the log buffer. It fails with
// ErrInvalidArgument when Index or NumberOfLines is negative, and returns ""
// (never an error) when Index is at or beyond the buffer length.
func (l *ProcessLogger) GetLogs(opts GetLogsOptions) (string, error) {
	if opts.Index < 0 {
		return "", ErrInvalidArgument
	}
	if opts.NumberOfLines != nil && *opts.NumberOfLines < 0 {
		return "", ErrInvalidArgument
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.maxLogSize
	if opts.NumberOfLines != nil {
		n = *opts.NumberOfLines
	}
	sep := l.defaultSeparator
	if opts.Separator != nil {
		sep = *opts.Separator
	}

	total := len(l.logs)
	end := total - opts.Index
	if end < 0 {
		end = 0
	}
	if end > total {
		end = total
	}
	start := end - n
	if start < 0 {
		start = 0
	}

	window := append([]string(nil), l.logs[start:end]...)
	if opts.MostRecentFirst {
		for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
			window[i], window[j] = window[j], window[i]
		}
	}
	return strings.Join(window, sep), nil
}

// GetTypedLogs returns a copy of the full ordered typed-entry sequence.
func (l *ProcessLogger) GetTypedLogs() []TypedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TypedEntry, len(l.typedLog))
	copy(out, l.typedLog)
	return out
}

// OnLog registers a listener invoked (in append order) for every non-error
// chunk added. The returned func unsubscribes it.
func (l *ProcessLogger) OnLog(listener func(string)) func() {
	l.mu.Lock()
	id := l.nextListener
	l.nextListener++
	l.logListeners[id] = listener
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.logListeners, id)
		l.mu.Unlock()
	}
}

// OnError registers a listener invoked for every error-marked chunk added.
func (l *ProcessLogger) OnError(listener func(string)) func() {
	l.mu.Lock()
	id := l.nextListener
	l.nextListener++
	l.errorListeners[id] = listener
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.errorListeners, id)
		l.mu.Unlock()
	}
}

// Reset clears both ring buffers, the typed-log sequence, and all flag state
// (including flag definitions).
func (l *ProcessLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = nil
	l.errors = nil
	l.typedLog = nil
	l.flags = make(map[string]*FlagState)
}

// AddFlag registers a new flag definition, replacing any existing flag with
// the same name.
func (l *ProcessLogger) AddFlag(name string, def FlagDef) {
	def.ContextWindowSize = defaultContextWindow(def.ContextWindowSize)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flags[name] = &FlagState{Definition: def}
}

// RemoveFlag deletes a flag and its accumulated state.
func (l *ProcessLogger) RemoveFlag(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.flags, name)
}

// GetFlag returns a copy of a flag's current state.
func (l *ProcessLogger) GetFlag(name string) (FlagState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.flags[name]
	if !ok {
		return FlagState{}, false
	}
	return copyFlagState(state), true
}

// GetAllFlags returns a snapshot copy of every flag's state, keyed by name.
func (l *ProcessLogger) GetAllFlags() map[string]FlagState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]FlagState, len(l.flags))
	for name, state := range l.flags {
		out[name] = copyFlagState(state)
	}
	return out
}

// ClearFlags removes every registered flag.
func (l *ProcessLogger) ClearFlags() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flags = make(map[string]*FlagState)
}

func copyFlagState(state *FlagState) FlagState {
	matches := make([]FlagMatch, len(state.Matches))
	copy(matches, state.Matches)
	return FlagState{Definition: state.Definition, Count: state.Count, Matches: matches}
}

// GetContextWindow returns the slice of log lines centered on logIndex,
// clipped to the buffer's bounds.
func (l *ProcessLogger) GetContextWindow(logIndex int, windowSize uint32) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	half := int(windowSize / 2)
	start := logIndex - half
	end := logIndex + half
	if start < 0 {
		start = 0
	}
	if end >= len(l.logs) {
		end = len(l.logs) - 1
	}
	if start > end || len(l.logs) == 0 {
		return nil
	}
	out := make([]string, end-start+1)
	copy(out, l.logs[start:end+1])
	return out
}

// Len returns the current number of retained chunks.
func (l *ProcessLogger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}
