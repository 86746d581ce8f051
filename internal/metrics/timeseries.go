package metrics

import (
	"sync"
	"time"
)

// ResourceSample is one point-in-time resource reading for a single
// Process Unit, as stored by ResourceCollector.AddSample.
type ResourceSample struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryRSSBytes uint64    `json:"memory_rss_bytes"`
	MemoryVMSBytes uint64    `json:"memory_vms_bytes"`
	MemoryPercent  float32   `json:"memory_percent"`
	Threads        int32     `json:"threads"`
	FileDescriptors int32    `json:"file_descriptors,omitempty"` // -1 if unavailable
}

// TimeSeriesBuffer is a single Process Unit's resource-sample history, held
// as a fixed-size ring buffer so a long-lived main cohort unit never grows
// its memory footprint no matter how long the supervisor keeps it running.
// ResourceCollector owns one of these per tracked (cohort, id) pair.
type TimeSeriesBuffer struct {
	samples    []ResourceSample
	head       int
	size       int
	maxSamples int
	mu         sync.RWMutex
}

// NewTimeSeriesBuffer creates a ring buffer sized to hold maxSamples
// resource readings for one unit.
func NewTimeSeriesBuffer(maxSamples int) *TimeSeriesBuffer {
	if maxSamples < 1 {
		maxSamples = 720 // Default: 1 hour at 5s interval
	}

	return &TimeSeriesBuffer{
		samples:    make([]ResourceSample, maxSamples),
		maxSamples: maxSamples,
		head:       0,
		size:       0,
	}
}

// Add records one more resource sample for this unit, evicting the oldest
// sample once the buffer is full.
func (tsb *TimeSeriesBuffer) Add(sample ResourceSample) {
	tsb.mu.Lock()
	defer tsb.mu.Unlock()

	tsb.samples[tsb.head] = sample
	tsb.head = (tsb.head + 1) % tsb.maxSamples

	if tsb.size < tsb.maxSamples {
		tsb.size++
	}
}

// GetRange returns this unit's samples within a time range, up to limit
func (tsb *TimeSeriesBuffer) GetRange(since time.Time, limit int) []ResourceSample {
	tsb.mu.RLock()
	defer tsb.mu.RUnlock()

	if tsb.size == 0 {
		return []ResourceSample{}
	}

	if limit <= 0 || limit > tsb.size {
		limit = tsb.size
	}

	result := make([]ResourceSample, 0, limit)

	// Walk backwards from head (newest to oldest)
	for i := 0; i < tsb.size && len(result) < limit; i++ {
		idx := (tsb.head - 1 - i + tsb.maxSamples) % tsb.maxSamples
		sample := tsb.samples[idx]

		// Filter by timestamp
		if sample.Timestamp.After(since) || sample.Timestamp.Equal(since) {
			// Prepend to maintain chronological order (oldest first)
			result = append([]ResourceSample{sample}, result...)
		}
	}

	return result
}

// GetLast returns this unit's most recent N samples.
func (tsb *TimeSeriesBuffer) GetLast(n int) []ResourceSample {
	since := time.Time{} // Beginning of time - gets all
	return tsb.GetRange(since, n)
}

// GetSince returns all of this unit's samples taken at or after since.
func (tsb *TimeSeriesBuffer) GetSince(since time.Time) []ResourceSample {
	return tsb.GetRange(since, tsb.maxSamples)
}

// Latest returns the most recent sample for this unit, or false if nothing
// has been sampled yet. ResourceCollector.GetLatest reads through this.
func (tsb *TimeSeriesBuffer) Latest() (ResourceSample, bool) {
	tsb.mu.RLock()
	defer tsb.mu.RUnlock()

	if tsb.size == 0 {
		return ResourceSample{}, false
	}
	idx := (tsb.head - 1 + tsb.maxSamples) % tsb.maxSamples
	return tsb.samples[idx], true
}

// Stale reports whether this unit's most recent sample is older than
// maxAge, or whether the unit has never been sampled at all. A unit whose
// resource collection has gone stale (its gopsutil lookup is failing, or
// no new sample has been added for it) should not have its last-known
// numbers surfaced as if they were current.
func (tsb *TimeSeriesBuffer) Stale(maxAge time.Duration) bool {
	latest, ok := tsb.Latest()
	if !ok {
		return true
	}
	return time.Since(latest.Timestamp) > maxAge
}

// Size returns the current number of samples stored for this unit.
func (tsb *TimeSeriesBuffer) Size() int {
	tsb.mu.RLock()
	defer tsb.mu.RUnlock()
	return tsb.size
}

// Clear empties this unit's sample history, e.g. when the unit restarts
// and its prior resource history should not be blended with the new run's.
func (tsb *TimeSeriesBuffer) Clear() {
	tsb.mu.Lock()
	defer tsb.mu.Unlock()

	tsb.head = 0
	tsb.size = 0
	// Keep allocated memory, just reset pointers
}
