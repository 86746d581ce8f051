package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// CollectProcessMetrics collects a resource sample for a single running
// process by pid.
func CollectProcessMetrics(pid int, cohort, id string) (*ResourceSample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}

	sample := &ResourceSample{
		Timestamp:       time.Now(),
		FileDescriptors: -1, // default for non-Linux
	}

	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	if memInfo, err := proc.MemoryInfo(); err == nil {
		sample.MemoryRSSBytes = memInfo.RSS
		sample.MemoryVMSBytes = memInfo.VMS
	}
	if memPct, err := proc.MemoryPercent(); err == nil {
		sample.MemoryPercent = memPct
	}
	if threads, err := proc.NumThreads(); err == nil {
		sample.Threads = threads
	}
	if fds, err := proc.NumFDs(); err == nil {
		sample.FileDescriptors = int32(fds)
	}

	return sample, nil
}

// SampleForCrashReport samples pid's resource usage into a plain map,
// suitable for crashreport.Reporter's resourceSampler callback. Returns nil
// if the process cannot be inspected (already exited, permissions, etc).
func SampleForCrashReport(pid int) map[string]interface{} {
	sample, err := CollectProcessMetrics(pid, "", "")
	if err != nil {
		return nil
	}
	return map[string]interface{}{
		"cpu_percent":       sample.CPUPercent,
		"memory_rss_bytes":  sample.MemoryRSSBytes,
		"memory_vms_bytes":  sample.MemoryVMSBytes,
		"memory_percent":    sample.MemoryPercent,
		"threads":           sample.Threads,
		"file_descriptors":  sample.FileDescriptors,
	}
}

// UpdatePrometheusMetrics pushes a resource sample into the process gauges.
func UpdatePrometheusMetrics(cohort, id string, sample *ResourceSample) {
	ProcessCPUPercent.WithLabelValues(cohort, id).Set(sample.CPUPercent)
	ProcessMemoryBytes.WithLabelValues(cohort, id, "rss").Set(float64(sample.MemoryRSSBytes))
	ProcessMemoryBytes.WithLabelValues(cohort, id, "vms").Set(float64(sample.MemoryVMSBytes))
	ProcessMemoryPercent.WithLabelValues(cohort, id).Set(float64(sample.MemoryPercent))
	ProcessThreads.WithLabelValues(cohort, id).Set(float64(sample.Threads))
	if sample.FileDescriptors >= 0 {
		ProcessFileDescriptors.WithLabelValues(cohort, id).Set(float64(sample.FileDescriptors))
	}
}

// ResourceCollector retains a bounded history of resource samples per
// process unit. Samples are supplied through AddSample; the collector does
// not sample on its own, and interval is only stored and reported by
// GetInterval.
type ResourceCollector struct {
	interval   time.Duration
	maxSamples int
	buffers    map[string]*TimeSeriesBuffer // key: "cohort-id"
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewResourceCollector creates a new resource collector.
func NewResourceCollector(interval time.Duration, maxSamples int, logger *slog.Logger) *ResourceCollector {
	return &ResourceCollector{
		interval:   interval,
		maxSamples: maxSamples,
		buffers:    make(map[string]*TimeSeriesBuffer),
		logger:     logger.With("component", "resource_collector"),
	}
}

// GetHistory returns the time series for a unit.
func (rc *ResourceCollector) GetHistory(cohort, id string, since time.Time, limit int) []ResourceSample {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	key := cohort + "-" + id
	buffer, exists := rc.buffers[key]
	if !exists {
		return []ResourceSample{}
	}

	return buffer.GetRange(since, limit)
}

// AddSample appends a sample to a unit's buffer, creating it on first use.
func (rc *ResourceCollector) AddSample(cohort, id string, sample ResourceSample) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	key := cohort + "-" + id
	if _, exists := rc.buffers[key]; !exists {
		rc.buffers[key] = NewTimeSeriesBuffer(rc.maxSamples)
	}
	rc.buffers[key].Add(sample)
}

// RemoveBuffer removes a unit's buffer once it is no longer tracked.
func (rc *ResourceCollector) RemoveBuffer(cohort, id string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	delete(rc.buffers, cohort+"-"+id)
}

// GetBufferSizes returns per-unit buffer occupancy.
func (rc *ResourceCollector) GetBufferSizes() map[string]int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	sizes := make(map[string]int, len(rc.buffers))
	for key, buffer := range rc.buffers {
		sizes[key] = buffer.Size()
	}
	return sizes
}

// GetInterval returns the collection interval.
func (rc *ResourceCollector) GetInterval() time.Duration {
	return rc.interval
}

// GetLatest returns the latest sample for a unit, if any.
func (rc *ResourceCollector) GetLatest(cohort, id string) (ResourceSample, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	key := cohort + "-" + id
	buffer, exists := rc.buffers[key]
	if !exists {
		return ResourceSample{}, false
	}
	return buffer.Latest()
}
