package metrics

import (
	"testing"
	"time"
)

func TestRecordProcessStart(t *testing.T) {
	tests := []struct {
		name      string
		cohort    string
		id        string
		startTime float64
	}{
		{name: "record main start", cohort: "main", id: "web", startTime: float64(time.Now().Unix())},
		{name: "record dependency start", cohort: "dependency", id: "db-migrate", startTime: 1234567890.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordProcessStart(tt.cohort, tt.id, tt.startTime)
		})
	}
}

func TestRecordProcessStop(t *testing.T) {
	tests := []struct {
		name     string
		cohort   string
		id       string
		exitCode int
	}{
		{name: "normal exit", cohort: "main", id: "web", exitCode: 0},
		{name: "error exit", cohort: "main", id: "worker", exitCode: 1},
		{name: "signal exit", cohort: "cleanup", id: "flush", exitCode: 137},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordProcessStop(tt.cohort, tt.id, tt.exitCode)
		})
	}
}

func TestRecordProcessCrash(t *testing.T) {
	RecordProcessCrash("main", "web")
	RecordProcessCrash("dependency", "db-migrate")
}

func TestRecordProcessRestart(t *testing.T) {
	tests := []struct {
		name   string
		cohort string
		id     string
		reason string
	}{
		{name: "crash restart", cohort: "main", id: "web", reason: "crash"},
		{name: "manual restart", cohort: "main", id: "worker", reason: "manual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordProcessRestart(tt.cohort, tt.id, tt.reason)
		})
	}
}

func TestRecordReadinessDuration(t *testing.T) {
	RecordReadinessDuration("main", "web", 0.25)
	RecordReadinessDuration("dependency", "db", 2.5)
}

func TestRecordCleanupTimeout(t *testing.T) {
	RecordCleanupTimeout("flush")
}

func TestSetManagerProcessCount(t *testing.T) {
	for _, count := range []int{0, 1, 5} {
		SetManagerProcessCount(count)
	}
}

func TestSetManagerStartTime(t *testing.T) {
	SetManagerStartTime(float64(time.Now().Unix()))
	SetManagerStartTime(1234567890.0)
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.24.0")
	SetBuildInfo("dev", "go1.24.0")
}

func TestRecordShutdownDuration(t *testing.T) {
	for _, d := range []float64{1.5, 25.0, 60.0} {
		RecordShutdownDuration(d)
	}
}

func TestMetricsIntegration(t *testing.T) {
	startTime := float64(time.Now().Unix())

	RecordProcessStart("main", "integration-test", startTime)
	RecordReadinessDuration("main", "integration-test", 0.1)
	RecordProcessRestart("main", "integration-test", "crash")
	RecordProcessStop("main", "integration-test", 0)
}

func TestMetricsConcurrency(t *testing.T) {
	done := make(chan bool, 3)

	go func() {
		for i := 0; i < 100; i++ {
			RecordProcessStart("main", "proc1", float64(time.Now().Unix()))
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			RecordReadinessDuration("main", "proc2", 0.01)
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			RecordProcessRestart("main", "proc3", "crash")
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done
	<-done
}
