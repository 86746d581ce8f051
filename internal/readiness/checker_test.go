package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/gophpeek/pmcore/internal/logger"
	"github.com/gophpeek/pmcore/internal/matcher"
)

func TestRun_NoChecks_ResolvesImmediately(t *testing.T) {
	lg, err := logger.NewProcessLogger(10, 10, "\n")
	if err != nil {
		t.Fatalf("NewProcessLogger: %v", err)
	}

	ch := Run(context.Background(), lg, nil)
	select {
	case err := <-ch:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestRun_AllChecksPass(t *testing.T) {
	lg, err := logger.NewProcessLogger(10, 10, "\n")
	if err != nil {
		t.Fatalf("NewProcessLogger: %v", err)
	}

	checks := []Check{
		{Pattern: matcher.Literal("foo"), Timeout: time.Second},
		{Pattern: matcher.Literal("bar"), Timeout: time.Second},
	}
	ch := Run(context.Background(), lg, checks)

	lg.AddChunk("has foo in it", false, "")
	lg.AddChunk("has bar in it", false, "")

	select {
	case err := <-ch:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestRun_TimeoutFails(t *testing.T) {
	lg, err := logger.NewProcessLogger(10, 10, "\n")
	if err != nil {
		t.Fatalf("NewProcessLogger: %v", err)
	}

	checks := []Check{{Pattern: matcher.Literal("never"), Timeout: 20 * time.Millisecond}}
	ch := Run(context.Background(), lg, checks)

	select {
	case err := <-ch:
		if err == nil {
			t.Errorf("expected timeout error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestRun_PassIfNotFound_SatisfiesOnTimeout(t *testing.T) {
	lg, err := logger.NewProcessLogger(10, 10, "\n")
	if err != nil {
		t.Fatalf("NewProcessLogger: %v", err)
	}

	checks := []Check{{Pattern: matcher.Literal("never"), Timeout: 20 * time.Millisecond, PassIfNotFound: true}}
	ch := Run(context.Background(), lg, checks)

	select {
	case err := <-ch:
		if err != nil {
			t.Errorf("expected nil (pass on timeout), got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestRun_OneFailsAmongMany(t *testing.T) {
	lg, err := logger.NewProcessLogger(10, 10, "\n")
	if err != nil {
		t.Fatalf("NewProcessLogger: %v", err)
	}

	checks := []Check{
		{Pattern: matcher.Literal("foo"), Timeout: time.Second},
		{Pattern: matcher.Literal("never"), Timeout: 20 * time.Millisecond},
	}
	ch := Run(context.Background(), lg, checks)
	lg.AddChunk("foo", false, "")

	select {
	case err := <-ch:
		if err == nil {
			t.Errorf("expected failure from the timed-out check")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestRun_MatchViaErrorStream(t *testing.T) {
	lg, err := logger.NewProcessLogger(10, 10, "\n")
	if err != nil {
		t.Fatalf("NewProcessLogger: %v", err)
	}

	checks := []Check{{Pattern: matcher.Literal("boom"), Timeout: time.Second}}
	ch := Run(context.Background(), lg, checks)
	lg.AddChunk("boom detected", true, "")

	select {
	case err := <-ch:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
