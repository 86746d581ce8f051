// Package readiness implements the readiness-checker algorithm described for
// the Process Unit: N concurrent pattern-vs-timeout races over a process
// logger's output stream.
package readiness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gophpeek/pmcore/internal/logger"
	"github.com/gophpeek/pmcore/internal/matcher"
)

// ErrTimeout is returned when a check's timeout elapses without
// pass_if_not_found set.
var ErrTimeout = errors.New("readiness check timed out")

// Check is one readiness condition tested against a unit's captured output.
type Check struct {
	Pattern        matcher.Pattern
	Timeout        time.Duration
	PassIfNotFound bool
}

type checkState struct {
	mu      sync.Mutex
	settled bool
}

func (s *checkState) settle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return false
	}
	s.settled = true
	return true
}

// Run installs a subscription and timer per check against lg and returns a
// channel that receives exactly one value: nil once every check is
// satisfied, the first failing check's error, or ctx's error if ctx is
// cancelled first. With zero checks it resolves nil immediately. Each
// check's subscriptions and timer are torn down by its own goroutine once
// the check settles or the run ends; that teardown may finish after the
// result is sent.
func Run(ctx context.Context, lg *logger.ProcessLogger, checks []Check) <-chan error {
	result := make(chan error, 1)

	if len(checks) == 0 {
		result <- nil
		return result
	}

	runCtx, cancel := context.WithCancel(ctx)

	var passedMu sync.Mutex
	passed := 0
	total := len(checks)

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			cancel()
			result <- err
		})
	}

	recordPass := func() {
		passedMu.Lock()
		passed++
		n := passed
		passedMu.Unlock()
		if n == total {
			finish(nil)
		}
	}

	for _, c := range checks {
		c := c
		state := &checkState{}
		done := make(chan struct{})

		matchHandler := func(text string) {
			ok, _ := c.Pattern.Match(text)
			if !ok || !state.settle() {
				return
			}
			close(done)
			recordPass()
		}

		unsubLog := lg.OnLog(matchHandler)
		unsubErr := lg.OnError(matchHandler)

		timer := time.AfterFunc(c.Timeout, func() {
			if !state.settle() {
				return
			}
			close(done)
			if c.PassIfNotFound {
				recordPass()
				return
			}
			finish(ErrTimeout)
		})

		go func() {
			select {
			case <-done:
			case <-runCtx.Done():
			}
			timer.Stop()
			unsubLog()
			unsubErr()
		}()
	}

	go func() {
		<-runCtx.Done()
		finish(ctx.Err())
	}()

	return result
}
