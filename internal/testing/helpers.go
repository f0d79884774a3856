// Package testing provides test helpers for the carousel project.
//
// Using t.Fatal() or t.FailNow() in goroutines causes undefined behavior
// because these methods call runtime.Goexit() which only terminates the
// current goroutine, not the test goroutine. TestHelper provides the
// error channel pattern as a safe alternative.
package testing

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestHelper manages error collection from goroutines.
//
// Usage:
//
//	func TestConcurrent(t *testing.T) {
//	    h := NewTestHelper(t)
//	    defer h.Wait()
//
//	    for i := 0; i < 10; i++ {
//	        h.Add(1)
//	        go func(id int) {
//	            defer h.Done()
//	            if err := doSomething(); err != nil {
//	                h.Errorf("goroutine %d: %v", id, err)
//	            }
//	        }(i)
//	    }
//	}
type TestHelper struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
}

// NewTestHelper creates a new test helper.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		t:      t,
		errors: make(chan error, 100),
	}
}

// Add increments the goroutine counter.
func (h *TestHelper) Add(delta int) {
	h.wg.Add(delta)
}

// Done decrements the goroutine counter.
func (h *TestHelper) Done() {
	h.wg.Done()
}

// Errorf records a test error from a goroutine.
// This is safe to call from any goroutine.
func (h *TestHelper) Errorf(format string, args ...interface{}) {
	select {
	case h.errors <- fmt.Errorf(format, args...):
	default:
		// Buffer full, error will be lost but test will still fail
	}
}

// Wait waits for all goroutines and reports any errors.
// Must be called (typically via defer) to ensure errors are reported.
func (h *TestHelper) Wait() {
	h.wg.Wait()
	close(h.errors)

	var failed bool
	for err := range h.errors {
		h.t.Errorf("goroutine error: %v", err)
		failed = true
	}

	if failed {
		h.t.FailNow()
	}
}

// Eventually polls cond until it returns true or the timeout expires.
// It is meant for waiting on asynchronous state transitions (e.g., a
// flush worker draining) with an explicit bound instead of an
// unbounded blocking wait.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
