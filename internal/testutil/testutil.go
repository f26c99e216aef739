// Package testutil provides shared test helpers.
//
// Using t.Fatal() or t.FailNow() in goroutines causes undefined behavior
// because these methods call runtime.Goexit() which only terminates the
// current goroutine, not the test goroutine. TestHelper routes goroutine
// failures back to the test goroutine instead.
package testutil

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devtrail/memindex/internal/event"
)

// TestHelper manages error collection from goroutines.
//
// Usage:
//
//	h := testutil.NewTestHelper(t)
//	defer h.Wait()
//
//	for i := 0; i < 10; i++ {
//	    h.Add(1)
//	    go func(id int) {
//	        defer h.Done()
//	        if err := doSomething(); err != nil {
//	            h.Errorf("goroutine %d: %v", id, err)
//	        }
//	    }(i)
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

// Errorf records a test error. Safe from any goroutine.
func (h *TestHelper) Errorf(format string, args ...interface{}) {
	select {
	case h.errors <- fmt.Errorf(format, args...):
	default:
		// Buffer full, error is lost but the test still fails
	}
}

// Error records a test error. Safe from any goroutine.
func (h *TestHelper) Error(err error) {
	if err == nil {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Wait waits for all goroutines and reports any errors. Must be called,
// typically via defer.
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

// RunWithTimeout runs fn with a timeout, failing with an error instead of
// hanging the test run.
func RunWithTimeout(timeout time.Duration, fn func()) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %v", timeout)
	}
}

// Event builds a canonical event with the given seq and timestamp, suitable
// for journal and index tests.
func Event(seq int64, ts int64) *event.UnifiedEvent {
	return &event.UnifiedEvent{
		ID:        fmt.Sprintf("ev-%06d", seq),
		Seq:       seq,
		Timestamp: ts,
		Type:      event.TypeFileModify,
		Source:    event.SourceFilesystem,
		Category:  event.CategoryWorkspace,
		Payload:   json.RawMessage(`{"change_type":"modify"}`),
	}
}

// RawRecord builds a raw JSON record for normalizer and ingest tests.
func RawRecord(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal raw record: %v", err)
	}
	return data
}
