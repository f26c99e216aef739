// Package journal implements the durable append-only event log.
//
// Events are persisted as newline-delimited UTF-8 JSON, one canonical event
// per line. A single FIFO queue drained by one in-flight loop guarantees that
// physical write order equals call order even under concurrent callers.
// Appended bytes are never rewritten or deleted in place; the only
// destructive change is whole-file rotation.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devtrail/memindex/internal/errors"
	"github.com/devtrail/memindex/internal/event"
	"github.com/devtrail/memindex/internal/logging"
)

// LiveName is the file name of the growing journal inside its directory.
const LiveName = "events.log"

// OverflowPolicy controls behavior when the queue is full.
type OverflowPolicy int

const (
	// Block makes producers wait for queue space. Used for data that must
	// never be lost.
	Block OverflowPolicy = iota

	// DropOldest discards the oldest queued-unflushed record and admits the
	// new one. Every drop is counted, logged, and reported through the
	// OnDrop hook. Used for best-effort telemetry.
	DropOldest
)

// String returns the string representation of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop_oldest"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// Options configures the journal writer.
type Options struct {
	// QueueCapacity bounds the number of queued-unflushed records.
	// Default: 1024.
	QueueCapacity int

	// Overflow selects the policy applied when the queue is full.
	Overflow OverflowPolicy

	// SyncMode controls storage syncing on flush: "none", "sync" (fsync on
	// Flush/Rotate/Close). Default: "none".
	SyncMode string

	// MaxRetries is the number of physical write attempts per record.
	// Default: 5.
	MaxRetries int

	// RetryBaseDelay is the initial backoff delay, doubled per attempt.
	// Default: 10ms.
	RetryBaseDelay time.Duration

	// AutoDrain starts a background goroutine that writes queued records as
	// they arrive. When false, records stay queued until Flush, Rotate, or
	// Close. Default: true.
	AutoDrain bool

	// OnDrop, when set, is invoked with the discarded record each time the
	// DropOldest policy fires.
	OnDrop func(*event.UnifiedEvent)

	// OnWriteError, when set, is invoked when retries for a record are
	// exhausted. The record is surfaced, never silently lost.
	OnWriteError func(*event.UnifiedEvent, error)
}

// DefaultOptions returns default writer options.
func DefaultOptions() Options {
	return Options{
		QueueCapacity:  1024,
		Overflow:       Block,
		SyncMode:       "none",
		MaxRetries:     5,
		RetryBaseDelay: 10 * time.Millisecond,
		AutoDrain:      true,
	}
}

// WriterStats holds journal writer statistics.
type WriterStats struct {
	RecordsWritten   int64
	BytesWritten     int64
	RecordsDropped   int64
	RetriesAttempted int64
	WriteFailures    int64
	Rotations        int64
}

// Writer is the ordered, retrying, crash-safe single-file append writer. The
// live file handle is exclusively owned by its Writer instance.
type Writer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	dir      string
	livePath string
	file     *os.File
	bw       *bufio.Writer

	queue  []queued
	closed bool

	opts  Options
	stats WriterStats

	drainDone chan struct{}
	log       interface {
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
}

type queued struct {
	ev   *event.UnifiedEvent
	line []byte
}

// NewWriter opens (or creates) the journal in dir. Init is idempotent: the
// directory and live file are created if absent, and an existing live file is
// opened in append mode.
func NewWriter(dir string, opts Options) (*Writer, error) {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultOptions().QueueCapacity
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultOptions().RetryBaseDelay
	}
	if opts.SyncMode == "" {
		opts.SyncMode = "none"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	w := &Writer{
		dir:      dir,
		livePath: filepath.Join(dir, LiveName),
		opts:     opts,
		log:      logging.Component("journal"),
	}
	w.notEmpty = sync.NewCond(&w.mu)
	w.notFull = sync.NewCond(&w.mu)

	if err := w.openLive(); err != nil {
		return nil, err
	}

	if opts.AutoDrain {
		w.drainDone = make(chan struct{})
		go w.drainLoop()
	}

	return w, nil
}

func (w *Writer) openLive() error {
	f, err := os.OpenFile(w.livePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open live journal: %w", err)
	}
	w.file = f
	w.bw = bufio.NewWriter(f)
	return nil
}

// Append serializes the event to one newline-terminated line and enqueues it.
// Under the Block policy a full queue makes the caller wait; under DropOldest
// the oldest queued record is discarded with a diagnostic.
func (w *Writer) Append(e *event.UnifiedEvent) error {
	line, err := e.EncodeLine()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	switch w.opts.Overflow {
	case Block:
		for len(w.queue) >= w.opts.QueueCapacity && !w.closed {
			w.notFull.Wait()
		}
		if w.closed {
			return errors.ErrWriterClosed
		}
	case DropOldest:
		if len(w.queue) >= w.opts.QueueCapacity {
			dropped := w.queue[0]
			w.queue = w.queue[1:]
			w.stats.RecordsDropped++
			w.log.Warn("record dropped on overflow",
				"policy", "drop_oldest", "id", dropped.ev.ID, "queued", len(w.queue))
			if w.opts.OnDrop != nil {
				w.opts.OnDrop(dropped.ev)
			}
		}
	}

	w.queue = append(w.queue, queued{ev: e, line: line})
	w.notEmpty.Signal()
	return nil
}

// drainLoop is the single in-flight loop. It pops records in FIFO order and
// writes them while holding the writer lock, so physical order equals call
// order and rotation cannot interleave with a record write.
func (w *Writer) drainLoop() {
	defer close(w.drainDone)

	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for len(w.queue) == 0 && !w.closed {
			w.notEmpty.Wait()
		}
		if len(w.queue) == 0 && w.closed {
			return
		}
		if err := w.drainLocked(); err != nil {
			w.log.Error("drain failed", "error", err)
		}
		w.notFull.Broadcast()
	}
}

// drainLocked writes every queued record. A record whose retries are
// exhausted is surfaced through OnWriteError and the failure counter; it is
// removed from the queue either way so one poisoned record cannot wedge the
// writer.
func (w *Writer) drainLocked() error {
	var firstErr error
	for len(w.queue) > 0 {
		rec := w.queue[0]
		w.queue = w.queue[1:]

		if err := w.writeWithRetry(rec.line); err != nil {
			w.stats.WriteFailures++
			w.log.Error("record write failed after retries", "id", rec.ev.ID, "error", err)
			if w.opts.OnWriteError != nil {
				w.opts.OnWriteError(rec.ev, err)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.stats.RecordsWritten++
		w.stats.BytesWritten += int64(len(rec.line))
	}
	return firstErr
}

// writeWithRetry performs one physical write with bounded exponential backoff
// on transient errors (busy handles, descriptor exhaustion, would-block).
func (w *Writer) writeWithRetry(line []byte) error {
	delay := w.opts.RetryBaseDelay
	var lastErr error

	for attempt := 0; attempt < w.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			w.stats.RetriesAttempted++
			time.Sleep(delay)
			delay *= 2
		}

		_, err := w.bw.Write(line)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.IsTransient(err) {
			return fmt.Errorf("write record: %w", err)
		}
		// The bufio writer is sticky after an error; rebuild it on the
		// same handle before retrying.
		w.bw = bufio.NewWriter(w.file)
	}

	return fmt.Errorf("%w: %v", errors.ErrRetryExhausted, lastErr)
}

// Flush drains the queue and flushes buffered bytes, with an fsync when
// SyncMode is "sync".
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.ErrWriterClosed
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	err := w.drainLocked()
	w.notFull.Broadcast()

	if ferr := w.bw.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("flush journal: %w", ferr)
	}
	if w.opts.SyncMode == "sync" {
		if serr := w.file.Sync(); serr != nil && err == nil {
			err = fmt.Errorf("sync journal: %w", serr)
		}
	}
	return err
}

// Rotate atomically retires the live file: the queue is drained into it, the
// file is flushed, closed and renamed to archivePath, and a fresh live file
// is opened. Concurrent Appends keep queueing and land in the new file; no
// record is lost or duplicated across the boundary.
func (w *Writer) Rotate(archivePath string) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.file == nil {
		return errors.ErrWriterClosed
	}

	if err := w.flushLocked(); err != nil {
		return fmt.Errorf("flush before rotation: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close live journal: %w", err)
	}
	w.file = nil

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.Rename(w.livePath, archivePath); err != nil {
		// Reopen the old live file so the writer stays usable.
		if oerr := w.openLive(); oerr != nil {
			return fmt.Errorf("rotate rename: %v; reopen live: %w", err, oerr)
		}
		return fmt.Errorf("rotate rename: %w", err)
	}

	if err := w.openLive(); err != nil {
		return err
	}
	w.stats.Rotations++
	return nil
}

// Close flushes queued records and releases the file. Blocked producers are
// woken with ErrWriterClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.flushLocked()
	w.notEmpty.Broadcast()
	w.notFull.Broadcast()

	if w.file != nil {
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		w.file = nil
	}
	w.mu.Unlock()

	if w.drainDone != nil {
		<-w.drainDone
	}
	return err
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// LivePath returns the path of the growing journal file.
func (w *Writer) LivePath() string {
	return w.livePath
}

// LiveSize returns the current size of the live file in bytes, including
// queued-but-unflushed data already handed to the OS.
func (w *Writer) LiveSize() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, errors.ErrWriterClosed
	}
	info, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size() + int64(w.bw.Buffered()), nil
}

// QueuedLen returns the number of queued-unflushed records.
func (w *Writer) QueuedLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
