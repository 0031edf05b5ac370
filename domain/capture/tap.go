package capture

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// counters are shared by every tap a session creates so stats survive
// pause/resume cycles.
type counters struct {
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	analyzed      atomic.Uint64
	analysisNanos atomic.Uint64
	sequence      atomic.Uint64
	lastFrame     atomic.Int64 // unix nanos
}

// tap is the frame-analysis mailbox: a single pending slot fed by the
// camera and drained by one worker goroutine. A newer frame replaces an
// undelivered one, which is released without being analyzed. The worker
// hands out one frame at a time and waits for its handle to be released
// before taking the next, so at most two buffers are alive per tap.
type tap struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *FrameHandle
	closed  bool
	done    chan struct{}

	onFrame  func(*FrameHandle)
	counters *counters
	logger   *slog.Logger
}

func newTap(onFrame func(*FrameHandle), c *counters, logger *slog.Logger) *tap {
	t := &tap{onFrame: onFrame, counters: c, logger: logger, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// publish is the camera sink. It never blocks on analysis.
func (t *tap) publish(f *Frame) {
	if f == nil {
		return
	}
	if f.Sequence == 0 {
		f.Sequence = t.counters.sequence.Add(1)
	} else {
		t.counters.sequence.Store(f.Sequence)
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	h := NewFrameHandle(f)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = h.Close()
		return
	}
	t.counters.delivered.Add(1)
	t.counters.lastFrame.Store(f.CapturedAt.UnixNano())
	stale := t.pending
	t.pending = h
	t.cond.Signal()
	t.mu.Unlock()

	if stale != nil {
		t.counters.dropped.Add(1)
		_ = stale.Close()
	}
}

// run is the single analysis worker. It exits once the tap is closed.
func (t *tap) run() {
	for {
		t.mu.Lock()
		for t.pending == nil && !t.closed {
			t.cond.Wait()
		}
		if t.closed {
			t.mu.Unlock()
			return
		}
		h := t.pending
		t.pending = nil
		t.mu.Unlock()

		start := time.Now()
		t.dispatch(h)
		select {
		case <-h.Released():
		case <-t.done:
		}
		t.counters.analyzed.Add(1)
		t.counters.analysisNanos.Add(uint64(time.Since(start).Nanoseconds()))
	}
}

func (t *tap) dispatch(h *FrameHandle) {
	defer func() {
		if r := recover(); r != nil {
			_ = h.Close()
			if t.logger != nil {
				t.logger.Error("capture.analyzer_panic", "error", r, "stack", string(debug.Stack()))
			}
		}
	}()
	if t.onFrame == nil {
		_ = h.Close()
		return
	}
	t.onFrame(h)
}

// close stops the worker and releases any undelivered frame. It does not
// wait for an in-flight frame, so it is safe to call from onFrame.
func (t *tap) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	stale := t.pending
	t.pending = nil
	close(t.done)
	t.cond.Broadcast()
	t.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
}
