package scan

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// opQueue runs capture session operations one at a time, in the order they
// were enqueued. Enqueue happens under the scanner mutex together with the
// state transition, so the session always ends up matching the last state.
// Whoever finds the queue idle drains it; a caller that finds it busy
// (another goroutine, or a handler running inside an operation) returns and
// leaves its operation to the active drainer.
type opQueue struct {
	logger *slog.Logger

	mu       sync.Mutex
	ops      []func()
	draining bool
}

func (q *opQueue) enqueue(op func()) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
}

func (q *opQueue) drain() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for len(q.ops) > 0 {
		op := q.ops[0]
		q.ops[0] = nil
		q.ops = q.ops[1:]
		q.mu.Unlock()
		q.run(op)
		q.mu.Lock()
	}
	q.draining = false
	q.mu.Unlock()
}

func (q *opQueue) run(op func()) {
	defer func() {
		if r := recover(); r != nil && q.logger != nil {
			q.logger.Error("scan.session_op_panic", "error", r, "stack", string(debug.Stack()))
		}
	}()
	op()
}
