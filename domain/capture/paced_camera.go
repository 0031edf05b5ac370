package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// ErrNoFlash is returned by torch operations on cameras without a light source.
var ErrNoFlash = errors.New("capture: camera has no flash unit")

// nextFrameFunc produces the next frame. ok=false ends the stream.
type nextFrameFunc func() (f *Frame, ok bool, err error)

// pacedCamera drives a frame producer at a fixed rate and implements the
// lifecycle half of Camera. Torch support is layered on top by torch.
type pacedCamera struct {
	name    string
	limiter *rate.Limiter
	next    nextFrameFunc
	preview PreviewSurface
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

func newPacedCamera(name string, fps float64, next nextFrameFunc, preview PreviewSurface, logger *slog.Logger) *pacedCamera {
	if fps <= 0 {
		fps = 10
	}
	return &pacedCamera{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		next:    next,
		preview: preview,
		logger:  logger,
	}
}

func (c *pacedCamera) Start(ctx context.Context, sink func(*Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("capture: camera closed")
	}
	if c.started {
		return errors.New("capture: camera already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx, sink)
	return nil
}

func (c *pacedCamera) loop(ctx context.Context, sink func(*Frame)) {
	defer c.wg.Done()
	defer recoverLog(c.logger, "capture.stream_panic")
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		f, ok, err := c.next()
		if err != nil {
			if c.logger != nil {
				c.logger.Error("capture.grab", "camera", c.name, "error", err)
			}
			continue
		}
		if !ok {
			if c.logger != nil {
				c.logger.Debug("capture.stream_end", "camera", c.name)
			}
			return
		}
		if c.preview != nil {
			c.preview.Present(f.Image)
		}
		sink(f)
	}
}

// Close stops the stream and waits for the producer goroutine to exit.
func (c *pacedCamera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

// torch emulates or reports a light source with observer fan-out.
type torch struct {
	present bool

	mu        sync.Mutex
	on        bool
	nextID    int
	observers map[int]func(bool)
}

func (t *torch) HasFlash() bool { return t.present }

func (t *torch) TorchOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on
}

func (t *torch) EnableTorch(on bool) error {
	if !t.present {
		return ErrNoFlash
	}
	t.mu.Lock()
	changed := t.on != on
	t.on = on
	observers := make([]func(bool), 0, len(t.observers))
	for _, fn := range t.observers {
		observers = append(observers, fn)
	}
	t.mu.Unlock()
	if changed {
		for _, fn := range observers {
			fn(on)
		}
	}
	return nil
}

// ObserveTorch registers fn and immediately reports the current state, the
// way a live-data observer does.
func (t *torch) ObserveTorch(fn func(bool)) func() {
	if !t.present || fn == nil {
		return func() {}
	}
	t.mu.Lock()
	if t.observers == nil {
		t.observers = map[int]func(bool){}
	}
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	on := t.on
	t.mu.Unlock()
	fn(on)
	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

func recoverLog(logger *slog.Logger, msg string) {
	if r := recover(); r != nil {
		if logger != nil {
			logger.Error(msg, "error", r)
		}
	}
}
