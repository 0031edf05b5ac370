package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const captureStatsLogInterval = 5 * time.Second

// Session owns the camera pipeline: one bound camera, its preview surface,
// and the keep-only-latest analysis tap. Use NewSession to construct an
// instance. All methods are safe for concurrent use; Pause may be called
// from inside the onFrame callback.
type Session struct {
	provider Provider
	facing   LensFacing
	logger   *slog.Logger

	mu              sync.Mutex
	onFlashDetected func(bool)
	onFlashChanged  func(bool)
	onFrame         func(*FrameHandle)
	camera          Camera
	tap             *tap
	cancel          context.CancelFunc
	stopObserve     func()
	flash           bool

	running  atomic.Bool
	counters counters
	lastLog  atomic.Int64
}

// NewSession returns a session that binds back-facing cameras from provider.
func NewSession(provider Provider, logger *slog.Logger) *Session {
	return &Session{provider: provider, facing: LensFacingBack, logger: logger}
}

// Configure stores the handlers used by every subsequent Resume.
func (s *Session) Configure(onFlashHardwareDetected, onFlashStateChanged func(bool), onFrame func(*FrameHandle)) {
	s.mu.Lock()
	s.onFlashDetected = onFlashHardwareDetected
	s.onFlashChanged = onFlashStateChanged
	s.onFrame = onFrame
	s.mu.Unlock()
}

// Resume binds a camera to ctx and preview, replacing any previously bound
// pipeline, attaches the analysis tap and reports flash availability. When
// the camera has a light source every torch transition is forwarded to the
// flash-state handler. Any binding failure pauses the session and is
// reported through onFatal. Cancelling ctx has the same effect as Pause.
func (s *Session) Resume(ctx context.Context, preview PreviewSurface, onFatal func(error)) {
	s.mu.Lock()
	// the previous pipeline goes down under the same lock that installs the
	// next one, so concurrent Resume calls never orphan a tap
	if teardown := s.detachLocked(); teardown != nil {
		teardown()
	}
	onFrame, onDetected, onChanged := s.onFrame, s.onFlashDetected, s.onFlashChanged
	s.provider.UnbindAll()
	pctx, cancel := context.WithCancel(ctx)
	cam, err := s.bind(pctx, preview)
	if err != nil {
		s.mu.Unlock()
		cancel()
		s.fail(fmt.Errorf("capture: bind %s camera: %w", s.facing, err), onFatal)
		return
	}
	t := newTap(s.wrapOnFrame(onFrame), &s.counters, s.logger)
	s.camera, s.tap, s.cancel = cam, t, cancel
	s.flash = cam.HasFlash()
	flash := s.flash
	s.running.Store(true)
	s.mu.Unlock()

	go t.run()
	if flash && onChanged != nil {
		// observers report the current state immediately; keep that outside mu
		stop := cam.ObserveTorch(onChanged)
		s.mu.Lock()
		if s.camera == cam {
			s.stopObserve = stop
			stop = nil
		}
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
	}
	if s.logger != nil {
		s.logger.Info("capture.resumed", "facing", s.facing.String(), "flash", flash)
	}
	if onDetected != nil {
		onDetected(flash)
	}
	if err := cam.Start(pctx, t.publish); err != nil {
		s.fail(fmt.Errorf("capture: start camera: %w", err), onFatal)
		return
	}
	go func() {
		<-pctx.Done()
		s.pauseTap(t)
	}()
}

// bind calls the provider, converting a provider panic into an error.
func (s *Session) bind(ctx context.Context, preview PreviewSurface) (cam Camera, err error) {
	defer func() {
		if r := recover(); r != nil {
			cam, err = nil, fmt.Errorf("provider panic: %v", r)
		}
	}()
	cam, err = s.provider.Bind(ctx, s.facing, preview)
	if err == nil && cam == nil {
		err = fmt.Errorf("provider returned no camera")
	}
	return cam, err
}

func (s *Session) wrapOnFrame(onFrame func(*FrameHandle)) func(*FrameHandle) {
	return func(h *FrameHandle) {
		if onFrame == nil {
			_ = h.Close()
		} else {
			onFrame(h)
		}
		s.maybeLogStats()
	}
}

func (s *Session) fail(err error, onFatal func(error)) {
	s.Pause()
	if s.logger != nil {
		s.logger.Error("capture.fatal", "error", err)
	}
	if onFatal != nil {
		onFatal(err)
	}
}

// pauseTap pauses only if t is still the active tap.
func (s *Session) pauseTap(t *tap) {
	s.mu.Lock()
	active := s.tap == t
	s.mu.Unlock()
	if active {
		s.Pause()
	}
}

// Pause releases the camera binding and stops the analysis worker.
// Idempotent.
func (s *Session) Pause() {
	s.mu.Lock()
	teardown := s.detachLocked()
	if teardown != nil {
		teardown()
	}
	s.mu.Unlock()
	if teardown != nil {
		s.logStats()
	}
}

// detachLocked clears the bound pipeline and returns the func that tears it
// down, or nil when nothing is bound. The caller holds s.mu and runs the
// teardown before releasing it; the teardown never takes s.mu and never
// waits for the analysis worker.
func (s *Session) detachLocked() func() {
	if s.camera == nil && s.tap == nil {
		return nil
	}
	cam, t, cancel, stopObserve := s.camera, s.tap, s.cancel, s.stopObserve
	s.camera, s.tap, s.cancel, s.stopObserve = nil, nil, nil, nil
	s.flash = false
	s.running.Store(false)
	return func() {
		if stopObserve != nil {
			stopObserve()
		}
		if cancel != nil {
			cancel()
		}
		if t != nil {
			t.close()
		}
		if cam != nil {
			if err := cam.Close(); err != nil && s.logger != nil {
				s.logger.Warn("capture.close", "error", err)
			}
		}
		s.provider.UnbindAll()
		if s.logger != nil {
			s.logger.Info("capture.paused")
		}
	}
}

// SetTorch turns the light source on or off. No-op without a light source.
func (s *Session) SetTorch(on bool) {
	s.mu.Lock()
	cam, flash := s.camera, s.flash
	s.mu.Unlock()
	if cam == nil || !flash {
		return
	}
	if err := cam.EnableTorch(on); err != nil && s.logger != nil {
		s.logger.Warn("capture.torch", "on", on, "error", err)
	}
}

// ToggleTorch flips the light source. No-op without a light source.
func (s *Session) ToggleTorch() {
	s.mu.Lock()
	cam, flash := s.camera, s.flash
	s.mu.Unlock()
	if cam == nil || !flash {
		return
	}
	s.SetTorch(!cam.TorchOn())
}

// Running reports whether a camera is currently bound.
func (s *Session) Running() bool { return s.running.Load() }

func (s *Session) Stats() Stats {
	analyzed := s.counters.analyzed.Load()
	total := s.counters.analysisNanos.Load()
	var avg time.Duration
	if analyzed > 0 {
		avg = time.Duration(total / analyzed)
	}
	var last time.Time
	var age time.Duration
	if n := s.counters.lastFrame.Load(); n > 0 {
		last = time.Unix(0, n)
		age = time.Since(last)
	}
	s.mu.Lock()
	flash := s.flash
	torch := flash && s.camera != nil && s.camera.TorchOn()
	s.mu.Unlock()
	return Stats{
		Delivered:      s.counters.delivered.Load(),
		Dropped:        s.counters.dropped.Load(),
		Analyzed:       analyzed,
		AvgAnalysis:    avg,
		LastFrame:      last,
		LatestFrameAge: age,
		Sequence:       s.counters.sequence.Load(),
		FlashDetected:  flash,
		TorchOn:        torch,
		Running:        s.running.Load(),
	}
}

func (s *Session) maybeLogStats() {
	now := time.Now().UnixNano()
	last := s.lastLog.Load()
	if now-last < int64(captureStatsLogInterval) || !s.lastLog.CompareAndSwap(last, now) {
		return
	}
	s.logStats()
}

func (s *Session) logStats() {
	if s.logger == nil {
		return
	}
	stats := s.Stats()
	s.logger.Debug("capture.stats",
		"delivered", stats.Delivered,
		"dropped", stats.Dropped,
		"analyzed", stats.Analyzed,
		"avg_analysis", stats.AvgAnalysis,
		"age", stats.LatestFrameAge,
	)
}
