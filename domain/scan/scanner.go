package scan

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soocke/qrscan-go/domain/capture"
)

type scannerDeps struct {
	handlers    Handlers
	session     CaptureSession
	gate        PermissionGate
	decoder     FrameDecoder
	permissions []string
	preview     capture.PreviewSurface
	ctx         context.Context
	logger      *slog.Logger
}

// Scanner coordinates permission, capture and decoding for one scan
// session. Lifecycle methods (Start, OnHostResume, OnHostPause,
// OnPermissionResult) are meant to be called by the host as its own
// lifecycle changes; all methods are safe for concurrent use and handlers
// are never invoked while internal locks are held.
type Scanner struct {
	id          string
	handlers    Handlers
	session     CaptureSession
	gate        PermissionGate
	decoder     FrameDecoder
	permissions []string
	preview     capture.PreviewSurface
	ctx         context.Context
	logger      *slog.Logger

	// stopFlag suppresses all frame processing while set. Cleared on resume.
	stopFlag atomic.Bool

	mu         sync.Mutex
	state      State
	reason     StopReason
	hostPaused bool
	requestID  string
	listeners  []StateListener
	clock      activeClock
	stopWatch  func() bool

	// ops applies session Resume/Pause in transition order.
	ops opQueue

	framesAnalyzed   atomic.Uint64
	framesSuppressed atomic.Uint64
	detections       atomic.Uint64
	decodeErrors     atomic.Uint64
}

func newScanner(d scannerDeps) *Scanner {
	s := &Scanner{
		id:          uuid.NewString(),
		handlers:    d.handlers,
		session:     d.session,
		gate:        d.gate,
		decoder:     d.decoder,
		permissions: d.permissions,
		preview:     d.preview,
		ctx:         d.ctx,
		logger:      d.logger,
	}
	if s.logger != nil {
		s.logger = s.logger.With("scanner", s.id)
	}
	s.ops.logger = s.logger
	s.session.Configure(s.flashDetected, s.flashChanged, s.analyze)
	return s
}

// ID uniquely identifies this scanner in logs.
func (s *Scanner) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StopReason explains the last transition into StateStopped.
func (s *Scanner) StopReason() StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// PendingRequest returns the id of the outstanding permission request, or
// "" when none is pending.
func (s *Scanner) PendingRequest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// Stopped reports the stop flag.
func (s *Scanner) Stopped() bool { return s.stopFlag.Load() }

// AddListener registers l for every later transition.
func (s *Scanner) AddListener(l StateListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Start requests the configured permissions. When they are already granted
// the scanner becomes Active before Start returns. Start may be called once.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	notify := s.transitionLocked(StateAwaitingPermission, StopNone)
	s.stopWatch = context.AfterFunc(s.ctx, s.close)
	s.mu.Unlock()
	notify()

	id := s.gate.EnsureGranted(s.permissions, s.permissionGranted, s.permissionDenied)
	if id != "" {
		s.mu.Lock()
		if s.state == StateAwaitingPermission {
			s.requestID = id
		}
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Info("scan.permission_requested", "request", id, "permissions", s.permissions)
		}
	}
	return nil
}

// OnPermissionResult forwards a host permission result. Results for
// unknown or already-resolved requests are ignored.
func (s *Scanner) OnPermissionResult(requestID string) {
	if !s.gate.HandleResult(requestID) && s.logger != nil {
		s.logger.Debug("scan.permission_result_ignored", "request", requestID)
	}
}

func (s *Scanner) permissionGranted() {
	s.mu.Lock()
	if s.state != StateAwaitingPermission {
		s.mu.Unlock()
		return
	}
	s.requestID = ""
	if s.hostPaused {
		// host went to background while the prompt was up
		notify := s.transitionLocked(StatePaused, StopNone)
		s.mu.Unlock()
		notify()
		return
	}
	notify := s.transitionLocked(StateActive, StopNone)
	s.resumeLocked()
	s.mu.Unlock()
	notify()
	s.ops.drain()
}

func (s *Scanner) permissionDenied() {
	s.mu.Lock()
	if s.state != StateAwaitingPermission {
		s.mu.Unlock()
		return
	}
	s.requestID = ""
	notify := s.transitionLocked(StateStopped, StopPermissionDenied)
	s.mu.Unlock()
	notify()
	if s.logger != nil {
		s.logger.Warn("scan.permission_denied", "permissions", s.permissions)
	}
	s.call("OnPermissionsNotGranted", func() {
		if s.handlers.OnPermissionsNotGranted != nil {
			s.handlers.OnPermissionsNotGranted()
		}
	})
}

// OnHostResume resumes scanning after a host pause or a caller stop, and
// clears the stop flag. Terminal stops (permission denial, fatal error,
// closed lifecycle) are not resumable.
func (s *Scanner) OnHostResume() {
	s.mu.Lock()
	switch {
	case s.state == StateAwaitingPermission:
		s.hostPaused = false
		s.mu.Unlock()
		return
	case s.state == StatePaused, s.state == StateStopped && s.reason == StopCaller:
	default:
		state := s.state
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Debug("scan.resume_ignored", "state", state.String())
		}
		return
	}
	s.hostPaused = false
	s.stopFlag.Store(false)
	notify := s.transitionLocked(StateActive, StopNone)
	s.resumeLocked()
	s.mu.Unlock()
	notify()
	s.ops.drain()
}

// OnHostPause releases the camera. From Active the scanner moves to Paused;
// a pause during the permission prompt is remembered so the grant does not
// bind the camera in the background.
func (s *Scanner) OnHostPause() {
	s.mu.Lock()
	switch s.state {
	case StateActive:
		notify := s.transitionLocked(StatePaused, StopNone)
		s.pauseLocked()
		s.mu.Unlock()
		notify()
		s.ops.drain()
	case StateAwaitingPermission:
		s.hostPaused = true
		s.mu.Unlock()
	default:
		s.mu.Unlock()
	}
}

// SetFlash turns the torch on or off while Active.
func (s *Scanner) SetFlash(on bool) {
	if s.State() == StateActive {
		s.session.SetTorch(on)
	}
}

// ToggleFlash flips the torch while Active.
func (s *Scanner) ToggleFlash() {
	if s.State() == StateActive {
		s.session.ToggleTorch()
	}
}

// resumeLocked and pauseLocked queue a session operation; call with mu held
// and drain s.ops after unlocking.
func (s *Scanner) resumeLocked() {
	s.ops.enqueue(func() { s.session.Resume(s.ctx, s.preview, s.fatal) })
}

func (s *Scanner) pauseLocked() {
	s.ops.enqueue(s.session.Pause)
}

// fatal runs after the capture session has already paused itself.
func (s *Scanner) fatal(err error) {
	s.mu.Lock()
	if s.state == StateStopped && s.reason != StopCaller {
		s.mu.Unlock()
		return
	}
	notify := s.transitionLocked(StateStopped, StopFatal)
	s.mu.Unlock()
	notify()
	if s.logger != nil {
		s.logger.Error("scan.fatal", "error", err)
	}
	s.call("OnException", func() {
		if s.handlers.OnException != nil {
			s.handlers.OnException(err)
		}
	})
}

// close ends the session when the lifecycle context is done.
func (s *Scanner) close() {
	s.mu.Lock()
	if s.state == StateStopped && s.reason != StopCaller {
		s.mu.Unlock()
		return
	}
	s.stopFlag.Store(true)
	notify := s.transitionLocked(StateStopped, StopClosed)
	s.pauseLocked()
	s.mu.Unlock()
	notify()
	s.ops.drain()
}

// stop is the StopHandle target: set the flag, release the camera, and
// move Active to Stopped.
func (s *Scanner) stop() {
	s.stopFlag.Store(true)
	s.mu.Lock()
	s.pauseLocked()
	if s.state != StateActive {
		s.mu.Unlock()
		s.ops.drain()
		return
	}
	notify := s.transitionLocked(StateStopped, StopCaller)
	s.mu.Unlock()
	notify()
	s.ops.drain()
	if s.logger != nil {
		s.logger.Info("scan.stopped_by_caller")
	}
}

// transitionLocked updates state and returns a func that notifies
// listeners; call it after releasing mu.
func (s *Scanner) transitionLocked(next State, reason StopReason) func() {
	prev := s.state
	if prev == next && s.reason == reason {
		return func() {}
	}
	now := time.Now()
	s.state = next
	s.reason = reason
	s.clock.set(next == StateActive, now)
	if next == StateStopped && reason != StopCaller && s.stopWatch != nil {
		// terminal: the context watcher is no longer needed
		s.stopWatch()
		s.stopWatch = nil
	}
	if s.logger != nil {
		s.logger.Debug("scan.state", "from", prev.String(), "to", next.String(), "reason", reason.String())
	}
	listeners := append([]StateListener(nil), s.listeners...)
	return func() {
		for _, l := range listeners {
			s.call("StateListener", func() { l(prev, next) })
		}
	}
}

// analyze is the per-frame protocol, run on the capture analysis worker.
func (s *Scanner) analyze(h *capture.FrameHandle) {
	if s.stopFlag.Load() {
		s.framesSuppressed.Add(1)
		_ = h.Close()
		return
	}
	s.framesAnalyzed.Add(1)
	if err := s.decode(h); err != nil {
		s.reportError(err)
	}
}

// decode runs the decoder on h's frame and returns a recovered decoder
// panic as an error. The handle is released on every path before any
// caller handler runs or the panic is reported.
func (s *Scanner) decode(h *capture.FrameHandle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error("scan.decode_panic", "error", r, "stack", string(debug.Stack()))
			}
			err = fmt.Errorf("scan: decode panic: %v", r)
		}
	}()
	defer h.Close()

	f := h.Frame()
	stop := &StopHandle{s: s}
	s.decoder.DecodeFrame(s.ctx, f.Image, f.Rotation, func(payload string) {
		_ = h.Close()
		if s.stopFlag.Load() {
			return
		}
		s.detections.Add(1)
		if s.logger != nil {
			s.logger.Info("scan.detected", "sequence", f.Sequence, "length", len(payload))
		}
		s.call("OnDetected", func() { s.handlers.OnDetected(payload, stop) })
	}, func(err error) {
		_ = h.Close()
		s.reportError(err)
	})
	return nil
}

func (s *Scanner) reportError(err error) {
	if s.stopFlag.Load() {
		return
	}
	s.decodeErrors.Add(1)
	if s.handlers.OnError != nil {
		s.call("OnError", func() { s.handlers.OnError(err) })
	}
}

func (s *Scanner) flashDetected(available bool) {
	if s.logger != nil {
		s.logger.Info("scan.flash_hardware", "available", available)
	}
	if s.handlers.OnFlashHardwareDetected != nil {
		s.call("OnFlashHardwareDetected", func() { s.handlers.OnFlashHardwareDetected(available) })
	}
}

func (s *Scanner) flashChanged(on bool) {
	if s.handlers.OnFlashStateChanged != nil {
		s.call("OnFlashStateChanged", func() { s.handlers.OnFlashStateChanged(on) })
	}
}

// call runs a caller handler, logging instead of propagating a panic.
func (s *Scanner) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("scan.handler_panic", "handler", name, "error", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Stats returns counters for this scanner and its capture session.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	state, reason := s.state, s.reason
	active := s.clock.total(time.Now())
	s.mu.Unlock()
	return Stats{
		State:            state,
		StopReason:       reason,
		FramesAnalyzed:   s.framesAnalyzed.Load(),
		FramesSuppressed: s.framesSuppressed.Load(),
		Detections:       s.detections.Load(),
		Errors:           s.decodeErrors.Load(),
		ActiveFor:        active,
		Capture:          s.session.Stats(),
	}
}
