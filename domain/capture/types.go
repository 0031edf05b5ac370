package capture

import (
	"context"
	"image"
	"sync"
	"time"
)

// PermissionCamera is the capability a capture session needs before binding.
const PermissionCamera = "camera"

// Permissions lists every permission the capture pipeline requires.
var Permissions = []string{PermissionCamera}

// LensFacing selects which camera a provider binds.
type LensFacing int

const (
	LensFacingBack LensFacing = iota
	LensFacingFront
)

func (l LensFacing) String() string {
	switch l {
	case LensFacingBack:
		return "back"
	case LensFacingFront:
		return "front"
	default:
		return "unknown"
	}
}

// Frame is one captured image plus metadata. Rotation is the clockwise
// rotation in degrees that brings the image upright.
type Frame struct {
	Image      image.Image
	Rotation   int
	CapturedAt time.Time
	Sequence   uint64

	// release returns the frame buffer to its producer. Optional.
	release func()
}

// NewFrame builds a frame whose release hook runs once the consumer is done.
func NewFrame(img image.Image, rotation int, release func()) *Frame {
	return &Frame{Image: img, Rotation: rotation, CapturedAt: time.Now(), release: release}
}

// FrameHandle wraps one frame handed to the analyzer. The handle must be
// closed exactly once; further Close calls are no-ops. The analysis worker
// does not dispatch the next frame until the current handle is closed.
type FrameHandle struct {
	frame    *Frame
	once     sync.Once
	released chan struct{}
}

// NewFrameHandle wraps f. Providers that run their own analysis loop use
// it; the session tap creates handles itself.
func NewFrameHandle(f *Frame) *FrameHandle {
	return &FrameHandle{frame: f, released: make(chan struct{})}
}

// Frame returns the wrapped frame. It must not be used after Close.
func (h *FrameHandle) Frame() *Frame { return h.frame }

// Close releases the underlying buffer.
func (h *FrameHandle) Close() error {
	h.once.Do(func() {
		if h.frame != nil && h.frame.release != nil {
			h.frame.release()
		}
		close(h.released)
	})
	return nil
}

// Released is closed once the handle has been released.
func (h *FrameHandle) Released() <-chan struct{} { return h.released }

// PreviewSurface receives frames for on-screen (or on-disk) preview.
type PreviewSurface interface {
	Present(img image.Image)
}

// Camera is a bound camera device.
type Camera interface {
	HasFlash() bool
	TorchOn() bool
	EnableTorch(on bool) error
	// ObserveTorch reports every torch transition until cancel is called.
	ObserveTorch(fn func(on bool)) (cancel func())
	// Start streams frames into sink until ctx is done or Close is called.
	// Start must not block.
	Start(ctx context.Context, sink func(*Frame)) error
	Close() error
}

// Provider is the camera pipeline: it binds cameras to a lifecycle scope.
type Provider interface {
	Bind(ctx context.Context, facing LensFacing, preview PreviewSurface) (Camera, error)
	UnbindAll()
}

// Stats summarises analysis tap behaviour for instrumentation.
type Stats struct {
	Delivered      uint64
	Dropped        uint64
	Analyzed       uint64
	AvgAnalysis    time.Duration
	LastFrame      time.Time
	LatestFrameAge time.Duration
	Sequence       uint64
	FlashDetected  bool
	TorchOn        bool
	Running        bool
}
