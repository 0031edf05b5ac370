package scan

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/soocke/qrscan-go/domain/capture"
)

// State enumerates the scan session lifecycle.
type State int

const (
	StateCreated State = iota
	StateAwaitingPermission
	StateActive
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingPermission:
		return "awaiting_permission"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason records why a session entered StateStopped.
type StopReason int

const (
	StopNone StopReason = iota
	// StopCaller: the detection handler used its StopHandle. A host resume
	// restarts scanning.
	StopCaller
	// StopPermissionDenied is terminal.
	StopPermissionDenied
	// StopFatal: the capture pipeline failed. Terminal.
	StopFatal
	// StopClosed: the lifecycle context ended. Terminal.
	StopClosed
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopCaller:
		return "caller"
	case StopPermissionDenied:
		return "permission_denied"
	case StopFatal:
		return "fatal"
	case StopClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyStarted      = errors.New("scan: session already started")
	ErrMissingCollaborator = errors.New("scan: missing collaborator")
	ErrMissingHandler      = errors.New("scan: detection handler required")
)

// Handlers are the caller's callbacks. Every field except OnDetected is
// optional. Handlers run on the goroutine that produced the event: frame
// results on the analysis worker, lifecycle results on the caller of the
// lifecycle method.
type Handlers struct {
	OnFlashHardwareDetected func(available bool)
	OnFlashStateChanged     func(on bool)
	// OnDetected receives every decoded payload. Calling stop.Stop() ends
	// scanning before the handler returns.
	OnDetected              func(payload string, stop *StopHandle)
	OnError                 func(err error)
	OnPermissionsNotGranted func()
	OnException             func(err error)
}

// StateListener is called after each state transition.
type StateListener func(prev, next State)

// CaptureSession is the camera pipeline the scanner drives.
type CaptureSession interface {
	Configure(onFlashHardwareDetected, onFlashStateChanged func(bool), onFrame func(*capture.FrameHandle))
	Resume(ctx context.Context, preview capture.PreviewSurface, onFatal func(error))
	Pause()
	SetTorch(on bool)
	ToggleTorch()
	Stats() capture.Stats
}

// PermissionGate checks and requests host permissions.
type PermissionGate interface {
	EnsureGranted(permissions []string, onGranted, onDenied func()) string
	HandleResult(requestID string) bool
}

// FrameDecoder turns one image into payloads.
type FrameDecoder interface {
	DecodeFrame(ctx context.Context, img image.Image, rotation int, onDetection func(string), onError func(error))
}

// Stats is a point-in-time view of a scanner.
type Stats struct {
	State            State
	StopReason       StopReason
	FramesAnalyzed   uint64
	FramesSuppressed uint64
	Detections       uint64
	Errors           uint64
	ActiveFor        time.Duration
	Capture          capture.Stats
}
