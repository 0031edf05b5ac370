package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/soocke/qrscan-go/domain/capture"
	"github.com/soocke/qrscan-go/domain/scan"
)

// ErrPermissionDenied is returned by RunLive when the host refuses access.
var ErrPermissionDenied = errors.New("camera permission not granted")

// LiveOptions controls RunLive.
type LiveOptions struct {
	// Continuous keeps scanning after the first payload.
	Continuous bool
	// Torch turns the light source on once the camera is bound.
	Torch bool
}

// RunLive scans the configured camera source until the first payload (or,
// with Continuous, until ctx is done). Cancelling ctx pauses the scanner
// like a host going to background and returns nil.
func RunLive(ctx context.Context, c *Container, out *Printer, opts LiveOptions) error {
	if c.Session == nil {
		return errors.New("live mode requires a camera pipeline")
	}
	logger := c.Logger
	done := make(chan error, 1)
	var once sync.Once
	finish := func(err error) { once.Do(func() { done <- err }) }

	var scanner *scan.Scanner
	b := scan.NewBuilder().
		WithSession(c.Session).
		WithPermissionGate(c.Gate).
		WithDecoder(c.Decoder).
		WithPermissions(c.Config.Permissions...).
		WithContext(ctx).
		WithLogger(logger).
		OnDetected(func(payload string, stop *scan.StopHandle) {
			if err := out.Print(Record{Source: c.Config.Source, Payload: payload}); err != nil {
				finish(fmt.Errorf("print: %w", err))
				stop.Stop()
				return
			}
			if !opts.Continuous {
				stop.Stop()
				finish(nil)
			}
		}).
		OnError(func(err error) {
			if logger != nil {
				logger.Debug("app.frame_error", "error", err)
			}
		}).
		OnPermissionsNotGranted(func() { finish(ErrPermissionDenied) }).
		OnException(func(err error) { finish(fmt.Errorf("camera failure: %w", err)) }).
		OnFlashHardwareDetected(func(available bool) {
			if available && opts.Torch && scanner != nil {
				scanner.SetFlash(true)
			}
		}).
		OnFlashStateChanged(func(on bool) {
			if logger != nil {
				logger.Info("app.torch", "on", on)
			}
		})
	if c.Preview != nil {
		b = b.WithPreview(c.Preview)
	}
	var err error
	scanner, err = b.Build()
	if err != nil {
		return err
	}
	if c.Host != nil {
		c.Host.SetDeliver(scanner.OnPermissionResult)
	}
	if logger != nil {
		logger.Info("app.live_start", "source", c.Config.Source, "scanner", scanner.ID(), "continuous", opts.Continuous)
	}
	if err := scanner.Start(); err != nil {
		return err
	}
	if c.Visible != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go NewHostWatcher(scanner, c.Visible, 0, logger).Run(watchCtx)
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		scanner.OnHostPause()
	}
	if logger != nil {
		st := scanner.Stats()
		logger.Info("app.live_end",
			"state", st.State.String(),
			"frames", st.FramesAnalyzed,
			"detections", st.Detections,
			"dropped", st.Capture.Dropped,
			"active", st.ActiveFor,
		)
	}
	return err
}

// compile-time check that the capture session satisfies the scanner's needs.
var _ scan.CaptureSession = (*capture.Session)(nil)
