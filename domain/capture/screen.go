package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/vova616/screenshot"
)

// grabFunc captures the given screen rectangle (full screen when empty).
type grabFunc func(image.Rectangle) (*image.RGBA, error)

func grabScreen(r image.Rectangle) (*image.RGBA, error) {
	if r.Empty() {
		return screenshot.CaptureScreen()
	}
	return screenshot.CaptureRect(r)
}

// ScreenProvider treats the desktop (or a selected rectangle of it) as the
// camera. Useful for scanning codes shown on screen and for hosts without a
// camera. It has no light source.
type ScreenProvider struct {
	fps       float64
	selection func() *image.Rectangle
	logger    *slog.Logger
	grab      grabFunc
	bounds    func() (image.Rectangle, error)

	mu    sync.Mutex
	bound []*screenCamera
}

// NewScreenProvider captures at fps frames per second. selection may return
// nil for full-screen capture.
func NewScreenProvider(fps float64, selection func() *image.Rectangle, logger *slog.Logger) *ScreenProvider {
	return &ScreenProvider{
		fps:       fps,
		selection: selection,
		logger:    logger,
		grab:      grabScreen,
		bounds:    screenshot.ScreenRect,
	}
}

func (p *ScreenProvider) Bind(ctx context.Context, facing LensFacing, preview PreviewSurface) (Camera, error) {
	screen, err := p.bounds()
	if err != nil {
		return nil, fmt.Errorf("screen unavailable: %w", err)
	}
	region := image.Rectangle{}
	if p.selection != nil {
		if r := p.selection(); r != nil && !r.Empty() {
			region = r.Intersect(screen)
			if region.Empty() {
				return nil, fmt.Errorf("selection %v outside screen %v", *r, screen)
			}
		}
	}
	cam := &screenCamera{}
	grab := p.grab
	cam.pacedCamera = newPacedCamera("screen", p.fps, func() (*Frame, bool, error) {
		img, err := grab(region)
		if err != nil {
			return nil, true, err
		}
		if img == nil {
			return nil, true, fmt.Errorf("empty capture")
		}
		pooled := copyToPooled(img)
		return NewFrame(pooled, 0, func() { recycleFrame(pooled) }), true, nil
	}, preview, p.logger)

	p.mu.Lock()
	p.bound = append(p.bound, cam)
	p.mu.Unlock()
	if p.logger != nil {
		p.logger.Debug("capture.screen_bound", "screen", screen.String(), "region", region.String())
	}
	return cam, nil
}

// UnbindAll closes every camera this provider has bound.
func (p *ScreenProvider) UnbindAll() {
	p.mu.Lock()
	bound := p.bound
	p.bound = nil
	p.mu.Unlock()
	for _, c := range bound {
		_ = c.Close()
	}
}

type screenCamera struct {
	*pacedCamera
	torch
}

// ScreenAvailable reports whether a display can currently be captured.
func ScreenAvailable() (bool, error) {
	r, err := screenshot.ScreenRect()
	if err != nil {
		return false, err
	}
	return !r.Empty(), nil
}
