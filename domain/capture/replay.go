package capture

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
)

// ReplayOptions configures a ReplayProvider.
type ReplayOptions struct {
	FPS float64
	// Loop restarts from the first image after the last one.
	Loop bool
	// Torch emulates a controllable light source.
	Torch bool
	// Rotation is attached to every frame as its rotation hint.
	Rotation int
}

// ReplayProvider replays a fixed list of still images as a camera feed. It
// stands in for a real camera on rigs and in tests; the emulated torch keeps
// its state across rebinds like a physical one.
type ReplayProvider struct {
	images []image.Image
	opts   ReplayOptions
	logger *slog.Logger
	torch  *torch

	mu    sync.Mutex
	bound []*replayCamera
}

// NewReplayProvider returns a provider streaming images in order.
func NewReplayProvider(images []image.Image, opts ReplayOptions, logger *slog.Logger) *ReplayProvider {
	return &ReplayProvider{
		images: append([]image.Image(nil), images...),
		opts:   opts,
		logger: logger,
		torch:  &torch{present: opts.Torch},
	}
}

func (p *ReplayProvider) Bind(ctx context.Context, facing LensFacing, preview PreviewSurface) (Camera, error) {
	if len(p.images) == 0 {
		return nil, errors.New("replay: no images to stream")
	}
	idx := 0
	cam := &replayCamera{torch: p.torch}
	cam.pacedCamera = newPacedCamera("replay", p.opts.FPS, func() (*Frame, bool, error) {
		if idx >= len(p.images) {
			if !p.opts.Loop {
				return nil, false, nil
			}
			idx = 0
		}
		img := p.images[idx]
		idx++
		return NewFrame(img, p.opts.Rotation, nil), true, nil
	}, preview, p.logger)

	p.mu.Lock()
	p.bound = append(p.bound, cam)
	p.mu.Unlock()
	return cam, nil
}

func (p *ReplayProvider) UnbindAll() {
	p.mu.Lock()
	bound := p.bound
	p.bound = nil
	p.mu.Unlock()
	for _, c := range bound {
		_ = c.Close()
	}
}

type replayCamera struct {
	*pacedCamera
	*torch
}
