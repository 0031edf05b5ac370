// Package preview provides a preview surface that keeps a downscaled copy
// of the live feed and mirrors it to a PNG file for headless hosts.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxWidth  = 400
	DefaultMaxHeight = 225
)

// Snapshot is a capture.PreviewSurface. Frames are sampled at most
// perSecond times a second; each sample is copied, so the caller may
// recycle its buffer as soon as Present returns.
type Snapshot struct {
	path    string
	maxW    int
	maxH    int
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	latest *image.NRGBA
	writes atomic.Uint64
}

// NewSnapshot writes samples to path; an empty path keeps them in memory
// only. Non-positive sizes fall back to the defaults.
func NewSnapshot(path string, maxW, maxH int, perSecond float64, logger *slog.Logger) *Snapshot {
	if maxW <= 0 {
		maxW = DefaultMaxWidth
	}
	if maxH <= 0 {
		maxH = DefaultMaxHeight
	}
	if perSecond <= 0 {
		perSecond = 2
	}
	return &Snapshot{
		path:    path,
		maxW:    maxW,
		maxH:    maxH,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger,
	}
}

func (s *Snapshot) Present(img image.Image) {
	if img == nil || img.Bounds().Empty() || !s.limiter.Allow() {
		return
	}
	scaled := scaleToFit(img, s.maxW, s.maxH)
	s.mu.Lock()
	s.latest = scaled
	s.mu.Unlock()
	if s.path == "" {
		return
	}
	if err := writePNG(s.path, scaled); err != nil {
		if s.logger != nil {
			s.logger.Warn("preview.write", "path", s.path, "error", err)
		}
		return
	}
	s.writes.Add(1)
}

// Latest returns the most recent sample, or nil before the first frame.
func (s *Snapshot) Latest() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	return s.latest
}

// PNG encodes the latest sample. Nil before the first frame.
func (s *Snapshot) PNG() []byte {
	img := s.Latest()
	if img == nil {
		return nil
	}
	return encodePNG(img)
}

// Writes counts successful file writes.
func (s *Snapshot) Writes() uint64 { return s.writes.Load() }

// scaleToFit returns a private copy of src no larger than maxW x maxH,
// preserving aspect ratio.
func scaleToFit(src image.Image, maxW, maxH int) *image.NRGBA {
	b := src.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return imaging.Clone(src)
	}
	return imaging.Fit(src, maxW, maxH, imaging.Box)
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

// writePNG replaces path atomically so readers never see a partial file.
func writePNG(path string, img image.Image) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".preview-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
