package app

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/soocke/qrscan-go/config"
	"github.com/soocke/qrscan-go/domain/capture"
	"github.com/soocke/qrscan-go/domain/decoder"
	"github.com/soocke/qrscan-go/domain/permission"
	"github.com/soocke/qrscan-go/preview"
)

// Container assembles the services a run mode needs.
type Container struct {
	Config   *config.Config
	Logger   *slog.Logger
	Decoder  *decoder.Decoder
	Provider capture.Provider
	Host     *permission.DeviceHost
	Gate     *permission.Gate
	Session  *capture.Session
	Preview  *preview.Snapshot // nil unless a preview path is configured
	// Visible reports whether the camera source can be seen; nil when the
	// source has no notion of visibility.
	Visible func() (bool, error)
}

// BuildContainer constructs the decoder and, when live is set, the camera
// pipeline. Replay sources load their images here.
func BuildContainer(cfg *config.Config, logger *slog.Logger, live bool) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	c.Decoder = decoder.New(decoder.NewZXingEngine(cfg.TryHarder), decoder.Options{
		MaxDimension: cfg.MaxDimension,
		Logger:       logger,
	})
	if !live {
		return c, nil
	}

	switch cfg.Source {
	case config.SourceReplay:
		imgs, err := decoder.LoadDir(cfg.ReplayDir)
		if err != nil {
			return nil, fmt.Errorf("load replay images: %w", err)
		}
		if len(imgs) == 0 {
			return nil, fmt.Errorf("no images in %s", cfg.ReplayDir)
		}
		c.Provider = capture.NewReplayProvider(imgs, capture.ReplayOptions{
			FPS:   cfg.FPS,
			Loop:  cfg.ReplayLoop,
			Torch: cfg.ReplayTorch,
		}, logger)
	default:
		c.Provider = capture.NewScreenProvider(cfg.FPS, selection(cfg), logger)
		c.Visible = capture.ScreenAvailable
	}
	c.Host = permission.NewDeviceHost(cfg.PermissionPaths, logger)
	c.Gate = permission.NewGate(c.Host, logger)
	c.Session = capture.NewSession(c.Provider, logger)
	if cfg.PreviewPath != "" {
		c.Preview = preview.NewSnapshot(cfg.PreviewPath, 0, 0, 2, logger)
	}
	return c, nil
}

// selection returns the configured capture rectangle provider.
func selection(cfg *config.Config) func() *image.Rectangle {
	if !cfg.HasSelection() {
		return nil
	}
	r := image.Rect(cfg.SelectionX, cfg.SelectionY, cfg.SelectionX+cfg.SelectionW, cfg.SelectionY+cfg.SelectionH)
	return func() *image.Rectangle { return &r }
}
