package app

import (
	"context"
	"log/slog"
	"time"
)

// HostLifecycle is the part of the scanner a host watcher drives.
type HostLifecycle interface {
	OnHostPause()
	OnHostResume()
}

// HostWatcher polls whether the camera source is visible to the user and
// translates changes into host pause/resume events. It only reacts to
// changes, so a scanner stopped by its caller is not resumed by a steady
// visible source.
type HostWatcher struct {
	host     HostLifecycle
	visible  func() (bool, error)
	interval time.Duration
	logger   *slog.Logger
	last     bool
}

// NewHostWatcher polls visible every interval (250ms when zero). The
// source is assumed visible at start.
func NewHostWatcher(host HostLifecycle, visible func() (bool, error), interval time.Duration, logger *slog.Logger) *HostWatcher {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &HostWatcher{host: host, visible: visible, interval: interval, logger: logger, last: true}
}

// Run polls until ctx is done.
func (w *HostWatcher) Run(ctx context.Context) {
	if w == nil || w.host == nil || w.visible == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-ctx.Done():
			return
		}
	}
}

func (w *HostWatcher) poll() {
	vis, err := w.visible()
	if err != nil {
		if w.logger != nil {
			w.logger.Debug("app.visibility_error", "error", err)
		}
		vis = false
	}
	if vis == w.last {
		return
	}
	w.last = vis
	if w.logger != nil {
		w.logger.Info("app.host_visibility", "visible", vis)
	}
	if vis {
		w.host.OnHostResume()
	} else {
		w.host.OnHostPause()
	}
}
