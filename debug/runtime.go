// Package debug logs process runtime figures while the debug flag is set.
// It exists to correlate frame-buffer churn with heap and RSS growth.
package debug

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/metrics"
	"time"

	"github.com/dustin/go-humanize"
)

// Snapshot is one sample of process runtime figures.
type Snapshot struct {
	Goroutines uint64
	HeapAlloc  uint64
	HeapInuse  uint64
	StackInuse uint64
	NumGC      uint32
	// RSS is the resident set size where the platform reports it, 0 otherwise.
	RSS uint64
}

// Sample reads the current figures. RSS failures leave RSS at 0 and are
// returned alongside the otherwise valid snapshot.
func Sample() (Snapshot, error) {
	samples := []metrics.Sample{{Name: "/sched/goroutines:goroutines"}}
	metrics.Read(samples)
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Snapshot{
		Goroutines: samples[0].Value.Uint64(),
		HeapAlloc:  ms.HeapAlloc,
		HeapInuse:  ms.HeapInuse,
		StackInuse: ms.StackInuse,
		NumGC:      ms.NumGC,
	}
	rss, err := residentBytes()
	s.RSS = rss
	return s, err
}

// StartRuntimeLogger logs a Snapshot every interval until ctx is done.
func StartRuntimeLogger(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		var rssErrLogged bool
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			s, err := Sample()
			if err != nil && !rssErrLogged {
				logger.Warn("debug.rss_unavailable", "error", err)
				rssErrLogged = true
			}
			logger.Info("debug.runtime",
				slog.Uint64("goroutines", s.Goroutines),
				slog.String("heap_alloc", humanize.IBytes(s.HeapAlloc)),
				slog.String("heap_inuse", humanize.IBytes(s.HeapInuse)),
				slog.String("stack_inuse", humanize.IBytes(s.StackInuse)),
				slog.String("rss", humanize.IBytes(s.RSS)),
				slog.Uint64("num_gc", uint64(s.NumGC)),
			)
		}
	}()
}
