package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/soocke/qrscan-go/config"
	"github.com/soocke/qrscan-go/debug"
)

// Run modes.
const (
	ModeAnalyze = "analyze"
	ModeLive    = "live"
	ModeServe   = "serve"
)

// ErrNothingFound is returned by analyze mode when no image held a code.
var ErrNothingFound = errors.New("no barcode found in any input")

// Options are the per-invocation settings that are not part of Config.
type Options struct {
	Mode       string
	Args       []string
	Continuous bool
	Torch      bool
	Out        io.Writer
}

// Run builds the container for opts.Mode and runs it until it finishes or
// ctx is done.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) error {
	if cfg.Debug {
		debug.StartRuntimeLogger(ctx, 2*time.Second, logger)
	}
	c, err := BuildContainer(cfg, logger, opts.Mode == ModeLive)
	if err != nil {
		return err
	}
	out := NewPrinter(opts.Out, cfg.OutputFormat)

	switch opts.Mode {
	case ModeAnalyze:
		if len(opts.Args) == 0 {
			return errors.New("analyze: no input files")
		}
		found, err := RunAnalyze(ctx, c, opts.Args, out)
		if err != nil {
			return err
		}
		if found == 0 {
			return ErrNothingFound
		}
		return nil
	case ModeLive:
		return RunLive(ctx, c, out, LiveOptions{
			Continuous: opts.Continuous || !cfg.StopOnFirst,
			Torch:      opts.Torch,
		})
	case ModeServe:
		return RunServe(ctx, c)
	default:
		return fmt.Errorf("unknown mode %q", opts.Mode)
	}
}
