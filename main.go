package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/soocke/qrscan-go/app"
	"github.com/soocke/qrscan-go/config"
)

const usage = `usage: qrscan [flags] <command> [args]

commands:
  analyze <file|dir>...  decode still images
  live                   scan the configured camera source
  serve                  run the HTTP analysis server

flags:
`

func main() {
	_, _ = maxprocs.Set()

	var (
		configPath = flag.String("config", "qrscan.yaml", "config file (json, yaml or toml)")
		debug      = flag.Bool("debug", false, "debug logging and runtime stats")
		source     = flag.String("source", "", "camera source: screen or replay")
		replayDir  = flag.String("replay-dir", "", "directory of frames for the replay source")
		fps        = flag.Float64("fps", 0, "capture rate")
		format     = flag.String("format", "", "output format: text, json or yaml")
		continuous = flag.Bool("continuous", false, "keep scanning after the first result")
		torch      = flag.Bool("torch", false, "turn the torch on when available")
		listen     = flag.String("listen", "", "listen address for serve")
		previewOut = flag.String("preview", "", "write preview snapshots to this PNG path")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Debug = *debug
		case "source":
			cfg.Source = *source
		case "replay-dir":
			cfg.ReplayDir = *replayDir
		case "fps":
			cfg.FPS = *fps
		case "format":
			cfg.OutputFormat = *format
		case "listen":
			cfg.ListenAddr = *listen
		case "preview":
			cfg.PreviewPath = *previewOut
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := NewLogger(os.Stderr, cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, cfg, logger, app.Options{
		Mode:       flag.Arg(0),
		Args:       flag.Args()[1:],
		Continuous: *continuous,
		Torch:      *torch,
		Out:        os.Stdout,
	})
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNothingFound):
		stop()
		os.Exit(1)
	default:
		logger.Error("app.failed", "error", err)
		stop()
		os.Exit(1)
	}
}
