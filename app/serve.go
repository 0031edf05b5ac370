package app

import (
	"context"

	"github.com/soocke/qrscan-go/server"
)

// RunServe serves the HTTP analysis endpoint until ctx is done.
func RunServe(ctx context.Context, c *Container) error {
	srv, err := server.New(c.Decoder, server.Options{
		CacheSize: c.Config.CacheSize,
		Logger:    c.Logger,
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, c.Config.ListenAddr)
}
