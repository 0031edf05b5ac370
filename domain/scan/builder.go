package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soocke/qrscan-go/domain/capture"
	"github.com/soocke/qrscan-go/domain/decoder"
)

// Builder assembles a Scanner. Handlers are copied at Build time, so
// changing the builder afterwards does not affect built scanners.
type Builder struct {
	handlers    Handlers
	session     CaptureSession
	gate        PermissionGate
	decoder     FrameDecoder
	permissions []string
	preview     capture.PreviewSurface
	ctx         context.Context
	logger      *slog.Logger
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) OnFlashHardwareDetected(fn func(bool)) *Builder {
	b.handlers.OnFlashHardwareDetected = fn
	return b
}

func (b *Builder) OnFlashStateChanged(fn func(bool)) *Builder {
	b.handlers.OnFlashStateChanged = fn
	return b
}

func (b *Builder) OnDetected(fn func(string, *StopHandle)) *Builder {
	b.handlers.OnDetected = fn
	return b
}

func (b *Builder) OnError(fn func(error)) *Builder {
	b.handlers.OnError = fn
	return b
}

func (b *Builder) OnPermissionsNotGranted(fn func()) *Builder {
	b.handlers.OnPermissionsNotGranted = fn
	return b
}

func (b *Builder) OnException(fn func(error)) *Builder {
	b.handlers.OnException = fn
	return b
}

// WithHandlers replaces every handler at once.
func (b *Builder) WithHandlers(h Handlers) *Builder {
	b.handlers = h
	return b
}

func (b *Builder) WithSession(s CaptureSession) *Builder {
	b.session = s
	return b
}

func (b *Builder) WithPermissionGate(g PermissionGate) *Builder {
	b.gate = g
	return b
}

// WithDecoder overrides the default ZXing-backed decoder.
func (b *Builder) WithDecoder(d FrameDecoder) *Builder {
	b.decoder = d
	return b
}

// WithPermissions overrides the permission set requested on Start. The
// default is capture.Permissions.
func (b *Builder) WithPermissions(perms ...string) *Builder {
	b.permissions = append([]string(nil), perms...)
	return b
}

func (b *Builder) WithPreview(p capture.PreviewSurface) *Builder {
	b.preview = p
	return b
}

// WithContext sets the lifecycle scope. Cancelling it stops the scanner
// for good.
func (b *Builder) WithContext(ctx context.Context) *Builder {
	b.ctx = ctx
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the configuration and returns a scanner in StateCreated.
func (b *Builder) Build() (*Scanner, error) {
	if b.session == nil {
		return nil, fmt.Errorf("%w: capture session", ErrMissingCollaborator)
	}
	if b.gate == nil {
		return nil, fmt.Errorf("%w: permission gate", ErrMissingCollaborator)
	}
	if b.handlers.OnDetected == nil {
		return nil, ErrMissingHandler
	}
	dec := b.decoder
	if dec == nil {
		dec = decoder.New(nil, decoder.Options{Logger: b.logger})
	}
	perms := b.permissions
	if perms == nil {
		perms = capture.Permissions
	}
	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return newScanner(scannerDeps{
		handlers:    b.handlers,
		session:     b.session,
		gate:        b.gate,
		decoder:     dec,
		permissions: append([]string(nil), perms...),
		preview:     b.preview,
		ctx:         ctx,
		logger:      b.logger,
	}), nil
}
