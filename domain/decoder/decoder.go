package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"reflect"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidImage is reported for nil, empty or unreadable input. The
	// engine is never contacted.
	ErrInvalidImage = errors.New("invalid image")
	// ErrNoBarcode is reported when the engine found nothing.
	ErrNoBarcode = errors.New("no barcode detected")
	// ErrEngine wraps failures raised by the engine itself.
	ErrEngine = errors.New("decoder engine failure")
)

const tracerName = "github.com/soocke/qrscan-go/domain/decoder"

// Options tunes a Decoder. The zero value is usable.
type Options struct {
	// MaxDimension downscales larger inputs before decoding. 0 disables.
	MaxDimension int
	Logger       *slog.Logger
	Tracer       trace.Tracer
}

// Decoder adapts an Engine to the callback contract used by scan sessions:
// onDetection once per non-empty payload, or onError exactly once.
type Decoder struct {
	engine Engine
	maxDim int
	logger *slog.Logger
	tracer trace.Tracer
}

// New wraps engine. A nil engine selects the ZXing engine.
func New(engine Engine, opts Options) *Decoder {
	if engine == nil {
		engine = NewZXingEngine(false)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	maxDim := opts.MaxDimension
	if maxDim < 0 {
		maxDim = 0
	}
	return &Decoder{engine: engine, maxDim: maxDim, logger: opts.Logger, tracer: tracer}
}

// Decode rotates img upright, submits it and returns the non-empty payloads
// in engine order. Zero payloads yields ErrNoBarcode.
func (d *Decoder) Decode(ctx context.Context, img image.Image, rotation int) (payloads []string, err error) {
	ctx, span := d.tracer.Start(ctx, "decoder.decode",
		trace.WithAttributes(attribute.Int("rotation", rotation)))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			if !errors.Is(err, ErrNoBarcode) {
				span.SetStatus(codes.Error, err.Error())
			}
		}
	}()

	if isNil(img) {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrInvalidImage, b)
	}
	span.SetAttributes(attribute.Int("width", b.Dx()), attribute.Int("height", b.Dy()))

	upright, err := Upright(img, rotation)
	if err != nil {
		return nil, err
	}
	upright = Fit(upright, d.maxDim)

	start := time.Now()
	raw, err := d.callEngine(ctx, upright)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("decoder.engine", "error", err)
		}
		return nil, err
	}
	for _, p := range raw {
		if p != "" {
			payloads = append(payloads, p)
		}
	}
	span.SetAttributes(attribute.Int("payloads", len(payloads)))
	if d.logger != nil {
		d.logger.Debug("decoder.decoded", "payloads", len(payloads), "elapsed", time.Since(start))
	}
	if len(payloads) == 0 {
		return nil, ErrNoBarcode
	}
	return payloads, nil
}

func (d *Decoder) callEngine(ctx context.Context, img image.Image) (out []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Error("decoder.engine_panic", "error", r, "stack", string(debug.Stack()))
			}
			out, err = nil, fmt.Errorf("%w: panic: %v", ErrEngine, r)
		}
	}()
	out, err = d.engine.Decode(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return out, nil
}

// DecodeImage decodes a still image. See DecodeFrame.
func (d *Decoder) DecodeImage(ctx context.Context, img image.Image, onDetection func(string), onError func(error)) {
	d.DecodeFrame(ctx, img, 0, onDetection, onError)
}

// DecodeFrame decodes a captured frame with its rotation hint. onDetection
// runs once per payload; onError runs exactly once when decoding fails or
// finds nothing. Either callback may be nil.
func (d *Decoder) DecodeFrame(ctx context.Context, img image.Image, rotation int, onDetection func(string), onError func(error)) {
	payloads, err := d.Decode(ctx, img, rotation)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onDetection == nil {
		return
	}
	for _, p := range payloads {
		onDetection(p)
	}
}

// isNil catches typed nil pointers wrapped in the image.Image interface.
func isNil(img image.Image) bool {
	if img == nil {
		return true
	}
	v := reflect.ValueOf(img)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return v.IsNil()
	}
	return false
}
