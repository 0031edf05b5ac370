package scan

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/soocke/qrscan-go/domain/decoder"
)

var defaultDecoder = sync.OnceValue(func() FrameDecoder {
	return decoder.New(decoder.NewZXingEngine(true), decoder.Options{})
})

// AnalyzeStatic decodes a still image with the default decoder. It needs no
// scanner, permission or camera. Failures, including panics, are reported
// through onError and never propagate.
func AnalyzeStatic(ctx context.Context, img image.Image, onDetection func(string), onError func(error)) {
	AnalyzeStaticWith(ctx, defaultDecoder(), img, onDetection, onError)
}

// AnalyzeStaticWith is AnalyzeStatic with an explicit decoder.
func AnalyzeStaticWith(ctx context.Context, d FrameDecoder, img image.Image, onDetection func(string), onError func(error)) {
	out := &outcome{onDetection: onDetection, onError: onError}
	defer func() {
		if r := recover(); r != nil {
			out.fail(fmt.Errorf("scan: analysis panic: %v", r))
		}
	}()
	if d == nil {
		out.fail(fmt.Errorf("%w: decoder", ErrMissingCollaborator))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.DecodeFrame(ctx, img, 0, out.detect, out.fail)
}

// AnalyzeFile loads the image at path and analyzes it.
func AnalyzeFile(ctx context.Context, path string, onDetection func(string), onError func(error)) {
	img, err := decoder.LoadImage(path)
	if err != nil {
		(&outcome{onError: onError}).fail(err)
		return
	}
	AnalyzeStatic(ctx, img, onDetection, onError)
}

// outcome delivers static results to caller handlers. A panicking handler
// is contained where it runs, so it never turns a detection into an error,
// and the error handler runs at most once.
type outcome struct {
	onDetection func(string)
	onError     func(error)
	reported    bool
}

func (o *outcome) detect(payload string) {
	if o.onDetection == nil {
		return
	}
	defer func() { _ = recover() }()
	o.onDetection(payload)
}

func (o *outcome) fail(err error) {
	if o.onError == nil || o.reported {
		return
	}
	o.reported = true
	defer func() { _ = recover() }()
	o.onError(err)
}
