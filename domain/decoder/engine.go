package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Engine is the external vision capability: submit an upright image, get
// back every decoded text payload. Zero payloads with a nil error means
// nothing was found.
type Engine interface {
	Decode(ctx context.Context, img image.Image) ([]string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img image.Image) ([]string, error)

func (f EngineFunc) Decode(ctx context.Context, img image.Image) ([]string, error) {
	return f(ctx, img)
}

// ZXingEngine decodes QR codes with the gozxing readers. It first looks for
// every code in the image and falls back to the single-code reader, which
// handles a few damaged symbols the multi reader gives up on.
type ZXingEngine struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewZXingEngine returns an engine. tryHarder trades speed for accuracy.
func NewZXingEngine(tryHarder bool) *ZXingEngine {
	hints := map[gozxing.DecodeHintType]interface{}{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &ZXingEngine{hints: hints}
}

func (e *ZXingEngine) Decode(ctx context.Context, img image.Image) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize: %w", err)
	}

	// readers are not safe for concurrent use; build per call
	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, e.hints)
	if err != nil && !notFound(err) {
		return nil, err
	}
	if len(results) == 0 {
		r, err := qrcode.NewQRCodeReader().Decode(bmp, e.hints)
		if err != nil {
			if notFound(err) {
				return nil, nil
			}
			return nil, err
		}
		results = []*gozxing.Result{r}
	}

	out := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		text := r.GetText()
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out, nil
}

// notFound reports whether err is the reader saying "nothing decodable here"
// (no finder pattern, unreadable format info or a failed checksum).
func notFound(err error) bool {
	var re gozxing.ReaderException
	return errors.As(err, &re)
}
