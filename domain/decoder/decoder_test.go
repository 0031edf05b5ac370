package decoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qrImage(t *testing.T, text string) image.Image {
	t.Helper()
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)
	img := image.NewGray(image.Rect(0, 0, m.GetWidth(), m.GetHeight()))
	for y := 0; y < m.GetHeight(); y++ {
		for x := 0; x < m.GetWidth(); x++ {
			c := color.Gray{Y: 255}
			if m.Get(x, y) {
				c = color.Gray{Y: 0}
			}
			img.SetGray(x, y, c)
		}
	}
	return img
}

func blank(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

type outcome struct {
	detections []string
	errs       []error
}

func (o *outcome) onDetection(p string) { o.detections = append(o.detections, p) }
func (o *outcome) onError(err error)    { o.errs = append(o.errs, err) }

type countingEngine struct {
	calls int
	out   []string
	err   error
	panic bool
}

func (e *countingEngine) Decode(context.Context, image.Image) ([]string, error) {
	e.calls++
	if e.panic {
		panic("engine exploded")
	}
	return e.out, e.err
}

func TestDecoder_DecodesQRCode(t *testing.T) {
	d := New(NewZXingEngine(true), Options{})
	var o outcome
	d.DecodeImage(context.Background(), qrImage(t, "hello gophers"), o.onDetection, o.onError)

	assert.Empty(t, o.errs)
	assert.Equal(t, []string{"hello gophers"}, o.detections)
}

func TestDecoder_DecodesRotatedFrame(t *testing.T) {
	d := New(NewZXingEngine(false), Options{})
	// sensor delivered the scene rotated a quarter turn counter-clockwise
	frame := imaging.Rotate90(qrImage(t, "sideways"))
	var o outcome
	d.DecodeFrame(context.Background(), frame, 90, o.onDetection, o.onError)

	assert.Empty(t, o.errs)
	assert.Equal(t, []string{"sideways"}, o.detections)
}

func TestDecoder_DownscalesLargeInput(t *testing.T) {
	eng := EngineFunc(func(_ context.Context, img image.Image) ([]string, error) {
		b := img.Bounds()
		assert.LessOrEqual(t, b.Dx(), 100)
		assert.LessOrEqual(t, b.Dy(), 100)
		return []string{"ok"}, nil
	})
	d := New(eng, Options{MaxDimension: 100})
	out, err := d.Decode(context.Background(), blank(400, 200), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, out)
}

func TestDecoder_BlankImageReportsNoBarcode(t *testing.T) {
	d := New(NewZXingEngine(true), Options{})
	var o outcome
	d.DecodeImage(context.Background(), blank(120, 120), o.onDetection, o.onError)

	assert.Empty(t, o.detections)
	require.Len(t, o.errs, 1)
	assert.ErrorIs(t, o.errs[0], ErrNoBarcode)
	assert.Equal(t, "no barcode detected", o.errs[0].Error())
}

func TestDecoder_InvalidInputNeverReachesEngine(t *testing.T) {
	var typedNil *image.RGBA
	cases := map[string]struct {
		img      image.Image
		rotation int
	}{
		"nil":          {img: nil},
		"typed nil":    {img: typedNil},
		"empty bounds": {img: image.NewRGBA(image.Rectangle{})},
		"bad rotation": {img: blank(10, 10), rotation: 45},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			eng := &countingEngine{out: []string{"x"}}
			var o outcome
			New(eng, Options{}).DecodeFrame(context.Background(), tc.img, tc.rotation, o.onDetection, o.onError)

			assert.Zero(t, eng.calls)
			assert.Empty(t, o.detections)
			require.Len(t, o.errs, 1)
			assert.ErrorIs(t, o.errs[0], ErrInvalidImage)
		})
	}
}

func TestDecoder_EngineFailureReportedOnce(t *testing.T) {
	cause := errors.New("model not loaded")
	eng := &countingEngine{err: cause}
	var o outcome
	New(eng, Options{}).DecodeImage(context.Background(), blank(10, 10), o.onDetection, o.onError)

	require.Len(t, o.errs, 1)
	assert.ErrorIs(t, o.errs[0], ErrEngine)
	assert.ErrorIs(t, o.errs[0], cause)
	assert.Empty(t, o.detections)
}

func TestDecoder_EnginePanicRecovered(t *testing.T) {
	eng := &countingEngine{panic: true}
	var o outcome
	assert.NotPanics(t, func() {
		New(eng, Options{}).DecodeImage(context.Background(), blank(10, 10), o.onDetection, o.onError)
	})
	require.Len(t, o.errs, 1)
	assert.ErrorIs(t, o.errs[0], ErrEngine)
}

func TestDecoder_SkipsEmptyPayloads(t *testing.T) {
	var o outcome
	New(&countingEngine{out: []string{"", "a", "", "b"}}, Options{}).
		DecodeImage(context.Background(), blank(10, 10), o.onDetection, o.onError)
	assert.Equal(t, []string{"a", "b"}, o.detections)
	assert.Empty(t, o.errs)

	o = outcome{}
	New(&countingEngine{out: []string{""}}, Options{}).
		DecodeImage(context.Background(), blank(10, 10), o.onDetection, o.onError)
	assert.Empty(t, o.detections)
	require.Len(t, o.errs, 1)
	assert.ErrorIs(t, o.errs[0], ErrNoBarcode)
}

func TestUpright(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, red)
	src.SetNRGBA(1, 0, blue)

	out, err := Upright(src, 90)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1, 2), out.Bounds())
	assert.Equal(t, red, color.NRGBAModel.Convert(out.At(0, 0)))
	assert.Equal(t, blue, color.NRGBAModel.Convert(out.At(0, 1)))

	out, err = Upright(src, -270)
	require.NoError(t, err)
	assert.Equal(t, red, color.NRGBAModel.Convert(out.At(0, 0)))

	out, err = Upright(src, 360)
	require.NoError(t, err)
	assert.Same(t, src, out.(*image.NRGBA))

	_, err = Upright(src, 30)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestFit(t *testing.T) {
	assert.Equal(t, image.Rect(0, 0, 100, 50), Fit(blank(400, 200), 100).Bounds())
	small := blank(50, 50)
	assert.Same(t, small, Fit(small, 100))
	assert.Same(t, small, Fit(small, 0))
}

func TestReadImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank(8, 4)))
	img, err := ReadImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())

	_, err = ReadImage(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, w int) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, blank(w, 1)))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
	}
	write("b.png", 2)
	write("a.PNG", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	imgs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, 1, imgs[0].Bounds().Dx())
	assert.Equal(t, 2, imgs[1].Bounds().Dx())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.png"), []byte("broken"), 0o644))
	_, err = LoadDir(dir)
	assert.ErrorIs(t, err, ErrInvalidImage)
}
