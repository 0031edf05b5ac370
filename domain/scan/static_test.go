package scan

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soocke/qrscan-go/domain/capture"
	"github.com/soocke/qrscan-go/domain/decoder"
	"github.com/soocke/qrscan-go/domain/permission"
)

func qrImage(t *testing.T, text string) image.Image {
	t.Helper()
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
	require.NoError(t, err)
	img := image.NewGray(image.Rect(0, 0, m.GetWidth(), m.GetHeight()))
	for y := 0; y < m.GetHeight(); y++ {
		for x := 0; x < m.GetWidth(); x++ {
			if !m.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func blankImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestAnalyzeStatic_NoBarcode(t *testing.T) {
	var detections []string
	var errs []error
	AnalyzeStatic(context.Background(), blankImage(),
		func(p string) { detections = append(detections, p) },
		func(err error) { errs = append(errs, err) })

	assert.Empty(t, detections)
	require.Len(t, errs, 1)
	assert.Equal(t, "no barcode detected", errs[0].Error())
}

func TestAnalyzeStatic_DecodesQRCode(t *testing.T) {
	var detections []string
	AnalyzeStatic(context.Background(), qrImage(t, "https://example.com/ticket/42"),
		func(p string) { detections = append(detections, p) },
		func(err error) { t.Errorf("unexpected error: %v", err) })
	assert.Equal(t, []string{"https://example.com/ticket/42"}, detections)
}

func TestAnalyzeStatic_NilImage(t *testing.T) {
	var errs []error
	AnalyzeStatic(context.Background(), nil, nil, func(err error) { errs = append(errs, err) })
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], decoder.ErrInvalidImage)
}

func TestAnalyzeStaticWith_NeverPanics(t *testing.T) {
	img := frame()
	img.panic = true
	var errs []error
	assert.NotPanics(t, func() {
		AnalyzeStaticWith(context.Background(), &scriptedDecoder{}, img, nil, func(err error) { errs = append(errs, err) })
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "decoder bug")

	errs = nil
	AnalyzeStaticWith(context.Background(), nil, img, nil, func(err error) { errs = append(errs, err) })
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrMissingCollaborator)

	// a panicking error handler is not called twice
	calls := 0
	assert.NotPanics(t, func() {
		AnalyzeStaticWith(context.Background(), &scriptedDecoder{}, failing(assert.AnError), nil, func(error) {
			calls++
			panic("handler bug")
		})
	})
	assert.Equal(t, 1, calls)
}

func TestAnalyzeStaticWith_DetectionPanicIsNotAnError(t *testing.T) {
	calls := 0
	var errs []error
	assert.NotPanics(t, func() {
		AnalyzeStaticWith(context.Background(), &scriptedDecoder{}, frame("a", "b"),
			func(string) {
				calls++
				panic("handler bug")
			},
			func(err error) { errs = append(errs, err) })
	})
	assert.Equal(t, 2, calls, "every payload still delivered")
	assert.Empty(t, errs)
}

func TestAnalyzeFile_LoadFailureContainsHandlerPanic(t *testing.T) {
	calls := 0
	assert.NotPanics(t, func() {
		AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"), nil, func(error) {
			calls++
			panic("handler bug")
		})
	})
	assert.Equal(t, 1, calls)
}

func TestAnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, qrImage(t, "from disk")))
	path := filepath.Join(dir, "code.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	var detections []string
	AnalyzeFile(context.Background(), path, func(p string) { detections = append(detections, p) }, nil)
	assert.Equal(t, []string{"from disk"}, detections)

	var errs []error
	AnalyzeFile(context.Background(), filepath.Join(dir, "missing.png"), nil, func(err error) { errs = append(errs, err) })
	assert.Len(t, errs, 1)
}

// A host pause that lands between the grant and the camera bind must leave
// the camera released.
func TestScanner_HostPauseDuringGrantReleasesCamera(t *testing.T) {
	provider := capture.NewReplayProvider([]image.Image{blankImage()}, capture.ReplayOptions{FPS: 100, Loop: true}, discardLogger)
	session := capture.NewSession(provider, discardLogger)
	host := permission.NewStaticHost()
	s, err := NewBuilder().
		WithSession(session).
		WithPermissionGate(permission.NewGate(host, discardLogger)).
		WithLogger(discardLogger).
		OnDetected(func(string, *StopHandle) {}).
		Build()
	require.NoError(t, err)

	paused := false
	s.AddListener(func(_, next State) {
		if next == StateActive && !paused {
			paused = true
			s.OnHostPause()
		}
	})
	require.NoError(t, s.Start())
	host.Grant(capture.PermissionCamera)
	s.OnPermissionResult(s.PendingRequest())

	assert.Equal(t, StatePaused, s.State())
	assert.False(t, session.Running(), "camera bound while paused")

	s.OnHostResume()
	assert.Equal(t, StateActive, s.State())
	assert.True(t, session.Running())
	s.OnHostPause()
	assert.False(t, session.Running())
}

func TestScanner_ConcurrentLifecycleKeepsSessionInStep(t *testing.T) {
	provider := capture.NewReplayProvider([]image.Image{blankImage()}, capture.ReplayOptions{FPS: 100, Loop: true}, discardLogger)
	session := capture.NewSession(provider, discardLogger)
	s, err := NewBuilder().
		WithSession(session).
		WithPermissionGate(permission.NewGate(permission.NewStaticHost(capture.PermissionCamera), nil)).
		WithLogger(discardLogger).
		OnDetected(func(string, *StopHandle) {}).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					s.OnHostPause()
				} else {
					s.OnHostResume()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, s.State() == StateActive, session.Running())
	s.OnHostPause()
	assert.Equal(t, StatePaused, s.State())
	assert.False(t, session.Running())
}

// End to end: replayed camera frames through the real session and decoder.
func TestScanner_LiveReplayStopsOnFirstResult(t *testing.T) {
	frames := []image.Image{blankImage(), qrImage(t, "live payload"), blankImage()}
	provider := capture.NewReplayProvider(frames, capture.ReplayOptions{FPS: 100, Loop: true}, discardLogger)
	session := capture.NewSession(provider, discardLogger)

	var mu sync.Mutex
	var detections []string
	s, err := NewBuilder().
		WithSession(session).
		WithPermissionGate(permission.NewGate(permission.NewStaticHost(capture.PermissionCamera), nil)).
		WithLogger(discardLogger).
		OnDetected(func(p string, stop *StopHandle) {
			mu.Lock()
			detections = append(detections, p)
			mu.Unlock()
			stop.Stop()
		}).
		Build()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return s.State() == StateStopped }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StopCaller, s.StopReason())
	assert.False(t, session.Running())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"live payload"}, detections)
}
