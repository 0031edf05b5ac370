package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soocke/qrscan-go/domain/decoder"
)

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func qrPNG(t *testing.T, text string) []byte {
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
	return pngBytes(t, img)
}

func blankPNG(t *testing.T) []byte {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return pngBytes(t, img)
}

func newTestServer(t *testing.T, engine decoder.Engine, opts Options) *httptest.Server {
	t.Helper()
	s, err := New(decoder.New(engine, decoder.Options{}), opts)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, body []byte) (int, Result) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/analyze", "image/png", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var res Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func TestAnalyze_DecodesAndCaches(t *testing.T) {
	ts := newTestServer(t, decoder.NewZXingEngine(true), Options{})
	body := qrPNG(t, "served")

	status, res := post(t, ts, body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"served"}, res.Payloads)
	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.ID)

	status, again := post(t, ts, body)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, again.Cached)
	assert.Equal(t, res.Payloads, again.Payloads)
	assert.NotEqual(t, res.ID, again.ID)

	resp, err := http.Get(ts.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, Stats{Requests: 2, CacheHits: 1, Cached: 1}, st)
}

func TestAnalyze_NoBarcode(t *testing.T) {
	ts := newTestServer(t, decoder.NewZXingEngine(false), Options{})
	status, res := post(t, ts, blankPNG(t))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "no barcode detected", res.Error)
	assert.Empty(t, res.Payloads)
}

func TestAnalyze_BadInput(t *testing.T) {
	ts := newTestServer(t, nil, Options{MaxBodyBytes: 1024})

	status, res := post(t, ts, []byte("definitely not an image"))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, res.Error, "invalid image")

	status, _ = post(t, ts, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, res = post(t, ts, bytes.Repeat([]byte{0}, 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "image too large", res.Error)
}

func TestAnalyze_EngineFailureNotCached(t *testing.T) {
	var calls atomic.Int32
	engine := decoder.EngineFunc(func(context.Context, image.Image) ([]string, error) {
		calls.Add(1)
		return nil, errors.New("engine offline")
	})
	ts := newTestServer(t, engine, Options{})
	body := blankPNG(t)

	status, res := post(t, ts, body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, res.Error, "engine offline")

	status, res = post(t, ts, body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRouter_HealthAndMethods(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/analyze")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNew_RequiresDecoder(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	s, err := New(decoder.New(nil, decoder.Options{}), Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
