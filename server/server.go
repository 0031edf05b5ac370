// Package server exposes still-image QR analysis over HTTP.
package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/soocke/qrscan-go/domain/decoder"
	"github.com/soocke/qrscan-go/domain/scan"
)

const (
	DefaultCacheSize    = 256
	DefaultMaxBodyBytes = 16 << 20
)

// Options tunes a Server. The zero value is usable.
type Options struct {
	CacheSize    int
	MaxBodyBytes int64
	Logger       *slog.Logger
	Tracer       trace.Tracer
}

// Result is the JSON body of an analysis response.
type Result struct {
	ID       string   `json:"id"`
	Payloads []string `json:"payloads"`
	Error    string   `json:"error,omitempty"`
	Cached   bool     `json:"cached"`
}

// Stats is the JSON body of GET /v1/stats.
type Stats struct {
	Requests  uint64 `json:"requests"`
	CacheHits uint64 `json:"cache_hits"`
	Cached    int    `json:"cached"`
}

type cachedResult struct {
	payloads []string
	err      string
	status   int
}

// Server analyzes uploaded images. Identical uploads are answered from an
// LRU cache keyed by content hash.
type Server struct {
	decoder scan.FrameDecoder
	cache   *lru.Cache[string, cachedResult]
	maxBody int64
	logger  *slog.Logger
	tracer  trace.Tracer

	requests  atomic.Uint64
	cacheHits atomic.Uint64
}

// New returns a server analyzing with dec.
func New(dec scan.FrameDecoder, opts Options) (*Server, error) {
	if dec == nil {
		return nil, errors.New("server: decoder required")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, cachedResult](size)
	if err != nil {
		return nil, fmt.Errorf("server: cache: %w", err)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/soocke/qrscan-go/server")
	}
	return &Server{decoder: dec, cache: cache, maxBody: maxBody, logger: opts.Logger, tracer: tracer}, nil
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "OK\n")
	}).Methods("GET")
	r.HandleFunc("/v1/analyze", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/v1/stats", s.handleStats).Methods("GET")
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	if s.logger != nil {
		s.logger.Info("server.listening", "addr", addr)
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	id := uuid.NewString()
	ctx, span := s.tracer.Start(r.Context(), "server.analyze", trace.WithAttributes(attribute.String("request_id", id)))
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Result{ID: id, Payloads: []string{}, Error: "image too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, Result{ID: id, Payloads: []string{}, Error: "read body: " + err.Error()})
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, Result{ID: id, Payloads: []string{}, Error: "empty body"})
		return
	}
	sum := sha256.Sum256(body)
	key := hex.EncodeToString(sum[:])
	span.SetAttributes(attribute.Int("bytes", len(body)), attribute.String("sha256", key))

	if c, ok := s.cache.Get(key); ok {
		s.cacheHits.Add(1)
		writeJSON(w, c.status, Result{ID: id, Payloads: nonNil(c.payloads), Error: c.err, Cached: true})
		return
	}

	res := s.analyze(ctx, body)
	if res.status != http.StatusInternalServerError {
		s.cache.Add(key, res)
	} else {
		span.RecordError(errors.New(res.err))
	}
	if s.logger != nil {
		s.logger.Info("server.analyzed", "request", id, "status", res.status, "payloads", len(res.payloads))
	}
	writeJSON(w, res.status, Result{ID: id, Payloads: nonNil(res.payloads), Error: res.err})
}

func (s *Server) analyze(ctx context.Context, body []byte) cachedResult {
	img, err := decoder.ReadImage(bytes.NewReader(body))
	if err != nil {
		return cachedResult{err: err.Error(), status: http.StatusUnprocessableEntity}
	}
	var payloads []string
	var failure error
	scan.AnalyzeStaticWith(ctx, s.decoder, img,
		func(p string) { payloads = append(payloads, p) },
		func(err error) { failure = err })
	switch {
	case len(payloads) > 0:
		return cachedResult{payloads: payloads, status: http.StatusOK}
	case failure == nil, errors.Is(failure, decoder.ErrNoBarcode), errors.Is(failure, decoder.ErrInvalidImage):
		msg := decoder.ErrNoBarcode.Error()
		if failure != nil {
			msg = failure.Error()
		}
		return cachedResult{err: msg, status: http.StatusUnprocessableEntity}
	default:
		return cachedResult{err: failure.Error(), status: http.StatusInternalServerError}
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Stats{
		Requests:  s.requests.Load(),
		CacheHits: s.cacheHits.Load(),
		Cached:    s.cache.Len(),
	})
}

func nonNil(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
