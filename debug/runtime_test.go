package debug

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSample(t *testing.T) {
	s, _ := Sample()
	assert.NotZero(t, s.Goroutines)
	assert.NotZero(t, s.HeapAlloc)
}

func TestStartRuntimeLogger_LogsUntilCancelled(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))
	ctx, cancel := context.WithCancel(context.Background())
	StartRuntimeLogger(ctx, 5*time.Millisecond, logger)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"msg":"debug.runtime"`)
	}, time.Second, 5*time.Millisecond)
	cancel()
}

func TestStartRuntimeLogger_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { StartRuntimeLogger(context.Background(), time.Millisecond, nil) })
}
