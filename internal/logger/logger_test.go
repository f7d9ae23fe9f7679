package logger

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(WithQuiet(), WithWriter(&buf), WithFormat("json"))

	lg.Info("task started", "taskID", "t1")

	out := buf.String()
	require.Contains(t, out, `"msg":"task started"`)
	require.Contains(t, out, `"taskID":"t1"`)
}

func TestLoggerDebugLevel(t *testing.T) {
	var buf bytes.Buffer

	lg := NewLogger(WithQuiet(), WithWriter(&buf))
	lg.Debug("invisible")
	require.Empty(t, buf.String())

	lg = NewLogger(WithQuiet(), WithWriter(&buf), WithDebug())
	lg.Debug("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(WithQuiet(), WithWriter(&buf), WithFormat("json"))

	lg.With("workerID", "w1").Info("claimed")
	require.Contains(t, buf.String(), `"workerID":"w1"`)
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(WithQuiet(), WithWriter(&buf))

	ctx := WithLogger(context.Background(), lg)
	require.Equal(t, lg, FromContext(ctx))

	Info(ctx, "hello")
	require.Contains(t, buf.String(), "hello")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	require.NotNil(t, FromContext(context.Background()))
}

func TestGuardedHandlerConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(WithQuiet(), WithWriter(&buf))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				lg.Info("concurrent write")
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 160)
}
