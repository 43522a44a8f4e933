package dummy

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sentinel = "INFO:quic.client:Video transfer completed, closing connection..."

func TestRunWritesOutputAndSentinel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "video.mp4")
	var log bytes.Buffer

	err := Run(context.Background(), ClientConfig{
		Host:     "127.0.0.1",
		Port:     4433,
		Output:   out,
		Duration: 50 * time.Millisecond,
		Busy:     0.5,
		Size:     100_000,
		Sentinel: sentinel,
	}, &log)
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), info.Size())

	lines := strings.Split(strings.TrimSpace(log.String()), "\n")
	assert.Equal(t, "INFO:quic.client:Connecting to 127.0.0.1:4433", lines[0])
	assert.Equal(t, sentinel, lines[len(lines)-1])
}

func TestRunLingersUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Run(ctx, ClientConfig{Sentinel: sentinel, Linger: true}, &bytes.Buffer{})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRunAbortsDuringTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var log bytes.Buffer
	err := Run(ctx, ClientConfig{Duration: time.Minute, Busy: 0.1, Sentinel: sentinel}, &log)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, log.String(), sentinel)
}
