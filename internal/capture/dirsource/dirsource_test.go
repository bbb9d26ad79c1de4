package dirsource

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

func writeCode(t *testing.T, dir, name, payload string, sym scan.Symbology) {
	t.Helper()
	img, err := normalize.RenderImage(payload, sym)
	require.NoError(t, err)

	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestBackend_Devices(t *testing.T) {
	b := New(Config{BackDir: t.TempDir()})

	d, ok := b.Device(capture.PositionBack)
	require.True(t, ok)
	assert.Equal(t, capture.PositionBack, d.Position())
	assert.False(t, d.HasTorch())

	_, ok = b.Device(capture.PositionFront)
	assert.False(t, ok, "no front directory configured")
}

func TestDevice_OpenEmptyDir(t *testing.T) {
	b := New(Config{BackDir: t.TempDir()})
	d, _ := b.Device(capture.PositionBack)

	_, err := d.Open(context.Background())
	assert.Error(t, err)
}

func TestStream_DecodesFrames(t *testing.T) {
	dir := t.TempDir()
	writeCode(t, dir, "01.png", "https://example.com/a", scan.QR)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.txt"), []byte("junk"), 0o644))

	b := New(Config{BackDir: dir, Interval: time.Millisecond})
	d, _ := b.Device(capture.PositionBack)

	stream, err := d.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()
	require.NoError(t, stream.Configure(scan.DefaultFilter().List()))

	codes, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "https://example.com/a", codes[0].Payload)

	// The reel is exhausted; the next read idles until canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_ConfigureRejectsUndecodable(t *testing.T) {
	dir := t.TempDir()
	writeCode(t, dir, "01.png", "x", scan.QR)

	d, _ := New(Config{BackDir: dir}).Device(capture.PositionBack)
	stream, err := d.Open(context.Background())
	require.NoError(t, err)

	err = stream.Configure([]scan.Symbology{scan.Aztec})
	assert.ErrorIs(t, err, capture.ErrNoDecodableTypes)
}
