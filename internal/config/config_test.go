package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qbar/internal/scan"
)

func TestDefault(t *testing.T) {
	p := Default()

	assert.True(t, p.OneShot)
	assert.Equal(t, "2s", p.NotFoundDelay)
	assert.Equal(t, "1500ms", p.DedupeWindow)
	assert.Equal(t, "Point camera at QR Code or Barcode", p.Messages.Scanning)
	assert.Equal(t, -1, p.Camera.FrontDevice)
	assert.Empty(t, p.Journal)

	cfg, err := p.Scanner()
	require.NoError(t, err)
	assert.Equal(t, scan.DefaultFilter().List(), cfg.Filter.List())
	assert.Equal(t, 2*time.Second, cfg.NotFoundDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.DedupeWindow)
	assert.Equal(t, "The QR or Barcode was not clear. Try another one.", cfg.Messages.NotFound)
}

func TestParse_Overrides(t *testing.T) {
	src := []byte(`
scanner: {
	symbologies: ["QR", "EAN13"]
	one_shot: false
	dedupe_window: "3s"
	messages: scanning: "Aim at a code"
	camera: {
		back_dir: "frames"
		loop: true
	}
}
`)
	p, err := Parse("profile.cue", src)
	require.NoError(t, err)

	assert.False(t, p.OneShot)
	assert.Equal(t, []string{"QR", "EAN13"}, p.Symbologies)
	assert.Equal(t, "Aim at a code", p.Messages.Scanning)
	assert.Equal(t, "To be able to scan, turn on the camera from settings", p.Messages.Unauthorized)

	cfg, err := p.Scanner()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.DedupeWindow)
	assert.True(t, cfg.Filter.Allows(scan.EAN13))
	assert.False(t, cfg.Filter.Allows(scan.Code128))

	dir, ok, err := p.DirSource()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "frames", dir.BackDir)
	assert.Equal(t, 200*time.Millisecond, dir.Interval)
	assert.True(t, dir.Loop)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown symbology", `scanner: symbologies: ["QR", "MAXICODE"]`},
		{"empty symbology list", `scanner: symbologies: []`},
		{"unknown field", `scanner: flashlight: true`},
		{"bad duration", `scanner: not_found_delay: "soon"`},
		{"wrong type", `scanner: one_shot: "yes"`},
		{"syntax", `scanner: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			require.Error(t, err)

			var cfgErr *Error
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.cue")
	require.NoError(t, os.WriteFile(path, []byte(`scanner: journal: "qbar.db"`), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qbar.db", p.Journal)

	_, ok, err := p.DirSource()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	assert.Error(t, err)
}
