package cli

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

const harnessScenarios = "../harness/testdata/scenarios"

// execute runs the full command tree and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	resp := CLIResponse{Data: data}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeCode(t *testing.T, path, payload string, sym scan.Symbology) {
	t.Helper()
	img, err := normalize.RenderImage(payload, sym)
	require.NoError(t, err)
	writePNG(t, path, img)
}

func blank(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	writePNG(t, path, img)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := WrapExitError(ExitFailure, "scan failed", assert.AnError)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Equal(t, "scan failed: "+assert.AnError.Error(), wrapped.Error())
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRoot_Commands(t *testing.T) {
	cmd := NewRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"scan", "decode", "render", "test", "trace", "config"})
}

func TestRenderThenDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.png")

	out, err := execute(t, "render", "https://example.com/menu", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	out, err = execute(t, "--format", "json", "decode", path)
	require.NoError(t, err)

	var res DecodeResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "image/png", res.MIME)
	require.Len(t, res.Codes, 1)
	assert.Equal(t, ScannedCode{Payload: "https://example.com/menu", Symbology: "QR", URL: true}, res.Codes[0])
}

func TestRender_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "render", "x", "--symbology", "nope", "-o", filepath.Join(dir, "a.png"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "render", "x")
	require.Error(t, err, "output is required")
}

func TestDecode_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.png")
	blank(t, path)

	out, err := execute(t, "--format", "json", "decode", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(scan.ErrCodeDecodeFailed), resp.Error.Code)
	assert.Equal(t, "The QR or Barcode was not clear. Try another one.", resp.Error.Message)
}

func TestDecode_Unreadable(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "decode", filepath.Join(dir, "missing.png"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	junk := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(junk, []byte("hello"), 0o644))
	_, err = execute(t, "decode", junk)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDecode_SymbologyFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.png")
	writeCode(t, path, "SKU-1234", scan.Code128)

	out, err := execute(t, "decode", "--all", path)
	require.NoError(t, err)
	assert.Contains(t, out, "CODE128\tSKU-1234")

	_, err = execute(t, "decode", "--symbology", "qr", path)
	assert.Equal(t, ExitFailure, GetExitCode(err), "code128 is filtered out")
}

func TestConfig_Defaults(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "scanner:")
	assert.Contains(t, out, "one_shot: true")
	assert.Contains(t, out, "not_found_delay: 2s")

	out, err = execute(t, "--format", "json", "config")
	require.NoError(t, err)
	var p map[string]any
	decodeResponse(t, out, &p)
	assert.Equal(t, "1500ms", p["dedupe_window"])
}

func TestConfig_Profile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "kiosk.cue")
	require.NoError(t, os.WriteFile(good, []byte(`scanner: {
	one_shot: false
	symbologies: ["QR"]
}
`), 0o644))

	out, err := execute(t, "-c", good, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "one_shot: false")

	bad := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`scanner: not_found_delay: "soon"`), 0o644))
	_, err = execute(t, "-c", bad, "config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "--format", "json", "test", harnessScenarios, "--journal", db)
	require.NoError(t, err, out)

	var res TestResult
	decodeResponse(t, out, &res)
	assert.Zero(t, res.Failed)
	assert.Equal(t, res.Total, res.Passed)
	assert.NotZero(t, res.Total)

	out, err = execute(t, "--format", "json", "trace", "--db", db)
	require.NoError(t, err)
	var sessions []map[string]any
	decodeResponse(t, out, &sessions)
	// One session per scenario that made a transition; teardown_drops_image makes none.
	assert.Len(t, sessions, res.Total-1)

	out, err = execute(t, "trace", "--db", db, "--session", "burst_lock")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: burst_lock")
	assert.Contains(t, out, "processing")
}

func TestTestCommand_UpdateGolden(t *testing.T) {
	golden := t.TempDir()

	out, err := execute(t, "test", harnessScenarios, "--filter", "reset*", "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	files, err := filepath.Glob(filepath.Join(golden, "*.golden"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err = execute(t, "--format", "json", "test", harnessScenarios, "--filter", "reset*", "--golden", golden)
	require.NoError(t, err)
	var res TestResult
	decodeResponse(t, out, &res)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "match", res.Scenarios[0].Golden)

	require.NoError(t, os.WriteFile(files[0], []byte("{}\n"), 0o644))
	_, err = execute(t, "test", harnessScenarios, "--filter", "reset*", "--golden", golden)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTrace_UnknownSession(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	out, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")

	_, err = execute(t, "trace", "--db", db, "--session", "nope")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestScan_DirCamera(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "frames")
	require.NoError(t, os.Mkdir(frames, 0o755))
	writeCode(t, filepath.Join(frames, "01.png"), "https://example.com/ticket", scan.QR)
	db := filepath.Join(dir, "scan.db")

	out, err := execute(t, "--format", "json", "scan",
		"--frames", frames, "--interval", "10ms", "--loop",
		"--timeout", "10s", "--journal", db)
	require.NoError(t, err, out)

	var res ScanResult
	decodeResponse(t, out, &res)
	require.Len(t, res.Codes, 1)
	assert.Equal(t, "https://example.com/ticket", res.Codes[0].Payload)
	assert.True(t, res.Codes[0].URL)
	require.NotEmpty(t, res.Session)

	out, err = execute(t, "trace", "--db", db, "--payload", "https://example.com/ticket")
	require.NoError(t, err)
	assert.Contains(t, out, "accepted 1 time(s)")
}

func TestScan_NoFrames(t *testing.T) {
	_, err := execute(t, "scan")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no frame directory")

	_, err = execute(t, "scan", "--camera", "hologram", "--frames", t.TempDir())
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "scan", "--frames", t.TempDir(), "--count", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
