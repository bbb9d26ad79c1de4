package scanner_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/capture/capturetest"
	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
	"github.com/roach88/qbar/internal/scanner"
	"github.com/roach88/qbar/internal/sched"
	"github.com/roach88/qbar/internal/testutil"
)

type statusLog struct {
	mu   sync.Mutex
	seen []scanner.Status
}

func (s *statusLog) ShowStatus(st scanner.Status) {
	s.mu.Lock()
	s.seen = append(s.seen, st)
	s.mu.Unlock()
}

func (s *statusLog) last() scanner.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return scanner.Status{}
	}
	return s.seen[len(s.seen)-1]
}

type opener struct {
	mu    sync.Mutex
	links []string
	opens int
}

func (o *opener) OpenLink(url string) error {
	o.mu.Lock()
	o.links = append(o.links, url)
	o.mu.Unlock()
	return nil
}

func (o *opener) OpenSettings() error {
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()
	return nil
}

type pickFunc func(ctx context.Context) (image.Image, error)

func (f pickFunc) PickImage(ctx context.Context) (image.Image, error) { return f(ctx) }

type fixture struct {
	s       *scanner.Scanner
	backend *capturetest.Backend
	back    *capturetest.Device
	front   *capturetest.Device
	clock   *sched.Manual
	calls   *testutil.Callbacks
	status  *statusLog
	opener  *opener
}

func newFixture(t *testing.T, extra ...scanner.Option) *fixture {
	t.Helper()

	f := &fixture{
		back:   capturetest.NewDevice("back", capture.PositionBack),
		front:  capturetest.NewDevice("front", capture.PositionFront),
		clock:  sched.NewManual(),
		calls:  testutil.NewCallbacks(),
		status: &statusLog{},
		opener: &opener{},
	}
	f.backend = capturetest.NewBackend(f.back, f.front)

	opts := []scanner.Option{
		scanner.WithCodeHandler(f.calls),
		scanner.WithErrorHandler(f.calls),
		scanner.WithDismissalHandler(f.calls),
		scanner.WithScheduler(f.clock),
		scanner.WithSessionGenerator(testutil.NewFixedSessionGenerator("scanner-test")),
		scanner.WithStatusSurface(f.status),
		scanner.WithSettingsOpener(f.opener),
		scanner.WithLinkOpener(f.opener),
	}
	f.s = scanner.New(f.backend, scanner.DefaultConfig(), append(opts, extra...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.s.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = f.s.Close()
		cancel()
		<-done
	})
	return f
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.s.Flush(ctx))
}

func (f *fixture) setup(t *testing.T) {
	t.Helper()
	require.NoError(t, f.s.SetupCamera(context.Background()))
	f.flush(t)
}

func (f *fixture) waitKind(t *testing.T, kind engine.Kind) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.s.State().Kind == kind
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s", kind)
}

func qrImage(t *testing.T, payload string) image.Image {
	t.Helper()
	img, err := normalize.RenderImage(payload, scan.QR)
	require.NoError(t, err)
	return img
}

func blankImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	return img
}

func TestScanner_LiveScanFlow(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	assert.Equal(t, engine.KindScanning, f.s.State().Kind)
	assert.Equal(t, "Point camera at QR Code or Barcode", f.s.Status().Text)

	stream := f.back.Stream()
	require.NotNil(t, stream)
	assert.ElementsMatch(t, scan.DefaultFilter().List(), stream.Configured())

	stream.Push(scan.RawCode{Payload: "0012345678905", Symbology: scan.EAN13})
	f.waitKind(t, engine.KindProcessing)

	st := f.s.State()
	assert.Equal(t, "012345678905", st.Payload)
	assert.Equal(t, scan.UPCA, st.Symbology)
	assert.NotNil(t, st.Preview)
	assert.True(t, f.s.Locked())

	require.Eventually(t, func() bool { return len(f.calls.Codes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, testutil.Code{Payload: "012345678905", Symbology: "UPCA"}, f.calls.Codes()[0])

	last := f.status.last()
	assert.Equal(t, engine.KindProcessing, last.Kind)
	assert.Equal(t, "012345678905", last.Text)
	assert.False(t, last.CanOpenLink)
}

func TestScanner_FilteredCodesNeverReachEngine(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	stream := f.back.Stream()
	stream.Push(scan.RawCode{Payload: "ignored", Symbology: scan.ITF})
	stream.Push(scan.RawCode{Payload: "", Symbology: scan.QR})
	require.Eventually(t, func() bool { return stream.Pending() == 0 }, time.Second, 5*time.Millisecond)
	f.flush(t)

	assert.Equal(t, engine.KindScanning, f.s.State().Kind)
	assert.Empty(t, f.calls.Codes())
}

func TestScanner_ResetResumesScanning(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	f.back.Stream().Push(scan.RawCode{Payload: "first", Symbology: scan.QR})
	f.waitKind(t, engine.KindProcessing)

	f.s.Reset()
	f.flush(t)
	assert.Equal(t, engine.KindScanning, f.s.State().Kind)
	assert.False(t, f.s.Locked())

	f.back.Stream().Push(scan.RawCode{Payload: "second", Symbology: scan.QR})
	f.waitKind(t, engine.KindProcessing)
	assert.Equal(t, "second", f.s.State().Payload)
}

func TestScanner_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.backend.Deny(true)

	err := f.s.SetupCamera(context.Background())
	require.Error(t, err)
	assert.True(t, scan.IsPermissionDenied(err))
	f.flush(t)

	assert.Equal(t, engine.KindUnauthorized, f.s.State().Kind)
	last := f.status.last()
	assert.True(t, last.ShowSettings)
	assert.Equal(t, "To be able to scan, turn on the camera from settings", last.Text)

	require.Len(t, f.calls.Errors(), 1)
	assert.True(t, scan.IsPermissionDenied(f.calls.Errors()[0]))

	require.NoError(t, f.s.OpenSettings())
	assert.Equal(t, 1, f.opener.opens)
}

func TestScanner_OpenSettingsOnlyWhenUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	assert.ErrorIs(t, f.s.OpenSettings(), scanner.ErrNotUnauthorized)
	assert.Zero(t, f.opener.opens)
}

func TestScanner_DeviceError(t *testing.T) {
	f := newFixture(t)
	f.back.FailOpen(errors.New("busy"))

	err := f.s.SetupCamera(context.Background())
	require.Error(t, err)
	assert.True(t, scan.IsDeviceError(err))
	f.flush(t)

	assert.Equal(t, engine.KindScanning, f.s.State().Kind)
	require.Len(t, f.calls.Errors(), 1)
	assert.True(t, scan.IsDeviceError(f.calls.Errors()[0]))
}

func TestScanner_StreamFailureReported(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	f.back.Stream().Fail(errors.New("unplugged"))
	require.Eventually(t, func() bool { return len(f.calls.Errors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, scan.IsDeviceError(f.calls.Errors()[0]))
}

func TestScanner_GalleryFound(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	f.s.BeginImagePick()
	_, err := f.s.DetectImage(context.Background(), qrImage(t, "https://example.com/menu"))
	require.NoError(t, err)
	f.s.Wait()
	f.flush(t)

	st := f.s.State()
	require.Equal(t, engine.KindProcessing, st.Kind)
	assert.Equal(t, "https://example.com/menu", st.Payload)
	assert.Equal(t, scan.QR, st.Symbology)
	assert.True(t, f.status.last().CanOpenLink)

	require.NoError(t, f.s.OpenLink())
	assert.Equal(t, []string{"https://example.com/menu"}, f.opener.links)
}

func TestScanner_GalleryNotFoundSelfHeals(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	_, err := f.s.DetectImage(context.Background(), blankImage())
	require.NoError(t, err)
	f.s.Wait()
	f.flush(t)

	st := f.s.State()
	require.Equal(t, engine.KindNotFound, st.Kind)
	assert.Equal(t, "The QR or Barcode was not clear. Try another one.", st.Message)
	assert.Equal(t, st.Message, f.status.last().Text)

	f.clock.Advance(2 * time.Second)
	f.flush(t)
	assert.Equal(t, engine.KindScanning, f.s.State().Kind)
	assert.False(t, f.s.Locked())
}

// gatedDecoder holds every pass until release is closed.
type gatedDecoder struct {
	release chan struct{}
}

func (g gatedDecoder) Decode(ctx context.Context, img image.Image) ([]scan.RawCode, error) {
	<-g.release
	return []scan.RawCode{{Payload: "late", Symbology: scan.QR}}, nil
}

func TestScanner_CancelImagePickDropsResult(t *testing.T) {
	gate := gatedDecoder{release: make(chan struct{})}
	f := newFixture(t, scanner.WithDecoder(gate))
	f.setup(t)

	f.s.BeginImagePick()
	_, err := f.s.DetectImage(context.Background(), blankImage())
	require.NoError(t, err)
	f.s.CancelImagePick()
	close(gate.release)
	f.s.Wait()
	f.flush(t)

	assert.Equal(t, engine.KindScanning, f.s.State().Kind)
	assert.Empty(t, f.calls.Codes())
}

func TestScanner_PickImage(t *testing.T) {
	var img image.Image
	src := pickFunc(func(context.Context) (image.Image, error) { return img, nil })
	f := newFixture(t, scanner.WithImageSource(src))
	f.setup(t)

	img = qrImage(t, "picked")
	_, err := f.s.PickImage(context.Background())
	require.NoError(t, err)
	f.s.Wait()
	f.flush(t)
	assert.Equal(t, "picked", f.s.State().Payload)
}

func TestScanner_PickImageCancelled(t *testing.T) {
	src := pickFunc(func(context.Context) (image.Image, error) { return nil, scanner.ErrPickCancelled })
	f := newFixture(t, scanner.WithImageSource(src))
	f.setup(t)

	_, err := f.s.PickImage(context.Background())
	assert.ErrorIs(t, err, scanner.ErrPickCancelled)
	f.flush(t)

	assert.Equal(t, engine.KindScanning, f.s.State().Kind)
	f.back.Stream().Push(scan.RawCode{Payload: "after", Symbology: scan.QR})
	f.waitKind(t, engine.KindProcessing)
}

func TestScanner_PickImageWithoutSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.PickImage(context.Background())
	assert.ErrorIs(t, err, scanner.ErrNoImageSource)
}

func TestScanner_OpenLinkRejectsPlainText(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	assert.ErrorIs(t, f.s.OpenLink(), scanner.ErrNoResult)

	f.back.Stream().Push(scan.RawCode{Payload: "just text", Symbology: scan.QR})
	f.waitKind(t, engine.KindProcessing)

	err := f.s.OpenLink()
	var notURL *scanner.NotURLError
	require.ErrorAs(t, err, &notURL)
	assert.Equal(t, "This QR Code does not have a URL. Please try another one.", notURL.Message)
	assert.Empty(t, f.opener.links)
}

func TestScanner_CancelFiresDismissal(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	f.s.Cancel()
	f.flush(t)
	assert.Zero(t, f.calls.Dismissals(), "nothing to dismiss while scanning")

	f.back.Stream().Push(scan.RawCode{Payload: "x", Symbology: scan.QR})
	f.waitKind(t, engine.KindProcessing)
	f.s.Cancel()
	f.flush(t)
	assert.Equal(t, 1, f.calls.Dismissals())
}

func TestScanner_SwapCameraAndTorch(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	assert.True(t, f.s.TorchAvailable())
	assert.Equal(t, capture.TorchOn, f.s.ToggleTorch())
	assert.Equal(t, capture.TorchOn, f.back.Torch())

	require.NoError(t, f.s.SwapCamera(context.Background()))
	assert.False(t, f.s.TorchAvailable(), "front camera has no torch")
	assert.True(t, f.back.Stream().Closed())

	f.front.Stream().Push(scan.RawCode{Payload: "selfie", Symbology: scan.QR})
	f.waitKind(t, engine.KindProcessing)
}

func TestScanner_SwapWithoutFrontCamera(t *testing.T) {
	back := capturetest.NewDevice("back", capture.PositionBack)
	s := scanner.New(capturetest.NewBackend(back), scanner.DefaultConfig(),
		scanner.WithScheduler(sched.NewManual()))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SwapCamera(context.Background()), "no session yet")
	require.NoError(t, s.SetupCamera(context.Background()))
	require.NoError(t, s.SwapCamera(context.Background()))
	assert.False(t, back.Stream().Closed())
}

func TestScanner_StopIsSynchronous(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	f.s.Stop()
	f.s.Stop()
	f.flush(t)

	f.back.Stream().Push(scan.RawCode{Payload: "ignored", Symbology: scan.QR})
	f.flush(t)
	assert.Equal(t, 1, f.back.Stream().Pending(), "nothing reads frames after Stop")
	assert.Equal(t, engine.KindScanning, f.s.State().Kind)

	f.s.Start()
	f.waitKind(t, engine.KindProcessing)
}

func TestScanner_CloseRejectsImages(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	require.NoError(t, f.s.Close())

	_, err := f.s.DetectImage(context.Background(), blankImage())
	assert.Error(t, err)
	assert.True(t, f.back.Stream().Closed())
}

func TestDefaultMessages(t *testing.T) {
	m := scanner.DefaultMessages()
	assert.Equal(t, "Point camera at QR Code or Barcode", m.Scanning)
	assert.Equal(t, "To be able to scan, turn on the camera from settings", m.Unauthorized)
	assert.Equal(t, "The QR or Barcode was not clear. Try another one.", m.NotFound)
	assert.Equal(t, normalize.NotURLMessage, m.NotURL)
}
