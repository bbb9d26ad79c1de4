// Package scanner is the facade an embedding screen talks to. It wires the
// camera session, the live and still-image detection paths and the state
// machine together and exposes the engine's public contract.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/decode"
	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/gallery"
	"github.com/roach88/qbar/internal/imageio"
	"github.com/roach88/qbar/internal/live"
	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
	"github.com/roach88/qbar/internal/sched"
)

var (
	// ErrNotUnauthorized is returned by OpenSettings outside the unauthorized state.
	ErrNotUnauthorized = errors.New("settings hand-off is only offered while unauthorized")

	// ErrNoResult is returned by OpenLink when no code is being shown.
	ErrNoResult = errors.New("no code is being shown")

	// ErrPickCancelled is returned by an ImageSource when the user backs out.
	ErrPickCancelled = errors.New("image pick cancelled")

	// ErrNoImageSource is returned by PickImage without a configured source.
	ErrNoImageSource = errors.New("no image source configured")
)

// NotURLError is returned by OpenLink for payloads that are not links.
type NotURLError struct {
	Payload string
	Message string
}

func (e *NotURLError) Error() string { return e.Message }

// SettingsOpener hands the user off to the system camera settings.
type SettingsOpener interface {
	OpenSettings() error
}

// LinkOpener opens a URL outside the scanner.
type LinkOpener interface {
	OpenLink(url string) error
}

// ImageSource lets the user pick a still image, e.g. from a photo library.
type ImageSource interface {
	PickImage(ctx context.Context) (image.Image, error)
}

// Config is the startup configuration of a scanner.
type Config struct {
	Filter        scan.Filter
	OneShot       bool
	NotFoundDelay time.Duration
	DedupeWindow  time.Duration
	Messages      Messages
}

// DefaultConfig returns a one-shot scanner for the default symbologies.
func DefaultConfig() Config {
	return Config{
		Filter:        scan.DefaultFilter(),
		OneShot:       true,
		NotFoundDelay: engine.DefaultNotFoundDelay,
		DedupeWindow:  engine.DefaultDedupeWindow,
		Messages:      DefaultMessages(),
	}
}

type options struct {
	code     engine.CodeHandler
	errs     engine.ErrorHandler
	dismiss  engine.DismissalHandler
	observer engine.StateObserver
	recorder engine.Recorder
	sched    sched.Scheduler
	sessions engine.SessionGenerator
	status   StatusSurface
	settings SettingsOpener
	links    LinkOpener
	images   ImageSource
	decoder  gallery.Decoder
	logger   *slog.Logger
}

// Option configures a Scanner.
type Option func(*options)

func WithCodeHandler(h engine.CodeHandler) Option   { return func(o *options) { o.code = h } }
func WithErrorHandler(h engine.ErrorHandler) Option { return func(o *options) { o.errs = h } }
func WithDismissalHandler(h engine.DismissalHandler) Option {
	return func(o *options) { o.dismiss = h }
}
func WithObserver(obs engine.StateObserver) Option { return func(o *options) { o.observer = obs } }
func WithRecorder(r engine.Recorder) Option        { return func(o *options) { o.recorder = r } }
func WithScheduler(s sched.Scheduler) Option       { return func(o *options) { o.sched = s } }
func WithSessionGenerator(g engine.SessionGenerator) Option {
	return func(o *options) { o.sessions = g }
}
func WithStatusSurface(s StatusSurface) Option   { return func(o *options) { o.status = s } }
func WithSettingsOpener(s SettingsOpener) Option { return func(o *options) { o.settings = s } }
func WithLinkOpener(l LinkOpener) Option         { return func(o *options) { o.links = l } }
func WithImageSource(src ImageSource) Option     { return func(o *options) { o.images = src } }

// WithDecoder replaces the still-image decoder.
func WithDecoder(d gallery.Decoder) Option { return func(o *options) { o.decoder = d } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Scanner coordinates one scanning screen.
type Scanner struct {
	cfg      Config
	engine   *engine.Engine
	capture  *capture.Manager
	adapter  *live.Adapter
	detector *gallery.Detector

	status   StatusSurface
	observer engine.StateObserver
	settings SettingsOpener
	links    LinkOpener
	images   ImageSource
	logger   *slog.Logger
}

// New wires a scanner over a camera backend.
func New(backend capture.Backend, cfg Config, opts ...Option) *Scanner {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.decoder == nil {
		o.decoder = decode.New(cfg.Filter)
	}
	cfg.Messages = cfg.Messages.withDefaults()

	s := &Scanner{
		cfg:      cfg,
		status:   o.status,
		observer: o.observer,
		settings: o.settings,
		links:    o.links,
		images:   o.images,
		logger:   o.logger,
	}

	// The frame handler is bound late: the adapter needs the engine, the
	// engine needs the capture manager. Frames only flow after Setup.
	s.capture = capture.NewManager(backend, cfg.Filter,
		capture.FrameHandlerFunc(func(codes []scan.RawCode) { s.adapter.HandleCodes(codes) }),
		capture.WithLogger(o.logger),
		capture.WithErrorHandler(func(err error) { s.engine.SetupResult(err) }),
	)

	engineOpts := []engine.Option{
		engine.WithCodeHandler(o.code),
		engine.WithErrorHandler(o.errs),
		engine.WithDismissalHandler(o.dismiss),
		engine.WithObserver(s),
		engine.WithScheduler(o.sched),
		engine.WithSessionGenerator(o.sessions),
		engine.WithLogger(o.logger),
	}
	if o.recorder != nil {
		engineOpts = append(engineOpts, engine.WithRecorder(o.recorder))
	}
	s.engine = engine.New(engine.Config{
		OneShot:         cfg.OneShot,
		NotFoundDelay:   cfg.NotFoundDelay,
		DedupeWindow:    cfg.DedupeWindow,
		NotFoundMessage: cfg.Messages.NotFound,
	}, s.capture, engineOpts...)

	s.adapter = live.NewAdapter(cfg.Filter, s.engine, o.logger)
	s.detector = gallery.NewDetector(o.decoder, s.engine,
		gallery.WithNotFoundMessage(cfg.Messages.NotFound),
		gallery.WithLogger(o.logger),
	)
	return s
}

// OnStateChange implements engine.StateObserver.
func (s *Scanner) OnStateChange(prev, next engine.State) {
	if s.status != nil {
		s.status.ShowStatus(s.cfg.Messages.statusFor(next))
	}
	if s.observer != nil {
		s.observer.OnStateChange(prev, next)
	}
}

// Run drives the state machine until ctx is done or Close is called.
func (s *Scanner) Run(ctx context.Context) error {
	if s.status != nil {
		s.status.ShowStatus(s.cfg.Messages.statusFor(s.engine.State()))
	}
	return s.engine.Run(ctx)
}

// SetupCamera checks permission and configures the camera, blocking while
// the user answers a permission prompt. The outcome also reaches the state
// machine: denial moves it to unauthorized, success starts scanning.
func (s *Scanner) SetupCamera(ctx context.Context) error {
	err := s.capture.Setup(ctx)
	if err != nil {
		s.logger.Warn("camera setup failed", "error", err)
	}
	if !s.engine.SetupResult(err) && err == nil {
		return engine.ErrStopped
	}
	return err
}

// Start resumes frame delivery if the current state allows scanning.
func (s *Scanner) Start() {
	s.engine.StartCapture()
}

// Stop pauses frame delivery. No frame reaches the engine after it returns.
func (s *Scanner) Stop() {
	s.engine.StopCapture()
	s.capture.Stop()
}

// Reset leaves a shown result and resumes scanning.
func (s *Scanner) Reset() {
	s.engine.Reset()
}

// ResetWithError shows msg briefly, then resumes scanning.
func (s *Scanner) ResetWithError(msg string) {
	s.engine.ResetWithError(msg)
}

// Cancel reports that the user dismissed a shown result.
func (s *Scanner) Cancel() {
	s.engine.Dismiss()
}

// SwapCamera toggles between back and front cameras.
func (s *Scanner) SwapCamera(ctx context.Context) error {
	return s.capture.SwapCamera(ctx)
}

// SetTorchMode sets the torch where supported.
func (s *Scanner) SetTorchMode(mode capture.TorchMode) {
	s.capture.SetTorchMode(mode)
}

// ToggleTorch cycles the torch and returns the new mode.
func (s *Scanner) ToggleTorch() capture.TorchMode {
	return s.capture.ToggleTorch()
}

// Position returns the attached camera, if any.
func (s *Scanner) Position() (capture.Position, bool) {
	return s.capture.Position()
}

// Capturing reports whether frames are currently being delivered.
func (s *Scanner) Capturing() bool {
	return s.capture.Running()
}

// TorchAvailable reports whether a torch control should be shown.
func (s *Scanner) TorchAvailable() bool {
	return s.capture.TorchAvailable()
}

// BeginImagePick pauses the camera while the user browses for an image.
func (s *Scanner) BeginImagePick() {
	s.engine.StopCapture()
}

// CancelImagePick resumes the camera after the user backs out of the
// picker, and invalidates any pass still running.
func (s *Scanner) CancelImagePick() {
	s.engine.CancelImageRequest()
	s.engine.StartCapture()
}

// DetectImage starts a still-image pass. Its result reaches the state
// machine asynchronously and is dropped if no longer relevant.
func (s *Scanner) DetectImage(ctx context.Context, img image.Image) (scan.Ticket, error) {
	return s.detector.Detect(ctx, img)
}

// DetectImageFile loads path and starts a still-image pass on it.
func (s *Scanner) DetectImageFile(ctx context.Context, path string) (scan.Ticket, error) {
	img, err := imageio.LoadFile(path)
	if err != nil {
		return scan.Ticket{}, fmt.Errorf("loading image: %w", err)
	}
	return s.detector.Detect(ctx, img)
}

// PickImage runs the full gallery flow through the configured ImageSource:
// pause the camera, let the user pick, then detect or resume.
func (s *Scanner) PickImage(ctx context.Context) (scan.Ticket, error) {
	if s.images == nil {
		return scan.Ticket{}, ErrNoImageSource
	}

	s.BeginImagePick()
	img, err := s.images.PickImage(ctx)
	if err != nil {
		s.CancelImagePick()
		if errors.Is(err, ErrPickCancelled) {
			return scan.Ticket{}, err
		}
		return scan.Ticket{}, fmt.Errorf("picking image: %w", err)
	}
	return s.DetectImage(ctx, img)
}

// OpenSettings hands off to the system settings. Only offered while unauthorized.
func (s *Scanner) OpenSettings() error {
	if s.engine.State().Kind != engine.KindUnauthorized {
		return ErrNotUnauthorized
	}
	if s.settings == nil {
		return errors.New("no settings opener configured")
	}
	return s.settings.OpenSettings()
}

// OpenLink opens the shown payload if it looks like a link.
func (s *Scanner) OpenLink() error {
	st := s.engine.State()
	if st.Kind != engine.KindProcessing {
		return ErrNoResult
	}
	if !normalize.IsLikelyURL(st.Payload) {
		return &NotURLError{Payload: st.Payload, Message: s.cfg.Messages.NotURL}
	}
	if s.links == nil {
		return errors.New("no link opener configured")
	}
	return s.links.OpenLink(st.Payload)
}

// State returns the current scan state.
func (s *Scanner) State() engine.State {
	return s.engine.State()
}

// Status returns what the status surface currently shows.
func (s *Scanner) Status() Status {
	return s.cfg.Messages.statusFor(s.engine.State())
}

// Locked reports whether new detections are refused.
func (s *Scanner) Locked() bool {
	return s.engine.Locked()
}

// Session returns the engine session id.
func (s *Scanner) Session() string {
	return s.engine.Session()
}

// Flush waits until every queued event has been applied.
func (s *Scanner) Flush(ctx context.Context) error {
	return s.engine.Flush(ctx)
}

// Wait blocks until running still-image passes have delivered.
func (s *Scanner) Wait() {
	s.detector.Wait()
}

// Close tears everything down: the engine stops accepting events, pending
// image results are discarded and the camera is released.
func (s *Scanner) Close() error {
	s.engine.Stop()
	s.capture.Stop()
	s.detector.Close()
	return s.capture.Close()
}
