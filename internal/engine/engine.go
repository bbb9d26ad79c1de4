package engine

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
	"github.com/roach88/qbar/internal/sched"
)

const (
	// DefaultNotFoundDelay is how long not_found is shown before scanning resumes.
	DefaultNotFoundDelay = 2 * time.Second

	// DefaultDedupeWindow suppresses repeats of one code in continuous mode.
	DefaultDedupeWindow = 1500 * time.Millisecond
)

// Config is the startup configuration of an engine.
type Config struct {
	// OneShot locks after the first accepted detection until Reset.
	OneShot bool

	NotFoundDelay   time.Duration
	DedupeWindow    time.Duration
	NotFoundMessage string
}

// DefaultConfig returns a one-shot configuration with the standard delays.
func DefaultConfig() Config {
	return Config{
		OneShot:         true,
		NotFoundDelay:   DefaultNotFoundDelay,
		DedupeWindow:    DefaultDedupeWindow,
		NotFoundMessage: scan.DefaultNotFoundMessage,
	}
}

// Capture is the part of the camera session the engine controls.
type Capture interface {
	Start() error
	Stop()
}

// CodeHandler receives accepted codes.
type CodeHandler interface {
	OnCodeFound(payload, symbology string)
}

// ErrorHandler receives permission and device failures.
type ErrorHandler interface {
	OnError(err error)
}

// DismissalHandler is told when the user cancels out of a pending result.
type DismissalHandler interface {
	OnDismiss()
}

// StateObserver sees every state change, after it is applied.
type StateObserver interface {
	OnStateChange(prev, next State)
}

// Renderer produces preview artwork for a code.
type Renderer func(payload string, sym scan.Symbology) (image.Image, error)

// Option configures an Engine.
type Option func(*Engine)

func WithCodeHandler(h CodeHandler) Option           { return func(e *Engine) { e.onCode = h } }
func WithErrorHandler(h ErrorHandler) Option         { return func(e *Engine) { e.onError = h } }
func WithDismissalHandler(h DismissalHandler) Option { return func(e *Engine) { e.onDismiss = h } }
func WithObserver(o StateObserver) Option            { return func(e *Engine) { e.observer = o } }
func WithRecorder(r Recorder) Option                 { return func(e *Engine) { e.recorder = r } }

// WithScheduler replaces the wall clock, typically with a manual one in tests.
func WithScheduler(s sched.Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.sched = s
		}
	}
}

// WithRenderer replaces normalize.RenderImage for previews of events that
// arrive without an image.
func WithRenderer(r Renderer) Option {
	return func(e *Engine) { e.render = r }
}

// WithSessionGenerator sets how the session id is chosen.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.sessions = g
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine is the single-writer scan state machine.
//
// Thread-safety model:
//   - Submit*, Begin/CompleteImageRequest, Reset*, Dismiss, Start/StopCapture,
//     SetupResult, Stop, State, Locked: safe from any goroutine
//   - Run: exactly one goroutine
//   - callbacks run on the Run goroutine and must not block on the engine
type Engine struct {
	cfg      Config
	capture  Capture
	queue    *eventQueue
	clock    *Clock
	sched    sched.Scheduler
	render   Renderer
	recorder Recorder
	sessions SessionGenerator
	logger   *slog.Logger
	session  string

	onCode    CodeHandler
	onError   ErrorHandler
	onDismiss DismissalHandler
	observer  StateObserver

	epoch       atomic.Uint64
	lastRequest atomic.Uint64
	stopping    atomic.Bool
	stopOnce    sync.Once

	// Owned by the Run goroutine.
	machine     *fsm.FSM
	state       State
	locked      bool
	cameraReady bool
	denyPending bool
	expiryGen   uint64
	expiry      sched.Timer
	dedupe      *dedupeCache

	snapMu     sync.RWMutex
	snapState  State
	snapLocked bool
}

// New creates an engine in scanning. capture may be nil for an engine that
// only handles still images.
func New(cfg Config, capture Capture, opts ...Option) *Engine {
	if cfg.NotFoundDelay <= 0 {
		cfg.NotFoundDelay = DefaultNotFoundDelay
	}
	if cfg.NotFoundMessage == "" {
		cfg.NotFoundMessage = scan.DefaultNotFoundMessage
	}

	e := &Engine{
		cfg:      cfg,
		capture:  capture,
		queue:    newEventQueue(),
		clock:    NewClock(),
		sched:    sched.System{},
		render:   normalize.RenderImage,
		sessions: UUIDv7Generator{},
		logger:   slog.Default(),
		state:    State{Kind: KindScanning},
		dedupe:   newDedupeCache(cfg.DedupeWindow),
	}
	e.epoch.Store(1)

	for _, opt := range opts {
		opt(e)
	}

	e.session = e.sessions.Generate()
	e.machine = newMachine(e.logger)
	e.snapState = e.state
	return e
}

// Session returns the id stamped on recorded transitions.
func (e *Engine) Session() string {
	return e.session
}

// Config returns the configuration in effect.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run processes events until ctx is canceled or Stop is called, then tears
// the engine down. Returns nil after Stop and ctx.Err() after cancellation.
//
// Event failures are logged and processing continues; nothing in the loop
// is fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("scan engine starting",
		"session", e.session,
		"one_shot", e.cfg.OneShot,
	)
	defer e.teardown()

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if e.stopping.Load() {
				e.discard(event)
				continue
			}
			if err := e.processEvent(ctx, event); err != nil {
				e.logger.Warn("event failed",
					"type", event.Type.String(),
					"state", string(e.state.Kind),
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("scan engine stopping: context cancelled")
			e.Stop()
			e.drain()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("scan engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop tears the engine down. Queued events are discarded, pending image
// tickets become stale and no callback fires afterwards. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopping.Store(true)
		e.epoch.Add(1)
		e.queue.Close()
	})
}

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool {
	return e.stopping.Load()
}

func (e *Engine) drain() {
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.discard(ev)
	}
}

// discard drops an event after teardown. Flush waiters are still released.
func (e *Engine) discard(ev Event) {
	if ev.done != nil {
		close(ev.done)
		return
	}
	e.logger.Debug("event discarded after stop", "type", ev.Type.String())
}

func (e *Engine) teardown() {
	if e.expiry != nil {
		e.expiry.Stop()
		e.expiry = nil
	}
	e.stopCapture()

	e.onCode = nil
	e.onError = nil
	e.onDismiss = nil
	e.observer = nil

	e.logger.Info("scan engine stopped", "session", e.session)
}

// SubmitDetection queues a live detection. Returns false after Stop.
func (e *Engine) SubmitDetection(ev scan.DetectionEvent) bool {
	return e.queue.Enqueue(Event{Type: EventTypeDetection, Detection: &ev})
}

// BeginImageRequest issues a ticket for a still-image pass. Issuing a new
// ticket supersedes every earlier one.
func (e *Engine) BeginImageRequest() (scan.Ticket, bool) {
	if e.stopping.Load() {
		return scan.Ticket{}, false
	}
	return scan.Ticket{
		ID:    e.lastRequest.Add(1),
		Epoch: e.epoch.Load(),
	}, true
}

// CancelImageRequest invalidates every outstanding ticket.
func (e *Engine) CancelImageRequest() {
	e.lastRequest.Add(1)
}

// CompleteImageRequest queues the result of a still-image pass. It is applied
// only if the ticket is still the latest and the engine was not torn down.
func (e *Engine) CompleteImageRequest(t scan.Ticket, res scan.ImageResult) bool {
	return e.queue.Enqueue(Event{Type: EventTypeImageResult, Ticket: t, Image: &res})
}

// SetupResult reports the outcome of a camera setup. nil means ready.
func (e *Engine) SetupResult(err error) bool {
	return e.queue.Enqueue(Event{Type: EventTypeSetupResult, Err: err})
}

// Reset leaves processing and resumes scanning. It is a no-op elsewhere.
func (e *Engine) Reset() bool {
	return e.queue.Enqueue(Event{Type: EventTypeReset})
}

// ResetWithError shows msg in not_found, then resumes scanning after the
// configured delay. An empty msg uses the configured not-found message.
func (e *Engine) ResetWithError(msg string) bool {
	return e.queue.Enqueue(Event{Type: EventTypeResetWithError, Message: msg})
}

// Dismiss reports that the user cancelled out of a pending result.
func (e *Engine) Dismiss() bool {
	return e.queue.Enqueue(Event{Type: EventTypeDismiss})
}

// StartCapture resumes the camera if the current state allows scanning.
func (e *Engine) StartCapture() bool {
	return e.queue.Enqueue(Event{Type: EventTypeStartCapture})
}

// StopCapture pauses the camera without changing state.
func (e *Engine) StopCapture() bool {
	return e.queue.Enqueue(Event{Type: EventTypeStopCapture})
}

// Flush blocks until every event queued before the call has been applied.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(Event{Type: EventTypeFlush, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the latest applied state.
func (e *Engine) State() State {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snapState
}

// Locked reports whether new detections are currently refused.
func (e *Engine) Locked() bool {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snapLocked
}

// QueueLen returns the number of events waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) publish() {
	e.snapMu.Lock()
	e.snapState = e.state
	e.snapLocked = e.locked
	e.snapMu.Unlock()
}
