package harness

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/capture/capturetest"
	"github.com/roach88/qbar/internal/decode"
	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/gallery"
	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
	"github.com/roach88/qbar/internal/scanner"
	"github.com/roach88/qbar/internal/sched"
	"github.com/roach88/qbar/internal/testutil"
)

// stepTimeout bounds how long one step may wait for the engine.
const stepTimeout = 5 * time.Second

// Harness drives one scanner through a scenario.
type Harness struct {
	scanner *scanner.Scanner
	gate    *gate
	backend *capturetest.Backend
	devices map[capture.Position]*capturetest.Device
	clock   *sched.Manual
	trace   *collector
	logger  *slog.Logger

	stopRun context.CancelFunc
	done    chan struct{}
	stopped bool
}

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	logger   *slog.Logger
	recorder engine.Recorder
}

// WithLogger sets the scanner logger. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// WithRecorder also sends every transition to r, e.g. a journal.
func WithRecorder(r engine.Recorder) Option {
	return func(o *runOptions) { o.recorder = r }
}

// Run executes a scenario on a fresh scanner and evaluates its assertions.
// The returned error covers harness failures only; scenario failures are
// reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := scannerConfig(scenario.Config)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		devices: make(map[capture.Position]*capturetest.Device),
		clock:   sched.NewManual(),
		trace:   &collector{},
		logger:  o.logger,
	}
	h.backend = h.buildCamera(scenario.Camera)
	h.gate = &gate{next: decode.New(cfg.Filter)}

	var recorder engine.Recorder = h.trace
	if o.recorder != nil {
		recorder = teeRecorder{h.trace, o.recorder}
	}

	h.scanner = scanner.New(h.backend, cfg,
		scanner.WithCodeHandler(h.trace),
		scanner.WithErrorHandler(h.trace),
		scanner.WithDismissalHandler(h.trace),
		scanner.WithRecorder(recorder),
		scanner.WithScheduler(h.clock),
		scanner.WithSessionGenerator(testutil.NewFixedSessionGenerator(scenario.Session)),
		scanner.WithDecoder(h.gate),
		scanner.WithLogger(o.logger),
	)

	// The engine runs on its own context so teardown does not cancel the
	// steps' image passes.
	ctx := context.Background()
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	h.stopRun = stopRun
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		_ = h.scanner.Run(runCtx)
	}()
	defer func() {
		h.gate.release()
		_ = h.scanner.Close()
		<-h.done
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	result.Trace = h.trace.snapshot()
	result.Final = h.final()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"name", scenario.Name,
		"pass", result.Pass,
		"events", len(result.Trace),
	)
	return result, nil
}

func scannerConfig(c Config) (scanner.Config, error) {
	cfg := scanner.DefaultConfig()
	if c.OneShot != nil {
		cfg.OneShot = *c.OneShot
	}
	if len(c.Symbologies) > 0 {
		filter, err := scan.ParseFilter(c.Symbologies)
		if err != nil {
			return cfg, err
		}
		cfg.Filter = filter
	}
	if c.NotFoundDelay != "" {
		d, err := time.ParseDuration(c.NotFoundDelay)
		if err != nil {
			return cfg, err
		}
		cfg.NotFoundDelay = d
	}
	if c.DedupeWindow != "" {
		d, err := time.ParseDuration(c.DedupeWindow)
		if err != nil {
			return cfg, err
		}
		cfg.DedupeWindow = d
	}
	return cfg, nil
}

func (h *Harness) buildCamera(c Camera) *capturetest.Backend {
	var devices []*capturetest.Device
	if !c.NoBack {
		back := capturetest.NewDevice("back-0", capture.PositionBack)
		if c.FailOpen != "" {
			back.FailOpen(errors.New(c.FailOpen))
		}
		h.devices[capture.PositionBack] = back
		devices = append(devices, back)
	}
	if c.Front {
		front := capturetest.NewDevice("front-0", capture.PositionFront)
		h.devices[capture.PositionFront] = front
		devices = append(devices, front)
	}

	backend := capturetest.NewBackend(devices...)
	backend.Deny(c.Deny)
	return backend
}

// execute runs one step and waits until the engine has applied its effects.
func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	s := h.scanner

	switch step.Op {
	case OpSetup:
		if err := s.SetupCamera(ctx); err != nil {
			h.logger.Debug("setup failed", "step", i, "error", err)
		}

	case OpFrame:
		delivered, err := h.pushFrame(ctx, step.Codes)
		if err != nil {
			return err
		}
		if !delivered {
			result.DroppedFrames++
		}

	case OpImage:
		img, err := stepImage(step)
		if err != nil {
			return err
		}
		s.BeginImagePick()
		if step.Hold {
			h.gate.hold()
		}
		if _, err := s.DetectImage(ctx, img); err != nil {
			if errors.Is(err, gallery.ErrClosed) {
				h.logger.Debug("image refused: scanner torn down", "step", i)
				return nil
			}
			return err
		}
		if !step.Hold {
			s.Wait()
		}

	case OpRelease:
		h.gate.release()
		s.Wait()

	case OpTeardown:
		h.stopRun()
		<-h.done
		h.stopped = true

	case OpCancelPick:
		s.BeginImagePick()
		s.CancelImagePick()

	case OpReset:
		s.Reset()

	case OpResetWithError:
		s.ResetWithError(step.Message)

	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return err
		}
		h.clock.Advance(d)

	case OpSwapCamera:
		if err := s.SwapCamera(ctx); err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: swap_camera: %v", i, err))
		}

	case OpStart:
		s.Start()

	case OpStop:
		s.Stop()

	case OpCancel:
		s.Cancel()

	case OpExpect:
		if err := h.flush(ctx); err != nil {
			return err
		}
		for _, msg := range h.checkExpect(step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
		}
		return nil

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	return h.flush(ctx)
}

// pushFrame hands one frame to the active camera and waits until the frame
// handler has seen it. A paused camera produces no frames, so nothing is
// delivered and false is returned.
func (h *Harness) pushFrame(ctx context.Context, codes []Code) (bool, error) {
	if err := h.flush(ctx); err != nil {
		return false, err
	}
	pos, ok := h.scanner.Position()
	if !ok || !h.scanner.Capturing() {
		h.logger.Debug("frame dropped: camera paused")
		return false, nil
	}
	device := h.devices[pos]
	stream := device.Stream()
	if stream == nil {
		return false, fmt.Errorf("camera %s has no open stream", pos)
	}

	raw := make([]scan.RawCode, 0, len(codes))
	for _, c := range codes {
		sym, err := scan.ParseSymbology(c.Symbology)
		if err != nil {
			return false, err
		}
		raw = append(raw, scan.RawCode{Payload: c.Payload, Symbology: sym})
	}
	stream.Push(raw...)

	err := waitUntil(ctx, func() bool {
		return stream.Settled() || !h.scanner.Capturing()
	})
	return true, err
}

func stepImage(step Step) (image.Image, error) {
	if step.Blank {
		img := image.NewGray(image.Rect(0, 0, 200, 200))
		for i := range img.Pix {
			img.Pix[i] = uint8(color.White.Y >> 8)
		}
		return img, nil
	}
	sym, err := scan.ParseSymbology(step.Symbology)
	if err != nil {
		return nil, err
	}
	return normalize.RenderImage(step.Payload, sym)
}

func (h *Harness) flush(ctx context.Context) error {
	if h.stopped {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return h.scanner.Flush(ctx)
}

func waitUntil(ctx context.Context, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for frame delivery: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (h *Harness) final() FinalState {
	st := h.scanner.State()
	return FinalState{
		State:     string(st.Kind),
		Payload:   st.Payload,
		Symbology: st.Symbology.String(),
		Message:   st.Message,
		Locked:    h.scanner.Locked(),
	}
}

func (h *Harness) checkExpect(e *Expect) []string {
	var msgs []string
	st := h.scanner.State()

	if e.State != "" && string(st.Kind) != e.State {
		msgs = append(msgs, fmt.Sprintf("expected state %s, got %s", e.State, st.Kind))
	}
	if e.Payload != "" && st.Payload != e.Payload {
		msgs = append(msgs, fmt.Sprintf("expected payload %q, got %q", e.Payload, st.Payload))
	}
	if e.Symbology != "" && st.Symbology.String() != e.Symbology {
		msgs = append(msgs, fmt.Sprintf("expected symbology %s, got %s", e.Symbology, st.Symbology))
	}
	if e.Message != "" && st.Message != e.Message {
		msgs = append(msgs, fmt.Sprintf("expected message %q, got %q", e.Message, st.Message))
	}
	if e.Locked != nil && h.scanner.Locked() != *e.Locked {
		msgs = append(msgs, fmt.Sprintf("expected locked=%t", *e.Locked))
	}
	if e.Capturing != nil && h.scanner.Capturing() != *e.Capturing {
		msgs = append(msgs, fmt.Sprintf("expected capturing=%t", *e.Capturing))
	}
	return msgs
}

// teeRecorder records to the trace first, then to an external recorder.
type teeRecorder struct {
	trace engine.Recorder
	other engine.Recorder
}

func (t teeRecorder) Record(ctx context.Context, tr engine.Transition) error {
	if err := t.trace.Record(ctx, tr); err != nil {
		return err
	}
	return t.other.Record(ctx, tr)
}

// gate wraps the image decoder so a scenario can keep a pass in flight
// across other steps.
type gate struct {
	next gallery.Decoder

	mu   sync.Mutex
	wait chan struct{}
}

func (g *gate) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wait == nil {
		g.wait = make(chan struct{})
	}
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wait != nil {
		close(g.wait)
		g.wait = nil
	}
}

func (g *gate) Decode(ctx context.Context, img image.Image) ([]scan.RawCode, error) {
	g.mu.Lock()
	wait := g.wait
	g.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.next.Decode(ctx, img)
}
