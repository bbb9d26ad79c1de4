// Package gallery runs one-shot code detection on user-picked still images.
package gallery

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"

	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

// ErrClosed is returned by Detect once the engine stops taking requests.
var ErrClosed = errors.New("gallery: detector closed")

// Decoder finds codes in a still image.
type Decoder interface {
	Decode(ctx context.Context, img image.Image) ([]scan.RawCode, error)
}

// Sink issues relevance tickets and receives results. CompleteImageRequest
// reports whether the result was queued; the engine decides later whether
// it still applies.
type Sink interface {
	BeginImageRequest() (scan.Ticket, bool)
	CompleteImageRequest(t scan.Ticket, res scan.ImageResult) bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithNotFoundMessage overrides scan.DefaultNotFoundMessage.
func WithNotFoundMessage(msg string) Option {
	return func(d *Detector) {
		if msg != "" {
			d.notFound = msg
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// Detector runs decode passes off the caller's goroutine. Passes cannot be
// canceled once started; their results are instead filtered by the engine
// through the ticket.
type Detector struct {
	decoder  Decoder
	sink     Sink
	notFound string
	logger   *slog.Logger

	// mu orders wg.Add against Close so Close never waits on a WaitGroup
	// that is still being added to.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDetector creates a detector.
func NewDetector(decoder Decoder, sink Sink, opts ...Option) *Detector {
	d := &Detector{
		decoder:  decoder,
		sink:     sink,
		notFound: scan.DefaultNotFoundMessage,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect starts a detection pass on img and returns its ticket immediately.
// ctx is handed to the decoder; a canceled pass completes as not found.
func (d *Detector) Detect(ctx context.Context, img image.Image) (scan.Ticket, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return scan.Ticket{}, ErrClosed
	}
	ticket, ok := d.sink.BeginImageRequest()
	if !ok {
		d.mu.Unlock()
		return scan.Ticket{}, ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		res := d.analyse(ctx, img)
		if !d.sink.CompleteImageRequest(ticket, res) {
			d.logger.Debug("image result discarded, engine closed", "ticket", ticket.ID)
		}
	}()

	return ticket, nil
}

// Analyse runs a pass synchronously without involving the engine.
func (d *Detector) Analyse(ctx context.Context, img image.Image) scan.ImageResult {
	return d.analyse(ctx, img)
}

func (d *Detector) analyse(ctx context.Context, img image.Image) scan.ImageResult {
	if img == nil {
		return scan.ImageResult{Message: d.notFound}
	}

	codes, err := d.decoder.Decode(ctx, img)
	if err != nil {
		d.logger.Debug("image decode failed", "error", err)
		return scan.ImageResult{Message: d.notFound}
	}
	if len(codes) == 0 {
		return scan.ImageResult{Message: d.notFound}
	}

	ev := normalize.Event(codes[0], scan.SourceGallery)
	preview, err := normalize.RenderImage(ev.Payload, ev.Symbology)
	if err != nil {
		// The code is still valid without artwork.
		d.logger.Warn("rendering preview", "symbology", ev.Symbology.String(), "error", err)
	}
	ev.Image = preview

	return scan.ImageResult{Event: &ev}
}

// Wait blocks until every started pass has delivered its result.
func (d *Detector) Wait() {
	d.wg.Wait()
}

// Close refuses further passes and waits for the running ones. Idempotent.
func (d *Detector) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
