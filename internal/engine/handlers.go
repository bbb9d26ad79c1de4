package engine

import (
	"context"
	"fmt"

	"github.com/roach88/qbar/internal/scan"
)

// processEvent routes an event to its handler.
// Called only from the Run goroutine.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventTypeDetection:
		if ev.Detection == nil {
			return fmt.Errorf("detection event missing detection")
		}
		return e.acceptDetection(ctx, *ev.Detection, ev.Type)

	case EventTypeImageResult:
		if ev.Image == nil {
			return fmt.Errorf("image result event missing result")
		}
		return e.processImageResult(ctx, ev.Ticket, *ev.Image)

	case EventTypeSetupResult:
		return e.processSetupResult(ctx, ev.Err)

	case EventTypeReset:
		return e.processReset(ctx)

	case EventTypeResetWithError:
		msg := ev.Message
		if msg == "" {
			msg = e.cfg.NotFoundMessage
		}
		if e.state.Kind == KindUnauthorized {
			e.logger.Debug("reset with error ignored while unauthorized")
			return nil
		}
		return e.enterNotFound(ctx, msg, ev.Type)

	case EventTypeExpire:
		return e.processExpire(ctx, ev.Generation)

	case EventTypeDismiss:
		if e.state.Kind == KindProcessing && e.onDismiss != nil {
			e.onDismiss.OnDismiss()
		}
		return nil

	case EventTypeStartCapture:
		if e.canCapture() {
			e.startCapture()
		}
		return nil

	case EventTypeStopCapture:
		e.stopCapture()
		return nil

	case EventTypeFlush:
		close(ev.done)
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
}

// acceptDetection applies a detection from either source.
func (e *Engine) acceptDetection(ctx context.Context, d scan.DetectionEvent, trigger EventType) error {
	if e.locked {
		e.logger.Debug("detection dropped: locked",
			"source", d.Source.String(),
			"symbology", d.Symbology.String(),
		)
		return nil
	}
	if !e.state.AcceptsDetections() {
		e.logger.Debug("detection dropped", "state", string(e.state.Kind))
		return nil
	}
	if !e.cfg.OneShot && e.dedupe.Observe(d.Payload, d.Symbology, e.sched.Now()) {
		return nil
	}

	preview := d.Image
	if preview == nil && e.render != nil {
		img, err := e.render(d.Payload, d.Symbology)
		if err != nil {
			e.logger.Warn("rendering preview", "symbology", d.Symbology.String(), "error", err)
		}
		preview = img
	}

	next := State{
		Kind:      KindProcessing,
		Payload:   d.Payload,
		Symbology: d.Symbology,
		Preview:   preview,
	}
	rec := Transition{Source: d.Source, Symbology: d.Symbology, Payload: d.Payload}
	if err := e.transition(ctx, evDetect, next, trigger, rec); err != nil {
		return err
	}

	if e.cfg.OneShot {
		e.locked = true
		e.publish()
		e.stopCapture()
	}

	e.logger.Info("code found",
		"source", d.Source.String(),
		"symbology", d.Symbology.String(),
	)
	if e.onCode != nil {
		e.onCode.OnCodeFound(d.Payload, d.Symbology.String())
	}
	return nil
}

// processImageResult applies a still-image completion if it is still relevant.
func (e *Engine) processImageResult(ctx context.Context, t scan.Ticket, res scan.ImageResult) error {
	if t.Epoch != e.epoch.Load() {
		e.logger.Debug("image result dropped: stale epoch", "ticket", t.ID)
		return nil
	}
	if t.ID != e.lastRequest.Load() {
		e.logger.Debug("image result dropped: superseded", "ticket", t.ID)
		return nil
	}
	if e.locked || !e.state.AcceptsDetections() {
		e.logger.Debug("image result dropped", "ticket", t.ID, "state", string(e.state.Kind), "locked", e.locked)
		return nil
	}

	if !res.Found() {
		msg := res.Message
		if msg == "" {
			msg = e.cfg.NotFoundMessage
		}
		return e.enterNotFound(ctx, msg, EventTypeImageResult)
	}
	return e.acceptDetection(ctx, *res.Event, EventTypeImageResult)
}

// enterNotFound shows msg, locks and arms the expiry timer. Entering again
// while already in not_found restarts the timer.
func (e *Engine) enterNotFound(ctx context.Context, msg string, trigger EventType) error {
	next := State{Kind: KindNotFound, Message: msg}
	if err := e.transition(ctx, evFail, next, trigger, Transition{Message: msg}); err != nil {
		return err
	}

	e.locked = true
	e.publish()
	e.stopCapture()
	e.armExpiry()
	return nil
}

func (e *Engine) armExpiry() {
	if e.expiry != nil {
		e.expiry.Stop()
	}
	e.expiryGen++
	gen := e.expiryGen
	e.expiry = e.sched.AfterFunc(e.cfg.NotFoundDelay, func() {
		e.queue.Enqueue(Event{Type: EventTypeExpire, Generation: gen})
	})
}

func (e *Engine) processExpire(ctx context.Context, gen uint64) error {
	if gen != e.expiryGen || e.state.Kind != KindNotFound {
		return nil
	}
	e.expiry = nil

	if err := e.transition(ctx, evExpire, State{Kind: KindScanning}, EventTypeExpire, Transition{}); err != nil {
		return err
	}
	e.locked = false
	e.publish()
	return e.resumeScanning(ctx, EventTypeExpire)
}

func (e *Engine) processReset(ctx context.Context) error {
	if e.state.Kind != KindProcessing {
		e.logger.Debug("reset ignored", "state", string(e.state.Kind))
		return nil
	}

	if err := e.transition(ctx, evReset, State{Kind: KindScanning}, EventTypeReset, Transition{}); err != nil {
		return err
	}
	e.locked = false
	e.dedupe.Clear()
	e.publish()
	return e.resumeScanning(ctx, EventTypeReset)
}

// resumeScanning runs after every entry into scanning. A permission denial
// that arrived while the engine was busy takes effect here.
func (e *Engine) resumeScanning(ctx context.Context, trigger EventType) error {
	if e.denyPending {
		e.denyPending = false
		return e.enterUnauthorized(ctx, trigger)
	}
	if e.cameraReady {
		e.startCapture()
	}
	return nil
}

func (e *Engine) processSetupResult(ctx context.Context, err error) error {
	switch {
	case err == nil:
		e.cameraReady = true
		e.denyPending = false
		if e.state.Kind == KindUnauthorized {
			if terr := e.transition(ctx, evAuthorize, State{Kind: KindScanning}, EventTypeSetupResult, Transition{}); terr != nil {
				return terr
			}
			e.locked = false
			e.publish()
			return e.resumeScanning(ctx, EventTypeSetupResult)
		}
		if e.canCapture() {
			e.startCapture()
		}
		return nil

	case scan.IsPermissionDenied(err):
		e.cameraReady = false
		e.logger.Warn("camera permission denied", "state", string(e.state.Kind))
		e.reportError(err)

		switch e.state.Kind {
		case KindScanning:
			return e.enterUnauthorized(ctx, EventTypeSetupResult)
		case KindUnauthorized:
			return nil
		default:
			e.denyPending = true
			return nil
		}

	default:
		e.cameraReady = false
		e.stopCapture()
		e.logger.Error("camera setup failed", "error", err)
		e.reportError(err)
		return nil
	}
}

func (e *Engine) enterUnauthorized(ctx context.Context, trigger EventType) error {
	if err := e.transition(ctx, evDeny, State{Kind: KindUnauthorized}, trigger, Transition{}); err != nil {
		return err
	}
	e.stopCapture()
	return nil
}

// transition moves the table, then applies next and notifies observers.
func (e *Engine) transition(ctx context.Context, event string, next State, trigger EventType, rec Transition) error {
	prev := e.state
	if err := fire(ctx, e.machine, event); err != nil {
		return err
	}
	e.state = next
	e.publish()

	rec.Session = e.session
	rec.Seq = e.clock.Next()
	rec.From = prev.Kind
	rec.To = next.Kind
	rec.Trigger = trigger.String()
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, rec); err != nil {
			e.logger.Warn("recording transition", "seq", rec.Seq, "error", err)
		}
	}

	e.logger.Debug("transition",
		"seq", rec.Seq,
		"from", string(prev.Kind),
		"to", string(next.Kind),
		"trigger", rec.Trigger,
	)
	if e.observer != nil {
		e.observer.OnStateChange(prev, next)
	}
	return nil
}

func (e *Engine) reportError(err error) {
	if e.onError != nil {
		e.onError.OnError(err)
	}
}

// canCapture reports whether the camera should be delivering frames.
func (e *Engine) canCapture() bool {
	return e.cameraReady && !e.locked && e.state.AcceptsDetections()
}

func (e *Engine) startCapture() {
	if e.capture == nil {
		return
	}
	if err := e.capture.Start(); err != nil {
		e.logger.Warn("starting capture", "error", err)
	}
}

func (e *Engine) stopCapture() {
	if e.capture != nil {
		e.capture.Stop()
	}
}
