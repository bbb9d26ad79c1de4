package engine

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/roach88/qbar/internal/scan"
)

// Kind is the tag of the scan state union.
type Kind string

const (
	KindScanning     Kind = "scanning"
	KindProcessing   Kind = "processing"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
)

// State is a snapshot of the scan state. Payload, Symbology and Preview are
// set only in processing; Message only in not_found.
type State struct {
	Kind      Kind
	Payload   string
	Symbology scan.Symbology
	Preview   image.Image
	Message   string
}

// AcceptsDetections reports whether a detection may move the engine out of
// this state when unlocked.
func (s State) AcceptsDetections() bool {
	return s.Kind == KindScanning || s.Kind == KindProcessing
}

// Transition event names.
const (
	evDetect    = "detect"
	evFail      = "fail"
	evExpire    = "expire"
	evReset     = "reset"
	evDeny      = "deny"
	evAuthorize = "authorize"
)

func newMachine(logger *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		string(KindScanning),
		fsm.Events{
			{Name: evDetect, Src: []string{string(KindScanning), string(KindProcessing)}, Dst: string(KindProcessing)},
			{Name: evFail, Src: []string{string(KindScanning), string(KindProcessing), string(KindNotFound)}, Dst: string(KindNotFound)},
			{Name: evExpire, Src: []string{string(KindNotFound)}, Dst: string(KindScanning)},
			{Name: evReset, Src: []string{string(KindProcessing)}, Dst: string(KindScanning)},
			{Name: evDeny, Src: []string{string(KindScanning)}, Dst: string(KindUnauthorized)},
			{Name: evAuthorize, Src: []string{string(KindUnauthorized)}, Dst: string(KindScanning)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("state entered", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// fire runs event through the transition table. Re-entering the current
// state (processing to processing, not_found to not_found) is allowed.
func fire(ctx context.Context, m *fsm.FSM, event string) error {
	from := Kind(m.Current())
	err := m.Event(ctx, event)
	if err == nil {
		return nil
	}

	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	return &TransitionError{Event: event, From: from, Err: err}
}
