package engine

import (
	"context"

	"github.com/roach88/qbar/internal/scan"
)

// Transition describes one applied state change, as handed to a Recorder.
type Transition struct {
	Session string
	Seq     int64
	From    Kind
	To      Kind

	// Trigger is the queued event type that caused the change.
	Trigger string

	// Set for detection-driven changes.
	Source    scan.Source
	Symbology scan.Symbology
	Payload   string

	// Set for changes into not_found.
	Message string
}

// Recorder persists transitions. Record is called on the Run goroutine;
// failures are logged and never affect state.
type Recorder interface {
	Record(ctx context.Context, t Transition) error
}
