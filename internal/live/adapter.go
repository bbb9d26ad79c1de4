// Package live bridges the camera's detection stream to the scan engine.
package live

import (
	"log/slog"

	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

// Sink accepts normalized detection events. SubmitDetection must not block;
// it reports whether the event was queued.
type Sink interface {
	SubmitDetection(ev scan.DetectionEvent) bool
}

// Adapter is a capture.FrameHandler that filters and normalizes raw codes
// and forwards them to a Sink. It holds no scan state of its own.
type Adapter struct {
	filter scan.Filter
	sink   Sink
	logger *slog.Logger
}

// NewAdapter creates an adapter. A nil logger uses slog.Default().
func NewAdapter(filter scan.Filter, sink Sink, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{filter: filter, sink: sink, logger: logger}
}

// HandleCodes processes one frame's worth of detected codes in order.
func (a *Adapter) HandleCodes(codes []scan.RawCode) {
	for _, raw := range codes {
		if raw.Payload == "" {
			continue
		}
		if !a.filter.Allows(raw.Symbology) {
			a.logger.Debug("dropping code",
				"error", scan.NewFilteredError(raw.Symbology),
			)
			continue
		}

		if !a.sink.SubmitDetection(normalize.Event(raw, scan.SourceLive)) {
			a.logger.Debug("engine not accepting detections", "symbology", raw.Symbology.String())
			return
		}
	}
}
