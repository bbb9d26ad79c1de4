package scan

import "image"

// Source identifies which producer created a detection event.
type Source int

const (
	// SourceLive is the continuous camera feed.
	SourceLive Source = iota + 1
	// SourceGallery is a one-shot still image picked by the user.
	SourceGallery
)

// String returns "live", "gallery" or "unknown".
func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceGallery:
		return "gallery"
	default:
		return "unknown"
	}
}

// RawCode is a detected-code object as reported by a capture pipeline or a
// decoder, before normalization.
type RawCode struct {
	Payload   string
	Symbology Symbology
}

// DetectionEvent is a normalized "code found" event. Values are never mutated
// after construction; Image may be nil, in which case the consumer renders one.
type DetectionEvent struct {
	Payload   string
	Symbology Symbology
	Source    Source
	Image     image.Image
}

// Ticket identifies one still-image request. Epoch changes when the engine is
// torn down, ID increases with every request; a completion is relevant only
// while both still match.
type Ticket struct {
	ID    uint64
	Epoch uint64
}

// ImageResult is the outcome of a still-image detection pass.
// A nil Event means nothing decodable was found and Message explains why.
type ImageResult struct {
	Event   *DetectionEvent
	Message string
}

// Found reports whether the pass produced an event.
func (r ImageResult) Found() bool {
	return r.Event != nil
}
