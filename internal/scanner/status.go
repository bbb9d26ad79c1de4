package scanner

import (
	"image"

	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

// Messages are the user-facing texts shown on the status surface.
type Messages struct {
	Scanning     string
	Unauthorized string
	NotFound     string
	NotURL       string
}

// DefaultMessages returns the standard English texts.
func DefaultMessages() Messages {
	return Messages{
		Scanning:     "Point camera at QR Code or Barcode",
		Unauthorized: "To be able to scan, turn on the camera from settings",
		NotFound:     scan.DefaultNotFoundMessage,
		NotURL:       normalize.NotURLMessage,
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	if m.Scanning == "" {
		m.Scanning = d.Scanning
	}
	if m.Unauthorized == "" {
		m.Unauthorized = d.Unauthorized
	}
	if m.NotFound == "" {
		m.NotFound = d.NotFound
	}
	if m.NotURL == "" {
		m.NotURL = d.NotURL
	}
	return m
}

// Status is what the status surface should display for a state.
type Status struct {
	Kind      engine.Kind
	Text      string
	Symbology string
	Preview   image.Image

	// Actions offered alongside the text.
	CanOpenLink  bool
	ShowSettings bool
}

// StatusSurface displays state changes. ShowStatus runs on the engine
// goroutine and must return quickly.
type StatusSurface interface {
	ShowStatus(s Status)
}

// statusFor maps a state to its display.
func (m Messages) statusFor(st engine.State) Status {
	out := Status{Kind: st.Kind}
	switch st.Kind {
	case engine.KindScanning:
		out.Text = m.Scanning
	case engine.KindProcessing:
		out.Text = st.Payload
		out.Symbology = st.Symbology.String()
		out.Preview = st.Preview
		out.CanOpenLink = normalize.IsLikelyURL(st.Payload)
	case engine.KindNotFound:
		out.Text = st.Message
	case engine.KindUnauthorized:
		out.Text = m.Unauthorized
		out.ShowSettings = true
	}
	return out
}
