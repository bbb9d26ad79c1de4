package live

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/qbar/internal/scan"
)

type sinkStub struct {
	events []scan.DetectionEvent
	closed bool
}

func (s *sinkStub) SubmitDetection(ev scan.DetectionEvent) bool {
	if s.closed {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func TestHandleCodes_FiltersAndNormalizes(t *testing.T) {
	sink := &sinkStub{}
	a := NewAdapter(scan.NewFilter(scan.QR, scan.EAN13), sink, nil)

	a.HandleCodes([]scan.RawCode{
		{Payload: "0123456789012", Symbology: scan.EAN13},
		{Payload: "ignored", Symbology: scan.Code128},
		{Payload: "", Symbology: scan.QR},
		{Payload: "https://example.com", Symbology: scan.QR},
	})

	assert.Equal(t, []scan.DetectionEvent{
		{Payload: "123456789012", Symbology: scan.UPCA, Source: scan.SourceLive},
		{Payload: "https://example.com", Symbology: scan.QR, Source: scan.SourceLive},
	}, sink.events)
}

func TestHandleCodes_StopsWhenSinkClosed(t *testing.T) {
	sink := &sinkStub{closed: true}
	a := NewAdapter(scan.DefaultFilter(), sink, nil)

	a.HandleCodes([]scan.RawCode{{Payload: "x", Symbology: scan.QR}})

	assert.Empty(t, sink.events)
}

func TestHandleCodes_EmptyBatch(t *testing.T) {
	sink := &sinkStub{}
	NewAdapter(scan.DefaultFilter(), sink, nil).HandleCodes(nil)
	assert.Empty(t, sink.events)
}
