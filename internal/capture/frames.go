package capture

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/roach88/qbar/internal/decode"
	"github.com/roach88/qbar/internal/scan"
)

// ErrNoDecodableTypes is returned by Configure when none of the requested
// symbologies can be decoded from raw frames.
var ErrNoDecodableTypes = errors.New("no decodable symbologies requested")

// FrameSource yields raw camera frames.
type FrameSource interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// NewFrameStream turns a FrameSource into a Stream by running the still
// image decoder over every frame.
func NewFrameStream(src FrameSource) Stream {
	return &frameStream{src: src}
}

type frameStream struct {
	src FrameSource

	mu      sync.Mutex
	decoder *decode.Decoder
}

func (s *frameStream) Configure(types []scan.Symbology) error {
	d := decode.New(scan.NewFilter(types...))
	if len(d.Symbologies()) == 0 {
		return ErrNoDecodableTypes
	}

	s.mu.Lock()
	s.decoder = d
	s.mu.Unlock()
	return nil
}

func (s *frameStream) Next(ctx context.Context) ([]scan.RawCode, error) {
	s.mu.Lock()
	d := s.decoder
	s.mu.Unlock()
	if d == nil {
		return nil, errors.New("stream not configured")
	}

	frame, err := s.src.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	return d.Decode(ctx, frame)
}

func (s *frameStream) Close() error {
	return s.src.Close()
}
