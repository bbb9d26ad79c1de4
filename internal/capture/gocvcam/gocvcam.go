//go:build gocv

// Package gocvcam is a camera backend for webcams reached through OpenCV.
// It is only built with the gocv tag since it needs OpenCV installed.
package gocvcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/roach88/qbar/internal/capture"
)

// Backend opens OpenCV capture devices by index.
type Backend struct {
	BackID  int
	FrontID int // negative when there is no front camera
	Width   int
	Height  int
}

// New returns a backend for the given device indices.
func New(backID, frontID int) *Backend {
	return &Backend{BackID: backID, FrontID: frontID, Width: 640, Height: 480}
}

// Authorize always succeeds. OpenCV has no permission prompt, so access
// problems surface when the device is opened.
func (b *Backend) Authorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Device implements capture.Backend.
func (b *Backend) Device(pos capture.Position) (capture.Device, bool) {
	id := b.BackID
	if pos == capture.PositionFront {
		id = b.FrontID
	}
	if id < 0 {
		return nil, false
	}
	return &device{id: id, pos: pos, w: b.Width, h: b.Height}, true
}

type device struct {
	id   int
	pos  capture.Position
	w, h int
}

func (d *device) ID() string                 { return fmt.Sprintf("video%d", d.id) }
func (d *device) Position() capture.Position { return d.pos }

// OpenCV exposes no torch control.
func (d *device) HasTorch() bool                              { return false }
func (d *device) IsTorchModeSupported(capture.TorchMode) bool { return false }
func (d *device) SetTorchMode(capture.TorchMode) error        { return errors.New("torch not supported") }

func (d *device) Open(ctx context.Context) (capture.Stream, error) {
	cam, err := gocv.VideoCaptureDevice(d.id)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %d: %w", d.id, err)
	}
	cam.Set(gocv.VideoCaptureFrameWidth, float64(d.w))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(d.h))

	mat := gocv.NewMat()
	return capture.NewFrameStream(&source{cam: cam, frame: &mat}), nil
}

type source struct {
	mu    sync.Mutex
	cam   *gocv.VideoCapture
	frame *gocv.Mat
}

func (s *source) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cam.Read(s.frame) {
		return nil, errors.New("cannot read frame")
	}
	if s.frame.Empty() {
		// Cameras emit empty frames while warming up.
		return image.NewGray(image.Rect(0, 0, 1, 1)), nil
	}
	return s.frame.ToImage()
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Close()
	return s.cam.Close()
}
