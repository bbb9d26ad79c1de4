// Package capture owns the camera: authorization, device selection, the
// code-detection stream, torch control and start/stop.
//
// Platform camera stacks plug in through Backend. Everything above this
// package sees only a FrameHandler receiving batches of raw codes.
package capture

import (
	"context"

	"github.com/roach88/qbar/internal/scan"
)

// Position is the physical facing of a camera.
type Position int

const (
	PositionBack Position = iota
	PositionFront
)

// String returns "back" or "front".
func (p Position) String() string {
	if p == PositionFront {
		return "front"
	}
	return "back"
}

// Opposite returns the other facing.
func (p Position) Opposite() Position {
	if p == PositionFront {
		return PositionBack
	}
	return PositionFront
}

// TorchMode is the flashlight state.
type TorchMode int

const (
	TorchOff TorchMode = iota
	TorchOn
)

// Next cycles to the following torch mode.
func (t TorchMode) Next() TorchMode {
	if t == TorchOn {
		return TorchOff
	}
	return TorchOn
}

// String returns "off" or "on".
func (t TorchMode) String() string {
	if t == TorchOn {
		return "on"
	}
	return "off"
}

// Backend is a platform camera stack.
type Backend interface {
	// Authorize asks for camera access. A refusal must be reported as a
	// *scan.Error with code PERMISSION_DENIED.
	Authorize(ctx context.Context) error

	// Device returns the camera at the given position, if one exists.
	Device(pos Position) (Device, bool)
}

// Device is a single camera.
type Device interface {
	ID() string
	Position() Position
	HasTorch() bool
	IsTorchModeSupported(mode TorchMode) bool
	SetTorchMode(mode TorchMode) error

	// Open attaches the device as input and returns its detection stream.
	Open(ctx context.Context) (Stream, error)
}

// Stream produces batches of codes detected in consecutive frames.
type Stream interface {
	// Configure restricts detection to the given symbologies.
	Configure(types []scan.Symbology) error

	// Next blocks until the next frame has been analysed. An empty batch
	// means the frame held no code. Next must return promptly with
	// ctx.Err() once ctx is done.
	Next(ctx context.Context) ([]scan.RawCode, error)

	Close() error
}

// FrameHandler receives every non-empty batch delivered by a running stream.
// It is called from the delivery goroutine and must not call Manager.Stop.
type FrameHandler interface {
	HandleCodes(codes []scan.RawCode)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(codes []scan.RawCode)

// HandleCodes calls f(codes).
func (f FrameHandlerFunc) HandleCodes(codes []scan.RawCode) { f(codes) }
