// Package capturetest provides a scripted camera backend for tests and
// scenario runs.
package capturetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/scan"
)

// Backend is a capture.Backend whose behavior is set by its fields.
type Backend struct {
	mu      sync.Mutex
	denied  bool
	devices map[capture.Position]*Device
	calls   int
}

// NewBackend returns a backend with the given devices attached.
func NewBackend(devices ...*Device) *Backend {
	b := &Backend{devices: make(map[capture.Position]*Device)}
	for _, d := range devices {
		b.devices[d.pos] = d
	}
	return b
}

// Deny makes subsequent Authorize calls fail with PERMISSION_DENIED.
func (b *Backend) Deny(denied bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.denied = denied
}

// AuthorizeCalls returns how often Authorize was called.
func (b *Backend) AuthorizeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Authorize implements capture.Backend.
func (b *Backend) Authorize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.denied {
		return scan.NewPermissionError(errors.New("user refused camera access"))
	}
	return ctx.Err()
}

// Device implements capture.Backend.
func (b *Backend) Device(pos capture.Position) (capture.Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[pos]
	if !ok {
		return nil, false
	}
	return d, true
}

// Device is a scripted camera.
type Device struct {
	id    string
	pos   capture.Position
	torch bool

	mu        sync.Mutex
	mode      capture.TorchMode
	openErr   error
	configErr error
	opens     int
	stream    *Stream
}

// NewDevice creates a device. Back cameras have a torch.
func NewDevice(id string, pos capture.Position) *Device {
	return &Device{id: id, pos: pos, torch: pos == capture.PositionBack}
}

// FailOpen makes the next Open calls return err.
func (d *Device) FailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// FailConfigure makes streams opened from now on reject Configure.
func (d *Device) FailConfigure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configErr = err
}

// Opens returns how many times Open succeeded.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Stream returns the most recently opened stream, or nil.
func (d *Device) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// Torch returns the torch mode last applied to the hardware.
func (d *Device) Torch() capture.TorchMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Device) ID() string                 { return d.id }
func (d *Device) Position() capture.Position { return d.pos }
func (d *Device) HasTorch() bool             { return d.torch }

func (d *Device) IsTorchModeSupported(capture.TorchMode) bool { return d.torch }

func (d *Device) SetTorchMode(mode capture.TorchMode) error {
	if !d.torch {
		return fmt.Errorf("device %s has no torch", d.id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	return nil
}

// Open implements capture.Device.
func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opens++
	d.stream = NewStream()
	d.stream.configErr = d.configErr
	return d.stream, nil
}

// Stream is a capture.Stream fed by Push.
type Stream struct {
	batches chan []scan.RawCode

	mu         sync.Mutex
	configured []scan.Symbology
	configErr  error
	closed     bool
	failErr    error

	// pushed counts batches queued; handled counts batches whose reader has
	// come back for more, which means the previous batch was fully handled.
	pushed    int
	delivered int
	handled   int
}

// NewStream creates an unattached stream.
func NewStream() *Stream {
	return &Stream{batches: make(chan []scan.RawCode, 64)}
}

// Push queues one frame worth of codes.
func (s *Stream) Push(codes ...scan.RawCode) {
	s.mu.Lock()
	s.pushed++
	s.mu.Unlock()
	s.batches <- codes
}

// Settled reports whether every pushed batch was read and the reader has
// returned to Next, so the handler has seen all of them.
func (s *Stream) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handled == s.pushed
}

// Fail makes the next Next call return err.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
	s.batches <- nil
}

// Configured returns the symbologies passed to Configure.
func (s *Stream) Configured() []scan.Symbology {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending returns the number of queued batches not yet read.
func (s *Stream) Pending() int {
	return len(s.batches)
}

func (s *Stream) Configure(types []scan.Symbology) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configErr != nil {
		return s.configErr
	}
	s.configured = append([]scan.Symbology(nil), types...)
	return nil
}

func (s *Stream) Next(ctx context.Context) ([]scan.RawCode, error) {
	s.mu.Lock()
	s.handled = s.delivered
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case codes := <-s.batches:
		s.mu.Lock()
		s.delivered++
		err := s.failErr
		s.failErr = nil
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return codes, nil
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
