package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/qbar/internal/scan"
)

// ErrNotConfigured is returned by Start before a successful Setup.
var ErrNotConfigured = errors.New("capture session not configured")

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithErrorHandler registers a callback for stream failures that happen
// while running. The delivery loop stops after reporting.
func WithErrorHandler(fn func(error)) Option {
	return func(m *Manager) {
		m.onError = fn
	}
}

// Manager drives one camera session.
//
// All methods are safe for concurrent use. Setup, SwapCamera and Close are
// serialized against each other.
type Manager struct {
	backend Backend
	filter  scan.Filter
	handler FrameHandler
	onError func(error)
	logger  *slog.Logger

	opMu sync.Mutex

	mu      sync.Mutex
	device  Device
	stream  Stream
	torch   TorchMode
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a manager that delivers codes allowed by filter to handler.
func NewManager(backend Backend, filter scan.Filter, handler FrameHandler, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		filter:  filter,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Setup requests authorization, then attaches the back camera and configures
// detection for the filter's symbologies. Permission refusal is returned as
// a PERMISSION_DENIED error; every other failure as DEVICE_CONFIGURATION_FAILED.
// Calling Setup again replaces the current session.
func (m *Manager) Setup(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.backend.Authorize(ctx); err != nil {
		var se *scan.Error
		if errors.As(err, &se) {
			return err
		}
		return scan.NewPermissionError(err)
	}

	device, ok := m.backend.Device(PositionBack)
	if !ok {
		return scan.NewDeviceError("no back camera available", nil)
	}

	stream, err := m.openStream(ctx, device)
	if err != nil {
		return err
	}

	m.Stop()

	m.mu.Lock()
	old := m.stream
	m.device = device
	m.stream = stream
	m.torch = TorchOff
	m.mu.Unlock()

	if old != nil {
		m.closeStream(old)
	}

	m.logger.Info("capture configured",
		"device", device.ID(),
		"position", device.Position().String(),
		"symbologies", m.filter.String(),
	)
	return nil
}

func (m *Manager) openStream(ctx context.Context, device Device) (Stream, error) {
	stream, err := device.Open(ctx)
	if err != nil {
		return nil, scan.NewDeviceError("cannot attach camera input", err)
	}
	if err := stream.Configure(m.filter.List()); err != nil {
		m.closeStream(stream)
		return nil, scan.NewDeviceError("cannot configure detection output", err)
	}
	return stream, nil
}

func (m *Manager) closeStream(s Stream) {
	if err := s.Close(); err != nil {
		m.logger.Warn("closing camera stream", "error", err)
	}
}

// Start begins delivering detections. The torch is reset to off.
// Starting a running session is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return ErrNotConfigured
	}
	if m.running {
		return nil
	}

	m.setTorchLocked(TorchOff)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done

	go m.deliver(ctx, m.stream, done)

	m.logger.Debug("capture started")
	return nil
}

// Stop halts delivery and waits for the delivery goroutine to exit, so no
// batch is handed to the FrameHandler after Stop returns. The torch is reset
// to off. Stopping a stopped session is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	wasRunning := m.running
	m.cancel = nil
	m.running = false
	if m.device != nil {
		m.setTorchLocked(TorchOff)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if wasRunning {
		m.logger.Debug("capture stopped")
	}
}

func (m *Manager) deliver(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)

	for {
		codes, err := stream.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Warn("camera stream failed", "error", err)

			m.mu.Lock()
			if m.done == done {
				m.running = false
			}
			m.mu.Unlock()

			if m.onError != nil {
				m.onError(scan.NewDeviceError("camera stream failed", err))
			}
			return
		}
		if len(codes) == 0 {
			continue
		}
		m.handler.HandleCodes(codes)
	}
}

// SwapCamera switches between the back and front cameras. It is a no-op
// when no session is configured or the other camera does not exist. On
// failure the current camera stays attached.
func (m *Manager) SwapCamera(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	current := m.device
	m.mu.Unlock()
	if current == nil {
		return nil
	}

	next, ok := m.backend.Device(current.Position().Opposite())
	if !ok {
		m.logger.Debug("no camera to swap to", "position", current.Position().Opposite().String())
		return nil
	}

	stream, err := m.openStream(ctx, next)
	if err != nil {
		return err
	}

	m.mu.Lock()
	wasRunning := m.running
	m.mu.Unlock()

	m.Stop()

	m.mu.Lock()
	old := m.stream
	m.device = next
	m.stream = stream
	m.mu.Unlock()

	m.closeStream(old)

	m.logger.Info("camera swapped", "device", next.ID(), "position", next.Position().String())

	if wasRunning {
		return m.Start()
	}
	return nil
}

// SetTorchMode sets the torch when the current device supports the mode.
// Unsupported requests are ignored.
func (m *Manager) SetTorchMode(mode TorchMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setTorchLocked(mode)
}

// ToggleTorch switches to the next torch mode and returns the resulting mode.
func (m *Manager) ToggleTorch() TorchMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setTorchLocked(m.torch.Next())
	return m.torch
}

func (m *Manager) setTorchLocked(mode TorchMode) {
	d := m.device
	if d == nil || !d.HasTorch() || !d.IsTorchModeSupported(mode) {
		return
	}
	if err := d.SetTorchMode(mode); err != nil {
		m.logger.Warn("setting torch mode", "mode", mode.String(), "error", err)
		return
	}
	m.torch = mode
}

// TorchMode returns the current torch mode.
func (m *Manager) TorchMode() TorchMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.torch
}

// TorchAvailable reports whether the torch control should be offered.
// Front cameras never offer it.
func (m *Manager) TorchAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device != nil && m.device.Position() == PositionBack && m.device.HasTorch()
}

// Position returns the facing of the attached camera.
func (m *Manager) Position() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return PositionBack, false
	}
	return m.device.Position(), true
}

// Configured reports whether Setup has succeeded.
func (m *Manager) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Running reports whether detections are being delivered.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Close stops delivery and releases the camera.
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.Stop()

	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.device = nil
	m.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}
