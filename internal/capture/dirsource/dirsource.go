// Package dirsource is a camera backend that replays still images from a
// directory as frames. It stands in for hardware in demos, CI and on hosts
// without a camera.
package dirsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/imageio"
	"github.com/roach88/qbar/internal/scan"
)

// DefaultInterval is the delay between frames.
const DefaultInterval = 200 * time.Millisecond

// Config describes the directories backing each camera.
type Config struct {
	BackDir  string
	FrontDir string // optional

	Interval time.Duration
	Loop     bool
	Logger   *slog.Logger
}

// Backend implements capture.Backend over image directories.
type Backend struct {
	cfg Config
}

// New creates a directory backend.
func New(cfg Config) *Backend {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Backend{cfg: cfg}
}

// Authorize maps an unreadable back directory to PERMISSION_DENIED.
func (b *Backend) Authorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.ReadDir(b.cfg.BackDir); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return scan.NewPermissionError(err)
		}
		// Missing directories surface later as a device failure.
	}
	return nil
}

// Device implements capture.Backend.
func (b *Backend) Device(pos capture.Position) (capture.Device, bool) {
	dir := b.cfg.BackDir
	if pos == capture.PositionFront {
		dir = b.cfg.FrontDir
	}
	if dir == "" {
		return nil, false
	}
	return &device{dir: dir, pos: pos, cfg: b.cfg}, true
}

type device struct {
	dir string
	pos capture.Position
	cfg Config
}

func (d *device) ID() string                 { return "dir:" + d.dir }
func (d *device) Position() capture.Position { return d.pos }

// Image directories have no torch.
func (d *device) HasTorch() bool                              { return false }
func (d *device) IsTorchModeSupported(capture.TorchMode) bool { return false }
func (d *device) SetTorchMode(capture.TorchMode) error        { return errors.New("no torch") }

func (d *device) Open(ctx context.Context) (capture.Stream, error) {
	frames, err := loadFrames(d.dir, d.cfg.Logger)
	if err != nil {
		return nil, err
	}
	d.cfg.Logger.Debug("image directory opened", "dir", d.dir, "frames", len(frames))
	return capture.NewFrameStream(&source{
		frames:   frames,
		interval: d.cfg.Interval,
		loop:     d.cfg.Loop,
	}), nil
}

func loadFrames(dir string, logger *slog.Logger) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var frames []image.Image
	for _, name := range names {
		img, err := imageio.LoadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skipping frame", "file", name, "error", err)
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no readable images in %s", dir)
	}
	return frames, nil
}

// source plays frames in name order, one per interval.
type source struct {
	frames   []image.Image
	interval time.Duration
	loop     bool

	mu     sync.Mutex
	next   int
	closed bool
}

func (s *source) ReadFrame(ctx context.Context) (image.Image, error) {
	t := time.NewTimer(s.interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, os.ErrClosed
	}
	if s.next >= len(s.frames) {
		if !s.loop {
			// A finished reel behaves like a camera pointed at nothing.
			s.mu.Unlock()
			<-ctx.Done()
			return nil, ctx.Err()
		}
		s.next = 0
	}
	img := s.frames[s.next]
	s.next++
	s.mu.Unlock()
	return img, nil
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
