package cli

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/capture/dirsource"
	"github.com/roach88/qbar/internal/config"
)

// CameraFactory builds a capture backend from the effective profile.
type CameraFactory func(p config.Profile, logger *slog.Logger) (capture.Backend, error)

var cameras = map[string]CameraFactory{
	"dir": dirCamera,
}

// RegisterCamera makes a backend selectable with --camera. Backends with
// native dependencies register themselves from build-tagged files.
func RegisterCamera(name string, f CameraFactory) {
	cameras[name] = f
}

func cameraNames() []string {
	names := make([]string, 0, len(cameras))
	for name := range cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newCamera(name string, p config.Profile, logger *slog.Logger) (capture.Backend, error) {
	f, ok := cameras[name]
	if !ok {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("unknown camera %q: available %v", name, cameraNames()))
	}
	return f(p, logger)
}

func dirCamera(p config.Profile, logger *slog.Logger) (capture.Backend, error) {
	cfg, ok, err := p.DirSource()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid camera settings", err)
	}
	if !ok {
		return nil, NewExitError(ExitCommandError, "no frame directory: pass --frames or set camera.back_dir")
	}
	cfg.Logger = logger
	return dirsource.New(cfg), nil
}
