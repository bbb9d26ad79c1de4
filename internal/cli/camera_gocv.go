//go:build gocv

package cli

import (
	"log/slog"

	"github.com/roach88/qbar/internal/capture"
	"github.com/roach88/qbar/internal/capture/gocvcam"
	"github.com/roach88/qbar/internal/config"
)

func init() {
	RegisterCamera("gocv", func(p config.Profile, _ *slog.Logger) (capture.Backend, error) {
		return gocvcam.New(p.Camera.BackDevice, p.Camera.FrontDevice), nil
	})
}
