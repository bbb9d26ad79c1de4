package cli

import (
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Symbology string
	Output    string
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <payload>",
		Short: "Render the preview image for a payload",
		Long: `Render the confirmation artwork shown next to a result.

QR payloads render as QR codes; every other symbology renders as Code 128.
The image is written as PNG.

Examples:
  qbar render https://example.com -o link.png
  qbar render --symbology ean13 4006381333931 -o shelf.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Symbology, "symbology", "qr", "symbology of the payload")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "PNG file to write")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runRender(cmd *cobra.Command, opts *RenderOptions, payload string) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	sym, err := scan.ParseSymbology(opts.Symbology)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid symbology", err)
	}
	payload, sym = normalize.Normalize(payload, sym)

	img, err := normalize.RenderImage(payload, sym)
	if err != nil {
		return WrapExitError(ExitFailure, "render failed", err)
	}

	f, err := os.Create(opts.Output)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot create output", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return WrapExitError(ExitFailure, "cannot write png", err)
	}
	if err := f.Close(); err != nil {
		return WrapExitError(ExitFailure, "cannot write png", err)
	}

	b := img.Bounds()
	if out.JSON() {
		return out.Success(map[string]any{
			"output":    opts.Output,
			"symbology": sym.String(),
			"width":     b.Dx(),
			"height":    b.Dy(),
		})
	}
	out.Textf("wrote %s (%dx%d %s)", opts.Output, b.Dx(), b.Dy(), sym)
	return nil
}
