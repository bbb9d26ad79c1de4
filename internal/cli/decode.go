package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/qbar/internal/decode"
	"github.com/roach88/qbar/internal/gallery"
	"github.com/roach88/qbar/internal/imageio"
	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
)

// DecodeOptions holds flags for the decode command.
type DecodeOptions struct {
	*RootOptions
	All         bool
	Symbologies []string
}

// DecodeResult is the decode command output for one file.
type DecodeResult struct {
	File  string        `json:"file"`
	MIME  string        `json:"mime,omitempty"`
	Codes []ScannedCode `json:"codes"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decode <image>",
		Short: "Decode codes in an image file",
		Long: `Decode a still image the way a gallery pick is decoded.

JPEG, PNG, GIF, BMP, TIFF, WebP and HEIC images are read directly; for PDF
documents the first page is used. By default only the first code is
reported; --all lists every code found.

Exit codes:
  0 - at least one code found
  1 - nothing decodable in the image
  2 - unreadable file or bad flags

Examples:
  qbar decode ticket.png
  qbar decode --all --symbology qr --symbology ean13 shelf.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "report every code, not just the first")
	cmd.Flags().StringSliceVar(&opts.Symbologies, "symbology", nil, "allowed symbologies (repeatable)")

	return cmd
}

func runDecode(cmd *cobra.Command, opts *DecodeOptions, path string) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	profile, err := loadProfile(opts.RootOptions)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("symbology") {
		profile.Symbologies = opts.Symbologies
	}
	filter, err := profile.Filter()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid symbology", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot read image", err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		if errors.Is(err, imageio.ErrUnsupportedFormat) || errors.Is(err, imageio.ErrEmpty) {
			return WrapExitError(ExitCommandError, "not an image", err)
		}
		return WrapExitError(ExitCommandError, "cannot decode image", err)
	}

	decoder := decode.New(filter)
	result := DecodeResult{File: path, MIME: imageio.MIME(data), Codes: []ScannedCode{}}

	if opts.All {
		raws, err := decoder.Decode(cmd.Context(), img)
		if err != nil {
			return WrapExitError(ExitCommandError, "decode failed", err)
		}
		for _, raw := range raws {
			ev := normalize.Event(raw, scan.SourceGallery)
			result.Codes = append(result.Codes, ScannedCode{
				Payload:   ev.Payload,
				Symbology: ev.Symbology.String(),
				URL:       normalize.IsLikelyURL(ev.Payload),
			})
		}
	} else {
		// Same path as a gallery pick, minus the engine.
		res := gallery.NewDetector(decoder, nil,
			gallery.WithNotFoundMessage(profile.Messages.NotFound),
			gallery.WithLogger(logger),
		).Analyse(cmd.Context(), img)
		if res.Found() {
			result.Codes = append(result.Codes, ScannedCode{
				Payload:   res.Event.Payload,
				Symbology: res.Event.Symbology.String(),
				URL:       normalize.IsLikelyURL(res.Event.Payload),
			})
		}
	}

	if len(result.Codes) == 0 {
		msg := profile.Messages.NotFound
		if msg == "" {
			msg = scan.DefaultNotFoundMessage
		}
		if err := out.Error(string(scan.ErrCodeDecodeFailed), msg, map[string]string{"file": path}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "no code found")
	}

	if out.JSON() {
		return out.Success(result)
	}
	for _, c := range result.Codes {
		out.Textf("%s\t%s", c.Symbology, c.Payload)
	}
	return nil
}
