package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/qbar/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective scanner profile",
		Long: `Validate the profile given with --config and print it with defaults filled in.

Without --config the built-in defaults are printed.

Examples:
  qbar config
  qbar config -c kiosk.cue --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, rootOpts)
		},
	}
}

func runConfig(cmd *cobra.Command, opts *RootOptions) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	p, err := loadProfile(opts)
	if err != nil {
		return err
	}
	// Durations and symbologies are checked beyond what the schema enforces.
	if _, err := p.Scanner(); err != nil {
		return WrapExitError(ExitCommandError, "invalid profile", err)
	}

	if out.JSON() {
		return out.Success(p)
	}

	enc := yaml.NewEncoder(out.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]config.Profile{"scanner": p}); err != nil {
		return err
	}
	return enc.Close()
}
