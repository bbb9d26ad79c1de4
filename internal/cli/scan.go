package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/qbar/internal/config"
	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/journal"
	"github.com/roach88/qbar/internal/normalize"
	"github.com/roach88/qbar/internal/scan"
	"github.com/roach88/qbar/internal/scanner"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Camera      string
	Frames      string
	FrontFrames string
	Interval    time.Duration
	Loop        bool
	Continuous  bool
	Count       int
	Timeout     time.Duration
	Journal     string
	Symbologies []string
}

// ScannedCode is one reported code.
type ScannedCode struct {
	Payload   string `json:"payload"`
	Symbology string `json:"symbology"`
	URL       bool   `json:"url"`
}

// ScanResult is the scan command output.
type ScanResult struct {
	Session string        `json:"session"`
	Codes   []ScannedCode `json:"codes"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan codes from a camera",
		Long: `Run the scanner against a camera until enough codes are found.

The default camera replays image files from a directory as frames. Builds
with the gocv tag can also use a webcam (--camera gocv).

In one-shot mode (the default) every accepted code locks the scanner; the
command resets it and keeps going until --count codes were reported.

Exit codes:
  0 - codes were reported
  1 - camera refused or nothing found before the timeout
  2 - command error

Examples:
  qbar scan --frames ./frames
  qbar scan --frames ./frames --continuous --count 5
  qbar scan --camera gocv --timeout 30s --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Camera, "camera", "dir", "camera backend")
	cmd.Flags().StringVar(&opts.Frames, "frames", "", "directory of back-camera frames")
	cmd.Flags().StringVar(&opts.FrontFrames, "front-frames", "", "directory of front-camera frames")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "delay between frames")
	cmd.Flags().BoolVar(&opts.Loop, "loop", false, "replay frames forever")
	cmd.Flags().BoolVar(&opts.Continuous, "continuous", false, "keep scanning while showing results")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "stop after this many codes")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "give up after this long")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record transitions to this SQLite file")
	cmd.Flags().StringSliceVar(&opts.Symbologies, "symbology", nil, "allowed symbologies (repeatable)")

	return cmd
}

// applyScanFlags layers flags over the profile.
func applyScanFlags(cmd *cobra.Command, p *config.Profile, opts *ScanOptions) {
	flags := cmd.Flags()
	if flags.Changed("frames") {
		p.Camera.BackDir = opts.Frames
	}
	if flags.Changed("front-frames") {
		p.Camera.FrontDir = opts.FrontFrames
	}
	if flags.Changed("interval") {
		p.Camera.Interval = opts.Interval.String()
	}
	if flags.Changed("loop") {
		p.Camera.Loop = opts.Loop
	}
	if flags.Changed("continuous") {
		p.OneShot = !opts.Continuous
	}
	if flags.Changed("journal") {
		p.Journal = opts.Journal
	}
	if flags.Changed("symbology") {
		p.Symbologies = opts.Symbologies
	}
}

// codeSink collects codes from the engine goroutine and signals when
// enough were seen.
type codeSink struct {
	mu     sync.Mutex
	codes  []ScannedCode
	want   int
	done   chan struct{}
	once   sync.Once
	onCode func(c ScannedCode, n int)

	errOnce sync.Once
	err     error
	failed  chan struct{}
}

func newCodeSink(want int, onCode func(c ScannedCode, n int)) *codeSink {
	return &codeSink{want: want, done: make(chan struct{}), failed: make(chan struct{}), onCode: onCode}
}

func (c *codeSink) OnCodeFound(payload, symbology string) {
	code := ScannedCode{Payload: payload, Symbology: symbology, URL: normalize.IsLikelyURL(payload)}
	c.mu.Lock()
	c.codes = append(c.codes, code)
	n := len(c.codes)
	c.mu.Unlock()

	if c.onCode != nil {
		c.onCode(code, n)
	}
	if n >= c.want {
		c.once.Do(func() { close(c.done) })
	}
}

func (c *codeSink) OnError(err error) {
	c.errOnce.Do(func() {
		c.err = err
		close(c.failed)
	})
}

func (c *codeSink) list() []ScannedCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ScannedCode{}, c.codes...)
}

func runScan(cmd *cobra.Command, opts *ScanOptions) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.Count < 1 {
		return NewExitError(ExitCommandError, "--count must be at least 1")
	}

	profile, err := loadProfile(opts.RootOptions)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, &profile, opts)

	cfg, err := profile.Scanner()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scanner settings", err)
	}
	backend, err := newCamera(opts.Camera, profile, logger)
	if err != nil {
		return err
	}

	var s *scanner.Scanner
	sink := newCodeSink(opts.Count, func(c ScannedCode, n int) {
		out.Textf("%s\t%s", c.Symbology, c.Payload)
		// One-shot locks after every code; unlock until enough were seen.
		if cfg.OneShot && n < opts.Count {
			s.Reset()
		}
	})

	scannerOpts := []scanner.Option{
		scanner.WithCodeHandler(sink),
		scanner.WithErrorHandler(sink),
		scanner.WithLogger(logger),
	}
	if profile.Journal != "" {
		j, err := journal.Open(profile.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot open journal", err)
		}
		defer j.Close()
		scannerOpts = append(scannerOpts, scanner.WithRecorder(j))
	}
	s = scanner.New(backend, cfg, scannerOpts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()
	defer func() {
		_ = s.Close()
		<-runErr
	}()

	if err := s.SetupCamera(ctx); err != nil {
		return scanFailure(out, err)
	}

	select {
	case <-sink.done:
	case <-sink.failed:
		return scanFailure(out, sink.err)
	case <-ctx.Done():
	}

	codes := sink.list()
	if len(codes) == 0 {
		if err := out.Error("NOT_FOUND", "no code found before the timeout", nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "no code found")
	}
	if len(codes) > opts.Count {
		codes = codes[:opts.Count]
	}
	if out.JSON() {
		return out.Success(ScanResult{Session: s.Session(), Codes: codes})
	}
	return nil
}

func scanFailure(out *OutputFormatter, err error) error {
	code := "SCAN_FAILED"
	var se *scan.Error
	if errors.As(err, &se) {
		code = string(se.Code)
	}
	msg := err.Error()
	if scan.IsPermissionDenied(err) {
		msg = scanner.DefaultMessages().Unauthorized
	}
	if ferr := out.Error(code, msg, nil); ferr != nil {
		return ferr
	}
	if errors.Is(err, engine.ErrStopped) {
		return WrapExitError(ExitFailure, "scanner stopped", err)
	}
	return WrapExitError(ExitFailure, fmt.Sprintf("scan failed [%s]", code), err)
}
