// Package config loads scanner profiles. A profile is a CUE file unified
// with an embedded schema, so typos and unknown symbologies are rejected
// before anything starts.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/qbar/internal/capture/dirsource"
	"github.com/roach88/qbar/internal/scan"
	"github.com/roach88/qbar/internal/scanner"
)

//go:embed schema.cue
var schemaSource string

// Profile is a decoded scanner profile.
type Profile struct {
	Symbologies   []string `json:"symbologies" yaml:"symbologies"`
	OneShot       bool     `json:"one_shot" yaml:"one_shot"`
	NotFoundDelay string   `json:"not_found_delay" yaml:"not_found_delay"`
	DedupeWindow  string   `json:"dedupe_window" yaml:"dedupe_window"`
	Messages      Messages `json:"messages" yaml:"messages"`
	Camera        Camera   `json:"camera" yaml:"camera"`
	Journal       string   `json:"journal" yaml:"journal"`
}

// Messages are the status texts.
type Messages struct {
	Scanning     string `json:"scanning" yaml:"scanning"`
	Unauthorized string `json:"unauthorized" yaml:"unauthorized"`
	NotFound     string `json:"not_found" yaml:"not_found"`
	NotURL       string `json:"not_url" yaml:"not_url"`
}

// Camera selects and tunes the capture backend.
type Camera struct {
	BackDir     string `json:"back_dir" yaml:"back_dir"`
	FrontDir    string `json:"front_dir" yaml:"front_dir"`
	Interval    string `json:"interval" yaml:"interval"`
	Loop        bool   `json:"loop" yaml:"loop"`
	BackDevice  int    `json:"back_device" yaml:"back_device"`
	FrontDevice int    `json:"front_device" yaml:"front_device"`
}

// Error is a profile validation failure, positioned when CUE knows where.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the profile with every default applied.
func Default() Profile {
	p, err := Parse("default.cue", nil)
	if err != nil {
		// The embedded schema is fixed at build time.
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return *p
}

// Load reads and validates the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return Parse(path, data)
}

// Parse validates src against the schema. name is used in error positions.
func Parse(name string, src []byte) (*Profile, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	value := schema
	if len(src) > 0 {
		file := ctx.CompileBytes(src, cue.Filename(name))
		if err := file.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		value = schema.Unify(file)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var p Profile
	if err := value.LookupPath(cue.ParsePath("scanner")).Decode(&p); err != nil {
		return nil, formatCUEError(err)
	}
	return &p, nil
}

// Filter returns the allowed symbologies.
func (p Profile) Filter() (scan.Filter, error) {
	return scan.ParseFilter(p.Symbologies)
}

// Scanner converts the profile into a scanner configuration.
func (p Profile) Scanner() (scanner.Config, error) {
	filter, err := p.Filter()
	if err != nil {
		return scanner.Config{}, &Error{Field: "symbologies", Message: err.Error()}
	}
	delay, err := time.ParseDuration(p.NotFoundDelay)
	if err != nil {
		return scanner.Config{}, &Error{Field: "not_found_delay", Message: err.Error()}
	}
	window, err := time.ParseDuration(p.DedupeWindow)
	if err != nil {
		return scanner.Config{}, &Error{Field: "dedupe_window", Message: err.Error()}
	}

	return scanner.Config{
		Filter:        filter,
		OneShot:       p.OneShot,
		NotFoundDelay: delay,
		DedupeWindow:  window,
		Messages: scanner.Messages{
			Scanning:     p.Messages.Scanning,
			Unauthorized: p.Messages.Unauthorized,
			NotFound:     p.Messages.NotFound,
			NotURL:       p.Messages.NotURL,
		},
	}, nil
}

// DirSource returns the directory camera settings. ok is false when no
// image directory is configured.
func (p Profile) DirSource() (cfg dirsource.Config, ok bool, err error) {
	if p.Camera.BackDir == "" && p.Camera.FrontDir == "" {
		return dirsource.Config{}, false, nil
	}
	interval, err := time.ParseDuration(p.Camera.Interval)
	if err != nil {
		return dirsource.Config{}, false, &Error{Field: "camera.interval", Message: err.Error()}
	}
	return dirsource.Config{
		BackDir:  p.Camera.BackDir,
		FrontDir: p.Camera.FrontDir,
		Interval: interval,
		Loop:     p.Camera.Loop,
	}, true, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Field: "cue", Message: err.Error()}
	}

	first := errs[0]
	out := &Error{Field: "cue", Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		out.Field = strings.Join(path, ".")
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
