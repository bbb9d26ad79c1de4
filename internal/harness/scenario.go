package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/scan"
)

// Scenario is one scripted scanner session.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Session is the fixed session id. Defaults to "test-session-default".
	Session string `yaml:"session,omitempty"`

	Config Config `yaml:"config,omitempty"`
	Camera Camera `yaml:"camera,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Config overrides scanner defaults.
type Config struct {
	OneShot       *bool    `yaml:"one_shot,omitempty"`
	Symbologies   []string `yaml:"symbologies,omitempty"`
	NotFoundDelay string   `yaml:"not_found_delay,omitempty"`
	DedupeWindow  string   `yaml:"dedupe_window,omitempty"`
}

// Camera scripts the fake camera backend.
type Camera struct {
	// Deny makes authorization fail.
	Deny bool `yaml:"deny,omitempty"`

	// Front adds a front camera. NoBack removes the back camera.
	Front  bool `yaml:"front,omitempty"`
	NoBack bool `yaml:"no_back,omitempty"`

	// FailOpen makes opening the back camera fail with this message.
	FailOpen string `yaml:"fail_open,omitempty"`
}

// Step is one scripted action. Op selects which fields apply.
type Step struct {
	Op string `yaml:"op"`

	// frame
	Codes []Code `yaml:"codes,omitempty"`

	// image: renders Payload as Symbology, or a blank page when Blank is set.
	// Hold keeps the decode pass running until a release step.
	Payload   string `yaml:"payload,omitempty"`
	Symbology string `yaml:"symbology,omitempty"`
	Blank     bool   `yaml:"blank,omitempty"`
	Hold      bool   `yaml:"hold,omitempty"`

	// reset_with_error
	Message string `yaml:"message,omitempty"`

	// advance
	Duration string `yaml:"duration,omitempty"`

	// expect
	Expect *Expect `yaml:"expect,omitempty"`
}

// Code is a detected code in a frame or an expected callback.
type Code struct {
	Payload   string `yaml:"payload" json:"payload"`
	Symbology string `yaml:"symbology" json:"symbology"`
}

// Expect checks the state between steps. Empty fields are not checked.
type Expect struct {
	State     string `yaml:"state,omitempty"`
	Payload   string `yaml:"payload,omitempty"`
	Symbology string `yaml:"symbology,omitempty"`
	Message   string `yaml:"message,omitempty"`
	Locked    *bool  `yaml:"locked,omitempty"`
	Capturing *bool  `yaml:"capturing,omitempty"`
}

// Step ops.
const (
	OpSetup          = "setup"
	OpFrame          = "frame"
	OpImage          = "image"
	OpCancelPick     = "cancel_pick"
	OpReset          = "reset"
	OpResetWithError = "reset_with_error"
	OpAdvance        = "advance"
	OpSwapCamera     = "swap_camera"
	OpStart          = "start"
	OpStop           = "stop"
	OpCancel         = "cancel"
	OpExpect         = "expect"

	// OpRelease lets held image passes finish and waits for them.
	OpRelease = "release"

	// OpTeardown stops the engine as if the screen went away.
	OpTeardown = "teardown"
)

var knownOps = map[string]bool{
	OpSetup: true, OpFrame: true, OpImage: true, OpCancelPick: true,
	OpReset: true, OpResetWithError: true, OpAdvance: true, OpSwapCamera: true,
	OpStart: true, OpStop: true, OpCancel: true, OpExpect: true,
	OpRelease: true, OpTeardown: true,
}

// Assertion checks the finished run.
type Assertion struct {
	// Type is one of final_state, trace_contains, trace_order, trace_count,
	// codes, errors or dismissals.
	Type string `yaml:"type"`

	// final_state, trace_contains
	State     string `yaml:"state,omitempty"`
	Payload   string `yaml:"payload,omitempty"`
	Symbology string `yaml:"symbology,omitempty"`
	Message   string `yaml:"message,omitempty"`

	// trace_contains, trace_count
	To      string `yaml:"to,omitempty"`
	Trigger string `yaml:"trigger,omitempty"`
	Source  string `yaml:"source,omitempty"`

	// trace_order: target states of transitions, in order, gaps allowed.
	States []string `yaml:"states,omitempty"`

	// trace_count, errors, dismissals
	Count int `yaml:"count,omitempty"`

	// errors: restrict to one error code.
	Code string `yaml:"code,omitempty"`

	// codes: exact list of reported codes.
	Codes []Code `yaml:"codes,omitempty"`
}

// Assertion types.
const (
	AssertFinalState    = "final_state"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertCodes         = "codes"
	AssertErrors        = "errors"
	AssertDismissals    = "dismissals"
)

// LoadScenario reads, parses and validates a scenario file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if len(s.Config.Symbologies) > 0 {
		if _, err := scan.ParseFilter(s.Config.Symbologies); err != nil {
			return fmt.Errorf("config.symbologies: %w", err)
		}
	}
	for field, d := range map[string]string{
		"config.not_found_delay": s.Config.NotFoundDelay,
		"config.dedupe_window":   s.Config.DedupeWindow,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	if step.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", i)
	}
	if !knownOps[step.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}

	if step.Hold && step.Op != OpImage {
		return fmt.Errorf("steps[%d]: hold only applies to image", i)
	}

	switch step.Op {
	case OpFrame:
		if len(step.Codes) == 0 {
			return fmt.Errorf("steps[%d]: frame needs at least one code", i)
		}
		for j, c := range step.Codes {
			if _, err := scan.ParseSymbology(c.Symbology); err != nil {
				return fmt.Errorf("steps[%d].codes[%d]: %w", i, j, err)
			}
		}
	case OpImage:
		if step.Blank == (step.Payload != "") {
			return fmt.Errorf("steps[%d]: image needs exactly one of payload or blank", i)
		}
		if step.Payload != "" {
			if _, err := scan.ParseSymbology(step.Symbology); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	case OpAdvance:
		if _, err := time.ParseDuration(step.Duration); err != nil {
			return fmt.Errorf("steps[%d]: duration: %w", i, err)
		}
	case OpExpect:
		if step.Expect == nil {
			return fmt.Errorf("steps[%d]: expect block is required", i)
		}
		if step.Expect.State != "" && !validKind(step.Expect.State) {
			return fmt.Errorf("steps[%d]: unknown state %q", i, step.Expect.State)
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertFinalState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: final_state requires state", i)
		}
		if !validKind(a.State) {
			return fmt.Errorf("assertions[%d]: unknown state %q", i, a.State)
		}
	case AssertTraceContains:
		if a.To == "" && a.Trigger == "" {
			return fmt.Errorf("assertions[%d]: trace_contains requires to or trigger", i)
		}
	case AssertTraceOrder:
		if len(a.States) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order requires at least 2 states", i)
		}
	case AssertTraceCount:
		if a.To == "" && a.Trigger == "" {
			return fmt.Errorf("assertions[%d]: trace_count requires to or trigger", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertCodes, AssertErrors, AssertDismissals:
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
	}
	return nil
}

func validKind(s string) bool {
	switch engine.Kind(s) {
	case engine.KindScanning, engine.KindProcessing, engine.KindNotFound, engine.KindUnauthorized:
		return true
	}
	return false
}
