package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qbar/internal/journal"
)

// goldenScenarios have their full trace pinned under testdata/golden.
var goldenScenarios = map[string]bool{
	"burst_lock":           true,
	"gallery_found":        true,
	"gallery_not_found":    true,
	"permission_denied":    true,
	"teardown_drops_image": true,
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			var result *Result
			if goldenScenarios[name] {
				result, err = RunWithGolden(t, scenario)
			} else {
				result, err = Run(scenario)
			}
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_DeterministicTrace(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/reset_resume.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_HeldImageCompletesAfterTeardown(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: held
description: a held pass released before and after teardown
steps:
  - op: setup
  - op: image
    payload: "early"
    symbology: QR
    hold: true
  - op: expect
    expect:
      state: scanning
  - op: release
  - op: expect
    expect:
      state: processing
      payload: "early"
  - op: reset
  - op: image
    payload: "late"
    symbology: QR
    hold: true
  - op: teardown
  - op: release
  - op: frame
    codes:
      - {payload: "after", symbology: QR}
assertions:
  - type: trace_count
    to: processing
    count: 1
  - type: codes
    codes:
      - {payload: "early", symbology: QR}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.DroppedFrames, "camera is off after teardown")
	assert.Equal(t, "scanning", result.Final.State)
}

func TestRun_ReportsFailures(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong
description: expectations that do not hold
steps:
  - op: setup
  - op: expect
    expect:
      state: processing
assertions:
  - type: final_state
    state: not_found
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "steps[1]: expected state processing, got scanning")
	assert.Contains(t, result.Errors[1], "assertions[0]")
}

func TestRun_CountsDroppedFrames(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/burst_lock.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DroppedFrames)
}

func TestRun_WithJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	scenario, err := LoadScenario("testdata/scenarios/gallery_not_found.yaml")
	require.NoError(t, err)

	result, err := Run(scenario, WithRecorder(j))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	entries, err := j.Transitions(context.Background(), "test-session-default")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "image_result", entries[0].Trigger)
	assert.Equal(t, "expire", entries[1].Trigger)
}
