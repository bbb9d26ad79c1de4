package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Type: EventTransition, Seq: 1, From: "scanning", To: "processing", Trigger: "detection", Source: "live", Symbology: "QR", Payload: "A"},
		{Type: EventCode, Symbology: "QR", Payload: "A"},
		{Type: EventDismiss},
		{Type: EventTransition, Seq: 2, From: "processing", To: "scanning", Trigger: "reset"},
		{Type: EventError, Code: "PERMISSION_DENIED", Message: "camera access denied"},
		{Type: EventTransition, Seq: 3, From: "scanning", To: "unauthorized", Trigger: "setup_result"},
	}
	r.Final = FinalState{State: "unauthorized"}
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	failures := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertFinalState, State: "unauthorized"},
		{Type: AssertTraceContains, To: "processing", Payload: "A", Source: "live"},
		{Type: AssertTraceOrder, States: []string{"processing", "unauthorized"}},
		{Type: AssertTraceCount, Trigger: "reset", Count: 1},
		{Type: AssertTraceCount, To: "not_found", Count: 0},
		{Type: AssertCodes, Codes: []Code{{Payload: "A", Symbology: "QR"}}},
		{Type: AssertErrors, Count: 1},
		{Type: AssertErrors, Code: "DEVICE_CONFIGURATION_FAILED", Count: 0},
		{Type: AssertDismissals, Count: 1},
	})
	assert.Empty(t, failures)
}

func TestEvaluateAssertions_Fail(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"final state", Assertion{Type: AssertFinalState, State: "scanning"}, "state=unauthorized"},
		{"contains", Assertion{Type: AssertTraceContains, To: "processing", Payload: "B"}, "not found in trace"},
		{"order", Assertion{Type: AssertTraceOrder, States: []string{"unauthorized", "processing"}}, "missing processing"},
		{"count", Assertion{Type: AssertTraceCount, To: "processing", Count: 2}, "Actual: 1"},
		{"codes", Assertion{Type: AssertCodes}, "Expected: []"},
		{"errors", Assertion{Type: AssertErrors, Count: 0}, "0 errors"},
		{"dismissals", Assertion{Type: AssertDismissals, Count: 3}, "3 dismissals"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			require.Len(t, failures, 1)
			assert.Contains(t, failures[0], tt.want)
			assert.Contains(t, failures[0], "Full trace:")
		})
	}
}

func TestAssertionError_DescribesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1",
		Actual:   "0",
		Trace:    sampleResult().Trace,
	}
	msg := err.Error()
	assert.Contains(t, msg, `scanning -> processing (detection) QR "A"`)
	assert.Contains(t, msg, "error PERMISSION_DENIED: camera access denied")
	assert.Contains(t, msg, "[3] dismiss")
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
