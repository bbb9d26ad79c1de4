package harness

import (
	"fmt"
	"strings"
)

// AssertionError describes a failed assertion with the trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describe(ev))
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	switch ev.Type {
	case EventTransition:
		s := fmt.Sprintf("%s -> %s (%s)", ev.From, ev.To, ev.Trigger)
		if ev.Payload != "" {
			s += fmt.Sprintf(" %s %q", ev.Symbology, ev.Payload)
		}
		if ev.Message != "" {
			s += fmt.Sprintf(" %q", ev.Message)
		}
		return s
	case EventCode:
		return fmt.Sprintf("code %s %q", ev.Symbology, ev.Payload)
	case EventError:
		return fmt.Sprintf("error %s: %s", ev.Code, ev.Message)
	default:
		return ev.Type
	}
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(result, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertCodes:
		return assertCodes(result.Trace, a)
	case AssertErrors:
		return assertErrors(result.Trace, a)
	case AssertDismissals:
		return assertDismissals(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertFinalState(result *Result, a Assertion) error {
	f := result.Final
	mismatch := f.State != a.State ||
		(a.Payload != "" && f.Payload != a.Payload) ||
		(a.Symbology != "" && f.Symbology != a.Symbology) ||
		(a.Message != "" && f.Message != a.Message)
	if !mismatch {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("state=%s payload=%q symbology=%s message=%q", a.State, a.Payload, a.Symbology, a.Message),
		Actual:   fmt.Sprintf("state=%s payload=%q symbology=%s message=%q", f.State, f.Payload, f.Symbology, f.Message),
		Trace:    result.Trace,
	}
}

// matchTransition applies the subset match shared by trace_contains and
// trace_count: only fields set on the assertion are compared.
func matchTransition(ev TraceEvent, a Assertion) bool {
	if ev.Type != EventTransition {
		return false
	}
	if a.To != "" && ev.To != a.To {
		return false
	}
	if a.Trigger != "" && ev.Trigger != a.Trigger {
		return false
	}
	if a.Source != "" && ev.Source != a.Source {
		return false
	}
	if a.Payload != "" && ev.Payload != a.Payload {
		return false
	}
	if a.Symbology != "" && ev.Symbology != a.Symbology {
		return false
	}
	if a.Message != "" && ev.Message != a.Message {
		return false
	}
	return true
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchTransition(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("transition to=%s trigger=%s payload=%q", a.To, a.Trigger, a.Payload),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that transitions into the listed states occur in
// order. Other transitions may sit in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.States) {
			break
		}
		if ev.Type == EventTransition && ev.To == a.States[next] {
			next++
		}
	}
	if next == len(a.States) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("states in order: %v", a.States),
		Actual:   fmt.Sprintf("missing %s after %v", a.States[next], a.States[:next]),
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchTransition(ev, a) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d transitions to=%s trigger=%s", a.Count, a.To, a.Trigger),
		Actual:   fmt.Sprintf("%d", count),
		Trace:    trace,
	}
}

func assertCodes(trace []TraceEvent, a Assertion) error {
	var got []Code
	for _, ev := range trace {
		if ev.Type == EventCode {
			got = append(got, Code{Payload: ev.Payload, Symbology: ev.Symbology})
		}
	}

	equal := len(got) == len(a.Codes)
	for i := 0; equal && i < len(got); i++ {
		equal = got[i] == a.Codes[i]
	}
	if equal {
		return nil
	}
	return &AssertionError{
		Type:     AssertCodes,
		Expected: fmt.Sprintf("%v", a.Codes),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    trace,
	}
}

func assertErrors(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == EventError && (a.Code == "" || ev.Code == a.Code) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertErrors,
		Expected: fmt.Sprintf("%d errors (code %q)", a.Count, a.Code),
		Actual:   fmt.Sprintf("%d", count),
		Trace:    trace,
	}
}

func assertDismissals(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == EventDismiss {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertDismissals,
		Expected: fmt.Sprintf("%d dismissals", a.Count),
		Actual:   fmt.Sprintf("%d", count),
		Trace:    trace,
	}
}
