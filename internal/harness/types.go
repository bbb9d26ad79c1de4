package harness

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/scan"
)

// Trace event types.
const (
	EventTransition = "transition"
	EventCode       = "code"
	EventError      = "error"
	EventDismiss    = "dismiss"
)

// TraceEvent is one transition or callback, in the order the engine
// produced them.
type TraceEvent struct {
	Type      string `json:"type"`
	Seq       int64  `json:"seq,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Trigger   string `json:"trigger,omitempty"`
	Source    string `json:"source,omitempty"`
	Symbology string `json:"symbology,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}

// FinalState is the scanner state after the last step.
type FinalState struct {
	State     string `json:"state"`
	Payload   string `json:"payload,omitempty"`
	Symbology string `json:"symbology,omitempty"`
	Message   string `json:"message,omitempty"`
	Locked    bool   `json:"locked"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect step and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Final  FinalState   `json:"final"`
	Errors []string     `json:"errors,omitempty"`

	// DroppedFrames counts frame steps issued while the camera was paused.
	DroppedFrames int `json:"dropped_frames,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// collector turns engine callbacks into trace events. Every method is
// called on the engine goroutine, so arrival order is engine order.
type collector struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (c *collector) add(ev TraceEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TraceEvent{}, c.events...)
}

func (c *collector) Record(_ context.Context, t engine.Transition) error {
	ev := TraceEvent{
		Type:      EventTransition,
		Seq:       t.Seq,
		From:      string(t.From),
		To:        string(t.To),
		Trigger:   t.Trigger,
		Symbology: t.Symbology.String(),
		Payload:   t.Payload,
		Message:   t.Message,
	}
	if t.Source != 0 {
		ev.Source = t.Source.String()
	}
	c.add(ev)
	return nil
}

func (c *collector) OnCodeFound(payload, symbology string) {
	c.add(TraceEvent{Type: EventCode, Payload: payload, Symbology: symbology})
}

func (c *collector) OnError(err error) {
	ev := TraceEvent{Type: EventError, Message: err.Error()}
	var se *scan.Error
	if errors.As(err, &se) {
		ev.Code = string(se.Code)
		ev.Message = se.Message
	}
	c.add(ev)
}

func (c *collector) OnDismiss() {
	c.add(TraceEvent{Type: EventDismiss})
}
