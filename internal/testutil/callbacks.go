// Package testutil holds deterministic helpers shared by tests and the
// scenario harness.
package testutil

import "sync"

// Code is one code-found callback.
type Code struct {
	Payload   string
	Symbology string
}

// Callbacks records every engine callback. It implements the code, error
// and dismissal handler interfaces.
//
// Thread-safety: all methods are safe for concurrent use.
type Callbacks struct {
	mu         sync.Mutex
	codes      []Code
	errs       []error
	dismissals int
}

// NewCallbacks returns an empty recorder.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

func (c *Callbacks) OnCodeFound(payload, symbology string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, Code{Payload: payload, Symbology: symbology})
}

func (c *Callbacks) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *Callbacks) OnDismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dismissals++
}

// Codes returns a copy of the recorded codes.
func (c *Callbacks) Codes() []Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Code(nil), c.codes...)
}

// Errors returns a copy of the recorded errors.
func (c *Callbacks) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// Dismissals returns how often OnDismiss fired.
func (c *Callbacks) Dismissals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dismissals
}

// Reset forgets everything recorded so far.
func (c *Callbacks) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = nil
	c.errs = nil
	c.dismissals = 0
}
