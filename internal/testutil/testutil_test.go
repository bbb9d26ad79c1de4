package testutil

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbacks_Records(t *testing.T) {
	c := NewCallbacks()

	c.OnCodeFound("https://example.com", "QR")
	c.OnError(errors.New("boom"))
	c.OnDismiss()
	c.OnDismiss()

	assert.Equal(t, []Code{{Payload: "https://example.com", Symbology: "QR"}}, c.Codes())
	assert.Len(t, c.Errors(), 1)
	assert.Equal(t, 2, c.Dismissals())

	c.Reset()
	assert.Empty(t, c.Codes())
	assert.Empty(t, c.Errors())
	assert.Zero(t, c.Dismissals())
}

func TestCallbacks_Concurrent(t *testing.T) {
	c := NewCallbacks()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.OnCodeFound("x", "QR")
		}()
	}
	wg.Wait()
	assert.Len(t, c.Codes(), 50)
}

func TestFixedSessionGenerator(t *testing.T) {
	g := NewFixedSessionGenerator("session-1")
	assert.Equal(t, "session-1", g.Generate())
	assert.Equal(t, "session-1", g.Generate())

	assert.Equal(t, "test-session-default", NewFixedSessionGenerator("").Generate())
}
