package sched

import (
	"sort"
	"sync"
	"time"
)

// Epoch is the start time of a Manual scheduler created with NewManual.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Manual is a Scheduler whose time only moves when Advance is called.
// Due callbacks run synchronously inside Advance, in deadline order, on the
// caller's goroutine. Safe for concurrent use.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	timers map[uint64]*manualTimer
}

type manualTimer struct {
	m        *Manual
	id       uint64
	deadline time.Time
	f        func()
}

// NewManual creates a scheduler starting at Epoch.
func NewManual() *Manual {
	return NewManualAt(Epoch)
}

// NewManualAt creates a scheduler starting at start.
func NewManualAt(start time.Time) *Manual {
	return &Manual{now: start, timers: make(map[uint64]*manualTimer)}
}

// Now returns the scheduler's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc arms f to run once the scheduler is advanced by at least d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	t := &manualTimer{m: m, id: m.nextID, deadline: m.now.Add(d), f: f}
	m.timers[t.id] = t
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if _, ok := t.m.timers[t.id]; !ok {
		return false
	}
	delete(t.m.timers, t.id)
	return true
}

// Advance moves time forward by d and runs every timer that falls due.
// It returns how many callbacks ran.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.f()
		fired++
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
	return fired
}

// popDue removes and returns the earliest timer due at or before target,
// moving the clock to its deadline.
func (m *Manual) popDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	t := due[0]
	delete(m.timers, t.id)
	if t.deadline.After(m.now) {
		m.now = t.deadline
	}
	return t
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
