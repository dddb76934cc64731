// Package clock resolves "now", computes deadlines and classifies SLA urgency.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a settable clock for tests and replay tooling.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Func adapts a plain function, e.g. an Engine.Now override.
type Func func() time.Time

func (f Func) Now() time.Time { return f().UTC() }

// Deadline returns from + hours.
func Deadline(from time.Time, hours int) time.Time {
	return from.Add(time.Duration(hours) * time.Hour)
}

type Urgency string

const (
	OnTrack Urgency = "on_track"
	AtRisk  Urgency = "at_risk"
	Overdue Urgency = "overdue"
)

// Classify buckets a deadline relative to now. A deadline within lead of now
// is at risk; a deadline already passed is overdue.
func Classify(deadline, now time.Time, lead time.Duration) Urgency {
	if now.After(deadline) {
		return Overdue
	}
	if deadline.Sub(now) <= lead {
		return AtRisk
	}
	return OnTrack
}
