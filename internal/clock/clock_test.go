package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lead := 6 * time.Hour
	cases := []struct {
		name     string
		deadline time.Time
		want     Urgency
	}{
		{"past", now.Add(-time.Minute), Overdue},
		{"exactly now", now, AtRisk},
		{"inside lead", now.Add(5 * time.Hour), AtRisk},
		{"lead boundary", now.Add(6 * time.Hour), AtRisk},
		{"outside lead", now.Add(7 * time.Hour), OnTrack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.deadline, now, lead))
		})
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)
	assert.Equal(t, start, m.Now())
	m.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), m.Now())
	assert.Equal(t, start.Add(48*time.Hour), Deadline(start, 48))
}
