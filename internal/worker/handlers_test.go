package worker

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newHandlerSet(min, max time.Duration) *handlerSet {
	return &handlerSet{
		minTime: min,
		maxTime: max,
		tick:    time.Millisecond,
		rng:     rand.New(rand.NewSource(1)),
	}
}

func TestDurationClamping(t *testing.T) {
	h := newHandlerSet(5*time.Second, 30*time.Second)

	tests := []struct {
		name       string
		def        time.Duration
		durationMs int
		want       time.Duration
	}{
		{"default within range", 20 * time.Second, 0, 20 * time.Second},
		{"override within range", 20 * time.Second, 10_000, 10 * time.Second},
		{"override below minimum", 20 * time.Second, 50, 5 * time.Second},
		{"override above maximum", 20 * time.Second, 120_000, 30 * time.Second},
		{"default above maximum", 45 * time.Second, 0, 30 * time.Second},
		{"negative override falls back to default", 20 * time.Second, -1, 20 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, h.duration(tc.def, tc.durationMs))
		})
	}
}

func TestChanceBounds(t *testing.T) {
	h := newHandlerSet(time.Millisecond, time.Second)

	for i := 0; i < 100; i++ {
		assert.False(t, h.chance(0), "ratio 0 must never fire")
	}
	for i := 0; i < 100; i++ {
		assert.True(t, h.chance(1), "ratio 1 must always fire")
	}
}
