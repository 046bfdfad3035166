package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStageStats_Summary(t *testing.T) {
	s := newStageStats()

	sum := s.summary(Detect)
	assert.Equal(t, "detect", sum.Stage)
	assert.Zero(t, sum.MeanMs)

	s.observe(2*time.Millisecond, true, nil)
	s.observe(4*time.Millisecond, false, nil)
	s.observe(6*time.Millisecond, false, errors.New("boom"))

	sum = s.summary(Detect)
	assert.Equal(t, uint64(3), sum.Runs)
	assert.Equal(t, uint64(1), sum.Errors)
	assert.Equal(t, uint64(1), sum.Empty)
	assert.InDelta(t, 4.0, sum.MeanMs, 1e-9)
	assert.InDelta(t, 2.0, sum.StdDevMs, 1e-9)
	assert.InDelta(t, 6.0, sum.MaxMs, 1e-9)
}

func TestStageStats_WindowIsBounded(t *testing.T) {
	s := newStageStats()

	s.observe(time.Second, true, nil)
	for i := 0; i < statsWindow; i++ {
		s.observe(time.Millisecond, true, nil)
	}

	sum := s.summary(Capture)
	assert.Equal(t, uint64(statsWindow+1), sum.Runs)
	assert.Len(t, s.window, statsWindow)
	// the one-second outlier has been evicted
	assert.InDelta(t, 1.0, sum.MaxMs, 1e-9)
	assert.InDelta(t, 0.0, sum.StdDevMs, 1e-9)
}
