package track

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facelock/internal/pipeline"
	"github.com/banshee-data/facelock/internal/servo"
	"github.com/banshee-data/facelock/internal/vision"
)

// Capture, detect and track wired through a real pipeline: an empty detection
// still reaches the scan, a failed detection ends the tick before tracking.
func TestPipeline_ScanningReachesTrackFailureDoesNot(t *testing.T) {
	r := newRig(t, 50, 40)

	replay, err := vision.NewReplay(strings.NewReader(strings.Join([]string{
		`{"boxes": []}`,
		`{"fail": true}`,
		`{"boxes": []}`,
	}, "\n")), r.clock)
	require.NoError(t, err)
	replay.Interval = 0
	replay.Loop = false

	p := pipeline.New(pipeline.DefaultOrder)
	require.NoError(t, p.Register(pipeline.Capture, vision.NewCaptureStage(replay)))
	require.NoError(t, p.Register(pipeline.Detect, vision.NewDetectStage(replay)))
	require.NoError(t, p.Register(pipeline.Track, r.ctrl))
	require.NoError(t, p.Validate())
	defer func() { assert.NoError(t, p.Teardown()) }()

	ctx := context.Background()

	// The first scan invocation is the skipped half of the sweep, but the
	// track stage did run.
	n, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, r.ctrl.State().ScanSkip)
	assert.Empty(t, r.transport.Sends())

	n, err = p.Tick(ctx)
	assert.ErrorIs(t, err, vision.ErrNoMemory)
	assert.Equal(t, 2, n)
	assert.True(t, r.ctrl.State().ScanSkip, "track must not run after a failed detection")
	assert.Empty(t, r.transport.Sends())

	r.clock.Advance(DefaultConfig().CommandInterval)
	n, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 51, r.duty(t, servo.Pan))
	assert.Equal(t, 40, r.duty(t, servo.Tilt))
	want := []servo.MockSend{{Axis: servo.Pan, Payload: "51"}}
	if diff := cmp.Diff(want, r.transport.Sends()); diff != "" {
		t.Errorf("sends mismatch (-want +got):\n%s", diff)
	}

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Ticks)
	assert.Equal(t, uint64(1), stats.PartialTicks)
	require.Len(t, stats.Stages, 3)
	assert.Equal(t, uint64(2), stats.Stages[2].Runs)
	assert.Equal(t, uint64(1), stats.Stages[1].Errors)
}
