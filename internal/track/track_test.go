package track

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/servo"
	"github.com/banshee-data/facelock/internal/timeutil"
	"github.com/banshee-data/facelock/internal/vision"
)

func init() {
	monitoring.SetLogger(nil)
}

type rig struct {
	ctrl      *Controller
	client    *servo.Client
	transport *servo.MockTransport
	clock     *timeutil.MockClock
	lock      *ExclusionLock
}

func newRig(t *testing.T, pan, tilt int) *rig {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	transport := servo.NewMockTransport()
	client := servo.NewClient(transport, servo.WithClock(clock))
	require.NoError(t, client.Init(map[servo.Axis]int{servo.Pan: pan, servo.Tilt: tilt}))
	transport.Reset()
	lock := NewExclusionLock()
	return &rig{
		ctrl:      NewController(client, lock, clock, DefaultConfig()),
		client:    client,
		transport: transport,
		clock:     clock,
		lock:      lock,
	}
}

func (r *rig) duty(t *testing.T, axis servo.Axis) int {
	t.Helper()
	return r.client.Snapshot()[axis]
}

func targets(t *testing.T, boxes ...vision.Box) *vision.DetectionResult {
	t.Helper()
	res, err := vision.NewTargets(boxes...)
	require.NoError(t, err)
	return res
}

func TestAimStep(t *testing.T) {
	tests := []struct {
		name      string
		axis      servo.Axis
		center    int
		want      int
		wantMove  bool
		threshold int
		mid       int
	}{
		{"pan within noise", servo.Pan, 300, 0, false, 50, 340},
		{"pan at threshold moves near", servo.Pan, 290, 5, true, 50, 340},
		{"pan near left", servo.Pan, 250, 5, true, 50, 340},
		{"pan medium left", servo.Pan, 140, 10, true, 50, 340},
		{"pan boundary 200 is medium", servo.Pan, 540, -10, true, 50, 340},
		{"pan far left", servo.Pan, 100, 15, true, 50, 340},
		{"pan near right", servo.Pan, 420, -5, true, 50, 340},
		{"pan far right", servo.Pan, 679, -15, true, 50, 340},
		{"tilt within noise", servo.Tilt, 260, 0, false, 30, 240},
		{"tilt near below", servo.Tilt, 300, 5, true, 30, 240},
		{"tilt near above", servo.Tilt, 200, -5, true, 30, 240},
		{"tilt boundary 140 is near", servo.Tilt, 380, 5, true, 30, 240},
		{"tilt medium", servo.Tilt, 400, 10, true, 30, 240},
		{"tilt far above", servo.Tilt, 10, -15, true, 30, 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s State
			got, move := s.aimStep(tt.axis, tt.center, tt.mid, tt.threshold)
			assert.Equal(t, tt.wantMove, move)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAimStep_PreviousDeltaAlwaysUpdated(t *testing.T) {
	var s State

	_, move := s.aimStep(servo.Pan, 320, 340, 50)
	assert.False(t, move)
	assert.Equal(t, 20, s.PanDelta, "below-threshold readings still update the memory")

	_, move = s.aimStep(servo.Pan, 140, 340, 50)
	assert.True(t, move)
	_, move = s.aimStep(servo.Pan, 540, 340, 50)
	assert.False(t, move, "same distance on the other side is still the same delta")
	assert.Equal(t, 200, s.PanDelta)
	assert.Equal(t, 0, s.TiltDelta)
}

func TestController_EndToEndPanExample(t *testing.T) {
	r := newRig(t, 50, 50)

	// box centre (140,120): pan delta 200 -> +10, tilt delta 120 -> near,
	// above the midpoint -> -5
	outcome, err := r.ctrl.Tick(targets(t, vision.NewBox(100, 80, 180, 160)))
	require.NoError(t, err)
	assert.Equal(t, Aimed, outcome)

	assert.Equal(t, 60, r.duty(t, servo.Pan))
	assert.Equal(t, 45, r.duty(t, servo.Tilt))
	want := []servo.MockSend{
		{Axis: servo.Pan, Payload: "60"},
		{Axis: servo.Tilt, Payload: "45"},
	}
	if diff := cmp.Diff(want, r.transport.Sends()); diff != "" {
		t.Errorf("sends mismatch (-want +got):\n%s", diff)
	}

	st := r.ctrl.State()
	assert.Equal(t, 200, st.PanDelta)
	assert.Equal(t, 120, st.TiltDelta)
	assert.Equal(t, r.clock.Now(), st.LastCommand)
}

func TestController_OnlyFirstBoxIsUsed(t *testing.T) {
	r := newRig(t, 50, 50)

	_, err := r.ctrl.Tick(targets(t,
		vision.NewBox(330, 230, 350, 250),
		vision.NewBox(0, 0, 20, 20),
	))
	require.NoError(t, err)
	assert.Empty(t, r.transport.Sends(), "a centred first box moves nothing")
}

func TestController_ClampsAtBounds(t *testing.T) {
	r := newRig(t, 90, 8)

	_, err := r.ctrl.Tick(targets(t, vision.NewBox(0, 0, 20, 20)))
	require.NoError(t, err)
	assert.Equal(t, servo.MaxDuty, r.duty(t, servo.Pan))
	assert.Equal(t, servo.MinDuty, r.duty(t, servo.Tilt))
}

func TestController_Hysteresis(t *testing.T) {
	r := newRig(t, 50, 50)
	box := vision.NewBox(100, 80, 180, 160)

	_, err := r.ctrl.Tick(targets(t, box))
	require.NoError(t, err)
	pan, tilt := r.duty(t, servo.Pan), r.duty(t, servo.Tilt)
	r.transport.Reset()

	r.clock.Advance(DefaultConfig().CommandInterval)
	outcome, err := r.ctrl.Tick(targets(t, box))
	require.NoError(t, err)
	assert.Equal(t, Aimed, outcome)
	assert.Empty(t, r.transport.Sends(), "identical delta means the servo is still moving")
	assert.Equal(t, pan, r.duty(t, servo.Pan))
	assert.Equal(t, tilt, r.duty(t, servo.Tilt))

	// a different reading moves again
	r.clock.Advance(DefaultConfig().CommandInterval)
	_, err = r.ctrl.Tick(targets(t, vision.NewBox(110, 80, 190, 160)))
	require.NoError(t, err)
	assert.Equal(t, []servo.MockSend{{Axis: servo.Pan, Payload: "70"}}, r.transport.Sends())
}

func TestController_RateLimit(t *testing.T) {
	r := newRig(t, 50, 50)
	interval := DefaultConfig().CommandInterval

	_, err := r.ctrl.Tick(targets(t, vision.NewBox(100, 80, 180, 160)))
	require.NoError(t, err)
	r.transport.Reset()

	r.clock.Advance(interval - time.Millisecond)
	outcome, err := r.ctrl.Tick(targets(t, vision.NewBox(600, 400, 660, 460)))
	require.NoError(t, err)
	assert.Equal(t, RateLimited, outcome)
	assert.Empty(t, r.transport.Sends())

	r.clock.Advance(time.Millisecond)
	outcome, err = r.ctrl.Tick(targets(t, vision.NewBox(600, 400, 660, 460)))
	require.NoError(t, err)
	assert.Equal(t, Aimed, outcome)
	assert.Len(t, r.transport.Sends(), 2)
}

func TestController_ScanBounce(t *testing.T) {
	r := newRig(t, 93, 40)
	scanning := vision.NewScanning()
	interval := DefaultConfig().CommandInterval

	var pans []int
	var outcomes []Outcome
	for i := 0; i < 12; i++ {
		outcome, err := r.ctrl.Tick(scanning)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
		if outcome == Scanned {
			pans = append(pans, r.duty(t, servo.Pan))
		}
		r.clock.Advance(interval)
	}

	for i, o := range outcomes {
		if i%2 == 0 {
			assert.Equal(t, ScanSkipped, o, "tick %d", i)
		} else {
			assert.Equal(t, Scanned, o, "tick %d", i)
		}
	}
	assert.Equal(t, []int{94, 95, 95, 94, 93, 92}, pans)
	assert.Equal(t, Backward, r.ctrl.State().ScanDirection)
	assert.Equal(t, 40, r.duty(t, servo.Tilt), "tilt is left alone while scanning")
	for _, s := range r.transport.Sends() {
		assert.Equal(t, servo.Pan, s.Axis)
	}
}

func TestState_SweepNeverLeavesBounds(t *testing.T) {
	s := State{ScanDirection: Backward}
	x := 7
	var seen []int
	for i := 0; i < 200; i++ {
		x = s.sweep(x)
		require.GreaterOrEqual(t, x, servo.MinDuty)
		require.LessOrEqual(t, x, servo.MaxDuty)
		seen = append(seen, x)
	}
	assert.Equal(t, []int{6, 5, 5, 6, 7}, seen[:5])
	assert.Contains(t, seen, servo.MaxDuty)
}

func TestController_MutualExclusion(t *testing.T) {
	r := newRig(t, 50, 50)
	require.NoError(t, r.lock.Acquire(context.Background(), DriverManual))

	for i := 0; i < 3; i++ {
		outcome, err := r.ctrl.Tick(targets(t, vision.NewBox(100+i, 80, 180, 160)))
		require.NoError(t, err)
		assert.Equal(t, Deferred, outcome)
		r.clock.Advance(time.Millisecond)
	}
	assert.Empty(t, r.transport.Sends())
	assert.True(t, r.ctrl.State().LastCommand.IsZero())

	require.NoError(t, r.lock.Release(DriverManual))
	outcome, err := r.ctrl.Tick(targets(t, vision.NewBox(100, 80, 180, 160)))
	require.NoError(t, err)
	assert.Equal(t, Aimed, outcome, "release lets the next tick through without waiting an interval")
	assert.NotEmpty(t, r.transport.Sends())
	assert.Equal(t, Driver(""), r.lock.Holder())
}

func TestController_SoftFailurePerAxis(t *testing.T) {
	r := newRig(t, 50, 50)
	r.transport.SetFailure(servo.Pan, errors.New("unreachable"))

	outcome, err := r.ctrl.Tick(targets(t, vision.NewBox(100, 80, 180, 160)))
	assert.Equal(t, Aimed, outcome)
	require.Error(t, err)
	assert.ErrorIs(t, err, servo.ErrTransport)
	assert.Contains(t, err.Error(), "move pan")

	assert.Equal(t, 50, r.duty(t, servo.Pan))
	assert.Equal(t, 45, r.duty(t, servo.Tilt), "tilt is commanded despite the pan failure")
	assert.Equal(t, Driver(""), r.lock.Holder())
}

func TestController_Run(t *testing.T) {
	r := newRig(t, 50, 50)
	assert.True(t, r.ctrl.PullsInput())

	out, err := r.ctrl.Run(targets(t, vision.NewBox(100, 80, 180, 160)))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 60, r.duty(t, servo.Pan))

	// actuator failures are logged, not returned to the pipeline
	r.clock.Advance(time.Second)
	r.transport.SetFailure(servo.Pan, errors.New("unreachable"))
	_, err = r.ctrl.Run(targets(t, vision.NewBox(0, 80, 20, 160)))
	assert.NoError(t, err)

	_, err = r.ctrl.Run("garbage")
	assert.Error(t, err)
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(nil, NewExclusionLock(), nil, Config{})
	assert.Equal(t, DefaultConfig(), c.cfg)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "rate-limited", RateLimited.String())
	assert.Equal(t, "scan-skipped", ScanSkipped.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}

func TestDirection_Text(t *testing.T) {
	for _, d := range []Direction{Forward, Backward} {
		b, err := d.MarshalText()
		require.NoError(t, err)
		var got Direction
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, d, got)
	}
	var d Direction
	assert.Error(t, d.UnmarshalText([]byte("sideways")))
}
