package track

import (
	"fmt"
	"time"

	"github.com/banshee-data/facelock/internal/servo"
)

// Direction of the scan sweep on the pan axis.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// MarshalText renders the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a direction name.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "forward":
		*d = Forward
	case "backward":
		*d = Backward
	default:
		return fmt.Errorf("unknown scan direction %q", b)
	}
	return nil
}

// State is the controller's memory between ticks.
type State struct {
	// PanDelta and TiltDelta are the last observed pixel distances of the
	// target centre from the frame midpoint.
	PanDelta  int `json:"pan_delta"`
	TiltDelta int `json:"tilt_delta"`

	ScanDirection Direction `json:"scan_direction"`
	ScanDuty      int       `json:"scan_duty"`
	ScanSkip      bool      `json:"scan_skip"`

	// LastCommand is when the controller last took the actuators, zero
	// before the first command.
	LastCommand time.Time `json:"last_command"`
}

// prevDelta returns the hysteresis memory for axis.
func (s *State) prevDelta(axis servo.Axis) *int {
	if axis == servo.Pan {
		return &s.PanDelta
	}
	return &s.TiltDelta
}

// bucket is an upper bound (inclusive) on delta and the step applied for it.
type bucket struct {
	upTo int
	step int
}

var (
	panBuckets  = []bucket{{100, 5}, {200, 10}}
	tiltBuckets = []bucket{{140, 5}, {180, 10}}
)

const farStep = 15

func stepFor(axis servo.Axis, delta int) int {
	buckets := tiltBuckets
	if axis == servo.Pan {
		buckets = panBuckets
	}
	for _, b := range buckets {
		if delta <= b.upTo {
			return b.step
		}
	}
	return farStep
}

// aimStep decides the duty change for one axis given the target centre on
// that axis. The axis is held when the distance to the midpoint is below
// threshold or equal to the previous distance, the latter meaning the servo
// is judged still moving toward the same target. The previous distance is
// updated in every case.
//
// Pan moves negative when the target is right of the midpoint; tilt moves
// negative when the target is above it.
func (s *State) aimStep(axis servo.Axis, center, mid, threshold int) (int, bool) {
	delta := center - mid
	if delta < 0 {
		delta = -delta
	}
	prev := s.prevDelta(axis)
	hold := delta < threshold || delta == *prev
	*prev = delta
	if hold {
		return 0, false
	}

	step := stepFor(axis, delta)
	switch {
	case axis == servo.Pan && center > mid:
		step = -step
	case axis == servo.Tilt && center < mid:
		step = -step
	}
	return step, true
}

// skipTurn flips the alternation flag and reports whether this scan call is
// the skipped one. The first call is skipped.
func (s *State) skipTurn() bool {
	s.ScanSkip = !s.ScanSkip
	return s.ScanSkip
}

// sweep advances the scan cursor one duty unit from the current pan duty
// and returns the next pan duty. The direction reverses at the duty bounds;
// the call that reaches a bound holds it there.
func (s *State) sweep(current int) int {
	x := current
	switch s.ScanDirection {
	case Backward:
		if x > servo.MinDuty {
			x--
		} else {
			s.ScanDirection = Forward
			x = servo.MinDuty
		}
	default:
		if x < servo.MaxDuty {
			x++
		} else {
			s.ScanDirection = Backward
			x = servo.MaxDuty
		}
	}
	s.ScanDuty = x
	return x
}
