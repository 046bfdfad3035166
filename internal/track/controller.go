// Package track keeps a detected face centred by re-aiming the pan/tilt
// servos, sweeps the pan axis when no face is visible, and arbitrates
// actuator access with the manual calibration driver.
package track

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/servo"
	"github.com/banshee-data/facelock/internal/timeutil"
	"github.com/banshee-data/facelock/internal/vision"
)

// Actuator is the subset of the servo client used for tracking.
type Actuator interface {
	SetDutyAs(driver string, axis servo.Axis, duty int) error
	GetDuty(axis servo.Axis) (int, error)
}

// Config holds the controller's tuning.
type Config struct {
	FrameWidth      int
	FrameHeight     int
	CommandInterval time.Duration
	PanThreshold    int
	TiltThreshold   int
}

// DefaultConfig matches a 680x480 stream and the settling time of hobby
// servos driven without position feedback.
func DefaultConfig() Config {
	return Config{
		FrameWidth:      680,
		FrameHeight:     480,
		CommandInterval: 650 * time.Millisecond,
		PanThreshold:    50,
		TiltThreshold:   30,
	}
}

// Outcome describes what a tick did.
type Outcome int

const (
	// RateLimited: the previous command is still within the interval.
	RateLimited Outcome = iota
	// Deferred: the manual driver holds the exclusion lock.
	Deferred
	// Aimed: a target was present and the aim procedure ran.
	Aimed
	// Scanned: no target and the pan sweep moved.
	Scanned
	// ScanSkipped: no target and this was the skipped half of the sweep.
	ScanSkipped
)

func (o Outcome) String() string {
	switch o {
	case RateLimited:
		return "rate-limited"
	case Deferred:
		return "deferred"
	case Aimed:
		return "aimed"
	case Scanned:
		return "scanned"
	case ScanSkipped:
		return "scan-skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Controller is the automatic tracking driver and the pipeline's last stage.
type Controller struct {
	act   Actuator
	lock  *ExclusionLock
	clock timeutil.Clock
	cfg   Config

	mu    sync.Mutex
	state State
}

// NewController creates a controller. Zero config fields fall back to
// DefaultConfig.
func NewController(act Actuator, lock *ExclusionLock, clock timeutil.Clock, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.FrameWidth <= 0 {
		cfg.FrameWidth = def.FrameWidth
	}
	if cfg.FrameHeight <= 0 {
		cfg.FrameHeight = def.FrameHeight
	}
	if cfg.CommandInterval <= 0 {
		cfg.CommandInterval = def.CommandInterval
	}
	if cfg.PanThreshold <= 0 {
		cfg.PanThreshold = def.PanThreshold
	}
	if cfg.TiltThreshold <= 0 {
		cfg.TiltThreshold = def.TiltThreshold
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{act: act, lock: lock, clock: clock, cfg: cfg}
}

// State returns a copy of the controller's state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Lock returns the exclusion lock the controller defers to.
func (c *Controller) Lock() *ExclusionLock {
	return c.lock
}

// Tick consumes one detection result. It is a no-op while the previous
// command is within the command interval or while the manual driver holds
// the exclusion lock. Send failures are per axis: every axis is still
// attempted and the failures are returned joined.
func (c *Controller) Tick(res *vision.DetectionResult) (Outcome, error) {
	now := c.clock.Now()
	c.mu.Lock()
	last := c.state.LastCommand
	c.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < c.cfg.CommandInterval {
		return RateLimited, nil
	}

	if !c.lock.TryAcquire(DriverAuto) {
		return Deferred, nil
	}
	defer c.lock.Release(DriverAuto)

	c.mu.Lock()
	c.state.LastCommand = now
	c.mu.Unlock()

	if box, ok := res.First(); ok {
		return Aimed, c.aim(box)
	}
	return c.scan()
}

func (c *Controller) aim(box vision.Box) error {
	ctr := box.Center()
	targets := []struct {
		axis      servo.Axis
		center    int
		mid       int
		threshold int
	}{
		{servo.Pan, ctr.X, c.cfg.FrameWidth / 2, c.cfg.PanThreshold},
		{servo.Tilt, ctr.Y, c.cfg.FrameHeight / 2, c.cfg.TiltThreshold},
	}

	var errs []error
	for _, t := range targets {
		c.mu.Lock()
		step, move := c.state.aimStep(t.axis, t.center, t.mid, t.threshold)
		c.mu.Unlock()
		if !move {
			continue
		}

		cur, err := c.act.GetDuty(t.axis)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", t.axis, err))
			continue
		}
		monitoring.Logf("track: move %s %d -> %d", t.axis, cur, cur+step)
		if err := c.act.SetDutyAs(string(DriverAuto), t.axis, cur+step); err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", t.axis, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) scan() (Outcome, error) {
	c.mu.Lock()
	skipped := c.state.skipTurn()
	c.mu.Unlock()
	if skipped {
		return ScanSkipped, nil
	}

	cur, err := c.act.GetDuty(servo.Pan)
	if err != nil {
		return Scanned, fmt.Errorf("read pan: %w", err)
	}
	c.mu.Lock()
	next := c.state.sweep(cur)
	dir := c.state.ScanDirection
	c.mu.Unlock()

	monitoring.Logf("track: search pan %d (%s)", next, dir)
	if err := c.act.SetDutyAs(string(DriverAuto), servo.Pan, next); err != nil {
		return Scanned, fmt.Errorf("move pan: %w", err)
	}
	return Scanned, nil
}

// PullsInput reports that the controller consumes the detect stage output.
func (c *Controller) PullsInput() bool { return true }

// Run is the pipeline stage entry point. Actuator failures are logged here
// and tracking continues; only a malformed input is returned as an error.
func (c *Controller) Run(in any) (any, error) {
	res, ok := in.(*vision.DetectionResult)
	if !ok {
		return nil, fmt.Errorf("track: unexpected input %T", in)
	}
	outcome, err := c.Tick(res)
	if err != nil {
		monitoring.Logf("track: %s tick: %v", outcome, err)
	}
	return nil, nil
}
