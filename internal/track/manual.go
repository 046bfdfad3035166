package track

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/servo"
)

// CalibrationStore persists the servo positions chosen by the operator so the
// next run starts from them.
type CalibrationStore interface {
	SaveCalibration(ctx context.Context, duties map[servo.Axis]int) error
}

// Operator keys. Terminal arrow keys arrive as ESC [ A..D; the escape prefix
// is ignored so the bare letters work as well.
const (
	keyUp    = 'A'
	keyDown  = 'B'
	keyRight = 'C'
	keyLeft  = 'D'
	keyExit  = 'X'
)

// ManualDriver lets an operator nudge the servos one duty unit at a time to
// calibrate the rest position. The first nudge takes the exclusion lock,
// waiting for the controller to finish its current command; the exit key
// saves the calibration and hands the servos back.
type ManualDriver struct {
	act   Actuator
	lock  *ExclusionLock
	store CalibrationStore

	locked bool
}

// NewManualDriver creates a driver. store may be nil.
func NewManualDriver(act Actuator, lock *ExclusionLock, store CalibrationStore) *ManualDriver {
	return &ManualDriver{act: act, lock: lock, store: store}
}

// Engaged reports whether the driver holds the exclusion lock.
func (m *ManualDriver) Engaged() bool {
	return m.locked
}

// Run reads keys from in until ctx ends or in is exhausted. A session still
// open at that point is closed as if the exit key had been pressed.
func (m *ManualDriver) Run(ctx context.Context, in io.Reader) error {
	keys := make(chan byte)
	readErr := make(chan error, 1)
	go func() {
		r := bufio.NewReader(in)
		for {
			b, err := r.ReadByte()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case keys <- b:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return m.finish(context.Background())
		case err := <-readErr:
			ferr := m.finish(ctx)
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return ferr
			}
			return errors.Join(fmt.Errorf("read operator input: %w", err), ferr)
		case k := <-keys:
			if err := m.Handle(ctx, k); err != nil {
				if ctx.Err() != nil {
					return m.finish(context.Background())
				}
				monitoring.Logf("manual: key %q: %v", k, err)
			}
		}
	}
}

// Handle applies one operator key.
func (m *ManualDriver) Handle(ctx context.Context, key byte) error {
	switch key {
	case keyUp, keyDown, keyRight, keyLeft:
	case keyExit, 'x':
		return m.finish(ctx)
	default:
		return nil
	}

	if !m.locked {
		if err := m.lock.Acquire(ctx, DriverManual); err != nil {
			return err
		}
		m.locked = true
		monitoring.Logf("manual: calibration started, automatic tracking paused")
	}

	axis := servo.Tilt
	if key == keyRight || key == keyLeft {
		axis = servo.Pan
	}
	duty, err := m.act.GetDuty(axis)
	if err != nil {
		return err
	}

	switch key {
	case keyUp, keyRight:
		if duty < servo.MaxDuty {
			return m.act.SetDutyAs(string(DriverManual), axis, duty+1)
		}
	case keyDown, keyLeft:
		if duty > servo.MinDuty {
			return m.act.SetDutyAs(string(DriverManual), axis, duty-1)
		}
	}
	return nil
}

// finish ends an open calibration session: the current duties are saved and
// the lock released. It is a no-op when no session is open.
func (m *ManualDriver) finish(ctx context.Context) error {
	if !m.locked {
		return nil
	}

	var errs []error
	duties := make(map[servo.Axis]int, len(servo.Axes))
	for _, axis := range servo.Axes {
		d, err := m.act.GetDuty(axis)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", axis, err))
			continue
		}
		duties[axis] = d
	}
	if m.store != nil && len(errs) == 0 {
		if err := m.store.SaveCalibration(ctx, duties); err != nil {
			errs = append(errs, fmt.Errorf("save calibration: %w", err))
		}
	}

	if err := m.lock.Release(DriverManual); err != nil {
		errs = append(errs, err)
	}
	m.locked = false
	monitoring.Logf("manual: calibration ended pan=%d tilt=%d, automatic tracking resumed",
		duties[servo.Pan], duties[servo.Tilt])
	return errors.Join(errs...)
}
