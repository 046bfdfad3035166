// Package servo is the actuator client for the pan/tilt platform. It sends
// clamped duty-cycle commands over a best-effort transport and caches the
// last commanded value per axis as the position estimate, since the servos
// report no position of their own.
package servo

import (
	"errors"
	"fmt"
	"time"
)

// Duty bounds enforced at the point of command.
const (
	MinDuty = 5
	MaxDuty = 95
)

// SettleDelay is the pause after every send and read so the link is not
// saturated faster than the servos can follow.
const SettleDelay = 15 * time.Millisecond

// Axis identifies a servo channel. Values match the channel numbers of the
// servo controller.
type Axis int

const (
	Tilt Axis = 0
	Pan  Axis = 1
)

// Axes lists the supported axes in channel order.
var Axes = []Axis{Tilt, Pan}

func (a Axis) String() string {
	switch a {
	case Pan:
		return "pan"
	case Tilt:
		return "tilt"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Valid reports whether a names a supported channel.
func (a Axis) Valid() bool {
	return a == Pan || a == Tilt
}

var (
	// ErrInvalidAxis is returned for a channel id outside {Pan, Tilt}.
	ErrInvalidAxis = errors.New("invalid servo axis")
	// ErrNotInitialized is returned by any operation before Init succeeded.
	ErrNotInitialized = errors.New("servo client not initialized")
	// ErrTransport wraps a failed send. The command is not retried.
	ErrTransport = errors.New("servo transport failure")
	// ErrNoTransport is returned when the actuator link cannot be opened.
	ErrNoTransport = errors.New("servo transport unavailable")
)

// Clamp bounds a duty value into [MinDuty, MaxDuty].
func Clamp(duty int) int {
	if duty > MaxDuty {
		return MaxDuty
	}
	if duty < MinDuty {
		return MinDuty
	}
	return duty
}

// Command describes one issued actuator command.
type Command struct {
	Axis      Axis
	Requested int
	Duty      int
	Driver    string
	IssuedAt  time.Time
	Err       error
}

// Observer receives every command the client attempts to send. Implementations
// must not block.
type Observer interface {
	ObserveCommand(Command)
}
