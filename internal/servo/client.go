package servo

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/timeutil"
)

// Client commands the pan and tilt servos through a Transport.
//
// The duty cache is the only state shared between the automatic controller
// and the manual driver; callers serialise their command sequences through
// the track exclusion lock. The internal mutex only keeps concurrent readers
// (status endpoints) race free.
type Client struct {
	transport Transport
	clock     timeutil.Clock
	settle    time.Duration

	mu          sync.Mutex
	duty        map[Axis]int
	initialized bool
	observers   []Observer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock replaces the clock used for settling delays.
func WithClock(c timeutil.Clock) ClientOption {
	return func(cl *Client) { cl.clock = c }
}

// WithSettleDelay overrides SettleDelay.
func WithSettleDelay(d time.Duration) ClientOption {
	return func(cl *Client) { cl.settle = d }
}

// WithObserver registers an observer for every issued command.
func WithObserver(o Observer) ClientOption {
	return func(cl *Client) {
		if o != nil {
			cl.observers = append(cl.observers, o)
		}
	}
}

// NewClient creates a client on top of t. Init must be called before use.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: t,
		clock:     timeutil.RealClock{},
		settle:    SettleDelay,
		duty:      make(map[Axis]int, len(Axes)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init sends each axis its default duty, validating the transport before the
// pipeline starts. Axes missing from defaults start at MinDuty.
func (c *Client) Init(defaults map[Axis]int) error {
	if c.transport == nil {
		return ErrNoTransport
	}
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	for _, axis := range Axes {
		duty, ok := defaults[axis]
		if !ok {
			duty = MinDuty
		}
		if err := c.SetDutyAs("init", axis, duty); err != nil {
			c.mu.Lock()
			c.initialized = false
			c.mu.Unlock()
			return fmt.Errorf("failed to home %s servo: %w", axis, err)
		}
	}
	monitoring.Logf("servo client ready: pan=%d tilt=%d", c.cached(Pan), c.cached(Tilt))
	return nil
}

// SetDuty clamps and sends a duty value to the given axis.
func (c *Client) SetDuty(axis Axis, duty int) error {
	return c.SetDutyAs("", axis, duty)
}

// SetDutyAs is SetDuty with the issuing driver recorded for observers.
func (c *Client) SetDutyAs(driver string, axis Axis, duty int) error {
	if !axis.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidAxis, int(axis))
	}
	c.mu.Lock()
	ready := c.initialized
	c.mu.Unlock()
	if !ready {
		return ErrNotInitialized
	}

	clamped := Clamp(duty)
	cmd := Command{
		Axis:      axis,
		Requested: duty,
		Duty:      clamped,
		Driver:    driver,
		IssuedAt:  c.clock.Now(),
	}

	if err := c.transport.Send(axis, []byte(strconv.Itoa(clamped))); err != nil {
		cmd.Err = fmt.Errorf("%w: %s: %v", ErrTransport, axis, err)
		c.notify(cmd)
		return cmd.Err
	}

	c.clock.Sleep(c.settle)

	c.mu.Lock()
	c.duty[axis] = clamped
	c.mu.Unlock()

	c.notify(cmd)
	return nil
}

// GetDuty returns the cached position estimate for axis after the settling
// delay. It is not a hardware reading.
func (c *Client) GetDuty(axis Axis) (int, error) {
	if !axis.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAxis, int(axis))
	}
	c.mu.Lock()
	ready := c.initialized
	c.mu.Unlock()
	if !ready {
		return 0, ErrNotInitialized
	}

	c.clock.Sleep(c.settle)
	return c.cached(axis), nil
}

// Snapshot returns the cached duties without the settling delay. Intended
// for status reporting only.
func (c *Client) Snapshot() map[Axis]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Axis]int, len(c.duty))
	for k, v := range c.duty {
		out[k] = v
	}
	return out
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

func (c *Client) cached(axis Axis) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duty[axis]
}

func (c *Client) notify(cmd Command) {
	for _, o := range c.observers {
		o.ObserveCommand(cmd)
	}
}
