// Package pipeline runs an ordered set of stages once per tick. Each stage
// has its own worker goroutine; the tick driver dispatches them strictly in
// order and hands each stage's output to the next stage's single-slot
// mailbox.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/timeutil"
)

// ID is a stage's ordinal position.
type ID int

const (
	Capture ID = 0
	Detect  ID = 1
	Track   ID = 2
)

// DefaultOrder is the capture → detect → track pipeline.
var DefaultOrder = []ID{Capture, Detect, Track}

func (id ID) String() string {
	switch id {
	case Capture:
		return "capture"
	case Detect:
		return "detect"
	case Track:
		return "track"
	default:
		return fmt.Sprintf("stage(%d)", int(id))
	}
}

var (
	// ErrInvalidStage is returned when registering an ID outside the order.
	ErrInvalidStage = errors.New("invalid stage")
	// ErrDuplicateStage is returned when an ID is registered twice.
	ErrDuplicateStage = errors.New("stage already registered")
	// ErrMissingStage is returned by Validate and Tick when a stage of the
	// order has not been registered.
	ErrMissingStage = errors.New("stage not registered")
	// ErrInterrupted reports a tick cut short by context cancellation. It
	// signals controlled shutdown, not a failure.
	ErrInterrupted = errors.New("pipeline interrupted")
)

// Pipeline is a fixed, ordered registry of stages plus the abort flag the
// tick loop observes.
type Pipeline struct {
	order []ID
	clock timeutil.Clock

	mu     sync.Mutex
	stages map[ID]*Stage

	aborted      atomic.Bool
	ticks        atomic.Uint64
	partialTicks atomic.Uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for stage timing.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New creates a pipeline over order, DefaultOrder when empty.
func New(order []ID, opts ...Option) *Pipeline {
	if len(order) == 0 {
		order = DefaultOrder
	}
	p := &Pipeline{
		order:  append([]ID(nil), order...),
		clock:  timeutil.RealClock{},
		stages: make(map[ID]*Stage, len(order)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) position(id ID) int {
	for i, o := range p.order {
		if o == id {
			return i
		}
	}
	return -1
}

// Register brings up h as stage id and starts its worker.
func (p *Pipeline) Register(id ID, h Handler) error {
	if p.position(id) < 0 || h == nil {
		return fmt.Errorf("%w: %s", ErrInvalidStage, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.stages[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, id)
	}
	if u, ok := h.(Upper); ok {
		if err := u.Up(); err != nil {
			return fmt.Errorf("failed to bring up %s stage: %w", id, err)
		}
	}
	s := newStage(id, h, p.clock)
	s.start()
	p.stages[id] = s
	monitoring.Logf("pipeline: %s stage up", id)
	return nil
}

// Deregister tears down stage id and removes it from the registry.
func (p *Pipeline) Deregister(id ID) error {
	p.mu.Lock()
	s, ok := p.stages[id]
	delete(p.stages, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingStage, id)
	}
	return s.down()
}

// Count returns the number of registered stages.
func (p *Pipeline) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stages)
}

// Validate checks that every stage of the order is registered.
func (p *Pipeline) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var missing []error
	for _, id := range p.order {
		if _, ok := p.stages[id]; !ok {
			missing = append(missing, fmt.Errorf("%w: %s", ErrMissingStage, id))
		}
	}
	return errors.Join(missing...)
}

// Stage returns the registered stage for id, or nil.
func (p *Pipeline) Stage(id ID) *Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stages[id]
}

func (p *Pipeline) ordered() ([]*Stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Stage, 0, len(p.order))
	for _, id := range p.order {
		s, ok := p.stages[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingStage, id)
		}
		out = append(out, s)
	}
	return out, nil
}

// Tick runs every stage once in order and returns how many stages ran. When
// a stage produces no output the tick ends there; an error from the stage
// also ends it and is returned wrapped with the stage name. A stage output
// is forwarded into the next stage's mailbox, overwriting any unconsumed
// item.
//
// No output and a failed run are handled alike: both stop the tick before
// the downstream stages. A handler that wants its downstream to run on a
// "nothing found" outcome must return a non-nil value for it.
//
// After ErrInterrupted the pipeline must be torn down.
func (p *Pipeline) Tick(ctx context.Context) (int, error) {
	stages, err := p.ordered()
	if err != nil {
		return 0, err
	}
	p.ticks.Add(1)

	for k, s := range stages {
		select {
		case s.dispatch <- struct{}{}:
		case <-ctx.Done():
			return k, fmt.Errorf("%w: dispatching %s: %v", ErrInterrupted, s.id, ctx.Err())
		}

		var r result
		select {
		case r = <-s.done:
		case <-ctx.Done():
			return k, fmt.Errorf("%w: waiting for %s: %v", ErrInterrupted, s.id, ctx.Err())
		}

		last := k == len(stages)-1
		if r.err != nil || r.out == nil {
			if !last {
				p.partialTicks.Add(1)
			}
			if r.err != nil {
				return k + 1, fmt.Errorf("%s stage: %w", s.id, r.err)
			}
			return k + 1, nil
		}
		if !last {
			stages[k+1].in.Put(r.out)
		}
	}
	return len(stages), nil
}

// Run ticks until Terminate is called or ctx ends. The abort flag is checked
// between ticks, so a tick in progress always completes. Per-tick errors are
// logged and the next tick is attempted.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for !p.aborted.Load() {
		if _, err := p.Tick(ctx); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			monitoring.Logf("pipeline: tick %d: %v", p.ticks.Load(), err)
		}
	}
	return nil
}

// Terminate sets the abort flag. Safe to call from any goroutine, including
// a signal handler; Run returns after the current tick.
func (p *Pipeline) Terminate() {
	if !p.aborted.Swap(true) {
		monitoring.Logf("pipeline: termination requested")
	}
}

// Terminated reports whether Terminate has been called.
func (p *Pipeline) Terminated() bool {
	return p.aborted.Load()
}

// Teardown stops every registered stage and empties the registry. Errors
// from stage resource release are joined.
func (p *Pipeline) Teardown() error {
	p.mu.Lock()
	stages := make([]*Stage, 0, len(p.stages))
	for _, id := range p.order {
		if s, ok := p.stages[id]; ok {
			stages = append(stages, s)
		}
	}
	p.stages = make(map[ID]*Stage, len(p.order))
	p.mu.Unlock()

	var errs []error
	for _, s := range stages {
		if err := s.down(); err != nil {
			errs = append(errs, fmt.Errorf("%s stage: %w", s.id, err))
		}
		monitoring.Logf("pipeline: %s stage down", s.id)
	}
	return errors.Join(errs...)
}

// Stats returns tick counters and per-stage run statistics.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Ticks:        p.ticks.Load(),
		PartialTicks: p.partialTicks.Load(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		s, ok := p.stages[id]
		if !ok {
			continue
		}
		sum := s.stats.summary(id)
		sum.Dropped = s.in.Dropped()
		st.Stages = append(st.Stages, sum)
	}
	return st
}
