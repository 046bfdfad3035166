package pipeline

import (
	"io"
	"sync"

	"github.com/banshee-data/facelock/internal/timeutil"
)

// Handler is the work a stage performs once per tick. in is the item taken
// from the stage's mailbox, or nil for stages that do not pull input. A nil
// out means the stage produced nothing this tick.
type Handler interface {
	Run(in any) (out any, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(in any) (any, error)

// Run calls f(in).
func (f HandlerFunc) Run(in any) (any, error) { return f(in) }

// InputPuller is implemented by handlers that consume their predecessor's
// output. The stage worker blocks on the mailbox before running them.
type InputPuller interface {
	PullsInput() bool
}

// Upper is implemented by handlers with a bring-up step, run once when the
// stage is registered and before its worker starts.
type Upper interface {
	Up() error
}

type result struct {
	out any
	err error
}

// Stage owns one worker goroutine for its lifetime. The worker waits for a
// dispatch, optionally takes its input, runs the handler and reports the
// result on done. Shutdown is cooperative: quit is observed at every blocking
// point and the mailbox is closed to release a pending Take.
type Stage struct {
	id      ID
	handler Handler
	pulls   bool
	clock   timeutil.Clock

	in       *Mailbox
	dispatch chan struct{}
	done     chan result
	quit     chan struct{}
	wg       sync.WaitGroup
	downOnce sync.Once

	stats *StageStats
}

func newStage(id ID, h Handler, clock timeutil.Clock) *Stage {
	s := &Stage{
		id:       id,
		handler:  h,
		clock:    clock,
		in:       NewMailbox(),
		dispatch: make(chan struct{}),
		done:     make(chan result),
		quit:     make(chan struct{}),
		stats:    newStageStats(),
	}
	if p, ok := h.(InputPuller); ok {
		s.pulls = p.PullsInput()
	}
	return s
}

// ID returns the stage's position.
func (s *Stage) ID() ID { return s.id }

// Input returns the stage's input mailbox.
func (s *Stage) Input() *Mailbox { return s.in }

func (s *Stage) start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Stage) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.dispatch:
		}

		var in any
		if s.pulls {
			v, ok := s.in.Take()
			if !ok {
				return
			}
			in = v
		}

		start := s.clock.Now()
		out, err := s.handler.Run(in)
		s.stats.observe(s.clock.Since(start), out != nil, err)

		select {
		case s.done <- result{out: out, err: err}:
		case <-s.quit:
			return
		}
	}
}

// down stops the worker, waits for it to exit and releases handler
// resources. A handler still inside Run is waited for, not interrupted.
func (s *Stage) down() error {
	var err error
	s.downOnce.Do(func() {
		close(s.quit)
		s.in.Close()
		s.wg.Wait()
		if c, ok := s.handler.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
