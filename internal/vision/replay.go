package vision

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/facelock/internal/timeutil"
)

// ReplayEntry is one scripted frame of a fixture. Boxes are [x1,y1,x2,y2].
// Fail makes detection of that frame report ErrNoMemory; Drop makes the
// capture yield no frame.
type ReplayEntry struct {
	Boxes [][4]int `json:"boxes"`
	Fail  bool     `json:"fail,omitempty"`
	Drop  bool     `json:"drop,omitempty"`
}

// Replay is a synthetic camera and detector driven by a scripted list of
// entries, used in development mode and tests in place of real hardware.
// When Loop is false Grab returns io.EOF once the script is exhausted.
type Replay struct {
	Width    int
	Height   int
	Interval time.Duration
	Loop     bool

	clock   timeutil.Clock
	entries []ReplayEntry

	mu     sync.Mutex
	next   int
	seq    uint64
	closed bool
}

// NewReplay reads JSON-lines entries from r. Blank lines and lines starting
// with '#' are skipped.
func NewReplay(r io.Reader, clock timeutil.Clock) (*Replay, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	var entries []ReplayEntry
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var e ReplayEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: fixture has no entries", ErrNoCamera)
	}
	return &Replay{
		Width:    680,
		Height:   480,
		Interval: 33 * time.Millisecond,
		Loop:     true,
		clock:    clock,
		entries:  entries,
	}, nil
}

// LoadReplay opens a fixture file.
func LoadReplay(path string, clock timeutil.Clock) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCamera, err)
	}
	defer f.Close()
	return NewReplay(f, clock)
}

// Grab waits one frame interval and returns the next scripted frame.
func (r *Replay) Grab() (*Frame, error) {
	if r.Interval > 0 {
		r.clock.Sleep(r.Interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: replay closed", ErrFrame)
	}
	if r.next >= len(r.entries) {
		if !r.Loop {
			return nil, io.EOF
		}
		r.next = 0
	}
	e := r.entries[r.next]
	r.next++
	if e.Drop {
		return nil, nil
	}
	r.seq++
	return NewFrame(r.seq, r.Width, r.Height, r.clock.Now(), e, nil), nil
}

// Detect returns the boxes scripted for f.
func (r *Replay) Detect(f *Frame) (*DetectionResult, error) {
	e, ok := f.Data.(ReplayEntry)
	if !ok {
		return nil, fmt.Errorf("%w: frame %d was not produced by a replay", ErrFrame, f.Seq)
	}
	if e.Fail {
		return nil, ErrNoMemory
	}
	if len(e.Boxes) == 0 {
		return NewScanning(), nil
	}
	boxes := make([]Box, 0, len(e.Boxes))
	for _, b := range e.Boxes {
		boxes = append(boxes, NewBox(b[0], b[1], b[2], b[3]))
	}
	return NewTargets(boxes...)
}

// Close stops further grabs.
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
