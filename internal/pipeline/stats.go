package pipeline

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// statsWindow bounds the number of run durations kept per stage.
const statsWindow = 256

// StageStats accumulates run counters and a sliding window of run durations
// for one stage.
type StageStats struct {
	mu     sync.Mutex
	runs   uint64
	errors uint64
	empty  uint64
	window []float64 // milliseconds, ring buffer
	next   int
}

func newStageStats() *StageStats {
	return &StageStats{window: make([]float64, 0, statsWindow)}
}

func (s *StageStats) observe(d time.Duration, produced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs++
	switch {
	case err != nil:
		s.errors++
	case !produced:
		s.empty++
	}

	ms := float64(d) / float64(time.Millisecond)
	if len(s.window) < statsWindow {
		s.window = append(s.window, ms)
		return
	}
	s.window[s.next] = ms
	s.next = (s.next + 1) % statsWindow
}

// StageSummary is a point-in-time view of a stage's statistics. Duration
// figures cover at most the last 256 runs.
type StageSummary struct {
	Stage    string  `json:"stage"`
	Runs     uint64  `json:"runs"`
	Errors   uint64  `json:"errors"`
	Empty    uint64  `json:"empty"`
	Dropped  uint64  `json:"dropped_inputs"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	MaxMs    float64 `json:"max_ms"`
}

func (s *StageStats) summary(id ID) StageSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := StageSummary{
		Stage:  id.String(),
		Runs:   s.runs,
		Errors: s.errors,
		Empty:  s.empty,
	}
	switch len(s.window) {
	case 0:
	case 1:
		sum.MeanMs = s.window[0]
		sum.MaxMs = s.window[0]
	default:
		sum.MeanMs, sum.StdDevMs = stat.MeanStdDev(s.window, nil)
		sum.MaxMs = floats.Max(s.window)
	}
	return sum
}

// Stats summarises a pipeline run.
type Stats struct {
	Ticks        uint64         `json:"ticks"`
	PartialTicks uint64         `json:"partial_ticks"`
	Stages       []StageSummary `json:"stages"`
}
