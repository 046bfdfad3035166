// Package vision is the boundary between the pipeline and the external
// camera and face detector. The tracker only ever sees a DetectionResult:
// either no target (scanning) or an ordered list of boxes.
package vision

import (
	"errors"
	"image"
	"sync"
	"time"
)

var (
	// ErrNoCamera is returned when the capture device cannot be opened.
	ErrNoCamera = errors.New("no camera")
	// ErrNoDetector is returned when the detector resource (for example the
	// cascade file) is missing.
	ErrNoDetector = errors.New("detector resource unavailable")
	// ErrNoMemory reports a detector that could not allocate its result.
	ErrNoMemory = errors.New("detection result allocation failed")
	// ErrUnavailable reports a detector that is temporarily unable to run.
	ErrUnavailable = errors.New("detector unavailable")
	// ErrFrame reports a failed frame retrieval.
	ErrFrame = errors.New("frame retrieval failed")
	// ErrNoTargets is returned by NewTargets when given no boxes.
	ErrNoTargets = errors.New("target result needs at least one box")
)

// Frame is one captured image. Data is owned by the camera implementation;
// Release must be called once the frame has been consumed.
type Frame struct {
	Seq      uint64
	Width    int
	Height   int
	Captured time.Time
	Data     any

	releaseOnce sync.Once
	release     func()
}

// NewFrame wraps data. release, if non-nil, runs on the first Release.
func NewFrame(seq uint64, width, height int, captured time.Time, data any, release func()) *Frame {
	return &Frame{
		Seq:      seq,
		Width:    width,
		Height:   height,
		Captured: captured,
		Data:     data,
		release:  release,
	}
}

// Release frees the frame's payload. Safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// Box is an axis-aligned bounding box given by two opposite corners.
type Box struct {
	A image.Point `json:"a"`
	B image.Point `json:"b"`
}

// NewBox returns the box with corners (x1,y1) and (x2,y2).
func NewBox(x1, y1, x2, y2 int) Box {
	return Box{A: image.Pt(x1, y1), B: image.Pt(x2, y2)}
}

// Center returns the midpoint of the box on both axes, rounding toward
// corner A.
func (b Box) Center() image.Point {
	return image.Pt(center(b.A.X, b.B.X), center(b.A.Y, b.B.Y))
}

func center(a, b int) int {
	return (b-a)>>1 + a
}

// BoxFromRect converts an image.Rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{A: r.Min, B: r.Max}
}

// DetectionResult is the detector's output for one frame. An empty Boxes
// slice means no target was found and the tracker should scan.
type DetectionResult struct {
	Boxes []Box `json:"boxes"`
}

// NewScanning returns a result carrying no target.
func NewScanning() *DetectionResult {
	return &DetectionResult{}
}

// NewTargets returns a result holding boxes in detector order.
func NewTargets(boxes ...Box) (*DetectionResult, error) {
	if len(boxes) == 0 {
		return nil, ErrNoTargets
	}
	return &DetectionResult{Boxes: append([]Box(nil), boxes...)}, nil
}

// Scanning reports whether the result carries no target.
func (r *DetectionResult) Scanning() bool {
	return r == nil || len(r.Boxes) == 0
}

// First returns the first box. Only meaningful when !Scanning().
func (r *DetectionResult) First() (Box, bool) {
	if r.Scanning() {
		return Box{}, false
	}
	return r.Boxes[0], true
}

// Camera produces frames. Grab blocks until the next frame is available.
type Camera interface {
	Grab() (*Frame, error)
	Close() error
}

// Detector finds faces in a frame. It must not retain the frame.
type Detector interface {
	Detect(f *Frame) (*DetectionResult, error)
}
