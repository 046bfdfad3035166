package vision

import (
	"fmt"
	"io"
)

// CaptureStage is the first pipeline stage. It takes no input and emits one
// *Frame per run.
type CaptureStage struct {
	camera Camera
}

// NewCaptureStage wraps camera.
func NewCaptureStage(camera Camera) *CaptureStage {
	return &CaptureStage{camera: camera}
}

// Up fails when no camera is attached.
func (s *CaptureStage) Up() error {
	if s.camera == nil {
		return ErrNoCamera
	}
	return nil
}

// Run grabs the next frame. A nil frame without error ends the tick.
func (s *CaptureStage) Run(any) (any, error) {
	f, err := s.camera.Grab()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	return f, nil
}

// Close closes the camera.
func (s *CaptureStage) Close() error {
	return s.camera.Close()
}

// DetectStage is the second pipeline stage. It takes a *Frame, releases it
// after detection and emits a *DetectionResult. A scanning result is still
// output; a detector failure is not.
type DetectStage struct {
	detector Detector
}

// NewDetectStage wraps detector.
func NewDetectStage(detector Detector) *DetectStage {
	return &DetectStage{detector: detector}
}

// PullsInput reports that the stage consumes the capture stage's frame.
func (s *DetectStage) PullsInput() bool { return true }

// Up fails when no detector is attached.
func (s *DetectStage) Up() error {
	if s.detector == nil {
		return ErrNoDetector
	}
	return nil
}

// Run detects faces in the input frame.
func (s *DetectStage) Run(in any) (any, error) {
	f, ok := in.(*Frame)
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: unexpected input %T", ErrFrame, in)
	}
	defer f.Release()

	res, err := s.detector.Detect(f)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", f.Seq, err)
	}
	if res == nil {
		return nil, fmt.Errorf("frame %d: %w", f.Seq, ErrNoMemory)
	}
	return res, nil
}

// Close releases the detector when it holds resources.
func (s *DetectStage) Close() error {
	if c, ok := s.detector.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
