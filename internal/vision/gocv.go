//go:build gocv

package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facelock/internal/timeutil"
)

// OpenCV Haar cascade flags (CV_HAAR_DO_CANNY_PRUNING, CV_HAAR_FIND_BIGGEST_OBJECT).
const (
	haarDoCannyPruning    = 1
	haarFindBiggestObject = 4
)

// Available reports whether the OpenCV backed camera and detector are
// compiled in.
const Available = true

type gocvCamera struct {
	mu    sync.Mutex
	vc    *gocv.VideoCapture
	clock timeutil.Clock
	seq   uint64
}

// OpenCamera opens the video device with the given index and requests the
// frame size.
func OpenCamera(index, width, height int) (Camera, error) {
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("%w: /dev/video%d: %v", ErrNoCamera, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: /dev/video%d not opened", ErrNoCamera, index)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	return &gocvCamera{vc: vc, clock: timeutil.RealClock{}}, nil
}

func (c *gocvCamera) Grab() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrFrame
	}
	c.seq++
	return NewFrame(c.seq, mat.Cols(), mat.Rows(), c.clock.Now(), mat, func() { mat.Close() }), nil
}

func (c *gocvCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vc.Close()
}

type cascadeDetector struct {
	classifier gocv.CascadeClassifier
	gray       gocv.Mat
	minSize    image.Point
	maxSize    image.Point
}

// NewCascadeDetector loads a Haar cascade from path. Faces smaller than
// minSize or larger than maxSize pixels are ignored.
func NewCascadeDetector(path string, minSize, maxSize int) (Detector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDetector, err)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("%w: cannot load cascade %s", ErrNoDetector, path)
	}
	return &cascadeDetector{
		classifier: classifier,
		gray:       gocv.NewMat(),
		minSize:    image.Pt(minSize, minSize),
		maxSize:    image.Pt(maxSize, maxSize),
	}, nil
}

func (d *cascadeDetector) Detect(f *Frame) (*DetectionResult, error) {
	mat, ok := f.Data.(gocv.Mat)
	if !ok || mat.Empty() {
		return nil, fmt.Errorf("%w: frame %d has no image", ErrFrame, f.Seq)
	}
	gocv.CvtColor(mat, &d.gray, gocv.ColorBGRToGray)

	rects := d.classifier.DetectMultiScaleWithParams(d.gray, 1.2, 2,
		haarDoCannyPruning|haarFindBiggestObject, d.minSize, d.maxSize)
	if len(rects) == 0 {
		return NewScanning(), nil
	}
	boxes := make([]Box, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, BoxFromRect(r))
	}
	return NewTargets(boxes...)
}

func (d *cascadeDetector) Close() error {
	d.gray.Close()
	return d.classifier.Close()
}
