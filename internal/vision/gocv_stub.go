//go:build !gocv

package vision

import "fmt"

// Available reports whether the OpenCV backed camera and detector are
// compiled in. Build with -tags gocv to enable them.
const Available = false

// OpenCamera is unavailable without the gocv build tag.
func OpenCamera(index, width, height int) (Camera, error) {
	return nil, fmt.Errorf("%w: /dev/video%d: built without gocv support", ErrNoCamera, index)
}

// NewCascadeDetector is unavailable without the gocv build tag.
func NewCascadeDetector(path string, minSize, maxSize int) (Detector, error) {
	return nil, fmt.Errorf("%w: %s: built without gocv support", ErrNoDetector, path)
}
