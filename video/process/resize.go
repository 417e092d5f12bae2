package process

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Resize stretches src to exactly size into dst. Aspect ratio is not
// preserved, so detections made on dst line up with what gets written out.
func Resize(src gocv.Mat, dst *gocv.Mat, size image.Point) error {
	if src.Empty() {
		return errors.New("cannot resize empty frame")
	}
	if size.X <= 0 || size.Y <= 0 {
		return fmt.Errorf("invalid target size %v", size)
	}
	gocv.Resize(src, dst, size, 0, 0, gocv.InterpolationLinear)
	return nil
}

// Preprocess returns a resized copy of src. On success the caller must Close
// it.
func Preprocess(src gocv.Mat, size image.Point) (gocv.Mat, error) {
	dst := gocv.NewMat()
	if err := Resize(src, &dst, size); err != nil {
		dst.Close()
		return gocv.Mat{}, err
	}
	return dst, nil
}
