package source

import (
	"image"

	"gocv.io/x/gocv"
)

// Image is a single BGR frame together with its position in the stream.
type Image struct {
	Mat gocv.Mat
	// Index counts frames from 0 in arrival order.
	Index  int
	closed bool
}

func (i *Image) Close() {
	if i.closed {
		panic("image already closed")
	}
	i.closed = true
	i.Mat.Close()
}

func (i *Image) Clone() Image {
	n := Image{
		Mat:   gocv.NewMat(),
		Index: i.Index,
	}
	i.Mat.CopyTo(&n.Mat)
	return n
}

func NewImage() Image {
	return Image{
		Mat: gocv.NewMat(),
	}
}

// Source defines a finite, sequential stream of images, such as a video file.
type Source interface {
	// Next returns the next frame, or io.EOF once the stream is exhausted.
	// The caller owns the returned Image and must Close it.
	Next() (Image, error)

	// Size returns the frame size of the source.
	Size() image.Point

	// FPS returns the nominal frame rate of the source.
	FPS() float64

	// Close frees up all resources held by the source.
	Close() error
}
