package sink

import (
	"standmask/video/source"
)

// Sink defines a destination for a stream of images, such as a video file or
// a directory of stills.
type Sink interface {
	// Put writes an image to the sink. The caller *must not* modify this image
	// while Put runs and the sink should not hold any references to the
	// underlying Mat once Put returns.
	Put(input source.Image) error

	// Close finalizes the Sink. Nothing may be Put after Close.
	Close() error
}
