package sink

import (
	"fmt"
	"image"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"standmask/util"
	"standmask/video/source"
)

// Video provides a sink that wraps opencv's VideoWriter. Every frame must
// match the size the writer was opened with.
type Video struct {
	path   string
	size   image.Point
	writer *gocv.VideoWriter
}

func NewVideo(path, codec string, fps float64, size image.Point) (*Video, error) {
	if len(codec) != 4 {
		return nil, util.ConfigErrorf("codec", "fourcc must be 4 characters, got %q", codec)
	}
	if fps <= 0 {
		return nil, util.ConfigErrorf("fps", "must be positive, got %v", fps)
	}
	w, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, &util.ConfigurationError{Op: "output_video", Err: err}
	}
	if !w.IsOpened() {
		w.Close()
		return nil, util.ConfigErrorf("output_video", "unable to open %v for writing with codec %v", path, codec)
	}
	log.Infof("Writing %v (%s, %.2f fps, %dx%d)", path, codec, fps, size.X, size.Y)
	return &Video{
		path:   path,
		size:   size,
		writer: w,
	}, nil
}

func (v *Video) Put(input source.Image) error {
	if input.Mat.Cols() != v.size.X || input.Mat.Rows() != v.size.Y {
		return fmt.Errorf("frame %d is %dx%d, writer expects %dx%d",
			input.Index, input.Mat.Cols(), input.Mat.Rows(), v.size.X, v.size.Y)
	}
	if err := v.writer.Write(input.Mat); err != nil {
		return fmt.Errorf("writing frame %d to %v: %w", input.Index, v.path, err)
	}
	return nil
}

func (v *Video) Close() error {
	if err := v.writer.Close(); err != nil {
		return fmt.Errorf("finalizing %v: %w", v.path, err)
	}
	return nil
}
