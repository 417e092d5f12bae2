package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"standmask/util"
	"standmask/video/source"
)

// FrameName is the file name used for the frame at index.
func FrameName(index int, format string) string {
	return fmt.Sprintf("frame_%04d.%s", index, format)
}

// FrameDir writes every frame as a still image into a directory.
type FrameDir struct {
	dir    string
	format string
}

func NewFrameDir(dir, format string) (*FrameDir, error) {
	if format == "" {
		return nil, util.ConfigErrorf("image_format", "must be set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &util.ConfigurationError{Op: "output_frame_dir", Err: err}
	}
	return &FrameDir{dir: dir, format: format}, nil
}

func (d *FrameDir) Dir() string {
	return d.dir
}

func (d *FrameDir) Put(input source.Image) error {
	p := filepath.Join(d.dir, FrameName(input.Index, d.format))
	if ok := gocv.IMWrite(p, input.Mat); !ok {
		return fmt.Errorf("unable to write %v", p)
	}
	return nil
}

func (d *FrameDir) Close() error {
	return nil
}
