package video

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pillash/mp4util"

	"standmask/config"
	"standmask/util"
)

const (
	ExtVideo  = "_redacted.mp4"
	ExtFrames = "_frames"
)

// Outputs is where one run writes its results.
type Outputs struct {
	Input string

	VideoPath string
	FrameDir  string
}

// NewOutputs derives the output locations for input under root, creating
// root if needed. An empty root means the directory holding input.
func NewOutputs(root, input string) (*Outputs, error) {
	if input == "" {
		return nil, util.ConfigErrorf("input_video", "must be set")
	}
	if root == "" {
		root = filepath.Dir(input)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, &util.ConfigurationError{Op: "output", Err: err}
	}
	name := filepath.Base(input)
	base := filepath.Join(root, strings.TrimSuffix(name, filepath.Ext(name)))
	return &Outputs{
		Input:     input,
		VideoPath: base + ExtVideo,
		FrameDir:  base + ExtFrames,
	}, nil
}

// ResolveOutputs uses the locations named in c, deriving whichever is
// missing from the input video.
func ResolveOutputs(c config.Config, root string) (*Outputs, error) {
	o := &Outputs{
		Input:     c.InputVideo,
		VideoPath: c.OutputVideo,
		FrameDir:  c.OutputFrameDir,
	}
	if o.VideoPath != "" && o.FrameDir != "" {
		if dir := filepath.Dir(o.VideoPath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, &util.ConfigurationError{Op: "output_video", Err: err}
			}
		}
		return o, nil
	}
	d, err := NewOutputs(root, c.InputVideo)
	if err != nil {
		return nil, err
	}
	if o.VideoPath == "" {
		o.VideoPath = d.VideoPath
	}
	if o.FrameDir == "" {
		o.FrameDir = d.FrameDir
	}
	return o, nil
}

// Done reports whether a previous run already produced the output video.
func (o *Outputs) Done() bool {
	st, err := os.Stat(o.VideoPath)
	return err == nil && st.Size() > 0
}

// VideoDuration reads the duration of the finished output video.
func (o *Outputs) VideoDuration() (time.Duration, error) {
	secs, err := mp4util.Duration(o.VideoPath)
	if err != nil {
		return 0, fmt.Errorf("reading duration of %v: %w", o.VideoPath, err)
	}
	return time.Duration(secs) * time.Second, nil
}

func (o *Outputs) String() string {
	return fmt.Sprintf("%v -> %v, %v", o.Input, o.VideoPath, o.FrameDir)
}
