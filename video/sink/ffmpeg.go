package sink

import (
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"

	log "github.com/sirupsen/logrus"

	"standmask/util"
	"standmask/video/source"
)

type FFmpegOptions struct {
	// Binary is the ffmpeg executable. Empty means util.LocateFFmpeg.
	Binary string
	FPS    float64
	Size   image.Point
	// Preset and CRF are passed to libx264.
	Preset string
	CRF    int
}

// FFmpeg pipes raw bgr24 frames into an ffmpeg child process which encodes
// them as H.264.
type FFmpeg struct {
	path string
	size image.Point
	cmd  *exec.Cmd
	pipe io.WriteCloser
	logw *io.PipeWriter
}

func NewFFmpeg(path string, o FFmpegOptions) (*FFmpeg, error) {
	if o.Binary == "" {
		b, err := util.LocateFFmpeg()
		if err != nil {
			return nil, &util.ConfigurationError{Op: "ffmpeg", Err: err}
		}
		o.Binary = b
	}
	if o.Preset == "" {
		o.Preset = "superfast"
	}
	if o.CRF == 0 {
		o.CRF = 23
	}
	if o.FPS <= 0 || o.Size.X <= 0 || o.Size.Y <= 0 {
		return nil, util.ConfigErrorf("ffmpeg", "invalid stream %dx%d at %v fps", o.Size.X, o.Size.Y, o.FPS)
	}

	c := exec.Command(
		o.Binary,
		"-hide_banner",
		"-y",
		// Configure ffmpeg to read from the opencv pipe.
		"-f", "rawvideo",
		"-pixel_format", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", o.Size.X, o.Size.Y),
		"-framerate", strconv.FormatFloat(o.FPS, 'f', -1, 64),
		"-i", "-", // Read from stdin.
		"-c:v", "libx264",
		"-preset", o.Preset,
		"-crf", strconv.Itoa(o.CRF),
		"-pix_fmt", "yuv420p",
		// Enable fast-start so videos can be displayed in the browser without
		// full download.
		"-movflags", "+faststart",
		path,
	)

	logw := log.WithField("ffmpeg", path).WriterLevel(log.DebugLevel)
	c.Stdout = logw
	c.Stderr = logw

	pipe, err := c.StdinPipe()
	if err != nil {
		logw.Close()
		return nil, fmt.Errorf("error getting ffmpeg stdin: %w", err)
	}
	if err := c.Start(); err != nil {
		logw.Close()
		return nil, &util.ConfigurationError{Op: "ffmpeg", Err: err}
	}
	log.Infof("Started %v encoding to %v", o.Binary, path)

	return &FFmpeg{
		path: path,
		size: o.Size,
		cmd:  c,
		pipe: pipe,
		logw: logw,
	}, nil
}

func (f *FFmpeg) Put(input source.Image) error {
	if input.Mat.Cols() != f.size.X || input.Mat.Rows() != f.size.Y {
		return fmt.Errorf("frame %d is %dx%d, ffmpeg expects %dx%d",
			input.Index, input.Mat.Cols(), input.Mat.Rows(), f.size.X, f.size.Y)
	}
	if _, err := f.pipe.Write(input.Mat.ToBytes()); err != nil {
		return fmt.Errorf("writing frame %d to ffmpeg: %w", input.Index, err)
	}
	return nil
}

// Close ends the input stream and waits for ffmpeg to finish the file.
func (f *FFmpeg) Close() error {
	defer f.logw.Close()
	perr := f.pipe.Close()
	log.Debugf("Waiting for ffmpeg shutdown.")
	if err := f.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoding %v: %w", f.path, err)
	}
	return perr
}
