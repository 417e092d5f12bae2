package source

import (
	"fmt"
	"image"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"standmask/util"
)

// VideoFile reads frames from a video file through OpenCV.
type VideoFile struct {
	Path string

	cap   *gocv.VideoCapture
	size  image.Point
	fps   float64
	index int
}

func OpenVideoFile(path string) (*VideoFile, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &util.ConfigurationError{Op: "input_video", Err: err}
	}
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &util.ConfigurationError{Op: "input_video", Err: err}
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, util.ConfigErrorf("input_video", "%v: no decoder could open the file", path)
	}
	v := &VideoFile{
		Path: path,
		cap:  cap,
		size: image.Point{
			X: int(cap.Get(gocv.VideoCaptureFrameWidth)),
			Y: int(cap.Get(gocv.VideoCaptureFrameHeight)),
		},
		fps: cap.Get(gocv.VideoCaptureFPS),
	}
	log.Infof("Opened %v: %dx%d @ %.2f fps", path, v.size.X, v.size.Y, v.fps)
	return v, nil
}

func (v *VideoFile) Next() (Image, error) {
	i := NewImage()
	if ok := v.cap.Read(&i.Mat); !ok || i.Mat.Empty() {
		i.Close()
		return Image{}, io.EOF
	}
	if i.Mat.Channels() != 3 {
		i.Close()
		return Image{}, fmt.Errorf("frame %d has %d channels, want 3", v.index, i.Mat.Channels())
	}
	i.Index = v.index
	v.index++
	return i, nil
}

func (v *VideoFile) Size() image.Point {
	return v.size
}

func (v *VideoFile) FPS() float64 {
	return v.fps
}

func (v *VideoFile) Close() error {
	return v.cap.Close()
}
