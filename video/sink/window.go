package sink

import (
	"gocv.io/x/gocv"

	"standmask/video/source"
)

// Window shows frames in a desktop window. It is driven from the pipeline's
// per frame callback rather than used as a Sink, since a key press can end
// the run.
type Window struct {
	window  *gocv.Window
	sizeSet bool
}

func NewWindow(name string) *Window {
	return &Window{
		window: gocv.NewWindow(name),
	}
}

// Show displays input and reports whether 'q' was pressed.
func (w *Window) Show(input source.Image) bool {
	if !w.sizeSet {
		w.window.ResizeWindow(input.Mat.Cols(), input.Mat.Rows())
		w.sizeSet = true
	}
	w.window.IMShow(input.Mat)
	return w.window.WaitKey(1)&0xFF == 'q'
}

func (w *Window) Close() error {
	return w.window.Close()
}
