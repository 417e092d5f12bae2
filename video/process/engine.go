package process

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"standmask/config"
	"standmask/util"
)

// Instance is one object found by an Engine in a frame.
type Instance struct {
	// Class is the catalog index of the detected class.
	Class int
	Score float32
	Box   image.Rectangle
	// Mask has the dimensions of the frame passed to Infer.
	Mask *Mask
}

// Engine runs instance segmentation on a single frame.
type Engine interface {
	// Infer returns every instance scoring at least the configured
	// confidence threshold. Masks are aligned to frame.
	Infer(frame gocv.Mat) ([]Instance, error)

	// Close releases the model.
	Close() error
}

type EngineOptions struct {
	Weights string
	// Graph is the text graph description used by the OpenCV backend. It
	// may be empty when the weights file is self describing.
	Graph string

	NumClasses          int
	ConfidenceThreshold float32
	MaskThreshold       float32

	ONNXLibrary string
	ONNXInput   string
	ONNXOutputs []string
}

func EngineOptionsFromConfig(c config.Config) EngineOptions {
	return EngineOptions{
		Weights:             c.ModelWeights,
		Graph:               c.ModelConfig,
		NumClasses:          c.NumClasses,
		ConfidenceThreshold: c.ConfidenceThreshold,
		MaskThreshold:       c.MaskThreshold,
		ONNXLibrary:         c.ONNXLibrary,
		ONNXInput:           c.ONNXInputName,
		ONNXOutputs:         c.ONNXOutputNames,
	}
}

func checkReadable(op, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &util.ConfigurationError{Op: op, Err: err}
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return &util.ConfigurationError{Op: op, Err: err}
	}
	if st.IsDir() {
		return util.ConfigErrorf(op, "%v is a directory", path)
	}
	return nil
}

// OpenEngine loads the model for the given backend.
func OpenEngine(backend string, o EngineOptions) (Engine, error) {
	if o.NumClasses <= 0 {
		return nil, util.ConfigErrorf("num_classes", "must be positive, got %d", o.NumClasses)
	}
	if err := checkReadable("model_weights", o.Weights); err != nil {
		return nil, err
	}
	if o.Graph != "" {
		if err := checkReadable("model_config", o.Graph); err != nil {
			return nil, err
		}
	}

	switch backend {
	case config.BackendOpenCV:
		return NewDNNEngine(o)
	case config.BackendONNX:
		return NewONNXEngine(o)
	default:
		return nil, util.ConfigErrorf("backend", "unsupported backend %q", backend)
	}
}

func clampRect(r image.Rectangle, width, height int) image.Rectangle {
	return r.Canon().Intersect(image.Rect(0, 0, width, height))
}

func validClass(class, numClasses int) error {
	if class < 0 || class >= numClasses {
		return fmt.Errorf("%w %d (model has %d classes)", ErrUnknownClass, class, numClasses)
	}
	return nil
}
