package config

import (
	"image"
	"math"

	"standmask/util"
)

const (
	BackendOpenCV = "opencv"
	BackendONNX   = "onnx"

	EncoderOpenCV = "opencv"
	EncoderFFmpeg = "ffmpeg"
)

// Config holds everything needed for one run. It is built once at startup
// and passed by value; nothing mutates it afterwards.
type Config struct {
	// Model.
	ModelWeights    string   `json:"model_weights" yaml:"model_weights"`
	ModelConfig     string   `json:"model_config" yaml:"model_config"`
	Backend         string   `json:"backend" yaml:"backend"`
	ONNXLibrary     string   `json:"onnx_library" yaml:"onnx_library"`
	ONNXInputName   string   `json:"onnx_input_name" yaml:"onnx_input_name"`
	ONNXOutputNames []string `json:"onnx_output_names" yaml:"onnx_output_names"`

	NumClasses          int      `json:"num_classes" yaml:"num_classes"`
	ClassNames          []string `json:"class_names" yaml:"class_names"`
	ConfidenceThreshold float32  `json:"confidence_threshold" yaml:"confidence_threshold"`
	MaskThreshold       float32  `json:"mask_threshold" yaml:"mask_threshold"`

	TargetWidth  int    `json:"target_width" yaml:"target_width"`
	TargetHeight int    `json:"target_height" yaml:"target_height"`
	MaskedClass  string `json:"masked_class" yaml:"masked_class"`

	// Input and outputs.
	InputVideo     string `json:"input_video" yaml:"input_video"`
	OutputVideo    string `json:"output_video" yaml:"output_video"`
	OutputFrameDir string `json:"output_frame_dir" yaml:"output_frame_dir"`
	ImageFormat    string `json:"image_format" yaml:"image_format"`
	Codec          string `json:"codec" yaml:"codec"`
	Encoder        string `json:"encoder" yaml:"encoder"`

	LogLevel    string `json:"log_level" yaml:"log_level"`
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"`
}

// Default returns the configuration of the stands model: three classes at a
// 0.5 score threshold, frames stretched to 1200x1000.
func Default() Config {
	return Config{
		Backend:             BackendOpenCV,
		ONNXInputName:       "image",
		ONNXOutputNames:     []string{"boxes", "labels", "scores", "masks"},
		NumClasses:          3,
		ClassNames:          []string{"publicidad", "cancha", "stands"},
		ConfidenceThreshold: 0.5,
		MaskThreshold:       0.5,
		TargetWidth:         1200,
		TargetHeight:        1000,
		MaskedClass:         "stands",
		ImageFormat:         "png",
		Codec:               "mp4v",
		Encoder:             EncoderOpenCV,
		LogLevel:            "info",
	}
}

// TargetSize is the resolution every frame is resized to before inference.
func (c Config) TargetSize() image.Point {
	return image.Point{X: c.TargetWidth, Y: c.TargetHeight}
}

// Validate checks the model-level settings. Input and output paths are
// checked by whoever opens them.
func (c Config) Validate() error {
	if c.ModelWeights == "" {
		return util.ConfigErrorf("model_weights", "no model weights configured")
	}
	if c.NumClasses <= 0 {
		return util.ConfigErrorf("num_classes", "must be positive, got %d", c.NumClasses)
	}
	if len(c.ClassNames) != c.NumClasses {
		return util.ConfigErrorf("class_names", "have %d names for %d classes", len(c.ClassNames), c.NumClasses)
	}
	if !inUnit(c.ConfidenceThreshold) {
		return util.ConfigErrorf("confidence_threshold", "%v outside [0,1]", c.ConfidenceThreshold)
	}
	if !inUnit(c.MaskThreshold) {
		return util.ConfigErrorf("mask_threshold", "%v outside [0,1]", c.MaskThreshold)
	}
	if c.TargetWidth <= 0 || c.TargetHeight <= 0 {
		return util.ConfigErrorf("target_size", "invalid resolution %dx%d", c.TargetWidth, c.TargetHeight)
	}
	found := false
	for _, n := range c.ClassNames {
		if n == c.MaskedClass {
			found = true
			break
		}
	}
	if !found {
		return util.ConfigErrorf("masked_class", "%q is not one of %v", c.MaskedClass, c.ClassNames)
	}
	switch c.Backend {
	case BackendOpenCV, BackendONNX:
	default:
		return util.ConfigErrorf("backend", "unsupported backend %q", c.Backend)
	}
	switch c.Encoder {
	case EncoderOpenCV, EncoderFFmpeg:
	default:
		return util.ConfigErrorf("encoder", "unsupported encoder %q", c.Encoder)
	}
	if c.ImageFormat == "" {
		return util.ConfigErrorf("image_format", "empty image format")
	}
	return nil
}

func inUnit(v float32) bool {
	return !math.IsNaN(float64(v)) && v >= 0 && v <= 1
}
