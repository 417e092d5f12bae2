package process

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"standmask/util"
)

// ONNXEngine runs an exported Mask R-CNN through onnxruntime. The model takes
// a single float32 CHW BGR image in the 0-255 range and produces boxes in
// pixels, int64 labels, scores and [N, 1, h, w] soft masks, in that output
// order.
type ONNXEngine struct {
	session  *ort.DynamicAdvancedSession
	opts     EngineOptions
	ownsEnv  bool
	inputBuf []float32
}

func NewONNXEngine(o EngineOptions) (*ONNXEngine, error) {
	if o.ONNXInput == "" {
		return nil, util.ConfigErrorf("onnx_input_name", "must be set")
	}
	if len(o.ONNXOutputs) != 4 {
		return nil, util.ConfigErrorf("onnx_output_names", "want boxes, labels, scores and masks, got %v", o.ONNXOutputs)
	}

	e := &ONNXEngine{opts: o}
	if !ort.IsInitialized() {
		if o.ONNXLibrary != "" {
			ort.SetSharedLibraryPath(o.ONNXLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, util.ConfigErrorf("onnx_library", "initializing onnxruntime: %v", err)
		}
		e.ownsEnv = true
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		e.destroyEnv()
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(runtime.NumCPU())

	session, err := ort.NewDynamicAdvancedSession(o.Weights, []string{o.ONNXInput}, o.ONNXOutputs, options)
	if err != nil {
		e.destroyEnv()
		return nil, util.ConfigErrorf("model_weights", "error creating session: %v", err)
	}
	e.session = session
	log.Infof("Loaded ONNX model from %v", o.Weights)
	return e, nil
}

func (e *ONNXEngine) destroyEnv() {
	if !e.ownsEnv {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		log.Errorf("Failed to destroy onnxruntime environment: %v", err)
	}
	e.ownsEnv = false
}

func (e *ONNXEngine) Infer(frame gocv.Mat) ([]Instance, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	start := time.Now()
	defer func() {
		log.Debugf("ONNX inference ran in %v", time.Since(start))
	}()

	w, h := frame.Cols(), frame.Rows()
	var err error
	e.inputBuf, err = chwFromBGR(frame.ToBytes(), w, h, e.inputBuf)
	if err != nil {
		return nil, err
	}
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)), e.inputBuf)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.ArbitraryTensor, 4)
	if err := e.session.Run([]ort.ArbitraryTensor{input}, outputs); err != nil {
		return nil, fmt.Errorf("onnxruntime: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	boxes, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("boxes output has type %T, want float32", outputs[0])
	}
	labels, ok := outputs[1].(*ort.Tensor[int64])
	if !ok {
		return nil, fmt.Errorf("labels output has type %T, want int64", outputs[1])
	}
	scores, ok := outputs[2].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("scores output has type %T, want float32", outputs[2])
	}
	masks, ok := outputs[3].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("masks output has type %T, want float32", outputs[3])
	}

	return decodeONNX(onnxOutputs{
		Boxes:     boxes.GetData(),
		Labels:    labels.GetData(),
		Scores:    scores.GetData(),
		Masks:     masks.GetData(),
		MaskShape: masks.GetShape(),
	}, w, h, e.opts)
}

func (e *ONNXEngine) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	e.destroyEnv()
	return err
}

// chwFromBGR converts interleaved 8-bit BGR pixels into planar float32,
// reusing buf when it is large enough.
func chwFromBGR(pix []byte, width, height int, buf []float32) ([]float32, error) {
	plane := width * height
	if len(pix) != plane*3 {
		return nil, fmt.Errorf("frame has %d bytes, want %d for %dx%d BGR", len(pix), plane*3, width, height)
	}
	if cap(buf) < plane*3 {
		buf = make([]float32, plane*3)
	}
	buf = buf[:plane*3]
	for i := 0; i < plane; i++ {
		buf[i] = float32(pix[i*3])
		buf[plane+i] = float32(pix[i*3+1])
		buf[2*plane+i] = float32(pix[i*3+2])
	}
	return buf, nil
}

type onnxOutputs struct {
	Boxes     []float32
	Labels    []int64
	Scores    []float32
	Masks     []float32
	MaskShape ort.Shape
}

func decodeONNX(out onnxOutputs, width, height int, o EngineOptions) ([]Instance, error) {
	n := len(out.Scores)
	if len(out.Labels) != n || len(out.Boxes) != n*4 {
		return nil, fmt.Errorf("mismatched outputs: %d scores, %d labels, %d box values",
			n, len(out.Labels), len(out.Boxes))
	}
	if n == 0 {
		return nil, nil
	}
	if len(out.MaskShape) != 4 || out.MaskShape[1] != 1 || int(out.MaskShape[0]) < n {
		return nil, fmt.Errorf("unexpected mask shape %v for %d detections", out.MaskShape, n)
	}
	mh, mw := int(out.MaskShape[2]), int(out.MaskShape[3])
	if len(out.Masks) < n*mh*mw {
		return nil, fmt.Errorf("mask output has %d values, want %d", len(out.Masks), n*mh*mw)
	}
	fullFrame := mh == height && mw == width

	var res []Instance
	for i := 0; i < n; i++ {
		score := out.Scores[i]
		if score < o.ConfidenceThreshold {
			continue
		}
		class := int(out.Labels[i])
		if err := validClass(class, o.NumClasses); err != nil {
			return nil, err
		}
		b := out.Boxes[i*4 : i*4+4]
		box := clampRect(image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3])), width, height)

		prob := out.Masks[i*mh*mw : (i+1)*mh*mw]
		var (
			mask *Mask
			err  error
		)
		if fullFrame {
			mask, err = ThresholdMask(prob, width, height, o.MaskThreshold)
		} else {
			mask, err = PasteMask(prob, mw, mh, box, width, height, o.MaskThreshold)
		}
		if err != nil {
			return nil, err
		}
		res = append(res, Instance{Class: class, Score: score, Box: box, Mask: mask})
	}
	return res, nil
}
