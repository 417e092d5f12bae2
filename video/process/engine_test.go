package process

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"standmask/config"
	"standmask/util"
)

func testOptions() EngineOptions {
	return EngineOptions{
		NumClasses:          3,
		ConfidenceThreshold: 0.5,
		MaskThreshold:       0.5,
	}
}

func TestOpenEngineConfigErrors(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "model.pb")
	require.NoError(t, os.WriteFile(weights, []byte("x"), 0644))

	tests := []struct {
		name    string
		backend string
		mod     func(*EngineOptions)
		op      string
	}{
		{"missing weights", config.BackendOpenCV, func(o *EngineOptions) { o.Weights = filepath.Join(dir, "nope.pb") }, "model_weights"},
		{"weights dir", config.BackendOpenCV, func(o *EngineOptions) { o.Weights = dir }, "model_weights"},
		{"no classes", config.BackendOpenCV, func(o *EngineOptions) { o.NumClasses = 0 }, "num_classes"},
		{"missing graph", config.BackendOpenCV, func(o *EngineOptions) { o.Graph = filepath.Join(dir, "nope.pbtxt") }, "model_config"},
		{"unknown backend", "tensorflow", func(o *EngineOptions) {}, "backend"},
		{"onnx without outputs", config.BackendONNX, func(o *EngineOptions) { o.ONNXInput = "image" }, "onnx_output_names"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOptions()
			o.Weights = weights
			tt.mod(&o)
			_, err := OpenEngine(tt.backend, o)
			var cerr *util.ConfigurationError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.op, cerr.Op)
		})
	}
}

func TestEngineOptionsFromConfig(t *testing.T) {
	c := config.Default()
	c.ModelWeights = "w.onnx"
	o := EngineOptionsFromConfig(c)
	assert.Equal(t, "w.onnx", o.Weights)
	assert.Equal(t, 3, o.NumClasses)
	assert.Equal(t, c.ONNXOutputNames, o.ONNXOutputs)
}

// detRow builds one detection_out_final row with normalised coordinates.
func detRow(class, score, l, t, r, b float32) []float32 {
	return []float32{0, class, score, l, t, r, b}
}

func TestDecodeDNN(t *testing.T) {
	var dets []float32
	dets = append(dets, detRow(2, 0.9, 0, 0, 0.5, 0.5)...)
	dets = append(dets, detRow(1, 0.3, 0, 0, 1, 1)...)
	dets = append(dets, detRow(0, 0.7, 0.5, 0.5, 1, 1)...)

	// three detections, three classes, 2x2 masks; only the channel
	// matching each detection's class is on
	dims := []int{3, 3, 2, 2}
	masks := make([]float32, 3*3*2*2)
	fill := func(n, c int) {
		off := (n*3 + c) * 4
		for i := 0; i < 4; i++ {
			masks[off+i] = 1
		}
	}
	fill(0, 2)
	fill(1, 1)
	fill(2, 0)

	got, err := decodeDNN(dets, masks, dims, 20, 10, testOptions())
	require.NoError(t, err)
	require.Len(t, got, 2, "low confidence detection dropped")

	assert.Equal(t, 2, got[0].Class)
	assert.Equal(t, image.Rect(0, 0, 10, 5), got[0].Box)
	assert.Equal(t, 50, got[0].Mask.Count())

	assert.Equal(t, 0, got[1].Class)
	assert.Equal(t, image.Rect(10, 5, 20, 10), got[1].Box)
	assert.Equal(t, 50, got[1].Mask.Count())
	assert.Equal(t, 20, got[1].Mask.Width)
	assert.Equal(t, 10, got[1].Mask.Height)
}

func TestDecodeDNNErrors(t *testing.T) {
	masks := make([]float32, 1*3*2*2)
	dims := []int{1, 3, 2, 2}

	_, err := decodeDNN(detRow(5, 0.9, 0, 0, 1, 1), masks, dims, 4, 4, testOptions())
	assert.True(t, errors.Is(err, ErrUnknownClass), "got %v", err)

	_, err = decodeDNN([]float32{1, 2, 3}, masks, dims, 4, 4, testOptions())
	assert.Error(t, err)

	_, err = decodeDNN(detRow(0, 0.9, 0, 0, 1, 1), masks, []int{1, 3, 2}, 4, 4, testOptions())
	assert.Error(t, err)
}

func TestChwFromBGR(t *testing.T) {
	pix := []byte{1, 2, 3, 4, 5, 6}
	buf, err := chwFromBGR(pix, 2, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, buf)

	again, err := chwFromBGR(pix, 2, 1, buf)
	require.NoError(t, err)
	assert.Same(t, &buf[0], &again[0])

	_, err = chwFromBGR(pix, 3, 1, nil)
	assert.Error(t, err)
}

func TestDecodeONNX(t *testing.T) {
	out := onnxOutputs{
		Boxes:  []float32{0, 0, 4, 4, 0, 0, 8, 8},
		Labels: []int64{2, 1},
		Scores: []float32{0.8, 0.2},
		Masks: []float32{
			1, 1, 1, 1,
			1, 1, 1, 1,
		},
		MaskShape: ort.NewShape(2, 1, 2, 2),
	}
	got, err := decodeONNX(out, 8, 8, testOptions())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Class)
	assert.Equal(t, image.Rect(0, 0, 4, 4), got[0].Box)
	assert.Equal(t, 16, got[0].Mask.Count())
}

func TestDecodeONNXFullFrameMasks(t *testing.T) {
	out := onnxOutputs{
		Boxes:     []float32{0, 0, 2, 2},
		Labels:    []int64{0},
		Scores:    []float32{0.9},
		Masks:     []float32{0.9, 0.1, 0.1, 0.9},
		MaskShape: ort.NewShape(1, 1, 2, 2),
	}
	got, err := decodeONNX(out, 2, 2, testOptions())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []bool{true, false, false, true}, got[0].Mask.Bits)
}

func TestDecodeONNXErrors(t *testing.T) {
	out := onnxOutputs{
		Boxes:     []float32{0, 0, 2, 2},
		Labels:    []int64{7},
		Scores:    []float32{0.9},
		Masks:     []float32{1, 1, 1, 1},
		MaskShape: ort.NewShape(1, 1, 2, 2),
	}
	_, err := decodeONNX(out, 2, 2, testOptions())
	assert.True(t, errors.Is(err, ErrUnknownClass), "got %v", err)

	out.Labels = []int64{0, 1}
	_, err = decodeONNX(out, 2, 2, testOptions())
	assert.Error(t, err)

	got, err := decodeONNX(onnxOutputs{}, 2, 2, testOptions())
	require.NoError(t, err)
	assert.Empty(t, got)
}
