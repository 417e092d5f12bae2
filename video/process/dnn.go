package process

import (
	"errors"
	"fmt"
	"image"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"standmask/util"
)

const (
	dnnDetectionLayer = "detection_out_final"
	dnnMaskLayer      = "detection_masks"
)

// DNNEngine runs a Mask R-CNN graph through the OpenCV dnn module.
type DNNEngine struct {
	net  gocv.Net
	opts EngineOptions
}

func NewDNNEngine(o EngineOptions) (*DNNEngine, error) {
	net := gocv.ReadNet(o.Weights, o.Graph)
	if net.Empty() {
		net.Close()
		return nil, util.ConfigErrorf("model_weights", "failed to read network from %v", o.Weights)
	}
	log.Infof("Loaded Mask R-CNN from %v", o.Weights)
	return &DNNEngine{net: net, opts: o}, nil
}

func (e *DNNEngine) Infer(frame gocv.Mat) ([]Instance, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	start := time.Now()
	defer func() {
		log.Debugf("Mask R-CNN ran in %v", time.Since(start))
	}()

	blob := gocv.BlobFromImage(frame, 1.0, image.Pt(0, 0), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	e.net.SetInput(blob, "")

	outs := e.net.ForwardLayers([]string{dnnDetectionLayer, dnnMaskLayer})
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()
	if len(outs) != 2 {
		return nil, fmt.Errorf("expected 2 output blobs, got %d", len(outs))
	}

	dets, err := outs[0].DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading %v: %w", dnnDetectionLayer, err)
	}
	masks, err := outs[1].DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading %v: %w", dnnMaskLayer, err)
	}
	return decodeDNN(dets, masks, outs[1].Size(), frame.Cols(), frame.Rows(), e.opts)
}

func (e *DNNEngine) Close() error {
	return e.net.Close()
}

// decodeDNN turns the raw detection rows (image id, class, score, left, top,
// right, bottom; coordinates normalised) and the [N, C, h, w] soft masks into
// frame aligned instances.
func decodeDNN(dets, masks []float32, maskDims []int, width, height int, o EngineOptions) ([]Instance, error) {
	if len(dets)%7 != 0 {
		return nil, fmt.Errorf("detection blob has %d values, not a multiple of 7", len(dets))
	}
	if len(maskDims) != 4 {
		return nil, fmt.Errorf("mask blob has %d dims, want 4", len(maskDims))
	}
	n := len(dets) / 7
	mn, mc, mh, mw := maskDims[0], maskDims[1], maskDims[2], maskDims[3]
	if mn < n {
		return nil, fmt.Errorf("%d detections but only %d masks", n, mn)
	}
	if len(masks) < mn*mc*mh*mw {
		return nil, fmt.Errorf("mask blob has %d values, want %d", len(masks), mn*mc*mh*mw)
	}

	fw, fh := float32(width), float32(height)
	var out []Instance
	for i := 0; i < n; i++ {
		row := dets[i*7 : i*7+7]
		score := row[2]
		if score < o.ConfidenceThreshold {
			continue
		}
		class := int(row[1])
		if err := validClass(class, o.NumClasses); err != nil {
			return nil, err
		}
		if class >= mc {
			return nil, fmt.Errorf("%w %d (mask blob has %d channels)", ErrUnknownClass, class, mc)
		}

		box := clampRect(image.Rect(
			int(row[3]*fw), int(row[4]*fh),
			int(row[5]*fw), int(row[6]*fh),
		), width, height)

		off := (i*mc + class) * mh * mw
		mask, err := PasteMask(masks[off:off+mh*mw], mw, mh, box, width, height, o.MaskThreshold)
		if err != nil {
			return nil, err
		}
		log.Debugf("Detection of class %d at %v, confidence %.2f", class, box, score)
		out = append(out, Instance{Class: class, Score: score, Box: box, Mask: mask})
	}
	return out, nil
}
