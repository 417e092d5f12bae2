package process

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Mask is a boolean grid, true where an instance's pixels lie. Bits are row
// major.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   make([]bool, width*height),
	}
}

func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

func (m *Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Bits[y*m.Width+x] = true
}

// FillRect marks every pixel of r, clipped to the mask.
func (m *Mask) FillRect(r image.Rectangle) {
	r = r.Intersect(m.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Bits[y*m.Width : (y+1)*m.Width]
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x] = true
		}
	}
}

func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// ThresholdMask binarises a soft mask that already has frame resolution.
func ThresholdMask(prob []float32, width, height int, thresh float32) (*Mask, error) {
	if len(prob) < width*height {
		return nil, fmt.Errorf("mask has %d values, want %d", len(prob), width*height)
	}
	m := NewMask(width, height)
	for i := range m.Bits {
		m.Bits[i] = prob[i] >= thresh
	}
	return m, nil
}

// PasteMask maps a soft roiW x roiH mask onto box within a width x height
// frame, using bilinear sampling, and keeps the pixels scoring at least
// thresh. Pixels outside box are never set.
func PasteMask(prob []float32, roiW, roiH int, box image.Rectangle,
	width, height int, thresh float32) (*Mask, error) {

	if roiW <= 0 || roiH <= 0 || len(prob) < roiW*roiH {
		return nil, fmt.Errorf("invalid roi mask %dx%d with %d values", roiW, roiH, len(prob))
	}
	m := NewMask(width, height)
	if box.Empty() {
		return m, nil
	}

	bw := float64(box.Dx())
	bh := float64(box.Dy())
	clip := box.Intersect(m.Bounds())

	at := func(u, v int) float64 {
		return float64(prob[v*roiW+u])
	}

	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		// sample position of the pixel centre in roi coordinates
		v := (float64(y-box.Min.Y)+0.5)/bh*float64(roiH) - 0.5
		v0, v1, fv := split(v, roiH)

		for x := clip.Min.X; x < clip.Max.X; x++ {
			u := (float64(x-box.Min.X)+0.5)/bw*float64(roiW) - 0.5
			u0, u1, fu := split(u, roiW)

			p := at(u0, v0)*(1-fu)*(1-fv) +
				at(u1, v0)*fu*(1-fv) +
				at(u0, v1)*(1-fu)*fv +
				at(u1, v1)*fu*fv

			if float32(p) >= thresh {
				m.Bits[y*width+x] = true
			}
		}
	}
	return m, nil
}

// split returns the two neighbouring sample indices around a fractional
// coordinate, clamped to [0, n), and the weight of the second.
func split(c float64, n int) (int, int, float64) {
	if c <= 0 {
		return 0, 0, 0
	}
	if c >= float64(n-1) {
		return n - 1, n - 1, 0
	}
	i := math.Floor(c)
	return int(i), int(i) + 1, c - i
}

// Redact overwrites every pixel under m with black. The frame must be an
// 8-bit, 3-channel Mat of the same size as the mask. Redacting the same
// region twice has no further effect.
func Redact(frame *gocv.Mat, m *Mask) error {
	width := frame.Cols()
	height := frame.Rows()

	if frame.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("cannot redact Mat of type %v", frame.Type())
	}
	if m.Width != width || m.Height != height {
		return fmt.Errorf("mask is %dx%d but frame is %dx%d", m.Width, m.Height, width, height)
	}

	// per pixel access over CGO is too slow, so edit a copy of the bytes and
	// write them back in one go
	imgData := frame.ToBytes()
	touched := false

	for idx, on := range m.Bits {
		if !on {
			continue
		}
		pixelPos := idx * 3
		imgData[pixelPos+0] = 0
		imgData[pixelPos+1] = 0
		imgData[pixelPos+2] = 0
		touched = true
	}

	if !touched {
		return nil
	}

	tmpImg, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, imgData)
	if err != nil {
		return fmt.Errorf("rebuilding frame: %w", err)
	}
	defer tmpImg.Close()
	tmpImg.CopyTo(frame)
	return nil
}
