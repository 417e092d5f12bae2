package process

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestClassCatalog(t *testing.T) {
	c, err := NewClassCatalog([]string{"publicidad", "cancha", "stands"})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	n, err := c.Name(2)
	require.NoError(t, err)
	assert.Equal(t, "stands", n)

	i, ok := c.Index("cancha")
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	for _, idx := range []int{-1, 3, 100} {
		_, err := c.Name(idx)
		assert.True(t, errors.Is(err, ErrUnknownClass), "index %d", idx)
	}

	_, err = NewClassCatalog(nil)
	assert.Error(t, err)
	_, err = NewClassCatalog([]string{"a", "a"})
	assert.Error(t, err)
	_, err = NewClassCatalog([]string{"a", ""})
	assert.Error(t, err)
}

func TestMaskFillRect(t *testing.T) {
	m := NewMask(10, 10)
	m.FillRect(image.Rect(-5, -5, 3, 2))
	assert.Equal(t, 6, m.Count())
	assert.True(t, m.At(0, 0))
	assert.False(t, m.At(3, 0))
	assert.False(t, m.At(-1, 0))

	m.Set(50, 50)
	assert.Equal(t, 6, m.Count())
}

func TestPasteMask(t *testing.T) {
	box := image.Rect(10, 10, 20, 20)

	full := []float32{1, 1, 1, 1}
	m, err := PasteMask(full, 2, 2, box, 40, 30, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 40, m.Width)
	assert.Equal(t, 30, m.Height)
	assert.Equal(t, 100, m.Count())

	// left column on, right column off
	half := []float32{1, 0, 1, 0}
	m, err = PasteMask(half, 2, 2, box, 40, 30, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 50, m.Count())
	assert.True(t, m.At(10, 15))
	assert.True(t, m.At(14, 15))
	assert.False(t, m.At(15, 15))
	assert.False(t, m.At(19, 15))

	// nothing outside the box
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			if !image.Pt(x, y).In(box) {
				assert.False(t, m.At(x, y), "pixel %d,%d", x, y)
			}
		}
	}
}

func TestPasteMaskClipsToFrame(t *testing.T) {
	m, err := PasteMask([]float32{1}, 1, 1, image.Rect(25, 25, 35, 35), 30, 30, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 25, m.Count())
}

func TestPasteMaskInvalid(t *testing.T) {
	_, err := PasteMask([]float32{1, 1}, 2, 2, image.Rect(0, 0, 4, 4), 4, 4, 0.5)
	assert.Error(t, err)
	_, err = PasteMask(nil, 0, 2, image.Rect(0, 0, 4, 4), 4, 4, 0.5)
	assert.Error(t, err)

	m, err := PasteMask([]float32{1}, 1, 1, image.Rectangle{}, 4, 4, 0.5)
	require.NoError(t, err)
	assert.Zero(t, m.Count())
}

func TestThresholdMask(t *testing.T) {
	m, err := ThresholdMask([]float32{0.1, 0.5, 0.9, 0.49}, 2, 2, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false}, m.Bits)

	_, err = ThresholdMask([]float32{1}, 2, 2, 0.5)
	assert.Error(t, err)
}

func whiteFrame(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), h, w, gocv.MatTypeCV8UC3)
}

func TestRedact(t *testing.T) {
	frame := whiteFrame(8, 6)
	defer frame.Close()

	m := NewMask(8, 6)
	m.FillRect(image.Rect(2, 1, 5, 4))
	require.NoError(t, Redact(&frame, m))

	check := func() {
		for y := 0; y < 6; y++ {
			for x := 0; x < 8; x++ {
				v := frame.GetVecbAt(y, x)
				if m.At(x, y) {
					assert.Equal(t, []uint8{0, 0, 0}, []uint8{v[0], v[1], v[2]}, "pixel %d,%d", x, y)
				} else {
					assert.Equal(t, []uint8{255, 255, 255}, []uint8{v[0], v[1], v[2]}, "pixel %d,%d", x, y)
				}
			}
		}
	}
	check()

	// applying the same mask again changes nothing
	require.NoError(t, Redact(&frame, m))
	check()
}

func TestRedactMismatch(t *testing.T) {
	frame := whiteFrame(8, 6)
	defer frame.Close()
	assert.Error(t, Redact(&frame, NewMask(6, 8)))

	gray := gocv.NewMatWithSize(6, 8, gocv.MatTypeCV8UC1)
	defer gray.Close()
	assert.Error(t, Redact(&gray, NewMask(8, 6)))
}

func TestResize(t *testing.T) {
	src := whiteFrame(64, 48)
	defer src.Close()

	dst, err := Preprocess(src, image.Pt(120, 100))
	require.NoError(t, err)
	defer dst.Close()
	assert.Equal(t, 120, dst.Cols())
	assert.Equal(t, 100, dst.Rows())
	assert.Equal(t, 64, src.Cols(), "source frame untouched")

	_, err = Preprocess(src, image.Pt(0, 100))
	assert.Error(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = Preprocess(empty, image.Pt(10, 10))
	assert.Error(t, err)
}

func TestDrawLabel(t *testing.T) {
	img := whiteFrame(200, 40)
	defer img.Close()
	DrawLabel(&img, "frame 12")
	v := img.GetVecbAt(1, 1)
	assert.Equal(t, uint8(0), v[0], "label background")
	v = img.GetVecbAt(39, 199)
	assert.Equal(t, uint8(255), v[0])
}
