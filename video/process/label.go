package process

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	colorLabel   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorLabelBG = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// DrawLabel writes text in the top left corner of img on a solid background.
func DrawLabel(img *gocv.Mat, text string) {
	font := gocv.FontHersheySimplex
	scale := 0.5
	thickness := 1

	sz := gocv.GetTextSize(text, font, scale, thickness)

	pad := 2

	gocv.Rectangle(img, image.Rectangle{Min: image.Point{X: 0, Y: 0}, Max: image.Point{X: sz.X + pad*2, Y: sz.Y + pad*2}}, colorLabelBG, -1)

	gocv.PutText(img, text, image.Point{X: pad, Y: sz.Y + pad}, font, scale, colorLabel, thickness)
}
