package camera

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"classtrack/internal/recognizer"
)

var (
	recognizedColor = color.RGBA{0, 200, 0, 255}
	unknownColor    = color.RGBA{220, 0, 0, 255}
	labelTextColor  = color.RGBA{255, 255, 255, 255}
)

// Downsample scales img down by factor using a cheap bilinear scaler.
// Recognition runs on the small frame; display uses the original.
func Downsample(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()/factor, b.Dy()/factor))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// Annotate draws detection boxes and name labels onto a copy of img.
// Recognized faces are boxed green, unknown faces red. Detection boxes are
// in small-frame coordinates and scaled back up by factor.
func Annotate(img image.Image, dets []recognizer.Detection, factor int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	if factor < 1 {
		factor = 1
	}
	for _, det := range dets {
		col := unknownColor
		label := "Unknown"
		if det.Recognized() {
			col = recognizedColor
			label = det.Name
		}
		box := image.Rect(
			det.Box.Left*factor, det.Box.Top*factor,
			det.Box.Right*factor, det.Box.Bottom*factor,
		).Intersect(b)
		if box.Empty() {
			continue
		}
		drawRect(out, box, col, 2)
		drawLabel(out, box, label, col)
	}
	return out
}

// drawRect strokes the rectangle outline with the given thickness.
func drawRect(dst *image.RGBA, r image.Rectangle, col color.Color, thickness int) {
	fill := image.NewUniform(col)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), fill, image.Point{}, draw.Src)
}

// drawLabel paints a filled strip along the bottom edge of the box with the
// name in it.
func drawLabel(dst *image.RGBA, box image.Rectangle, label string, col color.Color) {
	strip := image.Rect(box.Min.X, box.Max.Y-18, box.Max.X, box.Max.Y).Intersect(dst.Bounds())
	if strip.Empty() {
		return
	}
	draw.Draw(dst, strip, image.NewUniform(col), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelTextColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(strip.Min.X+4, strip.Max.Y-5),
	}
	d.DrawString(label)
}
