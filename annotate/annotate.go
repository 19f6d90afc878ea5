// Package annotate draws classified detections onto a frame.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/garbedge/waste-classifier/models"
	"github.com/garbedge/waste-classifier/results"
)

const (
	BoxWidth    = 4
	JPEGQuality = 85
	padding     = 5
	bandAlpha   = 180
)

var (
	captionFace = basicfont.Face7x13
	textColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Frame returns a copy of img with every detection outlined in its category
// color, the category name on a colored band above the box and the label with
// its confidence on a dark band inside the top of the box.
func Frame(img image.Image, dets []models.ClassifiedDetection) *image.NRGBA {
	dst := imaging.Clone(img)
	// Boxes are in source coordinates; the clone starts at 0,0.
	origin := img.Bounds().Min

	for _, d := range dets {
		rect := image.Rect(
			int(d.BBox[0])-origin.X,
			int(d.BBox[1])-origin.Y,
			int(d.BBox[2])-origin.X,
			int(d.BBox[3])-origin.Y,
		)
		outline(dst, rect, d.Color, BoxWidth)

		title := results.DisplayName(d.Category)
		caption := fmt.Sprintf("%s (%s)", d.Label, results.Percent(d.Confidence))

		titleW, textH := measure(title)
		band := withAlpha(d.Color, bandAlpha)
		titleBand := image.Rect(rect.Min.X, rect.Min.Y-textH-2*padding, rect.Min.X+titleW+2*padding, rect.Min.Y)
		fill(dst, titleBand, band)
		text(dst, title, titleBand.Min.X+padding, titleBand.Max.Y-padding)

		captionW, _ := measure(caption)
		captionBand := image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+captionW+2*padding, rect.Min.Y+textH+padding)
		fill(dst, captionBand, color.RGBA{A: bandAlpha})
		text(dst, caption, captionBand.Min.X+padding, captionBand.Max.Y-padding/2)
	}
	return dst
}

// EncodeJPEG writes img as a JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
}

func outline(dst draw.Image, r image.Rectangle, c color.RGBA, width int) {
	src := image.NewUniform(c)
	for i := 0; i < width; i++ {
		edge := image.Rect(r.Min.X-i, r.Min.Y-i, r.Max.X+i, r.Max.Y+i)
		draw.Draw(dst, image.Rect(edge.Min.X, edge.Min.Y, edge.Max.X, edge.Min.Y+1), src, image.Point{}, draw.Src)
		draw.Draw(dst, image.Rect(edge.Min.X, edge.Max.Y-1, edge.Max.X, edge.Max.Y), src, image.Point{}, draw.Src)
		draw.Draw(dst, image.Rect(edge.Min.X, edge.Min.Y, edge.Min.X+1, edge.Max.Y), src, image.Point{}, draw.Src)
		draw.Draw(dst, image.Rect(edge.Max.X-1, edge.Min.Y, edge.Max.X, edge.Max.Y), src, image.Point{}, draw.Src)
	}
}

func fill(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

func text(dst draw.Image, s string, x, baseline int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: captionFace,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func measure(s string) (width, height int) {
	return font.MeasureString(captionFace, s).Ceil(), captionFace.Metrics().Height.Ceil()
}

// withAlpha returns c at the given alpha as a premultiplied color.
func withAlpha(c color.RGBA, a uint8) color.RGBA {
	scale := func(v uint8) uint8 { return uint8(uint16(v) * uint16(a) / 255) }
	return color.RGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: a}
}
