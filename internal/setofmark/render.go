package setofmark

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	textColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func decodedDimensions(screenshot []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(screenshot))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// render draws a red hollow rectangle around each visible rect (skipping
// "option" and "input-type-file" tags) with a filled label box anchored top-right (or bottom-right if the
// element sits within the top no-label zone), and composites it atop the
// base screenshot (spec §4.3).
func render(screenshot []byte, rois map[string]InteractiveRegion, origToNew map[string]string) ([]byte, error) {
	base, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, err
	}

	bounds := base.Bounds()
	width, height := float64(bounds.Dx()), float64(bounds.Dy())

	composited := image.NewRGBA(bounds)
	draw.Draw(composited, bounds, base, image.Point{}, draw.Src)

	for id, roi := range rois {
		if isSkippedTag(roi.TagName) {
			continue
		}
		newID, ok := origToNew[id]
		if !ok {
			continue
		}
		for _, rect := range roi.Rects {
			if rect.width()*rect.height() == 0 {
				continue
			}
			midX, midY := rect.center()
			if midX < 0 || midX >= width || midY < 0 || midY >= height {
				continue
			}
			drawROI(composited, newID, rect)
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, composited); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func drawROI(img *image.RGBA, label string, rect DOMRect) {
	left, top := int(rect.Left), int(rect.Top)
	right, bottom := int(rect.Right), int(rect.Bottom)

	drawHollowRect(img, left, top, right, bottom, boxColor, 2)

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	textHeight := face.Metrics().Height.Ceil()

	labelX := right
	labelY := top
	anchorBottom := true
	if labelY <= topNoLabelZone {
		labelY = bottom
		anchorBottom = false
	}

	textX := labelX - textWidth - 3
	var textY int
	if anchorBottom {
		textY = labelY - textHeight - 3
	} else {
		textY = labelY + 3
	}

	bgRect := image.Rect(textX-3, textY-3, textX+textWidth+3, textY+textHeight+3)
	drawFilledRect(img, bgRect, boxColor)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(textX, textY+face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(label)
}

func drawHollowRect(img *image.RGBA, left, top, right, bottom int, c color.RGBA, thickness int) {
	r := image.Rect(left, top, right, bottom)
	for i := 0; i < thickness; i++ {
		drawLine(img, r.Min.X+i, r.Min.Y+i, r.Max.X-i, r.Min.Y+i, c) // top
		drawLine(img, r.Min.X+i, r.Max.Y-i, r.Max.X-i, r.Max.Y-i, c) // bottom
		drawLine(img, r.Min.X+i, r.Min.Y+i, r.Min.X+i, r.Max.Y-i, c) // left
		drawLine(img, r.Max.X-i, r.Min.Y+i, r.Max.X-i, r.Max.Y-i, c) // right
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	bounds := img.Bounds()
	if x0 == x1 {
		for y := y0; y <= y1; y++ {
			setPixel(img, bounds, x0, y, c)
		}
		return
	}
	for x := x0; x <= x1; x++ {
		setPixel(img, bounds, x, y0, c)
	}
}

func drawFilledRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	bounds := img.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setPixel(img, bounds, x, y, c)
		}
	}
}

func setPixel(img *image.RGBA, bounds image.Rectangle, x, y int, c color.RGBA) {
	if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
		return
	}
	img.Set(x, y, c)
}
