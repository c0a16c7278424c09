package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"poolguard/internal/pipeline"
)

var levelColors = map[pipeline.WarningLevel]color.RGBA{
	pipeline.WarningLow:    {0, 180, 0, 255},
	pipeline.WarningMedium: {255, 165, 0, 255},
	pipeline.WarningHigh:   {220, 0, 0, 255},
}

// HUD returns a frame decorator drawing a risk banner on top of each published
// frame, and a red border while the level is high
func HUD(quality int) pipeline.FrameDecorator {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return func(jpegData []byte, result *pipeline.HazardResult) ([]byte, error) {
		img, err := jpeg.Decode(bytes.NewReader(jpegData))
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}

		bounds := img.Bounds()
		rgba := image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

		c, ok := levelColors[result.WarningLevel]
		if !ok {
			c = color.RGBA{128, 128, 128, 255}
		}

		drawLabel(rgba, bounds.Min.X+4, bounds.Min.Y+4, hudText(result), c)
		if result.WarningLevel == pipeline.WarningHigh {
			drawBox(rgba, bounds.Min.X, bounds.Min.Y, bounds.Dx()-1, bounds.Dy()-1, c, 4)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
		return buf.Bytes(), nil
	}
}

func hudText(result *pipeline.HazardResult) string {
	text := fmt.Sprintf("RISK %s  children: %d", result.WarningLevel, len(result.Children))
	if d := result.MinDistance(); !math.IsInf(d, 1) {
		text += fmt.Sprintf("  nearest: %.2fm", d)
	}
	for _, c := range result.Children {
		if c.InPool {
			text += "  IN POOL"
			break
		}
	}
	return text
}

// drawBox draws a rectangle on the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(bounds) {
			img.SetRGBA(px, py, c)
		}
	}

	for t := 0; t < thickness; t++ {
		for i := x; i <= x+w; i++ {
			set(i, y+t)
			set(i, y+h-t)
		}
		for j := y; j <= y+h; j++ {
			set(x+t, j)
			set(x+w-t, j)
		}
	}
}

// drawLabel draws text on a dark background at (x, y)
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bounds := img.Bounds()
	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 14; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if image.Pt(px, py).In(bounds) {
				img.SetRGBA(px, py, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
