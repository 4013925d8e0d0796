package pipeline

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Page preview canvas, A4-ish portrait at screen resolution.
const (
	previewWidth  = 1240
	previewHeight = 1754
	previewMargin = 60
	lineHeight    = 16
)

// renderPagePreview draws the extracted page text onto a white canvas.
// The preview stands in for a full rasterization of the page; the
// detection backend works from the original file, this image only feeds
// the dashboard gallery.
func renderPagePreview(text string) image.Image {
	canvas := image.NewRGBA(image.Rect(0, 0, previewWidth, previewHeight))
	for i := range canvas.Pix {
		canvas.Pix[i] = 0xff
	}

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}

	maxChars := (previewWidth - 2*previewMargin) / basicfont.Face7x13.Advance
	y := previewMargin
	for _, line := range wrapLines(text, maxChars) {
		if y > previewHeight-previewMargin {
			break
		}
		drawer.Dot = fixed.P(previewMargin, y)
		drawer.DrawString(line)
		y += lineHeight
	}

	return canvas
}

// wrapLines splits text into lines no longer than maxChars.
func wrapLines(text string, maxChars int) []string {
	if maxChars <= 0 {
		return nil
	}

	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, "\r")
		for len(raw) > maxChars {
			cut := strings.LastIndex(raw[:maxChars], " ")
			if cut <= 0 {
				cut = maxChars
			}
			lines = append(lines, raw[:cut])
			raw = strings.TrimLeft(raw[cut:], " ")
		}
		lines = append(lines, raw)
	}
	return lines
}
