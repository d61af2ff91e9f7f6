package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// PNG returns an encoded w x h image filled with a solid colour.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: 0x20, G: 0x60, B: 0xa0, A: 0xff}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
