package main

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

// splitImage is red on its left half and blue on its right half.
func splitImage(w, h int) image.Image {
	img := imaging.New(w, h, blue)
	return imaging.Paste(img, imaging.New(w/2, h, red), image.Pt(0, 0))
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, imaging.Encode(&b, img, imaging.PNG))
	return b.Bytes()
}

func writeImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, encodePNG(t, img), 0o644))
	return path
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func rgb(c color.Color) (r, g, b uint32) {
	r, g, b, _ = c.RGBA()
	return r >> 8, g >> 8, b >> 8
}

// scenarioLayout is a 2:1 image shown in a 400x400 container.
func scenarioLayout(t *testing.T) ImageLayout {
	t.Helper()
	layout, err := ComputeLayout(Size{W: 400, H: 400}, Size{W: 800, H: 400})
	require.NoError(t, err)
	return layout
}
