package render

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

// drawnPixels counts pixels that are neither the background fill nor
// fully transparent.
func drawnPixels(img image.Image) int {
	n := 0
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			if r == 0xffff && g == 0xffff && b == 0xffff {
				continue
			}
			n++
		}
	}
	return n
}

func TestExport_PoolPathProducesValidPNG(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()
	r.Redraw(tr, positions, routes, Options{DisableCulling: true})

	data, info, err := r.Export(tr, positions, routes, 640, 480, false)
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 480, info.Height)
	assert.Equal(t, len(data), info.ByteSize)
	assert.False(t, info.Transparent)

	img := decodePNG(t, data)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())
	assert.Greater(t, drawnPixels(img), 100, "export must contain drawn stations and lines")
}

func TestExport_ContextLossFallsBackToSoftware(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()
	// Context lost before any frame was drawn: the pool is empty, so
	// only the software path can produce content.
	r.MarkContextLost()
	require.True(t, r.ContextLost())

	data, info, err := r.Export(tr, positions, routes, 640, 480, false)
	require.NoError(t, err)
	assert.Greater(t, info.ByteSize, 0)
	img := decodePNG(t, data)
	assert.Greater(t, drawnPixels(img), 100, "software fallback must still draw the full tree")

	r.RestoreContext()
	assert.False(t, r.ContextLost())
}

func TestExport_TransparentBackground(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()
	r.Redraw(tr, positions, routes, Options{DisableCulling: true})

	data, info, err := r.Export(tr, positions, routes, 320, 240, true)
	require.NoError(t, err)
	assert.True(t, info.Transparent)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "untouched pixels keep zero alpha")
}

func TestExport_RejectsInvalidSize(t *testing.T) {
	tr, positions, routes := wideTree(t)
	r := NewRenderer()

	_, _, err := r.Export(tr, positions, routes, 0, 480, false)
	assert.Error(t, err)
	_, _, err = r.Export(tr, positions, routes, 640, -1, false)
	assert.Error(t, err)
}
