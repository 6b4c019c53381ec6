package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/layout"
	"github.com/agentic-research/metromap/internal/route"
	"github.com/agentic-research/metromap/internal/station"
)

var (
	stationColor = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	lineColor    = color.RGBA{R: 0x64, G: 0x74, B: 0x8b, A: 0xff}
	background   = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

const exportPadding = 16

// Export renders the map to a PNG of the requested size. With a healthy
// surface it draws the pooled visible set; after context loss it falls
// back to a software pass over the full tree, which still produces a
// valid, non-trivial image.
func (r *Renderer) Export(t *station.Tree, positions map[string]layout.Position, routes map[string]route.Route, width, height int, transparent bool) ([]byte, api.ExportInfo, error) {
	if width <= 0 || height <= 0 {
		return nil, api.ExportInfo{}, fmt.Errorf("invalid export size %dx%d", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if !transparent {
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i] = background.R
			img.Pix[i+1] = background.G
			img.Pix[i+2] = background.B
			img.Pix[i+3] = background.A
		}
	}

	if r.contextLost {
		r.rasterizeTree(img, t, positions, routes)
	} else {
		r.rasterizePool(img, positions, routes)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, api.ExportInfo{}, fmt.Errorf("encode png: %w", err)
	}
	info := api.ExportInfo{
		Width:       width,
		Height:      height,
		ByteSize:    buf.Len(),
		Transparent: transparent,
	}
	return buf.Bytes(), info, nil
}

// rasterizePool draws only pooled, currently visible primitives.
func (r *Renderer) rasterizePool(img *image.RGBA, positions map[string]layout.Position, routes map[string]route.Route) {
	tr := fitTransform(img, positions)
	for child, rt := range routes {
		if sp := r.Pool.Sprite(child); sp == nil || !sp.Visible {
			continue
		}
		drawRoute(img, rt, tr)
	}
	for _, sp := range r.Pool.sprites {
		if sp.Visible {
			drawStation(img, tr.apply(sp.X, sp.Y))
		}
	}
}

// rasterizeTree is the software fallback: it ignores pool state and
// draws every laid-out station and edge.
func (r *Renderer) rasterizeTree(img *image.RGBA, t *station.Tree, positions map[string]layout.Position, routes map[string]route.Route) {
	tr := fitTransform(img, positions)
	for _, rt := range routes {
		drawRoute(img, rt, tr)
	}
	t.Walk(func(st *station.Station) {
		if pos, ok := positions[st.Path]; ok {
			drawStation(img, tr.apply(pos.X, pos.Y))
		}
	})
}

// transform maps map units onto the image, preserving aspect ratio.
type transform struct {
	scale              float64
	offsetX, offsetY   float64
	padding            float64
	minX, minY         float64
	widthPx, heightPx  float64
	hasAnyCoordinates  bool
}

func fitTransform(img *image.RGBA, positions map[string]layout.Position) transform {
	tr := transform{
		scale:    1,
		padding:  exportPadding,
		widthPx:  float64(img.Bounds().Dx()),
		heightPx: float64(img.Bounds().Dy()),
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range positions {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
		tr.hasAnyCoordinates = true
	}
	if !tr.hasAnyCoordinates {
		return tr
	}
	tr.minX, tr.minY = minX, minY
	spanX := math.Max(maxX-minX, 1)
	spanY := math.Max(maxY-minY, 1)
	tr.scale = math.Min((tr.widthPx-2*tr.padding)/spanX, (tr.heightPx-2*tr.padding)/spanY)
	if tr.scale <= 0 {
		tr.scale = 1
	}
	return tr
}

type point struct{ x, y int }

func (t transform) apply(x, y float64) point {
	return point{
		x: int(math.Round((x-t.minX)*t.scale + t.padding)),
		y: int(math.Round((y-t.minY)*t.scale + t.padding)),
	}
}

func drawStation(img *image.RGBA, p point) {
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			setPixel(img, p.x+dx, p.y+dy, stationColor)
		}
	}
}

func drawRoute(img *image.RGBA, rt route.Route, tr transform) {
	var cur point
	for _, cmd := range rt.Commands {
		switch cmd.Op {
		case route.OpMove:
			cur = tr.apply(cmd.X, cmd.Y)
		case route.OpLine:
			next := tr.apply(cmd.X, cmd.Y)
			drawLine(img, cur, next)
			cur = next
		case route.OpCorner:
			// Flatten the quadratic corner into short segments.
			const steps = 8
			c := tr.apply(cmd.CX, cmd.CY)
			end := tr.apply(cmd.X, cmd.Y)
			prev := cur
			for i := 1; i <= steps; i++ {
				u := float64(i) / steps
				x := (1-u)*(1-u)*float64(cur.x) + 2*(1-u)*u*float64(c.x) + u*u*float64(end.x)
				y := (1-u)*(1-u)*float64(cur.y) + 2*(1-u)*u*float64(c.y) + u*u*float64(end.y)
				next := point{x: int(math.Round(x)), y: int(math.Round(y))}
				drawLine(img, prev, next)
				prev = next
			}
			cur = end
		}
	}
}

func drawLine(img *image.RGBA, a, b point) {
	dx := int(math.Abs(float64(b.x - a.x)))
	dy := int(math.Abs(float64(b.y - a.y)))
	steps := dx
	if dy > steps {
		steps = dy
	}
	if steps == 0 {
		setPixel(img, a.x, a.y, lineColor)
		return
	}
	for i := 0; i <= steps; i++ {
		u := float64(i) / float64(steps)
		x := int(math.Round(float64(a.x) + u*float64(b.x-a.x)))
		y := int(math.Round(float64(a.y) + u*float64(b.y-a.y)))
		setPixel(img, x, y, lineColor)
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
