package compositor

import (
	"bytes"
	"errors"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vector"
	_ "golang.org/x/image/webp"
)

const (
	backgroundCoverage = 0.9
	capSegments        = 24
)

var errMissingLayer = errors.New("compositor: drawing layer is required")

// RenderLayer rasterizes the strokes onto a transparent surface of the drawing's size.
func RenderLayer(drawing Drawing) *image.NRGBA {
	layer := image.NewNRGBA(image.Rect(0, 0, drawing.Width, drawing.Height))
	if drawing.Width <= 0 || drawing.Height <= 0 {
		return layer
	}
	rasterizer := vector.NewRasterizer(drawing.Width, drawing.Height)
	for _, stroke := range drawing.Strokes {
		fill, err := ParseColor(stroke.Color)
		if err != nil || len(stroke.Points) == 0 {
			continue
		}
		rasterizer.Reset(drawing.Width, drawing.Height)
		traceStroke(rasterizer, stroke)
		rasterizer.Draw(layer, layer.Bounds(), image.NewUniform(fill), image.Point{})
	}
	return layer
}

// traceStroke adds one quad per segment and one disc per point, all wound the same way
// so overlapping coverage accumulates instead of cancelling.
func traceStroke(rasterizer *vector.Rasterizer, stroke Stroke) {
	radius := float64(stroke.Width) / 2
	for index, point := range stroke.Points {
		traceDisc(rasterizer, point, radius)
		if index == 0 {
			continue
		}
		traceSegment(rasterizer, stroke.Points[index-1], point, radius)
	}
}

func traceSegment(rasterizer *vector.Rasterizer, from, to Point, radius float64) {
	dx := float64(to.X - from.X)
	dy := float64(to.Y - from.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	nx := float32(-dy / length * radius)
	ny := float32(dx / length * radius)
	rasterizer.MoveTo(from.X+nx, from.Y+ny)
	rasterizer.LineTo(to.X+nx, to.Y+ny)
	rasterizer.LineTo(to.X-nx, to.Y-ny)
	rasterizer.LineTo(from.X-nx, from.Y-ny)
	rasterizer.ClosePath()
}

func traceDisc(rasterizer *vector.Rasterizer, center Point, radius float64) {
	for step := 0; step <= capSegments; step++ {
		angle := -2 * math.Pi * float64(step) / capSegments
		x := center.X + float32(radius*math.Cos(angle))
		y := center.Y + float32(radius*math.Sin(angle))
		if step == 0 {
			rasterizer.MoveTo(x, y)
			continue
		}
		rasterizer.LineTo(x, y)
	}
	rasterizer.ClosePath()
}

// Compositor merges a drawing layer with an optional background into a square image.
type Compositor struct {
	logger *zap.Logger
}

// New constructs a Compositor.
func New(logger *zap.Logger) *Compositor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compositor{logger: logger}
}

// Compose returns a transparent square with side max(W, H). A decodable background is scaled so
// its long edge covers 90% of the side and drawn centered first. The unscaled layer is drawn
// centered on top. An undecodable background is skipped.
func (c *Compositor) Compose(layer image.Image, background []byte) (*image.NRGBA, error) {
	if layer == nil {
		return nil, errMissingLayer
	}
	bounds := layer.Bounds()
	side := max(bounds.Dx(), bounds.Dy())
	canvas := image.NewNRGBA(image.Rect(0, 0, side, side))

	if len(background) > 0 {
		decoded, format, err := image.Decode(bytes.NewReader(background))
		if err != nil {
			c.logger.Warn("background image skipped", zap.Error(err))
		} else {
			c.drawBackground(canvas, decoded)
			c.logger.Debug("background image composed", zap.String("format", format))
		}
	}

	offset := image.Pt((side-bounds.Dx())/2, (side-bounds.Dy())/2)
	target := image.Rectangle{Min: offset, Max: offset.Add(bounds.Size())}
	draw.Draw(canvas, target, layer, bounds.Min, draw.Over)
	return canvas, nil
}

func (c *Compositor) drawBackground(canvas *image.NRGBA, background image.Image) {
	side := canvas.Bounds().Dx()
	source := background.Bounds()
	longEdge := max(source.Dx(), source.Dy())
	if longEdge == 0 {
		return
	}
	scale := backgroundCoverage * float64(side) / float64(longEdge)
	width := max(1, int(math.Round(float64(source.Dx())*scale)))
	height := max(1, int(math.Round(float64(source.Dy())*scale)))
	offset := image.Pt((side-width)/2, (side-height)/2)
	target := image.Rectangle{Min: offset, Max: offset.Add(image.Pt(width, height))}
	xdraw.CatmullRom.Scale(canvas, target, background, source, xdraw.Over, nil)
}

// ComposeDrawing renders the drawing and composes it with the optional background.
func (c *Compositor) ComposeDrawing(drawing Drawing, background []byte) (*image.NRGBA, error) {
	if err := drawing.Validate(); err != nil {
		return nil, err
	}
	return c.Compose(RenderLayer(drawing), background)
}

// EncodePNG serializes the image as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
