package compositor

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

const (
	// MinStrokeWidth and MaxStrokeWidth bound the brush size.
	MinStrokeWidth = 1
	MaxStrokeWidth = 20
	// DefaultStrokeWidth is the initial brush size.
	DefaultStrokeWidth = 3
	// MaxDimension bounds either side of a drawing surface.
	MaxDimension = 4096
)

var (
	// ErrInvalidDimensions indicates a non-positive or oversized drawing surface.
	ErrInvalidDimensions = errors.New("compositor: invalid drawing dimensions")
	// ErrColorNotInPalette indicates a stroke color outside the fixed palette.
	ErrColorNotInPalette = errors.New("compositor: color not in palette")
	// ErrInvalidStrokeWidth indicates a brush size outside the allowed range.
	ErrInvalidStrokeWidth = errors.New("compositor: invalid stroke width")
)

var palette = []string{"#ff0000", "#ff69b4", "#8a2be2", "#ffa500", "#20b2aa", "#9370db"}

// Palette returns the selectable stroke colors.
func Palette() []string {
	return append([]string(nil), palette...)
}

// Point is a position on the drawing surface, in pixels.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Stroke is one continuous freehand line.
type Stroke struct {
	Color  string  `json:"color"`
	Width  float32 `json:"width"`
	Points []Point `json:"points"`
}

// Drawing is the accumulated freehand layer of a signature.
type Drawing struct {
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Strokes []Stroke `json:"strokes"`
}

// Validate checks the surface size and every stroke's color and width.
func (d Drawing) Validate() error {
	if d.Width <= 0 || d.Height <= 0 || d.Width > MaxDimension || d.Height > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, d.Width, d.Height)
	}
	for index, stroke := range d.Strokes {
		if _, err := ParseColor(stroke.Color); err != nil {
			return fmt.Errorf("stroke %d: %w", index, err)
		}
		if stroke.Width < MinStrokeWidth || stroke.Width > MaxStrokeWidth {
			return fmt.Errorf("stroke %d: %w: %v", index, ErrInvalidStrokeWidth, stroke.Width)
		}
	}
	return nil
}

// ParseColor resolves a palette hex color.
func ParseColor(hex string) (color.NRGBA, error) {
	normalized := strings.ToLower(strings.TrimSpace(hex))
	for _, candidate := range palette {
		if candidate == normalized {
			value, err := strconv.ParseUint(normalized[1:], 16, 32)
			if err != nil {
				return color.NRGBA{}, err
			}
			return color.NRGBA{R: uint8(value >> 16), G: uint8(value >> 8), B: uint8(value), A: 0xff}, nil
		}
	}
	return color.NRGBA{}, fmt.Errorf("%w: %q", ErrColorNotInPalette, hex)
}
