package sharecard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	// Registers decoders for fetched signature images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// Width and Height are the fixed share-card dimensions.
	Width  = 1080
	Height = 1920

	logoText        = "FANWALL"
	imageBox        = 900
	imageTop        = 400
	messageTop      = 1400
	messageMaxLines = 7
	hashtagBaseline = 1820
	textMargin      = 90
)

var (
	// ErrSignatureImageUnavailable indicates that the signature image could not be fetched or decoded.
	ErrSignatureImageUnavailable = errors.New("sharecard: signature image unavailable")

	// DefaultHashtags are appended when a card carries none.
	DefaultHashtags = []string{"#ComebackYe", "#FanWall"}

	background = color.Black
	foreground = color.White
	accent     = color.NRGBA{R: 0xff, G: 0x69, B: 0xb4, A: 0xff}
)

// Card is the content of one share-card.
type Card struct {
	AuthorName   string
	SignatureURL string
	Message      string
	Hashtags     []string
}

// ImageFetcher retrieves the raw bytes of a signature image.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

type faces struct {
	logo    font.Face
	author  font.Face
	message font.Face
	hashtag font.Face
}

func (f faces) Close() {
	for _, face := range []font.Face{f.logo, f.author, f.message, f.hashtag} {
		if face != nil {
			face.Close()
		}
	}
}

// Renderer draws share-cards off-screen. Faces are built per render since font.Face is not safe
// for concurrent use.
type Renderer struct {
	fetcher ImageFetcher
	regular *opentype.Font
	bold    *opentype.Font
	logger  *zap.Logger
}

// NewRenderer parses the bundled fonts and constructs a Renderer.
func NewRenderer(fetcher ImageFetcher, logger *zap.Logger) (*Renderer, error) {
	if fetcher == nil {
		return nil, errors.New("sharecard: image fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("sharecard: parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("sharecard: parse bold font: %w", err)
	}
	return &Renderer{fetcher: fetcher, regular: regular, bold: bold, logger: logger}, nil
}

func (r *Renderer) newFaces() (faces, error) {
	var loaded faces
	for _, entry := range []struct {
		target *font.Face
		font   *opentype.Font
		size   float64
	}{
		{target: &loaded.logo, font: r.bold, size: 96},
		{target: &loaded.author, font: r.regular, size: 56},
		{target: &loaded.message, font: r.regular, size: 44},
		{target: &loaded.hashtag, font: r.bold, size: 40},
	} {
		face, err := opentype.NewFace(entry.font, &opentype.FaceOptions{Size: entry.size, DPI: 72, Hinting: font.HintingFull})
		if err != nil {
			loaded.Close()
			return faces{}, fmt.Errorf("sharecard: build face: %w", err)
		}
		*entry.target = face
	}
	return loaded, nil
}

// Render composes the card. It fails with ErrSignatureImageUnavailable when the image cannot be loaded.
func (r *Renderer) Render(ctx context.Context, card Card) (image.Image, error) {
	signature, err := r.loadSignature(ctx, card.SignatureURL)
	if err != nil {
		return nil, err
	}

	cardFaces, err := r.newFaces()
	if err != nil {
		return nil, err
	}
	defer cardFaces.Close()

	canvas := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	drawCentered(canvas, cardFaces.logo, accent, logoText, 200)
	drawCentered(canvas, cardFaces.author, foreground, strings.TrimSpace(card.AuthorName), 330)
	drawFitted(canvas, signature)

	lineHeight := cardFaces.message.Metrics().Height.Ceil() + 12
	for index, line := range wrapText(cardFaces.message, card.Message, Width-2*textMargin, messageMaxLines) {
		drawCentered(canvas, cardFaces.message, foreground, line, messageTop+index*lineHeight)
	}

	hashtags := card.Hashtags
	if len(hashtags) == 0 {
		hashtags = DefaultHashtags
	}
	drawCentered(canvas, cardFaces.hashtag, accent, strings.Join(hashtags, "  "), hashtagBaseline)
	return canvas, nil
}

func (r *Renderer) loadSignature(ctx context.Context, url string) (image.Image, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrSignatureImageUnavailable)
	}
	raw, err := r.fetcher.FetchImage(ctx, url)
	if err != nil {
		r.logger.Warn("signature image fetch failed", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSignatureImageUnavailable, err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		r.logger.Warn("signature image decode failed", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSignatureImageUnavailable, err)
	}
	return decoded, nil
}

// drawFitted scales the image into the square box below the header, preserving aspect ratio.
func drawFitted(canvas draw.Image, img image.Image) {
	source := img.Bounds()
	if source.Empty() {
		return
	}
	scale := math.Min(float64(imageBox)/float64(source.Dx()), float64(imageBox)/float64(source.Dy()))
	width := max(1, int(math.Round(float64(source.Dx())*scale)))
	height := max(1, int(math.Round(float64(source.Dy())*scale)))
	offset := image.Pt((Width-width)/2, imageTop+(imageBox-height)/2)
	xdraw.CatmullRom.Scale(canvas, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(width, height))}, img, source, xdraw.Over, nil)
}

func drawCentered(canvas draw.Image, face font.Face, fill color.Color, text string, baseline int) {
	if text == "" {
		return
	}
	width := font.MeasureString(face, text).Ceil()
	drawer := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(fill),
		Face: face,
		Dot:  fixed.P((Width-width)/2, baseline),
	}
	drawer.DrawString(text)
}

// wrapText greedily breaks text into lines no wider than maxWidth, keeping explicit line breaks.
// A word wider than a line is broken between runes. Lines beyond maxLines are dropped and the
// last kept line ends with an ellipsis.
func wrapText(face font.Face, text string, maxWidth, maxLines int) []string {
	fits := func(candidate string) bool {
		return font.MeasureString(face, candidate).Ceil() <= maxWidth
	}
	var lines []string
	for _, paragraph := range strings.Split(strings.TrimSpace(text), "\n") {
		current := ""
		for _, word := range strings.Fields(paragraph) {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if fits(candidate) {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			if fits(word) {
				current = word
				continue
			}
			pieces := breakWord(word, fits)
			lines = append(lines, pieces[:len(pieces)-1]...)
			current = pieces[len(pieces)-1]
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		lines[maxLines-1] += "…"
	}
	return lines
}

// breakWord splits word into the longest rune runs that fit; a single rune always forms a piece.
func breakWord(word string, fits func(string) bool) []string {
	var pieces []string
	var current []rune
	for _, character := range word {
		if len(current) > 0 && !fits(string(append(current, character))) {
			pieces = append(pieces, string(current))
			current = current[:0:0]
		}
		current = append(current, character)
	}
	if len(current) > 0 {
		pieces = append(pieces, string(current))
	}
	return pieces
}
