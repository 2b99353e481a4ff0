// Package langimage converts images into printer-language raster commands
// (ESC/P, EPL and ZPL).
package langimage

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

var (
	ErrUnknownLanguage = errors.New("langimage: unknown printer language")
	ErrUnknownDensity  = errors.New("langimage: unknown dot density")
	ErrEmptyImage      = errors.New("langimage: image has no pixels")
)

// DefaultThreshold is the luminance below which a pixel prints black
const DefaultThreshold = 127

// Language is a printer command language. The zero value means the image is
// not converted and goes to the rendering pipeline instead.
type Language int

const (
	None Language = iota
	ESCP
	EPL
	ZPL
)

// ParseLanguage accepts the common spellings of each language
func ParseLanguage(s string) (Language, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return None, nil
	case "ESCP", "ESC/P", "ESCP2", "ESC/P2", "ESCPOS", "ESC/POS":
		return ESCP, nil
	case "EPL", "EPL2":
		return EPL, nil
	case "ZPL", "ZPLII", "ZPL2":
		return ZPL, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

func (l Language) String() string {
	switch l {
	case ESCP:
		return "ESCP"
	case EPL:
		return "EPL"
	case ZPL:
		return "ZPLII"
	default:
		return ""
	}
}

// DotDensity is the ESC * bit-image mode. Only the values below exist.
type DotDensity struct {
	mode byte
}

var (
	SingleDensity = DotDensity{mode: 32}
	DoubleDensity = DotDensity{mode: 33}
	TripleDensity = DotDensity{mode: 39}
)

// ParseDotDensity accepts single, double, triple or the raw mode numbers
func ParseDotDensity(s string) (DotDensity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single", "32":
		return SingleDensity, nil
	case "double", "33":
		return DoubleDensity, nil
	case "triple", "39":
		return TripleDensity, nil
	}
	return DotDensity{}, fmt.Errorf("%w: %q", ErrUnknownDensity, s)
}

// Mode returns the ESC * m parameter. The zero value is single density.
func (d DotDensity) Mode() byte {
	if d.mode == 0 {
		return SingleDensity.mode
	}
	return d.mode
}

func (d DotDensity) String() string {
	switch d.Mode() {
	case 33:
		return "double"
	case 39:
		return "triple"
	default:
		return "single"
	}
}

// Options control a conversion
type Options struct {
	Lang      Language
	Density   DotDensity
	X, Y      int
	Threshold uint8
}

// Encode converts img to lang-specific raster commands
func Encode(img image.Image, opts Options) ([]byte, error) {
	bm, err := NewBitmap(img, opts.Threshold)
	if err != nil {
		return nil, err
	}

	switch opts.Lang {
	case ESCP:
		return encodeESCP(bm, opts.Density), nil
	case EPL:
		return encodeEPL(bm, opts.X, opts.Y), nil
	case ZPL:
		return encodeZPL(bm), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownLanguage, opts.Lang)
	}
}

// Bitmap is a 1-bit image, rows packed MSB first, set bits are black
type Bitmap struct {
	Width       int
	Height      int
	BytesPerRow int
	Bits        []byte
}

// NewBitmap thresholds img. Transparent pixels count as white.
func NewBitmap(img image.Image, threshold uint8) (*Bitmap, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, ErrEmptyImage
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	bg := imaging.New(width, height, color.White)
	flat := imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	gray := imaging.Grayscale(flat)

	bm := &Bitmap{
		Width:       width,
		Height:      height,
		BytesPerRow: (width + 7) / 8,
	}
	bm.Bits = make([]byte, bm.BytesPerRow*height)

	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < width; x++ {
			if row[x*4] < threshold {
				bm.Bits[y*bm.BytesPerRow+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}

	return bm, nil
}

// Black reports whether the pixel at x, y is set
func (b *Bitmap) Black(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.Bits[y*b.BytesPerRow+x/8]&(0x80>>uint(x%8)) != 0
}
