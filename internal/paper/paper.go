// Package paper describes page formats for the rendering pipelines
package paper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSize        = errors.New("paper: width and height must be positive and at most 200in")
	ErrUnknownUnits       = errors.New("paper: unknown units")
	ErrUnknownOrientation = errors.New("paper: unknown orientation")
	ErrUnknownSize        = errors.New("paper: unknown named size")
)

// Units of a paper size
type Units int

const (
	Inch Units = iota
	Millimeter
	Point
)

// PointsPerInch is the PostScript user-space resolution
const PointsPerInch = 72.0

// MaxInches bounds either side of a page
const MaxInches = 200.0

// ParseUnits accepts in, inch, mm, pt and px (one px is one point)
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "inch", "inches", "":
		return Inch, nil
	case "mm", "millimeter", "millimeters":
		return Millimeter, nil
	case "pt", "px", "point", "points":
		return Point, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownUnits, s)
}

func (u Units) String() string {
	switch u {
	case Millimeter:
		return "mm"
	case Point:
		return "pt"
	default:
		return "in"
	}
}

// Size is a page size in the given units
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Units  Units   `json:"units"`
}

// Standard sizes
var (
	Letter   = Size{Width: 8.5, Height: 11, Units: Inch}
	Legal    = Size{Width: 8.5, Height: 14, Units: Inch}
	A4       = Size{Width: 210, Height: 297, Units: Millimeter}
	A5       = Size{Width: 148, Height: 210, Units: Millimeter}
	A6       = Size{Width: 105, Height: 148, Units: Millimeter}
	Label4x6 = Size{Width: 4, Height: 6, Units: Inch}
)

var named = map[string]Size{
	"letter": Letter,
	"legal":  Legal,
	"a4":     A4,
	"a5":     A5,
	"a6":     A6,
	"4x6":    Label4x6,
}

// Lookup returns a standard size by name
func Lookup(name string) (Size, error) {
	s, ok := named[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Size{}, fmt.Errorf("%w: %q", ErrUnknownSize, name)
	}
	return s, nil
}

// NewSize validates and builds a size
func NewSize(width, height float64, units string) (Size, error) {
	if width <= 0 || height <= 0 {
		return Size{}, ErrInvalidSize
	}
	u, err := ParseUnits(units)
	if err != nil {
		return Size{}, err
	}
	size := Size{Width: width, Height: height, Units: u}
	if w, h := size.Points(); w > MaxInches*PointsPerInch || h > MaxInches*PointsPerInch {
		return Size{}, ErrInvalidSize
	}
	return size, nil
}

// Points converts the size to PostScript points
func (s Size) Points() (w, h float64) {
	switch s.Units {
	case Millimeter:
		return s.Width * PointsPerInch / 25.4, s.Height * PointsPerInch / 25.4
	case Point:
		return s.Width, s.Height
	default:
		return s.Width * PointsPerInch, s.Height * PointsPerInch
	}
}

// Orientation of content on the page
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
	ReverseLandscape
)

// ParseOrientation accepts portrait, landscape and reverse-landscape
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "portrait", "":
		return Portrait, nil
	case "landscape":
		return Landscape, nil
	case "reverse-landscape", "reverse_landscape", "reverselandscape":
		return ReverseLandscape, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOrientation, s)
}

func (o Orientation) String() string {
	switch o {
	case Landscape:
		return "landscape"
	case ReverseLandscape:
		return "reverse-landscape"
	default:
		return "portrait"
	}
}

// Options are the page settings of a rendered job
type Options struct {
	Size        Size        `json:"size"`
	HasSize     bool        `json:"has_size"`
	AutoSize    bool        `json:"auto_size"`
	Orientation Orientation `json:"orientation"`
}

// IsZero reports whether no page option was set
func (o Options) IsZero() bool {
	return !o.HasSize && !o.AutoSize && o.Orientation == Portrait
}

// PageSize returns the configured size, or Letter
func (o Options) PageSize() Size {
	if o.HasSize {
		return o.Size
	}
	return Letter
}
