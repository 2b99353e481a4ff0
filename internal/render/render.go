// Package render composes buffer content onto pages and writes PostScript
package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/thereceipt/spool-engine/internal/paper"
)

var ErrNothingToRender = errors.New("render: nothing to render")

// DefaultDPI is the raster resolution of composed pages
const DefaultDPI = 150

// Item is one piece of renderable content
type Item struct {
	Text  string
	Image image.Image
	HTML  string
}

// Page is a composed page image and its size in points
type Page struct {
	Image  image.Image
	Width  float64
	Height float64
}

// Renderer composes pages at a fixed resolution
type Renderer struct {
	dpi    float64
	margin float64 // points
}

// New creates a renderer. dpi <= 0 selects DefaultDPI.
func New(dpi float64) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Renderer{dpi: dpi, margin: 18}
}

// DPI returns the raster resolution
func (r *Renderer) DPI() float64 {
	return r.dpi
}

// Pages lays out items. Each image gets a page of its own; text and HTML
// flow across as many pages as needed.
func (r *Renderer) Pages(items []Item, opts paper.Options) ([]Page, error) {
	c := r.newComposer(opts)
	for _, item := range items {
		switch {
		case item.Image != nil:
			c.imagePage(item.Image)
		case item.HTML != "":
			blocks, err := parseHTML(item.HTML)
			if err != nil {
				return nil, err
			}
			c.blocks(blocks)
		case item.Text != "":
			c.text(item.Text, 1)
		}
	}
	c.flush()

	if len(c.pages) == 0 {
		return nil, ErrNothingToRender
	}
	return c.pages, nil
}

// PostScript lays out items and encodes the pages as a PostScript document
func (r *Renderer) PostScript(items []Item, opts paper.Options, title string) ([]byte, error) {
	pages, err := r.Pages(items, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WritePostScript(&buf, pages, title); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// composer tracks the page being filled. Coordinates are in points of the
// content frame; a landscape frame is rotated onto the paper when finished.
type composer struct {
	r      *Renderer
	opts   paper.Options
	scale  float64
	paperW float64
	paperH float64
	frameW float64
	frameH float64

	ctx   *gg.Context
	y     float64
	dirty bool
	pages []Page
}

func (r *Renderer) newComposer(opts paper.Options) *composer {
	pw, ph := opts.PageSize().Points()
	c := &composer{
		r:      r,
		opts:   opts,
		scale:  r.dpi / paper.PointsPerInch,
		paperW: pw,
		paperH: ph,
		frameW: pw,
		frameH: ph,
	}
	if opts.Orientation != paper.Portrait {
		c.frameW, c.frameH = ph, pw
	}
	return c
}

func (c *composer) px(points float64) int {
	return int(points*c.scale + 0.5)
}

func (c *composer) begin(frameH float64) {
	c.ctx = gg.NewContext(c.px(c.frameW), c.px(frameH))
	c.ctx.SetColor(color.White)
	c.ctx.Clear()
	c.ctx.SetColor(color.Black)
	c.y = c.r.margin
	c.dirty = false
}

func (c *composer) finish() {
	if c.ctx == nil {
		return
	}

	img := c.ctx.Image()
	w, h := c.paperW, c.paperH
	switch c.opts.Orientation {
	case paper.Landscape:
		img = imaging.Rotate90(img)
	case paper.ReverseLandscape:
		img = imaging.Rotate270(img)
	}
	if c.opts.AutoSize && c.opts.Orientation == paper.Portrait {
		h = float64(img.Bounds().Dy()) / c.scale
	}

	c.pages = append(c.pages, Page{Image: img, Width: w, Height: h})
	c.ctx = nil
}

// flush closes the current page if anything was drawn on it
func (c *composer) flush() {
	if c.ctx != nil && c.dirty {
		c.finish()
	}
	c.ctx = nil
}

func (c *composer) ensure() {
	if c.ctx == nil {
		c.begin(c.frameH)
	}
}

func (c *composer) contentWidth() float64 {
	return c.frameW - 2*c.r.margin
}

func (c *composer) imagePage(img image.Image) {
	c.flush()

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return
	}

	frameH := c.frameH
	if c.opts.AutoSize {
		frameH = c.contentWidth()*float64(b.Dy())/float64(b.Dx()) + 2*c.r.margin
	}
	c.begin(frameH)

	fitted := imaging.Fit(img, c.px(c.contentWidth()), c.px(frameH-2*c.r.margin), imaging.Lanczos)
	x := (c.ctx.Width() - fitted.Bounds().Dx()) / 2
	c.ctx.DrawImage(fitted, x, c.px(c.r.margin))
	c.dirty = true

	c.finish()
}

// text draws s wrapped to the content width with the given font scale
func (c *composer) text(s string, size float64) {
	c.ensure()

	width := c.contentWidth() / size
	lines := c.ctx.WordWrap(printable(s), width)
	lineHeight := c.ctx.FontHeight() * size * 1.4

	for _, line := range lines {
		if c.y+lineHeight > c.frameH-c.r.margin && c.dirty {
			c.finish()
			c.begin(c.frameH)
		}
		c.y += lineHeight

		c.ctx.Push()
		c.ctx.Scale(c.scale*size, c.scale*size)
		c.ctx.DrawString(line, c.r.margin/size, c.y/size)
		c.ctx.Pop()
		c.dirty = true
	}
}

func (c *composer) rule() {
	c.ensure()

	c.y += 6
	c.ctx.Push()
	c.ctx.Scale(c.scale, c.scale)
	c.ctx.SetLineWidth(0.75)
	c.ctx.DrawLine(c.r.margin, c.y, c.frameW-c.r.margin, c.y)
	c.ctx.Stroke()
	c.ctx.Pop()
	c.y += 6
	c.dirty = true
}

func (c *composer) inlineImage(img image.Image) {
	c.ensure()

	maxH := c.frameH - 2*c.r.margin
	fitted := imaging.Fit(img, c.px(c.contentWidth()), c.px(maxH), imaging.Lanczos)
	h := float64(fitted.Bounds().Dy()) / c.scale

	if c.y+h > c.frameH-c.r.margin && c.dirty {
		c.finish()
		c.begin(c.frameH)
	}
	c.ctx.DrawImage(fitted, c.px(c.r.margin), c.px(c.y))
	c.y += h + 4
	c.dirty = true
}

func (c *composer) blocks(blocks []block) {
	for _, b := range blocks {
		switch b.kind {
		case blockHeading:
			c.text(b.text, headingScale(b.level))
			c.y += 4
		case blockRule:
			c.rule()
		case blockImage:
			c.inlineImage(b.img)
		default:
			c.text(b.text, 1)
			c.y += 6
		}
	}
}

func headingScale(level int) float64 {
	switch level {
	case 1:
		return 2
	case 2:
		return 1.6
	case 3:
		return 1.3
	default:
		return 1.1
	}
}

// printable drops control characters the bitmap font cannot draw
func printable(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
