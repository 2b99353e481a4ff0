package spool

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/thereceipt/spool-engine/internal/buffer"
	"github.com/thereceipt/spool-engine/internal/langimage"
	"github.com/thereceipt/spool-engine/internal/paper"
	"github.com/thereceipt/spool-engine/internal/render"
	"github.com/thereceipt/spool-engine/internal/segment"
	"github.com/thereceipt/spool-engine/internal/status"
)

var (
	ErrNotPDF         = errors.New("spool: source is not a pdf document")
	ErrTagNotFound    = errors.New("spool: xml tag not found")
	ErrInvalidOptions = errors.New("spool: invalid image options")
)

// ImageOptions control how an image append is converted. An empty Lang
// keeps the image for the rendering pipeline.
type ImageOptions struct {
	Lang      string `json:"lang,omitempty"`
	Density   string `json:"density,omitempty"`
	X         int    `json:"x,omitempty"`
	Y         int    `json:"y,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

func (o ImageOptions) parse() (langimage.Options, error) {
	lang, err := langimage.ParseLanguage(o.Lang)
	if err != nil {
		return langimage.Options{}, err
	}
	density, err := langimage.ParseDotDensity(o.Density)
	if err != nil {
		return langimage.Options{}, err
	}
	if o.Threshold < 0 || o.Threshold > 255 {
		return langimage.Options{}, fmt.Errorf("%w: threshold %d out of range 0-255", ErrInvalidOptions, o.Threshold)
	}
	if o.Width < 0 || o.Height < 0 || o.X < 0 || o.Y < 0 {
		return langimage.Options{}, fmt.Errorf("%w: negative size or position", ErrInvalidOptions)
	}
	return langimage.Options{
		Lang:      lang,
		Density:   density,
		X:         o.X,
		Y:         o.Y,
		Threshold: uint8(o.Threshold),
	}, nil
}

// imageElement converts img into a raster element for the printer
// language, or keeps it for page composition
func imageElement(img image.Image, opts langimage.Options) (buffer.Element, error) {
	if opts.Lang == langimage.None {
		return buffer.Element{Kind: buffer.KindImage, Image: img}, nil
	}
	data, err := langimage.Encode(img, opts)
	if err != nil {
		return buffer.Element{}, err
	}
	return buffer.Element{Kind: buffer.KindRawImage, Data: data}, nil
}

// AppendText appends text in the session charset
func (s *Session) AppendText(text string) error {
	if err := s.Active(); err != nil {
		return err
	}
	return s.buf.AppendText(text)
}

// AppendHex appends hex-encoded bytes
func (s *Session) AppendHex(data string) error {
	if err := s.Active(); err != nil {
		return err
	}
	return s.buf.AppendHex(data)
}

// AppendBase64 appends base64-encoded bytes
func (s *Session) AppendBase64(data string) error {
	if err := s.Active(); err != nil {
		return err
	}
	return s.buf.AppendBase64(data)
}

// AppendHTML appends markup for the HTML pipeline
func (s *Session) AppendHTML(markup string) error {
	if err := s.Active(); err != nil {
		return err
	}
	s.buf.AppendHTML(markup)
	return nil
}

// appendAsync reserves the next buffer position now and fills it on the
// worker
func (s *Session) appendAsync(produce func(ctx context.Context) (buffer.Element, error)) *status.Operation {
	if err := s.Active(); err != nil {
		return s.tracker.Failed(status.KindAppending, err)
	}

	slot := s.buf.Reserve()
	op := s.tracker.Begin(status.KindAppending)
	s.work.submit(task{
		op: op,
		run: func(ctx context.Context) (any, error) {
			el, err := produce(ctx)
			if err != nil {
				return nil, err
			}
			slot.Resolve(el)
			return nil, nil
		},
		abort: slot.Fail,
	})
	return op
}

// AppendImage fetches and decodes an image, then converts it per opts
func (s *Session) AppendImage(src string, opts ImageOptions) *status.Operation {
	conv, err := opts.parse()
	if err != nil {
		return s.tracker.Failed(status.KindAppending, err)
	}

	return s.appendAsync(func(ctx context.Context) (buffer.Element, error) {
		data, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			return buffer.Element{}, err
		}
		img, err := decodeImage(data)
		if err != nil {
			return buffer.Element{}, err
		}
		if opts.Width > 0 || opts.Height > 0 {
			img = imaging.Resize(img, opts.Width, opts.Height, imaging.Lanczos)
		}
		return imageElement(img, conv)
	})
}

// AppendFile appends the raw contents of a path or URL
func (s *Session) AppendFile(src string) *status.Operation {
	return s.appendAsync(func(ctx context.Context) (buffer.Element, error) {
		data, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			return buffer.Element{}, err
		}
		return buffer.Element{Kind: buffer.KindRaw, Data: data}, nil
	})
}

// AppendXML appends the base64 content of the first element named tag
func (s *Session) AppendXML(src, tag string) *status.Operation {
	if tag == "" {
		return s.tracker.Failed(status.KindAppending, fmt.Errorf("%w: empty tag", ErrTagNotFound))
	}

	return s.appendAsync(func(ctx context.Context) (buffer.Element, error) {
		doc, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			return buffer.Element{}, err
		}
		text, err := xmlText(doc, tag)
		if err != nil {
			return buffer.Element{}, err
		}
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return buffer.Element{}, fmt.Errorf("%w: <%s>: %v", buffer.ErrInvalidB64, tag, err)
		}
		return buffer.Element{Kind: buffer.KindRaw, Data: data}, nil
	})
}

// xmlText returns the character data of the first element named tag
func xmlText(doc []byte, tag string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	depth := 0
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
			} else if t.Name.Local == tag {
				depth = 1
			}
		case xml.EndElement:
			if depth > 0 {
				depth--
				if depth == 0 {
					return text.String(), nil
				}
			}
		case xml.CharData:
			if depth > 0 {
				text.Write(t)
			}
		}
	}
	return "", fmt.Errorf("%w: <%s>", ErrTagNotFound, tag)
}

// AppendPDF appends a PDF document for the PostScript pipeline
func (s *Session) AppendPDF(src string) *status.Operation {
	return s.appendAsync(func(ctx context.Context) (buffer.Element, error) {
		data, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			return buffer.Element{}, err
		}
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return buffer.Element{}, ErrNotPDF
		}
		return buffer.Element{Kind: buffer.KindPDF, Data: data}, nil
	})
}

// AppendBarcode appends a generated linear barcode. Width and Height set
// the generated size, the remaining options convert it like an image.
func (s *Session) AppendBarcode(format, value string, opts ImageOptions) *status.Operation {
	conv, err := opts.parse()
	if err != nil {
		return s.tracker.Failed(status.KindAppending, err)
	}

	return s.appendAsync(func(context.Context) (buffer.Element, error) {
		img, err := render.Barcode(format, value, opts.Width, opts.Height)
		if err != nil {
			return buffer.Element{}, err
		}
		return imageElement(img, conv)
	})
}

// AppendQRCode appends a generated QR code. Width sets its size.
func (s *Session) AppendQRCode(value, level string, opts ImageOptions) *status.Operation {
	conv, err := opts.parse()
	if err != nil {
		return s.tracker.Failed(status.KindAppending, err)
	}

	return s.appendAsync(func(context.Context) (buffer.Element, error) {
		img, err := render.QRCode(value, level, opts.Width)
		if err != nil {
			return buffer.Element{}, err
		}
		return imageElement(img, conv)
	})
}

// SetEncoding selects the charset used by AppendText
func (s *Session) SetEncoding(name string) error {
	if err := s.Active(); err != nil {
		return err
	}
	return s.buf.SetEncoding(name)
}

// Encoding returns the current charset name
func (s *Session) Encoding() string {
	return s.buf.Encoding()
}

// SetPaperSize sets a custom page size in the given units (in, mm, pt)
func (s *Session) SetPaperSize(width, height float64, units string) error {
	if err := s.Active(); err != nil {
		return err
	}
	size, err := paper.NewSize(width, height, units)
	if err != nil {
		return err
	}
	s.buf.SetPage(func(o *paper.Options) {
		o.Size = size
		o.HasSize = true
	})
	return nil
}

// SetPaperSizeNamed sets a named page size such as letter or a4
func (s *Session) SetPaperSizeNamed(name string) error {
	if err := s.Active(); err != nil {
		return err
	}
	size, err := paper.Lookup(name)
	if err != nil {
		return err
	}
	s.buf.SetPage(func(o *paper.Options) {
		o.Size = size
		o.HasSize = true
	})
	return nil
}

// SetAutoSize scales images to fill the page
func (s *Session) SetAutoSize(auto bool) error {
	if err := s.Active(); err != nil {
		return err
	}
	s.buf.SetPage(func(o *paper.Options) { o.AutoSize = auto })
	return nil
}

// SetOrientation sets portrait, landscape or reverse-landscape
func (s *Session) SetOrientation(name string) error {
	if err := s.Active(); err != nil {
		return err
	}
	orientation, err := paper.ParseOrientation(name)
	if err != nil {
		return err
	}
	s.buf.SetPage(func(o *paper.Options) { o.Orientation = orientation })
	return nil
}

// SetEndOfDocument sets the marker that separates documents. An empty
// marker disables segmentation.
func (s *Session) SetEndOfDocument(marker string) error {
	if err := s.Active(); err != nil {
		return err
	}
	s.mu.Lock()
	s.marker.Pattern = []byte(marker)
	s.mu.Unlock()
	return nil
}

// SetDocumentsPerSpool sets how many documents go into one physical job
func (s *Session) SetDocumentsPerSpool(n int) error {
	if err := s.Active(); err != nil {
		return err
	}
	if n < 1 {
		return segment.ErrInvalidCount
	}
	s.mu.Lock()
	s.marker.PerSpool = n
	s.mu.Unlock()
	return nil
}

// SetJobTitle names the jobs of the next submission
func (s *Session) SetJobTitle(title string) error {
	if err := s.Active(); err != nil {
		return err
	}
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	return nil
}

// ClearBuffer discards the buffer, page options and segmentation settings.
// The charset is kept.
func (s *Session) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	s.marker = segment.Marker{}
	s.title = ""
}
