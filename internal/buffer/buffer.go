// Package buffer accumulates the content of one print job in call order
package buffer

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/thereceipt/spool-engine/internal/paper"
)

var (
	ErrPending    = errors.New("buffer: append still pending")
	ErrInvalidHex = errors.New("buffer: invalid hex data")
	ErrInvalidB64 = errors.New("buffer: invalid base64 data")
)

// Pipeline is the dispatch path a buffer needs
type Pipeline int

const (
	Raw Pipeline = iota
	PostScript
	HTML
)

func (p Pipeline) String() string {
	switch p {
	case PostScript:
		return "postscript"
	case HTML:
		return "html"
	default:
		return "raw"
	}
}

// Kind of a buffer element
type Kind int

const (
	KindRaw Kind = iota
	KindRawImage
	KindImage
	KindPDF
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindRawImage:
		return "raw-image"
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	case KindHTML:
		return "html"
	default:
		return "raw"
	}
}

// Element is one appended piece of content
type Element struct {
	Kind  Kind
	Data  []byte      // raw, raw-image and pdf bytes
	Text  string      // source text of a text append
	Image image.Image // image placed on a rendered page
	HTML  string

	pending bool
	failed  bool
}

// Pipeline returns the pipeline this element requires
func (e Element) Pipeline() Pipeline {
	switch e.Kind {
	case KindHTML:
		return HTML
	case KindImage, KindPDF:
		return PostScript
	default:
		return Raw
	}
}

// Buffer is an ordered job buffer. It is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	elements []*Element
	charset  *Charset
	page     paper.Options
	pageSet  bool
}

// New creates an empty UTF-8 buffer
func New() *Buffer {
	return &Buffer{charset: UTF8()}
}

// SetEncoding changes the charset used by AppendText
func (b *Buffer) SetEncoding(name string) error {
	cs, err := LookupCharset(name)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.charset = cs
	b.mu.Unlock()
	return nil
}

// Encoding returns the canonical name of the current charset
func (b *Buffer) Encoding() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.charset.Name
}

// AppendText appends s encoded in the buffer charset
func (b *Buffer) AppendText(s string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.charset.Encode(s)
	if err != nil {
		return err
	}
	b.elements = append(b.elements, &Element{Kind: KindRaw, Data: data, Text: s})
	return nil
}

var hexCleaner = strings.NewReplacer(
	"0x", "", "0X", "",
	"x", "", "X", "",
	" ", "", "\t", "", "\r", "", "\n", "",
)

// AppendHex appends hex-encoded bytes. Both "1b40" and "x1Bx40" are accepted.
func (b *Buffer) AppendHex(s string) error {
	data, err := hex.DecodeString(hexCleaner.Replace(s))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	b.AppendRaw(data)
	return nil
}

// AppendBase64 appends standard base64-encoded bytes
func (b *Buffer) AppendBase64(s string) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidB64, err)
	}
	b.AppendRaw(data)
	return nil
}

// AppendRaw appends bytes as they are
func (b *Buffer) AppendRaw(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	b.elements = append(b.elements, &Element{Kind: KindRaw, Data: cp})
	b.mu.Unlock()
}

// AppendHTML appends markup for the HTML pipeline
func (b *Buffer) AppendHTML(markup string) {
	b.mu.Lock()
	b.elements = append(b.elements, &Element{Kind: KindHTML, HTML: markup})
	b.mu.Unlock()
}

// Reserve takes the next position for content produced asynchronously
func (b *Buffer) Reserve() *Slot {
	el := &Element{pending: true}

	b.mu.Lock()
	b.elements = append(b.elements, el)
	b.mu.Unlock()

	return &Slot{buf: b, el: el}
}

// SetPage stores page options. Any page option routes the buffer through
// the rendering pipeline.
func (b *Buffer) SetPage(fn func(*paper.Options)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn(&b.page)
	b.pageSet = true
}

// Page returns the page options and whether any were set
func (b *Buffer) Page() (paper.Options, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page, b.pageSet
}

// Pipeline returns the pipeline required by the content appended so far
func (b *Buffer) Pipeline() Pipeline {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := Raw
	if b.pageSet {
		p = PostScript
	}
	for _, el := range b.elements {
		if el.pending || el.failed {
			continue
		}
		if ep := el.Pipeline(); ep > p {
			p = ep
		}
	}
	return p
}

// Pending returns the number of unresolved slots
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, el := range b.elements {
		if el.pending {
			n++
		}
	}
	return n
}

// Empty reports whether nothing was appended
func (b *Buffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.elements) == 0
}

// Elements returns a snapshot of the resolved elements. Failed slots are
// skipped.
func (b *Buffer) Elements() ([]Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Element, 0, len(b.elements))
	for _, el := range b.elements {
		if el.pending {
			return nil, ErrPending
		}
		if el.failed {
			continue
		}
		out = append(out, *el)
	}
	return out, nil
}

// Bytes concatenates the raw content in call order
func (b *Buffer) Bytes() ([]byte, error) {
	elems, err := b.Elements()
	if err != nil {
		return nil, err
	}
	return RawBytes(elems), nil
}

// RawBytes concatenates the raw and raw-image data of elems
func RawBytes(elems []Element) []byte {
	size := 0
	for _, el := range elems {
		size += len(el.Data)
	}

	out := make([]byte, 0, size)
	for _, el := range elems {
		if el.Kind == KindRaw || el.Kind == KindRawImage {
			out = append(out, el.Data...)
		}
	}
	return out
}

// Reset empties the buffer and clears page options. The charset is kept.
// Slots still pending are detached and their results discarded.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.elements = nil
	b.page = paper.Options{}
	b.pageSet = false
}

// Slot is a reserved buffer position
type Slot struct {
	buf  *Buffer
	el   *Element
	once sync.Once
}

// Resolve fills the slot with el
func (s *Slot) Resolve(el Element) {
	s.once.Do(func() {
		s.buf.mu.Lock()
		defer s.buf.mu.Unlock()

		*s.el = el
		s.el.pending = false
	})
}

// Fail marks the slot as contributing nothing
func (s *Slot) Fail() {
	s.once.Do(func() {
		s.buf.mu.Lock()
		defer s.buf.mu.Unlock()

		s.el.pending = false
		s.el.failed = true
	})
}
