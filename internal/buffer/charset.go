package buffer

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

var ErrUnknownEncoding = errors.New("buffer: unknown character encoding")

// Charset encodes text appends
type Charset struct {
	Name string
	enc  encoding.Encoding
}

// UTF8 is the default charset
func UTF8() *Charset {
	return &Charset{Name: "utf-8", enc: unicode.UTF8}
}

// LookupCharset resolves an IANA or WHATWG charset name such as
// "ISO-8859-1", "windows-1252" or "IBM437". IANA names win, so latin1
// and US-ASCII keep their exact repertoire instead of the WHATWG
// windows-1252 alias.
func LookupCharset(name string) (*Charset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownEncoding)
	}

	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		canonical, err := ianaindex.MIME.Name(enc)
		if err != nil || canonical == "" {
			canonical = name
		}
		return &Charset{Name: strings.ToLower(canonical), enc: enc}, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	canonical, _ := htmlindex.Name(enc)
	if canonical == "" {
		canonical = strings.ToLower(name)
	}
	return &Charset{Name: canonical, enc: enc}, nil
}

// Encode converts s. Characters the charset cannot represent are replaced.
func (c *Charset) Encode(s string) ([]byte, error) {
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).String(s)
	if err != nil {
		return nil, fmt.Errorf("buffer: encode text as %s: %w", c.Name, err)
	}
	return []byte(out), nil
}
