package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/net/html"
)

type blockKind int

const (
	blockText blockKind = iota
	blockHeading
	blockRule
	blockImage
)

type block struct {
	kind  blockKind
	text  string
	level int
	img   image.Image
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true,
	"footer": true, "table": true, "tr": true, "ul": true, "ol": true,
	"blockquote": true, "address": true, "center": true, "body": true,
}

var skipTags = map[string]bool{
	"script": true, "style": true, "head": true, "title": true, "noscript": true,
}

// parseHTML flattens markup into a sequence of layout blocks
func parseHTML(markup string) ([]block, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("render: parse html: %w", err)
	}

	l := &htmlLayout{}
	l.walk(root, false)
	l.flush(blockText, 0)
	return l.blocks, nil
}

type htmlLayout struct {
	blocks []block
	cur    strings.Builder
}

func (l *htmlLayout) flush(kind blockKind, level int) {
	text := tidy(l.cur.String())
	l.cur.Reset()
	if text == "" {
		return
	}
	l.blocks = append(l.blocks, block{kind: kind, text: text, level: level})
}

func (l *htmlLayout) walk(n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			l.cur.WriteString(n.Data)
		} else {
			l.cur.WriteString(collapse(n.Data))
		}
		return
	case html.ElementNode:
	default:
		l.children(n, pre)
		return
	}

	tag := n.Data
	switch {
	case skipTags[tag]:
		return
	case tag == "br":
		l.cur.WriteString("\n")
	case tag == "hr":
		l.flush(blockText, 0)
		l.blocks = append(l.blocks, block{kind: blockRule})
	case tag == "img":
		if img := dataImage(attr(n, "src")); img != nil {
			l.flush(blockText, 0)
			l.blocks = append(l.blocks, block{kind: blockImage, img: img})
		} else if alt := attr(n, "alt"); alt != "" {
			l.cur.WriteString(alt)
		}
	case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
		l.flush(blockText, 0)
		l.children(n, pre)
		l.flush(blockHeading, int(tag[1]-'0'))
	case tag == "pre":
		l.flush(blockText, 0)
		l.children(n, true)
		if text := strings.Trim(l.cur.String(), "\n"); text != "" {
			l.blocks = append(l.blocks, block{kind: blockText, text: text})
		}
		l.cur.Reset()
	case tag == "li":
		l.flush(blockText, 0)
		l.cur.WriteString("- ")
		l.children(n, pre)
		l.flush(blockText, 0)
	case tag == "td" || tag == "th":
		l.children(n, pre)
		l.cur.WriteString("   ")
	case blockTags[tag]:
		l.flush(blockText, 0)
		l.children(n, pre)
		l.flush(blockText, 0)
	default:
		l.children(n, pre)
	}
}

func (l *htmlLayout) children(n *html.Node, pre bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		l.walk(c, pre)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// dataImage decodes a base64 data URI. Other sources are not fetched.
func dataImage(src string) image.Image {
	if !strings.HasPrefix(src, "data:") {
		return nil
	}
	comma := strings.IndexByte(src, ',')
	if comma < 0 || !strings.HasSuffix(src[:comma], ";base64") {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(src[comma+1:])
	if err != nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}

// collapse folds whitespace runs into one space
func collapse(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// tidy trims every line and drops leading and trailing blank lines
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(strings.TrimLeft(line, " "), " ")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}
