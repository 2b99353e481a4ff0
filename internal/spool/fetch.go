package spool

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
)

var (
	ErrEmptySource    = errors.New("spool: empty source")
	ErrSourceTooLarge = errors.New("spool: source exceeds size limit")
)

// Defaults bounding one remote fetch and the size of one loaded source
const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFetchMaxBytes = 64 << 20
)

// Fetcher loads append sources from data URIs, http(s) URLs and local paths
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a fetcher. Zero or negative arguments select
// DefaultFetchTimeout and DefaultFetchMaxBytes.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultFetchMaxBytes
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Fetch returns the bytes behind src
func (f *Fetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return nil, ErrEmptySource
	case strings.HasPrefix(src, "data:"):
		return decodeDataURI(src)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return f.get(ctx, src)
	case strings.HasPrefix(src, "file://"):
		u, err := url.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", src, err)
		}
		return f.readFile(u.Path)
	default:
		return f.readFile(src)
	}
}

func (f *Fetcher) get(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", src, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d", src, resp.StatusCode)
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}
	return data, nil
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer file.Close()

	data, err := f.readLimited(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}

// readLimited reads at most maxBytes and fails on anything longer
func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w of %d bytes", ErrSourceTooLarge, f.maxBytes)
	}
	return data, nil
}

// decodeDataURI accepts data:[<mediatype>][;base64],<data>
func decodeDataURI(src string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}

	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("data URI: %w", err)
		}
		return data, nil
	}

	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("data URI: %w", err)
	}
	return []byte(text), nil
}

// decodeImage decodes PNG, JPEG, GIF or BMP data
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
