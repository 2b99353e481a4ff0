package render

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/code39"
	"github.com/boombuler/barcode/ean"
	"github.com/skip2/go-qrcode"
)

var (
	ErrEmptyCode      = errors.New("render: empty barcode value")
	ErrUnknownFormat  = errors.New("render: unknown barcode format")
	ErrUnknownQRLevel = errors.New("render: unknown QR error correction level")
)

// Barcode defaults, in pixels
const (
	DefaultBarcodeWidth  = 400
	DefaultBarcodeHeight = 80
	DefaultQRSize        = 256
)

// Barcode draws value as a linear barcode scaled to width x height. format is
// CODE128 (default), CODE39, EAN13 or EAN8.
func Barcode(format, value string, width, height int) (image.Image, error) {
	if value == "" {
		return nil, ErrEmptyCode
	}
	if width <= 0 {
		width = DefaultBarcodeWidth
	}
	if height <= 0 {
		height = DefaultBarcodeHeight
	}

	var code barcode.Barcode
	var err error

	switch strings.ToUpper(format) {
	case "", "CODE128":
		code, err = code128.Encode(value)
	case "CODE39":
		code, err = code39.Encode(value, false, true)
	case "EAN13", "EAN8":
		code, err = ean.Encode(value)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("render: encode %s barcode: %w", format, err)
	}

	// a barcode cannot be narrower than its modules
	if modules := code.Bounds().Dx(); width < modules {
		width = modules
	}

	scaled, err := barcode.Scale(code, width, height)
	if err != nil {
		return nil, fmt.Errorf("render: scale barcode: %w", err)
	}
	return scaled, nil
}

// QRCode draws value as a square QR code. level is L, M (default), Q or H.
func QRCode(value, level string, size int) (image.Image, error) {
	if value == "" {
		return nil, ErrEmptyCode
	}
	if size <= 0 {
		size = DefaultQRSize
	}

	var recovery qrcode.RecoveryLevel
	switch strings.ToUpper(level) {
	case "L":
		recovery = qrcode.Low
	case "", "M":
		recovery = qrcode.Medium
	case "Q":
		recovery = qrcode.High
	case "H":
		recovery = qrcode.Highest
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQRLevel, level)
	}

	qr, err := qrcode.New(value, recovery)
	if err != nil {
		return nil, fmt.Errorf("render: encode QR code: %w", err)
	}
	return qr.Image(size), nil
}
