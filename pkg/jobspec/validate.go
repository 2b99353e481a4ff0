package jobspec

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalid = errors.New("jobspec: invalid document")

// Validate checks the structure of a document. Content such as hex digits
// or image data is checked when it is appended.
func Validate(d *Document) error {
	if d.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalid)
	}
	if d.Version != Version {
		return fmt.Errorf("%w: unsupported version: %s (expected %s)", ErrInvalid, d.Version, Version)
	}

	if d.DocumentsPerSpool < 0 {
		return fmt.Errorf("%w: documents_per_spool must not be negative", ErrInvalid)
	}
	if d.DocumentsPerSpool > 0 && d.EndOfDocument == "" {
		return fmt.Errorf("%w: documents_per_spool needs end_of_document", ErrInvalid)
	}

	if len(d.Elements) == 0 {
		return fmt.Errorf("%w: at least one element is required", ErrInvalid)
	}
	for i, el := range d.Elements {
		if err := validateElement(el); err != nil {
			return fmt.Errorf("%w: element[%d]: %v", ErrInvalid, i, err)
		}
	}

	if err := validatePaper(d.Paper, d.Output.Mode); err != nil {
		return fmt.Errorf("%w: paper: %v", ErrInvalid, err)
	}

	switch d.Output.Mode {
	case OutputRaw, OutputPS, OutputHTML:
	case OutputFile:
		if d.Output.Path == "" {
			return fmt.Errorf("%w: output path is required for file output", ErrInvalid)
		}
	case OutputHost:
		if d.Output.Host == "" {
			return fmt.Errorf("%w: output host is required for host output", ErrInvalid)
		}
		if d.Output.Port < 0 || d.Output.Port > 65535 {
			return fmt.Errorf("%w: output port %d out of range", ErrInvalid, d.Output.Port)
		}
	default:
		return fmt.Errorf("%w: unknown output mode: %s", ErrInvalid, d.Output.Mode)
	}

	return nil
}

func validateElement(el Element) error {
	switch el.Type {
	case TypeText, TypeHex, TypeBase64, TypeHTML:
	case TypeImage, TypeFile, TypePDF:
		if strings.TrimSpace(el.Data) == "" {
			return fmt.Errorf("%s needs a source in data", el.Type)
		}
	case TypeXML:
		if strings.TrimSpace(el.Data) == "" || el.Tag == "" {
			return fmt.Errorf("xml needs a source in data and a tag")
		}
	case TypeBarcode, TypeQRCode:
		if el.Data == "" {
			return fmt.Errorf("%s needs a value in data", el.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type: %s", el.Type)
	}

	if el.Threshold < 0 || el.Threshold > 255 {
		return fmt.Errorf("threshold %d out of range 0-255", el.Threshold)
	}
	if el.Width < 0 || el.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	return nil
}

func validatePaper(p *Paper, mode string) error {
	if p == nil {
		return nil
	}
	if mode == OutputRaw || mode == OutputHost {
		return fmt.Errorf("page settings need a rendered output, not %s", mode)
	}
	if p.Size != "" && (p.Width != 0 || p.Height != 0) {
		return fmt.Errorf("size and width/height are exclusive")
	}
	if (p.Width != 0) != (p.Height != 0) {
		return fmt.Errorf("width and height go together")
	}
	if p.Width < 0 || p.Height < 0 {
		return fmt.Errorf("width and height must be positive")
	}
	return nil
}
