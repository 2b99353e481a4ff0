package spool

import (
	"context"
	"fmt"

	"github.com/thereceipt/spool-engine/internal/status"
	"github.com/thereceipt/spool-engine/pkg/jobspec"
)

// Apply runs a job document on a clean buffer: printer lookup, settings,
// every append, then the output call. It waits for each asynchronous step
// and returns the print operation. On failure the buffer is cleared.
func (s *Session) Apply(ctx context.Context, doc *jobspec.Document) (*status.Operation, error) {
	if err := jobspec.Validate(doc); err != nil {
		return nil, err
	}

	s.ClearBuffer()
	op, err := s.apply(ctx, doc)
	if err != nil {
		s.ClearBuffer()
		return nil, err
	}
	return op, nil
}

func (s *Session) apply(ctx context.Context, doc *jobspec.Document) (*status.Operation, error) {
	out := doc.Output

	switch out.Mode {
	case jobspec.OutputRaw, jobspec.OutputPS, jobspec.OutputHTML:
		if doc.Printer != "" || s.Printer() == nil {
			if err := s.FindPrinter(doc.Printer).Wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	if err := s.SetJobTitle(doc.Name); err != nil {
		return nil, err
	}
	if doc.Encoding != "" {
		if err := s.SetEncoding(doc.Encoding); err != nil {
			return nil, err
		}
	}
	if doc.EndOfDocument != "" {
		if err := s.SetEndOfDocument(doc.EndOfDocument); err != nil {
			return nil, err
		}
	}
	if doc.DocumentsPerSpool > 0 {
		if err := s.SetDocumentsPerSpool(doc.DocumentsPerSpool); err != nil {
			return nil, err
		}
	}
	if err := s.applyPaper(doc.Paper); err != nil {
		return nil, err
	}

	var pending []*status.Operation
	for i, el := range doc.Elements {
		op, err := s.applyElement(el)
		if err != nil {
			return nil, fmt.Errorf("element[%d]: %w", i, err)
		}
		if op != nil {
			pending = append(pending, op)
		}
	}
	for _, op := range pending {
		if err := op.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var op *status.Operation
	switch out.Mode {
	case jobspec.OutputPS:
		op = s.PrintPS()
	case jobspec.OutputHTML:
		op = s.PrintHTML()
	case jobspec.OutputFile:
		op = s.PrintToFile(out.Path)
	case jobspec.OutputHost:
		op = s.PrintToHost(out.Host, out.Port)
	default:
		op = s.Print()
	}

	// a rejected submission is already finished
	if op.IsDone() && op.Err() != nil {
		return nil, op.Err()
	}
	return op, nil
}

func (s *Session) applyPaper(p *jobspec.Paper) error {
	if p == nil {
		return nil
	}
	switch {
	case p.Size != "":
		if err := s.SetPaperSizeNamed(p.Size); err != nil {
			return err
		}
	case p.Width > 0:
		if err := s.SetPaperSize(p.Width, p.Height, p.Units); err != nil {
			return err
		}
	}
	if p.Orientation != "" {
		if err := s.SetOrientation(p.Orientation); err != nil {
			return err
		}
	}
	if p.AutoSize {
		return s.SetAutoSize(true)
	}
	return nil
}

// applyElement returns an operation for asynchronous appends
func (s *Session) applyElement(el jobspec.Element) (*status.Operation, error) {
	opts := ImageOptions{
		Lang:      el.Lang,
		Density:   el.Density,
		X:         el.X,
		Y:         el.Y,
		Threshold: el.Threshold,
		Width:     el.Width,
		Height:    el.Height,
	}

	switch el.Type {
	case jobspec.TypeText:
		return nil, s.AppendText(el.Data)
	case jobspec.TypeHex:
		return nil, s.AppendHex(el.Data)
	case jobspec.TypeBase64:
		return nil, s.AppendBase64(el.Data)
	case jobspec.TypeHTML:
		return nil, s.AppendHTML(el.Data)
	case jobspec.TypeImage:
		return s.AppendImage(el.Data, opts), nil
	case jobspec.TypeFile:
		return s.AppendFile(el.Data), nil
	case jobspec.TypeXML:
		return s.AppendXML(el.Data, el.Tag), nil
	case jobspec.TypePDF:
		return s.AppendPDF(el.Data), nil
	case jobspec.TypeBarcode:
		return s.AppendBarcode(el.Format, el.Data, opts), nil
	case jobspec.TypeQRCode:
		return s.AppendQRCode(el.Data, el.Level, opts), nil
	}
	return nil, fmt.Errorf("unknown element type %q", el.Type)
}
