package spool

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/thereceipt/spool-engine/internal/buffer"
	"github.com/thereceipt/spool-engine/internal/paper"
	"github.com/thereceipt/spool-engine/internal/printer"
	"github.com/thereceipt/spool-engine/internal/render"
	"github.com/thereceipt/spool-engine/internal/segment"
	"github.com/thereceipt/spool-engine/internal/status"
	"github.com/thereceipt/spool-engine/internal/transport"
)

// DefaultJobTitle names jobs when no title was set
const DefaultJobTitle = "spool-engine job"

// Sink names recorded in the job log
const (
	SinkRaw        = "raw"
	SinkPostScript = "postscript"
	SinkHTML       = "html"
	SinkFile       = "file"
	SinkHost       = "host"
)

// PrintResult is the value of a finished print operation
type PrintResult struct {
	Jobs  int `json:"jobs"`
	Bytes int `json:"bytes"`
}

func (r PrintResult) String() string {
	return fmt.Sprintf("%d job(s), %d bytes", r.Jobs, r.Bytes)
}

// submission is the snapshot taken when a print call is accepted
type submission struct {
	elems    []buffer.Element
	pipeline buffer.Pipeline
	page     paper.Options
	marker   segment.Marker
	title    string
	printer  *printer.Printer
	items    []render.Item
	pdf      []byte
}

// accept checks the preconditions of a print call and, when they hold,
// takes the buffer and resets it. A rejected buffer is left untouched.
func (s *Session) accept(needPrinter bool, check func(*submission) error) (*submission, error) {
	if err := s.Active(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Empty() {
		return nil, ErrNoData
	}
	if s.buf.Pending() > 0 {
		return nil, ErrAppendPending
	}

	sub := &submission{
		pipeline: s.buf.Pipeline(),
		marker:   s.marker,
		title:    s.title,
	}
	if sub.title == "" {
		sub.title = DefaultJobTitle
	}
	if needPrinter {
		if sub.printer = s.printers.Selected(); sub.printer == nil {
			return nil, ErrNoPrinterSelected
		}
	}

	elems, err := s.buf.Elements()
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, ErrNoData
	}
	sub.elems = elems
	sub.page, _ = s.buf.Page()

	if err := check(sub); err != nil {
		return nil, err
	}

	s.buf.Reset()
	s.marker = segment.Marker{}
	s.title = ""
	return sub, nil
}

func requireRaw(sub *submission) error {
	if sub.pipeline != buffer.Raw {
		return fmt.Errorf("%w: buffer needs the %s pipeline", ErrRenderingRequired, sub.pipeline)
	}
	if len(buffer.RawBytes(sub.elems)) == 0 {
		return ErrNoData
	}
	return nil
}

// renderItems builds page items from the buffer. A lone PDF is passed
// through instead. allowHTML admits HTML elements.
func renderItems(sub *submission, allowHTML bool) error {
	for _, el := range sub.elems {
		if el.Kind == buffer.KindPDF {
			if len(sub.elems) != 1 {
				return ErrPDFNotAlone
			}
			sub.pdf = el.Data
			return nil
		}
	}

	items := make([]render.Item, 0, len(sub.elems))
	for _, el := range sub.elems {
		switch el.Kind {
		case buffer.KindImage:
			items = append(items, render.Item{Image: el.Image})
		case buffer.KindHTML:
			if !allowHTML {
				return fmt.Errorf("%w: html content needs PrintHTML", ErrPipelineMismatch)
			}
			items = append(items, render.Item{HTML: el.HTML})
		case buffer.KindRaw:
			if el.Text == "" {
				return ErrUnrenderable
			}
			items = append(items, render.Item{Text: el.Text})
		default:
			return ErrUnrenderable
		}
	}
	sub.items = items
	return nil
}

// document renders a submission for the PostScript pipeline
func (s *Session) document(sub *submission) (transport.Document, error) {
	if sub.pdf != nil {
		return transport.Document{Data: sub.pdf, Format: transport.FormatPDF, Title: sub.title}, nil
	}
	data, err := s.renderer.PostScript(sub.items, sub.page, sub.title)
	if err != nil {
		return transport.Document{}, err
	}
	return transport.Document{Data: data, Format: transport.FormatPostScript, Title: sub.title}, nil
}

// sendAll sends jobs in order and stops at the first failure. Jobs after
// a failure are marked failed without being sent.
func (s *Session) sendAll(ctx context.Context, indexes []int, jobs [][]byte, send func(context.Context, []byte) error) (any, error) {
	result := PrintResult{}
	for i, data := range jobs {
		s.jobs.setState(indexes[i], JobSending, nil)

		if err := send(ctx, data); err != nil {
			s.jobs.setState(indexes[i], JobFailed, err)
			for _, rest := range indexes[i+1:] {
				s.jobs.setState(rest, JobFailed, fmt.Errorf("not sent: job %d failed", indexes[i]))
			}
			return nil, err
		}

		s.jobs.setState(indexes[i], JobComplete, nil)
		result.Jobs++
		result.Bytes += len(data)
	}

	s.log.Info().Int("jobs", result.Jobs).Int("bytes", result.Bytes).Msg("print complete")
	return result, nil
}

func (s *Session) record(sub *submission, target, sink string, jobs [][]byte) []int {
	indexes := make([]int, len(jobs))
	for i, data := range jobs {
		indexes[i] = s.jobs.add(sub.title, target, sink, len(data))
	}
	return indexes
}

func (s *Session) failPrint(err error) *status.Operation {
	return s.tracker.Failed(status.KindPrinting, err)
}

// Print sends the raw buffer to the selected printer, one physical job per
// segment
func (s *Session) Print() *status.Operation {
	sub, err := s.accept(true, requireRaw)
	if err != nil {
		return s.failPrint(err)
	}

	jobs, err := sub.marker.Split(buffer.RawBytes(sub.elems))
	if err != nil {
		return s.failPrint(err)
	}
	indexes := s.record(sub, sub.printer.DisplayName(), SinkRaw, jobs)

	return s.schedule(status.KindPrinting, func(ctx context.Context) (any, error) {
		return s.sendAll(ctx, indexes, jobs, func(ctx context.Context, data []byte) error {
			return s.dispatch.Raw(ctx, sub.printer, transport.Document{Data: data, Format: transport.FormatRaw, Title: sub.title})
		})
	})
}

// PrintPS renders images, text and a lone PDF to the selected printer
func (s *Session) PrintPS() *status.Operation {
	return s.printRendered(SinkPostScript, func(sub *submission) error {
		if sub.pipeline == buffer.HTML {
			return fmt.Errorf("%w: html content needs PrintHTML", ErrPipelineMismatch)
		}
		return renderItems(sub, false)
	})
}

// PrintHTML renders HTML, text and images to the selected printer
func (s *Session) PrintHTML() *status.Operation {
	return s.printRendered(SinkHTML, func(sub *submission) error {
		if err := renderItems(sub, true); err != nil {
			return err
		}
		if sub.pdf != nil {
			return fmt.Errorf("%w: pdf content needs PrintPS", ErrPipelineMismatch)
		}
		return nil
	})
}

func (s *Session) printRendered(sink string, check func(*submission) error) *status.Operation {
	sub, err := s.accept(true, func(sub *submission) error {
		if !sub.printer.AcceptsPostScript() {
			return fmt.Errorf("%w: %s", transport.ErrNotPostScript, sub.printer.DisplayName())
		}
		return check(sub)
	})
	if err != nil {
		return s.failPrint(err)
	}

	index := s.jobs.add(sub.title, sub.printer.DisplayName(), sink, 0)

	return s.schedule(status.KindPrinting, func(ctx context.Context) (any, error) {
		doc, err := s.document(sub)
		if err != nil {
			s.jobs.setState(index, JobFailed, err)
			return nil, err
		}
		s.jobs.update(index, func(j *JobInfo) { j.Bytes = len(doc.Data) })

		return s.sendAll(ctx, []int{index}, [][]byte{doc.Data}, func(ctx context.Context, _ []byte) error {
			return s.dispatch.Rendered(ctx, sub.printer, doc)
		})
	})
}

// PrintToFile writes the buffer's document to path. Raw buffers are
// written unsegmented, rendered buffers as PostScript or PDF.
func (s *Session) PrintToFile(path string) *status.Operation {
	if path == "" {
		return s.failPrint(transport.ErrNoPath)
	}

	sub, err := s.accept(false, func(sub *submission) error {
		switch sub.pipeline {
		case buffer.Raw:
			return nil
		case buffer.HTML:
			return renderItems(sub, true)
		default:
			return renderItems(sub, false)
		}
	})
	if err != nil {
		return s.failPrint(err)
	}

	index := s.jobs.add(sub.title, path, SinkFile, 0)

	return s.schedule(status.KindPrinting, func(ctx context.Context) (any, error) {
		var data []byte
		if sub.pipeline == buffer.Raw {
			data = buffer.RawBytes(sub.elems)
		} else {
			doc, err := s.document(sub)
			if err != nil {
				s.jobs.setState(index, JobFailed, err)
				return nil, err
			}
			data = doc.Data
		}
		s.jobs.update(index, func(j *JobInfo) { j.Bytes = len(data) })

		return s.sendAll(ctx, []int{index}, [][]byte{data}, func(_ context.Context, data []byte) error {
			return s.dispatch.File(path, data)
		})
	})
}

// PrintToHost sends the raw buffer over TCP, one connection per physical
// job. Port 0 selects the default raw port.
func (s *Session) PrintToHost(host string, port int) *status.Operation {
	if host == "" {
		return s.failPrint(transport.ErrNoHost)
	}

	sub, err := s.accept(false, requireRaw)
	if err != nil {
		return s.failPrint(err)
	}

	jobs, err := sub.marker.Split(buffer.RawBytes(sub.elems))
	if err != nil {
		return s.failPrint(err)
	}

	target := host
	if port > 0 {
		target = net.JoinHostPort(host, strconv.Itoa(port))
	}
	indexes := s.record(sub, target, SinkHost, jobs)

	return s.schedule(status.KindPrinting, func(ctx context.Context) (any, error) {
		return s.sendAll(ctx, indexes, jobs, func(ctx context.Context, data []byte) error {
			return s.dispatch.Host(ctx, host, port, data)
		})
	})
}
