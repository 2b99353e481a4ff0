// Package transport routes finished documents to printers, files and hosts
package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/spool-engine/internal/printer"
)

var (
	ErrNoPrinter     = errors.New("transport: no printer")
	ErrNotPostScript = errors.New("transport: printer does not accept PostScript")
	ErrNoHost        = errors.New("transport: no host")
	ErrNoPath        = errors.New("transport: no file path")

	// ErrDelivery wraps failures of the sink itself: lp exit status,
	// device and socket I/O, file writes
	ErrDelivery = errors.New("transport: delivery failed")
)

// Format is the content type of a document
type Format int

const (
	FormatRaw Format = iota
	FormatPostScript
	FormatPDF
)

func (f Format) String() string {
	switch f {
	case FormatPostScript:
		return "postscript"
	case FormatPDF:
		return "pdf"
	default:
		return "raw"
	}
}

// Document is one physical job
type Document struct {
	Data   []byte
	Format Format
	Title  string
}

// Submitter hands documents to the host print system
type Submitter interface {
	Submit(ctx context.Context, queue string, data []byte, raw bool, title string) error
}

// Dispatcher sends documents to their sinks
type Dispatcher struct {
	spooler     Submitter
	pool        *printer.ConnectionPool
	dialTimeout time.Duration
	defaultPort int
	log         zerolog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithDialTimeout bounds host sink connection setup
func WithDialTimeout(d time.Duration) Option {
	return func(t *Dispatcher) { t.dialTimeout = d }
}

// WithDefaultPort sets the host sink port used when none is given
func WithDefaultPort(port int) Option {
	return func(t *Dispatcher) { t.defaultPort = port }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(t *Dispatcher) { t.log = log }
}

// New creates a dispatcher. System queues go through spooler and every
// other printer kind through pool.
func New(spooler Submitter, pool *printer.ConnectionPool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		spooler:     spooler,
		pool:        pool,
		dialTimeout: 5 * time.Second,
		defaultPort: printer.DefaultNetworkPort,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Raw sends printer-language bytes to p's raw channel
func (d *Dispatcher) Raw(ctx context.Context, p *printer.Printer, doc Document) error {
	if p == nil {
		return ErrNoPrinter
	}

	d.log.Debug().Str("printer", p.ID).Str("kind", string(p.Kind)).Int("bytes", len(doc.Data)).Msg("raw job")

	var err error
	if p.Kind == printer.KindSystem {
		err = d.spooler.Submit(ctx, p.Queue, doc.Data, true, doc.Title)
	} else {
		err = d.pool.Write(ctx, p, doc.Data)
	}
	return delivery(err)
}

// Rendered sends a PostScript or PDF document to a system queue
func (d *Dispatcher) Rendered(ctx context.Context, p *printer.Printer, doc Document) error {
	if p == nil {
		return ErrNoPrinter
	}
	if !p.AcceptsPostScript() || p.Kind != printer.KindSystem {
		return fmt.Errorf("%w: %s", ErrNotPostScript, p.DisplayName())
	}

	d.log.Debug().Str("printer", p.ID).Str("format", doc.Format.String()).Int("bytes", len(doc.Data)).Msg("rendered job")

	return delivery(d.spooler.Submit(ctx, p.Queue, doc.Data, false, doc.Title))
}

// File writes data to path, replacing any existing file
func (d *Dispatcher) File(path string, data []byte) error {
	if path == "" {
		return ErrNoPath
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrDelivery, path, err)
	}

	d.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("file job")
	return nil
}

// Host sends data over a fresh TCP connection to host:port. Port 0 uses
// the default port.
func (d *Dispatcher) Host(ctx context.Context, host string, port int, data []byte) error {
	if host == "" {
		return ErrNoHost
	}
	if port == 0 {
		port = d.defaultPort
	}

	conn, err := printer.DialNetwork(ctx, host, port, d.dialTimeout)
	if err != nil {
		return delivery(err)
	}

	for rest := data; len(rest) > 0; {
		n, err := conn.Write(rest)
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: write to %s:%d: %w", ErrDelivery, host, port, err)
		}
		rest = rest[n:]
	}

	d.log.Debug().Str("host", host).Int("port", port).Int("bytes", len(data)).Msg("host job")
	return delivery(conn.Close())
}

func delivery(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDelivery, err)
}
