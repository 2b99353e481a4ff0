// Package spool ties the buffer, printer, transport, serial and status
// packages into a client session. Every call that does I/O returns a
// status.Operation and runs on the session's worker in submission order.
package spool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/thereceipt/spool-engine/internal/buffer"
	"github.com/thereceipt/spool-engine/internal/notify"
	"github.com/thereceipt/spool-engine/internal/printer"
	"github.com/thereceipt/spool-engine/internal/registry"
	"github.com/thereceipt/spool-engine/internal/render"
	"github.com/thereceipt/spool-engine/internal/segment"
	"github.com/thereceipt/spool-engine/internal/serialport"
	"github.com/thereceipt/spool-engine/internal/status"
	"github.com/thereceipt/spool-engine/internal/transport"
)

var (
	ErrSessionClosed     = errors.New("spool: session closed")
	ErrNoData            = errors.New("spool: buffer is empty")
	ErrAppendPending     = errors.New("spool: an append is still pending")
	ErrNoPrinterSelected = errors.New("spool: no printer selected")
	ErrRenderingRequired = errors.New("spool: buffer requires a rendering pipeline")
	ErrPipelineMismatch  = errors.New("spool: buffer content does not fit this print call")
	ErrPDFNotAlone       = errors.New("spool: a pdf must be the only element")
	ErrUnrenderable      = errors.New("spool: raw printer data cannot be rendered")
)

// Dispatcher delivers finished documents. *transport.Dispatcher is the
// production implementation.
type Dispatcher interface {
	Raw(ctx context.Context, p *printer.Printer, doc transport.Document) error
	Rendered(ctx context.Context, p *printer.Printer, doc transport.Document) error
	File(path string, data []byte) error
	Host(ctx context.Context, host string, port int, data []byte) error
}

// Deps are the shared services a session is built on
type Deps struct {
	Registry   *registry.Registry
	Sources    []printer.Source
	Dispatcher Dispatcher
	Renderer   *render.Renderer
	Fetcher    *Fetcher
	Serial     []serialport.Option
	Log        zerolog.Logger
	Version    string
}

// Session is one client's buffer, printer selection, serial ports and
// pending operations
type Session struct {
	ID string

	version  string
	log      zerolog.Logger
	closed   atomic.Bool
	bus      *notify.Bus
	tracker  *status.Tracker
	printers *printer.Manager
	serial   *serialport.Manager
	dispatch Dispatcher
	renderer *render.Renderer
	fetcher  *Fetcher
	work     *worker
	jobs     *JobLog

	localIP func(ctx context.Context) (net.IP, error)

	mu      sync.Mutex
	buf     *buffer.Buffer
	marker  segment.Marker
	title   string
	ports   []serialport.PortInfo
	network *NetworkInfo
}

// New creates a session and starts its worker
func New(deps Deps) *Session {
	id := uuid.New().String()
	log := deps.Log.With().Str("session", id).Logger()

	s := &Session{
		ID:       id,
		version:  deps.Version,
		log:      log,
		bus:      notify.NewBus(),
		printers: printer.NewManager(deps.Registry, printer.WithSources(deps.Sources...), printer.WithLogger(log)),
		dispatch: deps.Dispatcher,
		renderer: deps.Renderer,
		fetcher:  deps.Fetcher,
		work:     newWorker(),
		jobs:     &JobLog{},
		localIP:  outboundIP,
		buf:      buffer.New(),
	}
	if s.renderer == nil {
		s.renderer = render.New(0)
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcher(0, 0)
	}
	s.tracker = status.NewTracker(s.publish)

	opts := append([]serialport.Option{serialport.WithLogger(log)}, deps.Serial...)
	s.serial = serialport.NewManager(append(opts, serialport.WithObserver(portObserver{s}))...)

	log.Info().Msg("session started")
	return s
}

// Active returns ErrSessionClosed once the session was closed
func (s *Session) Active() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

// Version returns the build version of the service
func (s *Session) Version() string {
	return s.version
}

// Close fails queued operations, closes open ports and ends every
// notification subscription. Closing twice is a no-op.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.work.stop()
	s.serial.Shutdown()
	s.bus.Close()
	s.log.Info().Msg("session closed")
}

// Subscribe streams the session's notifications
func (s *Session) Subscribe(buffer int) (<-chan notify.Event, func()) {
	return s.bus.Subscribe(buffer)
}

// IsDone reports whether the latest operations of kind have finished
func (s *Session) IsDone(kind status.Kind) bool {
	return s.tracker.IsDone(kind)
}

// OnDone runs fn once, when the next operation of kind finishes
func (s *Session) OnDone(kind status.Kind, fn func(*status.Operation)) {
	s.tracker.OnDone(kind, fn)
}

// Exception returns the outstanding failure of kind
func (s *Session) Exception(kind status.Kind) *status.Exception {
	return s.tracker.Exception(kind)
}

// LastException returns the most recent outstanding failure of any kind
func (s *Session) LastException() *status.Exception {
	return s.tracker.LastException()
}

// Exceptions returns every outstanding failure
func (s *Session) Exceptions() []status.Exception {
	return s.tracker.Exceptions()
}

// ClearException clears the slot of kind. An empty kind clears all.
func (s *Session) ClearException(kind status.Kind) {
	if kind == "" {
		s.tracker.ClearAll()
		return
	}
	s.tracker.ClearException(kind)
}

// QueueInfo returns every physical job sent by this session
func (s *Session) QueueInfo() []JobInfo {
	return s.jobs.All()
}

// JobInfo returns one job of the log
func (s *Session) JobInfo(index int) (JobInfo, error) {
	return s.jobs.Get(index)
}

// schedule starts an operation of kind and queues run on the worker
func (s *Session) schedule(kind status.Kind, run func(ctx context.Context) (any, error)) *status.Operation {
	if err := s.Active(); err != nil {
		return s.tracker.Failed(kind, err)
	}
	op := s.tracker.Begin(kind)
	s.work.submit(task{op: op, run: run})
	return op
}

func eventName(op *status.Operation) string {
	switch op.Kind {
	case status.KindFinding:
		return notify.EventDoneFinding
	case status.KindAppending:
		return notify.EventDoneAppending
	case status.KindPrinting:
		return notify.EventDonePrinting
	case status.KindFindingPorts:
		return notify.EventDoneFindingPorts
	case status.KindFindingNetwork:
		return notify.EventDoneFindingNetwork
	case status.KindSerial:
		if op.Action == actionClose {
			return notify.EventDoneClosingPort
		}
		return notify.EventDoneOpeningPort
	}
	return "done-" + string(op.Kind)
}

// publish turns every finished operation into one notification
func (s *Session) publish(op *status.Operation) {
	e := notify.Event{
		Name:      eventName(op),
		Operation: op.ID,
	}
	if op.Kind == status.KindSerial {
		e.Port = op.Subject
	}
	if err := op.Err(); err != nil {
		e.Error = err.Error()
		s.log.Debug().Err(err).Str("event", e.Name).Msg("operation failed")
	}
	switch v := op.Value().(type) {
	case string:
		e.Payload = v
	case fmt.Stringer:
		e.Payload = v.String()
	}
	s.bus.Publish(e)
}
