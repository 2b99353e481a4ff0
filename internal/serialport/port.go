package serialport

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/atomic"
)

// State is the lifecycle state of a port
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "closed"
	}
}

// Handle is the subset of go.bug.st/serial.Port a port uses
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	SetRTS(rts bool) error
	SetDTR(dtr bool) error
}

// Opener opens a device
type Opener func(name string, mode *serial.Mode) (Handle, error)

// OpenDevice opens a real serial device
func OpenDevice(name string, mode *serial.Mode) (Handle, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Observer receives what a port reports outside of a request
type Observer interface {
	DataReturned(name string, payload []byte)
	Failed(name string, err error)
}

// port serializes every operation on one device through its actor goroutine
type port struct {
	name  string
	m     *Manager
	state atomic.Int32
	ops   chan func()
	quit  chan struct{}

	// guarded by mu; written only from the actor except last, which the
	// reader also writes
	mu     sync.Mutex
	props  Properties
	begin  byte
	end    byte
	handle Handle
	last   []byte

	readerDone chan struct{}
}

func newPort(m *Manager, name string) *port {
	p := &port{
		name:  name,
		m:     m,
		ops:   make(chan func(), 32),
		quit:  make(chan struct{}),
		props: DefaultProperties(),
		begin: DefaultBegin,
		end:   DefaultEnd,
	}
	go p.run()
	return p
}

func (p *port) run() {
	for {
		select {
		case op := <-p.ops:
			op()
		case <-p.quit:
			return
		}
	}
}

func (p *port) submit(op func()) error {
	select {
	case <-p.quit:
		return ErrShutdown
	default:
	}
	select {
	case p.ops <- op:
		return nil
	case <-p.quit:
		return ErrShutdown
	}
}

// call runs fn on the actor and waits for its result
func (p *port) call(fn func() error) error {
	result := make(chan error, 1)
	if err := p.submit(func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-p.quit:
		return ErrShutdown
	}
}

func (p *port) State() State {
	return State(p.state.Load())
}

func (p *port) setState(s State) {
	p.state.Store(int32(s))
}

// configurable reports whether line parameters may change
func (p *port) configurable() error {
	switch p.State() {
	case StateClosed, StateFailed:
		return nil
	default:
		return ErrPortOpen
	}
}

func (p *port) open() error {
	switch p.State() {
	case StateClosed, StateFailed:
	default:
		return ErrPortOpen
	}

	p.setState(StateOpening)

	p.mu.Lock()
	props, begin, end := p.props, p.begin, p.end
	p.mu.Unlock()

	h, err := p.m.opener(p.name, props.mode())
	if err != nil {
		p.setState(StateFailed)
		return err
	}

	if err := h.SetReadTimeout(p.m.readTimeout); err != nil {
		h.Close()
		p.setState(StateFailed)
		return err
	}
	if props.Flow == FlowRTSCTS {
		if err := errors.Join(h.SetRTS(true), h.SetDTR(true)); err != nil {
			h.Close()
			p.setState(StateFailed)
			return err
		}
	}

	p.mu.Lock()
	p.handle = h
	p.mu.Unlock()

	done := make(chan struct{})
	p.readerDone = done
	p.setState(StateOpen)
	go p.read(h, &framer{begin: begin, end: end}, done)

	p.m.log.Debug().Str("port", p.name).Str("props", props.String()).Msg("serial port open")
	return nil
}

func (p *port) close() error {
	if p.State() != StateOpen {
		return ErrPortNotOpen
	}

	p.setState(StateClosing)

	p.mu.Lock()
	h := p.handle
	p.handle = nil
	p.mu.Unlock()

	// closing the handle unblocks the reader
	err := h.Close()
	<-p.readerDone

	if err != nil {
		p.setState(StateFailed)
		return err
	}
	p.setState(StateClosed)
	p.m.log.Debug().Str("port", p.name).Msg("serial port closed")
	return nil
}

func (p *port) write(data []byte) {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()

	if h == nil || p.State() != StateOpen {
		return
	}

	for len(data) > 0 {
		n, err := h.Write(data)
		if err != nil {
			p.m.observer.Failed(p.name, err)
			return
		}
		data = data[n:]
	}
}

// read delivers framed payloads until the handle fails or is closed
func (p *port) read(h Handle, f *framer, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 1024)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			for _, payload := range f.feed(buf[:n]) {
				p.mu.Lock()
				p.last = payload
				p.mu.Unlock()
				p.m.observer.DataReturned(p.name, payload)
			}
		}
		if err != nil {
			if p.State() == StateOpen {
				// the actor may be busy, so the teardown is queued from
				// outside the reader
				go p.submit(func() { p.teardown(h, err) })
			}
			return
		}
	}
}

// teardown closes a port whose reader hit a fatal error
func (p *port) teardown(h Handle, cause error) {
	p.mu.Lock()
	current := p.handle == h
	if current {
		p.handle = nil
	}
	p.mu.Unlock()

	if !current || p.State() != StateOpen {
		return
	}

	h.Close()
	p.setState(StateClosed)
	p.m.log.Warn().Err(cause).Str("port", p.name).Msg("serial port lost")
	p.m.observer.Failed(p.name, cause)
}

// stop closes any open handle and ends the actor
func (p *port) stop() {
	p.call(func() error {
		if p.State() == StateOpen {
			p.close()
		}
		return nil
	})
	close(p.quit)
}

func (p *port) lastData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil {
		return nil
	}
	out := make([]byte, len(p.last))
	copy(out, p.last)
	return out
}
