// Package serialport opens named serial ports and delivers framed responses
package serialport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the system
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Manager owns one actor per named port
type Manager struct {
	opener      Opener
	lister      func() ([]string, error)
	detailed    func() ([]*enumerator.PortDetails, error)
	readTimeout time.Duration
	observer    Observer
	log         zerolog.Logger

	mu       sync.Mutex
	ports    map[string]*port
	shutdown bool
}

// Option configures a Manager
type Option func(*Manager)

// WithOpener replaces the device opener
func WithOpener(o Opener) Option {
	return func(m *Manager) { m.opener = o }
}

// WithLister replaces the port listing used by Ports and DetailedPorts
func WithLister(list func() ([]string, error), detailed func() ([]*enumerator.PortDetails, error)) Option {
	return func(m *Manager) {
		m.lister = list
		m.detailed = detailed
	}
}

// WithReadTimeout sets how long a read blocks before the reader checks
// for shutdown
func WithReadTimeout(d time.Duration) Option {
	return func(m *Manager) { m.readTimeout = d }
}

// WithObserver receives returned data and port failures
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

type nopObserver struct{}

func (nopObserver) DataReturned(string, []byte) {}
func (nopObserver) Failed(string, error)        {}

// NewManager creates a manager backed by go.bug.st/serial
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		opener:      OpenDevice,
		lister:      serial.GetPortsList,
		detailed:    enumerator.GetDetailedPortsList,
		readTimeout: 100 * time.Millisecond,
		observer:    nopObserver{},
		log:         zerolog.Nop(),
		ports:       make(map[string]*port),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) port(name string) (*port, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoPortName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, ErrShutdown
	}
	p, ok := m.ports[name]
	if !ok {
		p = newPort(m, name)
		m.ports[name] = p
	}
	return p, nil
}

// SetProperties sets the line parameters used by the next Open
func (m *Manager) SetProperties(name string, props Properties) error {
	if err := props.Validate(); err != nil {
		return err
	}
	p, err := m.port(name)
	if err != nil {
		return err
	}
	return p.call(func() error {
		if err := p.configurable(); err != nil {
			return err
		}
		p.mu.Lock()
		p.props = props
		p.mu.Unlock()
		return nil
	})
}

// SetBegin sets the byte that starts a response frame
func (m *Manager) SetBegin(name string, b byte) error {
	return m.setFraming(name, func(p *port) { p.begin = b })
}

// SetEnd sets the byte that ends a response frame
func (m *Manager) SetEnd(name string, b byte) error {
	return m.setFraming(name, func(p *port) { p.end = b })
}

func (m *Manager) setFraming(name string, set func(*port)) error {
	p, err := m.port(name)
	if err != nil {
		return err
	}
	return p.call(func() error {
		if err := p.configurable(); err != nil {
			return err
		}
		p.mu.Lock()
		set(p)
		p.mu.Unlock()
		return nil
	})
}

// Properties returns the line parameters of a port
func (m *Manager) Properties(name string) (Properties, error) {
	p, err := m.port(name)
	if err != nil {
		return Properties{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props, nil
}

// State returns the lifecycle state of a port
func (m *Manager) State(name string) State {
	m.mu.Lock()
	p, ok := m.ports[strings.TrimSpace(name)]
	m.mu.Unlock()

	if !ok {
		return StateClosed
	}
	return p.State()
}

// LastData returns the most recent payload the port delivered
func (m *Manager) LastData(name string) []byte {
	m.mu.Lock()
	p, ok := m.ports[strings.TrimSpace(name)]
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return p.lastData()
}

// Open opens the port after every earlier operation on it. done receives
// the result exactly once, on the port's goroutine, so it must not wait on
// another operation of the same port.
func (m *Manager) Open(name string, done func(error)) {
	m.async(name, done, func(p *port) error { return p.open() })
}

// Close closes the port after every earlier operation on it. done
// receives the result exactly once.
func (m *Manager) Close(name string, done func(error)) {
	m.async(name, done, func(p *port) error { return p.close() })
}

func (m *Manager) async(name string, done func(error), op func(*port) error) {
	if done == nil {
		done = func(error) {}
	}
	p, err := m.port(name)
	if err != nil {
		done(err)
		return
	}
	if err := p.submit(func() { done(op(p)) }); err != nil {
		done(err)
	}
}

// Send queues data for writing. Write failures are reported to the
// observer.
func (m *Manager) Send(name string, data []byte) error {
	p, err := m.port(name)
	if err != nil {
		return err
	}
	if p.State() != StateOpen {
		return fmt.Errorf("%w: %s", ErrPortNotOpen, p.name)
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	return p.submit(func() { p.write(payload) })
}

// Ports lists the serial ports of the system
func (m *Manager) Ports() ([]string, error) {
	ports, err := m.lister()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// DetailedPorts lists serial ports with their USB identity
func (m *Manager) DetailedPorts() ([]PortInfo, error) {
	details, err := m.detailed()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// Shutdown closes every open port and stops the actors
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	ports := make([]*port, 0, len(m.ports))
	for _, p := range m.ports {
		ports = append(ports, p)
	}
	m.mu.Unlock()

	for _, p := range ports {
		p.stop()
	}
}
