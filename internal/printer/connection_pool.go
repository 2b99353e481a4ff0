package printer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotDialable = errors.New("printer: kind has no direct connection")

// PrinterConnection is a raw byte channel to a device
type PrinterConnection interface {
	Write(data []byte) (int, error)
	Close() error
}

// DialFunc opens a connection to a printer
type DialFunc func(ctx context.Context, p *Printer) (PrinterConnection, error)

// ConnectionPool keeps one open connection per printer ID
type ConnectionPool struct {
	connections map[string]PrinterConnection
	mu          sync.Mutex
	dial        DialFunc
	log         zerolog.Logger
}

// NewConnectionPool creates a pool. A nil dial uses Dialer(timeout).
func NewConnectionPool(dial DialFunc, timeout time.Duration, log zerolog.Logger) *ConnectionPool {
	if dial == nil {
		dial = Dialer(timeout)
	}
	return &ConnectionPool{
		connections: make(map[string]PrinterConnection),
		dial:        dial,
		log:         log,
	}
}

// Connect returns the open connection for p, dialing if needed
func (p *ConnectionPool) Connect(ctx context.Context, printer *Printer) (PrinterConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, exists := p.connections[printer.ID]; exists {
		return conn, nil
	}

	conn, err := p.dial(ctx, printer)
	if err != nil {
		return nil, err
	}

	p.log.Debug().Str("printer", printer.ID).Str("kind", string(printer.Kind)).Msg("printer connected")
	p.connections[printer.ID] = conn
	return conn, nil
}

// Write sends all of data to printer. A failed connection is dropped so
// the next write dials again.
func (p *ConnectionPool) Write(ctx context.Context, printer *Printer, data []byte) error {
	conn, err := p.Connect(ctx, printer)
	if err != nil {
		return err
	}

	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			p.Disconnect(printer.ID)
			return fmt.Errorf("write to %s: %w", printer.DisplayName(), err)
		}
		data = data[n:]
	}
	return nil
}

// Disconnect closes a printer connection
func (p *ConnectionPool) Disconnect(printerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, exists := p.connections[printerID]
	if !exists {
		return nil
	}

	delete(p.connections, printerID)
	return conn.Close()
}

// DisconnectAll closes all connections
func (p *ConnectionPool) DisconnectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, conn := range p.connections {
		conn.Close()
		delete(p.connections, id)
	}
}

// IsConnected checks if a printer is connected
func (p *ConnectionPool) IsConnected(printerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, exists := p.connections[printerID]
	return exists
}

// Dialer connects USB, serial and network printers. On macOS a USB
// printer the kernel driver holds is retried through its serial node.
func Dialer(timeout time.Duration) DialFunc {
	return func(ctx context.Context, p *Printer) (PrinterConnection, error) {
		switch p.Kind {
		case KindUSB:
			conn, err := ConnectUSB(p.VID, p.PID)
			if err != nil && runtime.GOOS == "darwin" {
				for _, port := range candidatePorts("darwin", filepath.Glob) {
					if serialConn, serialErr := ConnectSerial(port, 9600); serialErr == nil {
						return serialConn, nil
					}
				}
			}
			if err != nil {
				return nil, err
			}
			return conn, nil
		case KindSerial:
			return ConnectSerial(p.Device, 9600)
		case KindNetwork:
			return DialNetwork(ctx, p.Host, p.Port, timeout)
		default:
			return nil, fmt.Errorf("%w: %s", ErrNotDialable, p.Kind)
		}
	}
}
