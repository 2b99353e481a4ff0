package printer

import (
	"fmt"
	"sync"

	"github.com/tarm/serial"
)

// SerialConnection is a write channel to a serial printer
type SerialConnection struct {
	port *serial.Port
	mu   sync.Mutex
}

// ConnectSerial opens a serial printer. Baud 0 means 9600.
func ConnectSerial(device string, baud int) (*SerialConnection, error) {
	if baud == 0 {
		baud = 9600
	}

	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial printer %s: %w", device, err)
	}

	return &SerialConnection{port: port}, nil
}

// Write sends data to the serial printer
func (c *SerialConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.port.Write(data)
}

// Close closes the serial connection
func (c *SerialConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != nil {
		return c.port.Close()
	}
	return nil
}
