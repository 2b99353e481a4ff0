package printer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// NetworkConnection is a raw TCP connection to a printer or host
type NetworkConnection struct {
	conn net.Conn
	mu   sync.Mutex
}

// DialNetwork connects to host:port. Port 0 means 9100 and timeout <= 0
// means 5 seconds.
func DialNetwork(ctx context.Context, host string, port int, timeout time.Duration) (*NetworkConnection, error) {
	if port == 0 {
		port = DefaultNetworkPort
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &NetworkConnection{conn: conn}, nil
}

// Write sends data over the connection
func (c *NetworkConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.Write(data)
}

// Close closes the network connection
func (c *NetworkConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
