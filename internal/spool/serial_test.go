package spool

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/thereceipt/spool-engine/internal/notify"
	"github.com/thereceipt/spool-engine/internal/serialport"
	"github.com/thereceipt/spool-engine/internal/status"
)

type scaleHandle struct {
	mu       sync.Mutex
	written  []byte
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func (h *scaleHandle) Read(p []byte) (int, error) {
	select {
	case data := <-h.incoming:
		return copy(p, data), nil
	case <-h.closed:
		return 0, io.EOF
	}
}

func (h *scaleHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, p...)
	return len(p), nil
}

func (h *scaleHandle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

func (h *scaleHandle) SetReadTimeout(time.Duration) error { return nil }
func (h *scaleHandle) SetRTS(bool) error                  { return nil }
func (h *scaleHandle) SetDTR(bool) error                  { return nil }

func nextEvent(t *testing.T, events <-chan notify.Event, name string) notify.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Name == name {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", name)
		}
	}
}

func TestSerialScale(t *testing.T) {
	h := &scaleHandle{incoming: make(chan []byte, 4), closed: make(chan struct{})}
	var mode *serial.Mode
	opener := func(name string, m *serial.Mode) (serialport.Handle, error) {
		mode = m
		return h, nil
	}

	s, _ := newTestSession(t, serialport.WithOpener(opener))
	events, cancel := s.Subscribe(32)
	defer cancel()

	require.NoError(t, s.SetSerialProperties("COM3", "9600", "7", "1", "even", "none"))
	require.NoError(t, s.SetSerialBegin("COM3", "x02"))
	require.NoError(t, s.SetSerialEnd("COM3", "\r"))

	require.NoError(t, wait(t, s.OpenPort("COM3")))
	opened := nextEvent(t, events, notify.EventDoneOpeningPort)
	assert.Equal(t, "COM3", opened.Port)
	assert.Empty(t, opened.Error)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serialport.StateOpen, s.SerialState("COM3"))

	assert.ErrorIs(t, s.SetSerialProperties("COM3", "19200", "", "", "", ""), serialport.ErrPortOpen)

	require.NoError(t, s.SendSerial("COM3", "W\n"))
	h.incoming <- []byte("junk\x0212")
	h.incoming <- []byte("3.45\r")

	returned := nextEvent(t, events, notify.EventSerialReturned)
	assert.Equal(t, "123.45", returned.Payload)
	assert.Equal(t, "123.45", s.LastSerialData("COM3"))

	require.NoError(t, wait(t, s.ClosePort("COM3")))
	closed := nextEvent(t, events, notify.EventDoneClosingPort)
	assert.Equal(t, "COM3", closed.Port)

	h.mu.Lock()
	assert.Equal(t, "W\n", string(h.written))
	h.mu.Unlock()
}

func TestSerialErrors(t *testing.T) {
	s, _ := newTestSession(t, serialport.WithOpener(func(string, *serial.Mode) (serialport.Handle, error) {
		return nil, io.ErrUnexpectedEOF
	}))

	assert.ErrorIs(t, s.SendSerial("COM9", "x"), serialport.ErrPortNotOpen)
	assert.ErrorIs(t, s.SetSerialBegin("COM9", "ab"), ErrInvalidFrameByte)

	assert.Error(t, wait(t, s.OpenPort("COM9")))
	assert.Equal(t, serialport.StateFailed, s.SerialState("COM9"))
	assert.NotNil(t, s.Exception(status.KindSerial))

	// a failed port can be reconfigured
	assert.NoError(t, s.SetSerialProperties("COM9", "4800", "", "", "", ""))
}

func TestFindPorts(t *testing.T) {
	s, _ := newTestSession(t, serialport.WithLister(
		func() ([]string, error) { return []string{"/dev/ttyUSB0", "/dev/ttyS0"}, nil },
		func() ([]*enumerator.PortDetails, error) { return nil, io.ErrClosedPipe },
	))

	op := s.FindPorts()
	require.NoError(t, wait(t, op))
	assert.Equal(t, "/dev/ttyUSB0,/dev/ttyS0", op.Value().(fmt.Stringer).String())
	assert.Len(t, s.Ports(), 2)
	assert.True(t, s.IsDone(status.KindFindingPorts))
}

func TestFrameByte(t *testing.T) {
	for in, want := range map[string]byte{"\r": '\r', "x02": 0x02, "0x0D": 0x0D, "03": 0x03} {
		b, err := frameByte(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, b, in)
	}
	for _, in := range []string{"", "xyz", "0x0102"} {
		_, err := frameByte(in)
		assert.ErrorIs(t, err, ErrInvalidFrameByte, in)
	}
}

func TestInterfaceFor(t *testing.T) {
	eth := net.Interface{Name: "eth0", HardwareAddr: net.HardwareAddr{0x00, 0x1b, 0x44, 0x11, 0x3a, 0xb7}}
	lo := net.Interface{Name: "lo"}
	addrs := map[string][]net.Addr{
		"lo":   {&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)}},
		"eth0": {&net.IPNet{IP: net.IPv4(192, 168, 1, 20), Mask: net.CIDRMask(24, 32)}},
	}
	lookup := func(i net.Interface) ([]net.Addr, error) { return addrs[i.Name], nil }

	iface, err := interfaceFor(net.IPv4(192, 168, 1, 20), []net.Interface{lo, eth}, lookup)
	require.NoError(t, err)
	assert.Equal(t, "00:1b:44:11:3a:b7", iface.HardwareAddr.String())

	_, err = interfaceFor(net.IPv4(10, 0, 0, 1), []net.Interface{lo, eth}, lookup)
	assert.ErrorIs(t, err, ErrNoInterface)
}

func TestFindNetworkInfoFailure(t *testing.T) {
	s, _ := newTestSession(t)
	s.localIP = func(context.Context) (net.IP, error) { return nil, io.ErrUnexpectedEOF }

	assert.ErrorIs(t, wait(t, s.FindNetworkInfo()), io.ErrUnexpectedEOF)
	assert.Nil(t, s.NetworkInfo())
	assert.NotNil(t, s.Exception(status.KindFindingNetwork))
}
