package spool

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/thereceipt/spool-engine/internal/notify"
	"github.com/thereceipt/spool-engine/internal/serialport"
	"github.com/thereceipt/spool-engine/internal/status"
)

const (
	actionOpen  = "open"
	actionClose = "close"
)

var ErrInvalidFrameByte = errors.New("spool: frame marker must be a single byte")

// portObserver forwards port reports to the session
type portObserver struct {
	s *Session
}

func (o portObserver) DataReturned(name string, payload []byte) {
	o.s.bus.Publish(notify.Event{
		Name:    notify.EventSerialReturned,
		Port:    name,
		Payload: string(payload),
	})
}

func (o portObserver) Failed(name string, err error) {
	o.s.tracker.Record(status.KindSerial, fmt.Errorf("%s: %w", name, err))
}

// OpenPort opens a serial port after every earlier operation on it
func (s *Session) OpenPort(name string) *status.Operation {
	return s.portOp(actionOpen, name, s.serial.Open)
}

// ClosePort closes a serial port after every earlier operation on it
func (s *Session) ClosePort(name string) *status.Operation {
	return s.portOp(actionClose, name, s.serial.Close)
}

func (s *Session) portOp(action, name string, run func(string, func(error))) *status.Operation {
	if err := s.Active(); err != nil {
		return s.tracker.FailedFor(status.KindSerial, action, name, err)
	}
	op := s.tracker.BeginFor(status.KindSerial, action, name)
	run(name, func(err error) { op.Finish(err) })
	return op
}

// SendSerial writes data to an open port
func (s *Session) SendSerial(name, data string) error {
	if err := s.Active(); err != nil {
		return err
	}
	return s.serial.Send(name, []byte(data))
}

// SetSerialProperties sets the line parameters used by the next open.
// Empty values keep the defaults.
func (s *Session) SetSerialProperties(name, baud, dataBits, stopBits, parity, flow string) error {
	if err := s.Active(); err != nil {
		return err
	}
	props, err := serialport.ParseProperties(baud, dataBits, stopBits, parity, flow)
	if err != nil {
		return err
	}
	return s.serial.SetProperties(name, props)
}

// SetSerialBegin sets the byte that starts a response frame
func (s *Session) SetSerialBegin(name, marker string) error {
	b, err := frameByte(marker)
	if err != nil {
		return err
	}
	if err := s.Active(); err != nil {
		return err
	}
	return s.serial.SetBegin(name, b)
}

// SetSerialEnd sets the byte that ends a response frame
func (s *Session) SetSerialEnd(name, marker string) error {
	b, err := frameByte(marker)
	if err != nil {
		return err
	}
	if err := s.Active(); err != nil {
		return err
	}
	return s.serial.SetEnd(name, b)
}

// frameByte accepts a single character or one hex byte such as x02 or 0x0D
func frameByte(s string) (byte, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "0x"), "x")
	if b, err := hex.DecodeString(digits); err == nil && len(b) == 1 {
		return b[0], nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFrameByte, s)
}

// SerialState returns the lifecycle state of a port
func (s *Session) SerialState(name string) serialport.State {
	return s.serial.State(name)
}

// LastSerialData returns the most recent payload returned by a port
func (s *Session) LastSerialData(name string) string {
	return string(s.serial.LastData(name))
}

type portList []serialport.PortInfo

func (l portList) String() string {
	names := make([]string, len(l))
	for i, p := range l {
		names[i] = p.Name
	}
	return strings.Join(names, ",")
}

// FindPorts lists the serial ports of the system. USB details are added
// where the platform reports them.
func (s *Session) FindPorts() *status.Operation {
	return s.schedule(status.KindFindingPorts, func(context.Context) (any, error) {
		ports, err := s.serial.DetailedPorts()
		if err != nil {
			names, listErr := s.serial.Ports()
			if listErr != nil {
				return nil, errors.Join(err, listErr)
			}
			ports = make([]serialport.PortInfo, len(names))
			for i, name := range names {
				ports[i] = serialport.PortInfo{Name: name}
			}
		}

		s.mu.Lock()
		s.ports = ports
		s.mu.Unlock()
		return portList(ports), nil
	})
}

// Ports returns the result of the last FindPorts
func (s *Session) Ports() []serialport.PortInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]serialport.PortInfo(nil), s.ports...)
}
