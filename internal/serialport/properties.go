package serialport

import (
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// Flow is the flow control mode
type Flow int

const (
	FlowNone Flow = iota
	FlowRTSCTS
	FlowXonXoff
)

func (f Flow) String() string {
	switch f {
	case FlowRTSCTS:
		return "rtscts"
	case FlowXonXoff:
		return "xonxoff"
	default:
		return "none"
	}
}

// Framing defaults
const (
	DefaultBegin byte = 0x02
	DefaultEnd   byte = '\r'
)

// Properties are the line parameters of a port
type Properties struct {
	BaudRate int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
	Flow     Flow
}

// DefaultProperties is 9600 8N1 without flow control
func DefaultProperties() Properties {
	return Properties{
		BaudRate: 9600,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
		Flow:     FlowNone,
	}
}

// Validate reports parameters the driver cannot apply
func (p Properties) Validate() error {
	if p.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidProperty, p.BaudRate)
	}
	if p.DataBits < 5 || p.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidProperty, p.DataBits)
	}
	if p.Flow == FlowXonXoff {
		return ErrUnsupportedFlow
	}
	return nil
}

func (p Properties) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
		StopBits: p.StopBits,
		Parity:   p.Parity,
	}
}

// String renders the usual shorthand, e.g. "9600 8N1"
func (p Properties) String() string {
	s := fmt.Sprintf("%d %d%c%s", p.BaudRate, p.DataBits, parityLetter(p.Parity), stopBitsText(p.StopBits))
	if p.Flow != FlowNone {
		s += " " + p.Flow.String()
	}
	return s
}

func parityLetter(p serial.Parity) rune {
	switch p {
	case serial.OddParity:
		return 'O'
	case serial.EvenParity:
		return 'E'
	case serial.MarkParity:
		return 'M'
	case serial.SpaceParity:
		return 'S'
	default:
		return 'N'
	}
}

func stopBitsText(s serial.StopBits) string {
	switch s {
	case serial.OnePointFiveStopBits:
		return "1.5"
	case serial.TwoStopBits:
		return "2"
	default:
		return "1"
	}
}

// ParseProperties builds properties from their text forms. Empty values
// keep the defaults.
func ParseProperties(baud, data, stop, parity, flow string) (Properties, error) {
	p := DefaultProperties()

	if baud = strings.TrimSpace(baud); baud != "" {
		n, err := strconv.Atoi(baud)
		if err != nil || n <= 0 {
			return p, fmt.Errorf("%w: baud rate %q", ErrInvalidProperty, baud)
		}
		p.BaudRate = n
	}

	if data = strings.TrimSpace(data); data != "" {
		n, err := strconv.Atoi(data)
		if err != nil || n < 5 || n > 8 {
			return p, fmt.Errorf("%w: data bits %q", ErrInvalidProperty, data)
		}
		p.DataBits = n
	}

	switch strings.TrimSpace(stop) {
	case "", "1":
		p.StopBits = serial.OneStopBit
	case "1.5":
		p.StopBits = serial.OnePointFiveStopBits
	case "2":
		p.StopBits = serial.TwoStopBits
	default:
		return p, fmt.Errorf("%w: stop bits %q", ErrInvalidProperty, stop)
	}

	switch strings.ToLower(strings.TrimSpace(parity)) {
	case "", "n", "none":
		p.Parity = serial.NoParity
	case "e", "even":
		p.Parity = serial.EvenParity
	case "o", "odd":
		p.Parity = serial.OddParity
	case "m", "mark":
		p.Parity = serial.MarkParity
	case "s", "space":
		p.Parity = serial.SpaceParity
	default:
		return p, fmt.Errorf("%w: parity %q", ErrInvalidProperty, parity)
	}

	switch strings.ToLower(strings.TrimSpace(flow)) {
	case "", "none":
		p.Flow = FlowNone
	case "rtscts", "rts/cts", "hardware":
		p.Flow = FlowRTSCTS
	case "xonxoff", "xon/xoff", "software":
		p.Flow = FlowXonXoff
	default:
		return p, fmt.Errorf("%w: flow control %q", ErrInvalidProperty, flow)
	}

	return p, nil
}
