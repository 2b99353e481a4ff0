package serialport

import "errors"

var (
	ErrPortOpen        = errors.New("serial: port open")
	ErrPortNotOpen     = errors.New("serial: port not open")
	ErrInvalidProperty = errors.New("serial: invalid property")
	ErrUnsupportedFlow = errors.New("serial: xon/xoff flow control is not supported by the driver")
	ErrShutdown        = errors.New("serial: manager shut down")
	ErrNoPortName      = errors.New("serial: no port name")
)
