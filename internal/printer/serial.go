package printer

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tarm/serial"
)

// SerialSource probes candidate serial devices by opening them briefly
type SerialSource struct {
	// Candidates overrides the platform device list when set
	Candidates func() []string
}

func (SerialSource) Kind() Kind { return KindSerial }

func (s SerialSource) Discover(ctx context.Context) ([]Printer, error) {
	candidates := s.Candidates
	if candidates == nil {
		candidates = func() []string { return candidatePorts(runtime.GOOS, filepath.Glob) }
	}

	var printers []Printer
	for _, path := range candidates() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		port, err := serial.OpenPort(&serial.Config{Name: path, Baud: 9600})
		if err != nil {
			continue
		}
		port.Close()

		printers = append(printers, Printer{
			Name:        filepath.Base(path),
			Description: fmt.Sprintf("Serial: %s", filepath.Base(path)),
			Kind:        KindSerial,
			Capability:  Raw,
			Device:      path,
		})
	}
	return printers, nil
}

var macSkipPatterns = []string{"Bluetooth", "Modem", "SPP", "DialIn", "Callout", "KeySerial", "debug-console"}

// candidatePorts lists device paths worth probing on goos
func candidatePorts(goos string, glob func(string) ([]string, error)) []string {
	var ports []string
	collect := func(patterns ...string) {
		for _, p := range patterns {
			matches, _ := glob(p)
			ports = append(ports, matches...)
		}
	}

	switch goos {
	case "darwin":
		var all []string
		for _, p := range []string{"/dev/cu.*", "/dev/tty.*"} {
			matches, _ := glob(p)
			all = append(all, matches...)
		}
	next:
		for _, port := range all {
			for _, skip := range macSkipPatterns {
				if strings.Contains(port, skip) {
					continue next
				}
			}
			ports = append(ports, port)
		}
	case "linux":
		collect("/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*")
	case "windows":
		for i := 1; i <= 256; i++ {
			ports = append(ports, fmt.Sprintf("COM%d", i))
		}
	}
	return ports
}
