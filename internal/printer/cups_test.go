package printer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lpstatOutput = `printer Office is idle.  enabled since Mon 06 Jan 2025 09:12:01 AM CET
	Form mounted:
	Description: Office Laser
	Location: 2nd floor
printer Zebra_ZP450 disabled since Mon 06 Jan 2025 09:12:01 AM CET -
	reason unknown
	Description: Zebra label printer
system default destination: Office
`

func TestParseLPStat(t *testing.T) {
	queues, def := parseLPStat(lpstatOutput)
	require.Len(t, queues, 2)

	assert.Equal(t, "Office", def)
	assert.Equal(t, Queue{Name: "Office", Description: "Office Laser", Enabled: true}, queues[0])
	assert.Equal(t, Queue{Name: "Zebra_ZP450", Description: "Zebra label printer", Enabled: false}, queues[1])

	queues, def = parseLPStat("no system default destination\n")
	assert.Empty(t, queues)
	assert.Empty(t, def)
}

type recordedRun struct {
	name  string
	args  []string
	stdin []byte
}

func fakeSpooler(out string, err error, calls *[]recordedRun) *Spooler {
	s := NewSpooler("", "")
	s.run = func(_ context.Context, name string, args []string, stdin []byte) ([]byte, error) {
		*calls = append(*calls, recordedRun{name: name, args: args, stdin: stdin})
		return []byte(out), err
	}
	return s
}

func TestSystemSourceDiscover(t *testing.T) {
	var calls []recordedRun
	src := NewSystemSource(fakeSpooler(lpstatOutput, nil, &calls))

	printers, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, printers, 2)

	assert.Equal(t, "lpstat", calls[0].name)
	assert.Equal(t, []string{"-l", "-p", "-d"}, calls[0].args)

	assert.True(t, printers[0].Default)
	assert.Equal(t, PostScript, printers[0].Capability)
	assert.Equal(t, "Office", printers[0].Queue)
	assert.False(t, printers[1].Default)
}

func TestSystemSourceNoQueues(t *testing.T) {
	var calls []recordedRun
	// lpstat exits non-zero with no output when the print system has no queues
	src := NewSystemSource(fakeSpooler("", errors.New("exit status 1"), &calls))

	_, err := src.Discover(context.Background())
	assert.Error(t, err)
}

func TestSpoolerSubmit(t *testing.T) {
	var calls []recordedRun
	s := fakeSpooler("request id is Office-12 (1 file(s))\n", nil, &calls)

	require.NoError(t, s.Submit(context.Background(), "Office", []byte("^XA^XZ"), true, "labels"))
	require.NoError(t, s.Submit(context.Background(), "Office", []byte("%!PS"), false, ""))

	require.Len(t, calls, 2)
	assert.Equal(t, "lp", calls[0].name)
	assert.Equal(t, []string{"-d", "Office", "-o", "raw", "-t", "labels"}, calls[0].args)
	assert.Equal(t, []byte("^XA^XZ"), calls[0].stdin)
	assert.Equal(t, []string{"-d", "Office"}, calls[1].args)
}

func TestSpoolerSubmitError(t *testing.T) {
	var calls []recordedRun
	s := fakeSpooler("", errors.New("lp: The printer or class does not exist."), &calls)

	err := s.Submit(context.Background(), "Gone", []byte("x"), true, "")
	assert.ErrorContains(t, err, "lp -d Gone")
	assert.ErrorContains(t, err, "does not exist")
}

func TestCandidatePorts(t *testing.T) {
	glob := func(pattern string) ([]string, error) {
		switch pattern {
		case "/dev/cu.*":
			return []string{"/dev/cu.usbserial-10", "/dev/cu.Bluetooth-Incoming-Port"}, nil
		case "/dev/tty.*":
			return []string{"/dev/tty.debug-console"}, nil
		case "/dev/ttyUSB*":
			return []string{"/dev/ttyUSB0"}, nil
		case "/dev/ttyACM*":
			return []string{"/dev/ttyACM0"}, nil
		}
		return nil, nil
	}

	assert.Equal(t, []string{"/dev/cu.usbserial-10"}, candidatePorts("darwin", glob))
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyACM0"}, candidatePorts("linux", glob))

	win := candidatePorts("windows", glob)
	assert.Len(t, win, 256)
	assert.Equal(t, "COM1", win[0])

	assert.Empty(t, candidatePorts("plan9", glob))
}
