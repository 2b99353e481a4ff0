package serialport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

type fakeHandle struct {
	mu      sync.Mutex
	written []byte
	rts     bool
	dtr     bool
	mode    *serial.Mode

	incoming chan []byte
	fail     chan error
	closed   chan struct{}
	once     sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		incoming: make(chan []byte, 8),
		fail:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (h *fakeHandle) Read(p []byte) (int, error) {
	select {
	case data := <-h.incoming:
		return copy(p, data), nil
	case err := <-h.fail:
		return 0, err
	case <-h.closed:
		return 0, io.EOF
	}
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, p...)
	return len(p), nil
}

func (h *fakeHandle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

func (h *fakeHandle) SetReadTimeout(time.Duration) error { return nil }

func (h *fakeHandle) SetRTS(v bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rts = v
	return nil
}

func (h *fakeHandle) SetDTR(v bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dtr = v
	return nil
}

func (h *fakeHandle) output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.written)
}

type event struct {
	name    string
	payload string
	err     error
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 16)}
}

func (r *recorder) DataReturned(name string, payload []byte) {
	r.events <- event{name: name, payload: string(payload)}
}

func (r *recorder) Failed(name string, err error) {
	r.events <- event{name: name, err: err}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return event{}
	}
}

func waitDone(t *testing.T) (func(error), func() error) {
	t.Helper()
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, func() error {
		t.Helper()
		select {
		case err := <-ch:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("operation never completed")
			return nil
		}
	}
}

func newTestManager(h *fakeHandle, rec *recorder) *Manager {
	return NewManager(
		WithOpener(func(name string, mode *serial.Mode) (Handle, error) {
			h.mode = mode
			return h, nil
		}),
		WithObserver(rec),
	)
}

func TestFramedResponse(t *testing.T) {
	h := newFakeHandle()
	rec := newRecorder()
	m := newTestManager(h, rec)
	defer m.Shutdown()

	require.NoError(t, m.SetBegin("COM3", 0x02))
	require.NoError(t, m.SetEnd("COM3", 0x0d))

	done, wait := waitDone(t)
	m.Open("COM3", done)
	require.NoError(t, wait())
	assert.Equal(t, StateOpen, m.State("COM3"))

	require.NoError(t, m.Send("COM3", []byte("W\n")))

	// noise before the begin byte and a frame split across reads
	h.incoming <- []byte("junk\x0212")
	h.incoming <- []byte("3.45\x0d")

	e := rec.next(t)
	assert.Equal(t, "COM3", e.name)
	assert.Equal(t, "123.45", e.payload)
	assert.Equal(t, []byte("123.45"), m.LastData("COM3"))
	assert.Eventually(t, func() bool { return h.output() == "W\n" }, time.Second, 10*time.Millisecond)
}

func TestPropertiesAppliedOnOpen(t *testing.T) {
	h := newFakeHandle()
	m := newTestManager(h, newRecorder())
	defer m.Shutdown()

	props, err := ParseProperties("19200", "7", "2", "even", "rtscts")
	require.NoError(t, err)
	require.NoError(t, m.SetProperties("/dev/ttyUSB0", props))

	done, wait := waitDone(t)
	m.Open("/dev/ttyUSB0", done)
	require.NoError(t, wait())

	assert.Equal(t, &serial.Mode{BaudRate: 19200, DataBits: 7, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, h.mode)
	assert.True(t, h.rts)
	assert.True(t, h.dtr)
}

func TestChangesRejectedWhileOpen(t *testing.T) {
	h := newFakeHandle()
	m := newTestManager(h, newRecorder())
	defer m.Shutdown()

	done, wait := waitDone(t)
	m.Open("COM1", done)
	require.NoError(t, wait())

	assert.ErrorIs(t, m.SetProperties("COM1", DefaultProperties()), ErrPortOpen)
	assert.ErrorIs(t, m.SetBegin("COM1", 'x'), ErrPortOpen)
	assert.ErrorIs(t, m.SetEnd("COM1", 'y'), ErrPortOpen)

	m.Open("COM1", done)
	assert.ErrorIs(t, wait(), ErrPortOpen)

	m.Close("COM1", done)
	require.NoError(t, wait())
	assert.Equal(t, StateClosed, m.State("COM1"))
	assert.NoError(t, m.SetEnd("COM1", 'y'))
}

func TestOpenFailureThenRetry(t *testing.T) {
	attempts := 0
	h := newFakeHandle()
	m := NewManager(WithOpener(func(string, *serial.Mode) (Handle, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("device busy")
		}
		return h, nil
	}))
	defer m.Shutdown()

	done, wait := waitDone(t)
	m.Open("COM4", done)
	assert.ErrorContains(t, wait(), "device busy")
	assert.Equal(t, StateFailed, m.State("COM4"))

	// a failed port can be reconfigured and opened again
	require.NoError(t, m.SetBegin("COM4", 'A'))
	m.Open("COM4", done)
	require.NoError(t, wait())
	assert.Equal(t, StateOpen, m.State("COM4"))
}

func TestSendRequiresOpen(t *testing.T) {
	m := NewManager()
	defer m.Shutdown()

	assert.ErrorIs(t, m.Send("COM9", []byte("x")), ErrPortNotOpen)
	assert.ErrorIs(t, m.Send("", []byte("x")), ErrNoPortName)

	done, wait := waitDone(t)
	m.Close("COM9", done)
	assert.ErrorIs(t, wait(), ErrPortNotOpen)
}

func TestFatalReadErrorTearsDown(t *testing.T) {
	h := newFakeHandle()
	rec := newRecorder()
	m := newTestManager(h, rec)
	defer m.Shutdown()

	done, wait := waitDone(t)
	m.Open("COM5", done)
	require.NoError(t, wait())

	h.fail <- errors.New("device unplugged")

	e := rec.next(t)
	assert.Equal(t, "COM5", e.name)
	assert.ErrorContains(t, e.err, "unplugged")
	assert.Eventually(t, func() bool { return m.State("COM5") == StateClosed }, time.Second, 10*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	h := newFakeHandle()
	m := newTestManager(h, newRecorder())

	done, wait := waitDone(t)
	m.Open("COM6", done)
	require.NoError(t, wait())

	m.Shutdown()
	select {
	case <-h.closed:
	default:
		t.Fatal("handle left open")
	}

	m.Open("COM6", done)
	assert.ErrorIs(t, wait(), ErrShutdown)
}

func TestPortListing(t *testing.T) {
	m := NewManager(WithLister(
		func() ([]string, error) { return []string{"/dev/ttyUSB0", "/dev/ttyS0"}, nil },
		func() ([]*enumerator.PortDetails, error) {
			return []*enumerator.PortDetails{
				{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A50285BI"},
				{Name: "/dev/ttyS0"},
			}, nil
		},
	))
	defer m.Shutdown()

	ports, err := m.Ports()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyS0"}, ports)

	detailed, err := m.DetailedPorts()
	require.NoError(t, err)
	require.Len(t, detailed, 2)
	assert.True(t, detailed[0].IsUSB)
	assert.Equal(t, "0403", detailed[0].VID)
	assert.False(t, detailed[1].IsUSB)
}
