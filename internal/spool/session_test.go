package spool

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/spool-engine/internal/notify"
	"github.com/thereceipt/spool-engine/internal/paper"
	"github.com/thereceipt/spool-engine/internal/printer"
	"github.com/thereceipt/spool-engine/internal/registry"
	"github.com/thereceipt/spool-engine/internal/segment"
	"github.com/thereceipt/spool-engine/internal/serialport"
	"github.com/thereceipt/spool-engine/internal/status"
	"github.com/thereceipt/spool-engine/internal/transport"
)

type sent struct {
	sink    string
	printer string
	target  string
	doc     transport.Document
}

type fakeDispatcher struct {
	mu     sync.Mutex
	sent   []sent
	failAt int // 1-based call that fails, 0 never
	calls  int
}

func (d *fakeDispatcher) record(s sent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.failAt == d.calls {
		return errors.New("printer offline")
	}
	d.sent = append(d.sent, s)
	return nil
}

func (d *fakeDispatcher) Raw(_ context.Context, p *printer.Printer, doc transport.Document) error {
	return d.record(sent{sink: SinkRaw, printer: p.Name, doc: doc})
}

func (d *fakeDispatcher) Rendered(_ context.Context, p *printer.Printer, doc transport.Document) error {
	return d.record(sent{sink: SinkPostScript, printer: p.Name, doc: doc})
}

func (d *fakeDispatcher) File(path string, data []byte) error {
	return d.record(sent{sink: SinkFile, target: path, doc: transport.Document{Data: data}})
}

func (d *fakeDispatcher) Host(_ context.Context, host string, _ int, data []byte) error {
	return d.record(sent{sink: SinkHost, target: host, doc: transport.Document{Data: data}})
}

func (d *fakeDispatcher) all() []sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sent(nil), d.sent...)
}

type staticSource struct {
	kind     printer.Kind
	printers []printer.Printer
}

func (s staticSource) Kind() printer.Kind { return s.kind }

func (s staticSource) Discover(context.Context) ([]printer.Printer, error) {
	return s.printers, nil
}

func newTestSession(t *testing.T, serial ...serialport.Option) (*Session, *fakeDispatcher) {
	t.Helper()

	reg, err := registry.New(filepath.Join(t.TempDir(), "printers.json"), zerolog.Nop())
	require.NoError(t, err)

	d := &fakeDispatcher{}
	s := New(Deps{
		Registry: reg,
		Sources: []printer.Source{
			staticSource{kind: printer.KindSystem, printers: []printer.Printer{
				{Name: "Office", Description: "Office Laser", Kind: printer.KindSystem, Capability: printer.PostScript, Queue: "Office", Default: true},
			}},
			staticSource{kind: printer.KindUSB, printers: []printer.Printer{
				{Name: "Zebra", Description: "USB: Zebra ZP450", Kind: printer.KindUSB, Capability: printer.Raw, VID: 0x0A5F, PID: 0x00D8},
			}},
		},
		Dispatcher: d,
		Serial:     serial,
		Log:        zerolog.Nop(),
		Version:    "1.2.3",
	})
	t.Cleanup(s.Close)
	return s, d
}

func wait(t *testing.T, op *status.Operation) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := op.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func findPrinter(t *testing.T, s *Session, filter string) {
	t.Helper()
	require.NoError(t, wait(t, s.FindPrinter(filter)))
}

func TestPrintSegmentsJobs(t *testing.T) {
	s, d := newTestSession(t)
	findPrinter(t, s, "zebra")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendText("N\nP1,1\r\n"))
	}
	require.NoError(t, s.SetEndOfDocument("P1,1\r\n"))
	require.NoError(t, s.SetDocumentsPerSpool(2))

	op := s.Print()
	require.NoError(t, wait(t, op))
	assert.Equal(t, PrintResult{Jobs: 3, Bytes: 40}, op.Value())

	jobs := d.all()
	require.Len(t, jobs, 3)
	assert.Equal(t, "N\nP1,1\r\nN\nP1,1\r\n", string(jobs[0].doc.Data))
	assert.Equal(t, "N\nP1,1\r\nN\nP1,1\r\n", string(jobs[1].doc.Data))
	assert.Equal(t, "N\nP1,1\r\n", string(jobs[2].doc.Data))
	assert.Equal(t, "Zebra", jobs[0].printer)
	assert.Equal(t, transport.FormatRaw, jobs[0].doc.Format)

	log := s.QueueInfo()
	require.Len(t, log, 3)
	for i, job := range log {
		assert.Equal(t, i, job.Index)
		assert.Equal(t, JobComplete, job.State)
		assert.Equal(t, SinkRaw, job.Sink)
		assert.Equal(t, DefaultJobTitle, job.Title)
	}

	// buffer and segmentation were reset by the accepted submission
	assert.ErrorIs(t, wait(t, s.Print()), ErrNoData)
	require.NoError(t, s.AppendText("N\nP1,1\r\nN\nP1,1\r\n"))
	require.NoError(t, wait(t, s.Print()))
	assert.Len(t, d.all(), 4)
}

func TestSetDocumentsPerSpoolRejectsZero(t *testing.T) {
	s, _ := newTestSession(t)
	assert.ErrorIs(t, s.SetDocumentsPerSpool(0), segment.ErrInvalidCount)
}

func TestPrintRejectsRenderedBuffer(t *testing.T) {
	s, d := newTestSession(t)
	findPrinter(t, s, "")

	require.NoError(t, s.AppendText("hello"))
	require.NoError(t, s.SetPaperSizeNamed("letter"))

	op := s.Print()
	assert.ErrorIs(t, wait(t, op), ErrRenderingRequired)
	assert.Empty(t, d.all())
	require.NotNil(t, s.Exception(status.KindPrinting))

	// the rejected buffer is still there for the rendering call
	require.NoError(t, wait(t, s.PrintPS()))
	jobs := d.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, SinkPostScript, jobs[0].sink)
	assert.Equal(t, transport.FormatPostScript, jobs[0].doc.Format)
	assert.True(t, bytes.HasPrefix(jobs[0].doc.Data, []byte("%!PS-Adobe-3.0")))
}

func TestPrintHostRejectsRenderedBuffer(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.AppendHTML("<p>hi</p>"))
	assert.ErrorIs(t, wait(t, s.PrintToHost("10.0.0.5", 9100)), ErrRenderingRequired)
	assert.ErrorIs(t, wait(t, s.PrintToHost("", 0)), transport.ErrNoHost)
}

func TestPrintPreconditions(t *testing.T) {
	s, _ := newTestSession(t)

	assert.ErrorIs(t, wait(t, s.Print()), ErrNoData)

	require.NoError(t, s.AppendText("x"))
	assert.ErrorIs(t, wait(t, s.Print()), ErrNoPrinterSelected)

	findPrinter(t, s, "zebra")
	require.NoError(t, s.AppendHex("x1Bx40"))
	assert.ErrorIs(t, wait(t, s.PrintPS()), transport.ErrNotPostScript)
	require.NoError(t, wait(t, s.Print()))
}

func TestPrintWhileAppendPending(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("B"))
	}))
	defer srv.Close()

	s, d := newTestSession(t)
	findPrinter(t, s, "zebra")

	require.NoError(t, s.AppendText("A"))
	appended := s.AppendFile(srv.URL)
	require.NoError(t, s.AppendText("C"))

	assert.ErrorIs(t, wait(t, s.Print()), ErrAppendPending)
	assert.False(t, s.IsDone(status.KindAppending))

	close(release)
	require.NoError(t, wait(t, appended))
	assert.True(t, s.IsDone(status.KindAppending))

	require.NoError(t, wait(t, s.Print()))
	jobs := d.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "ABC", string(jobs[0].doc.Data))
}

func pngDataURI(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 4))))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestAppendImageConversions(t *testing.T) {
	s, d := newTestSession(t)
	findPrinter(t, s, "zebra")

	require.NoError(t, wait(t, s.AppendImage(pngDataURI(t), ImageOptions{Lang: "ZPL"})))
	require.NoError(t, wait(t, s.Print()))

	jobs := d.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "^GFA,8,8,2,FFFFFFFFFFFFFFFF", string(jobs[0].doc.Data))

	op := s.AppendImage(pngDataURI(t), ImageOptions{Lang: "pcl"})
	assert.Error(t, wait(t, op))
	assert.True(t, s.buf.Empty(), "rejected options reserve nothing")

	// no language keeps the image for the rendering pipeline
	require.NoError(t, wait(t, s.AppendImage(pngDataURI(t), ImageOptions{})))
	assert.ErrorIs(t, wait(t, s.Print()), ErrRenderingRequired)
}

func TestAppendXML(t *testing.T) {
	s, d := newTestSession(t)
	findPrinter(t, s, "zebra")

	doc := `<?xml version="1.0"?><job><meta>x</meta><data>` +
		base64.StdEncoding.EncodeToString([]byte("^XA^XZ")) + `</data></job>`
	src := "data:text/xml;base64," + base64.StdEncoding.EncodeToString([]byte(doc))

	require.NoError(t, wait(t, s.AppendXML(src, "data")))
	assert.ErrorIs(t, wait(t, s.AppendXML(src, "missing")), ErrTagNotFound)

	require.NoError(t, wait(t, s.Print()))
	assert.Equal(t, "^XA^XZ", string(d.all()[0].doc.Data))
}

func TestPDFMustBeAlone(t *testing.T) {
	s, d := newTestSession(t)
	findPrinter(t, s, "office")

	pdf := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4\n%%EOF\n"))
	require.NoError(t, wait(t, s.AppendPDF(pdf)))
	require.NoError(t, s.AppendText("cover"))
	assert.ErrorIs(t, wait(t, s.PrintPS()), ErrPDFNotAlone)

	s.ClearBuffer()
	require.NoError(t, wait(t, s.AppendPDF(pdf)))
	require.NoError(t, wait(t, s.PrintPS()))

	jobs := d.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, transport.FormatPDF, jobs[0].doc.Format)

	notPDF := "data:text/plain,hello"
	assert.ErrorIs(t, wait(t, s.AppendPDF(notPDF)), ErrNotPDF)
}

func TestPrintPSRejectsHTMLAndRawBytes(t *testing.T) {
	s, _ := newTestSession(t)
	findPrinter(t, s, "office")

	require.NoError(t, s.AppendHTML("<h1>Receipt</h1>"))
	assert.ErrorIs(t, wait(t, s.PrintPS()), ErrPipelineMismatch)
	require.NoError(t, wait(t, s.PrintHTML()))

	require.NoError(t, s.AppendHex("1b40"))
	require.NoError(t, s.SetOrientation("landscape"))
	assert.ErrorIs(t, wait(t, s.PrintPS()), ErrUnrenderable)
}

func TestPrintToFileAndHost(t *testing.T) {
	s, d := newTestSession(t)
	path := filepath.Join(t.TempDir(), "out.prn")

	require.NoError(t, s.AppendText("A|B|"))
	require.NoError(t, s.SetEndOfDocument("|"))
	require.NoError(t, wait(t, s.PrintToFile(path)))

	require.NoError(t, s.AppendText("A|B|"))
	require.NoError(t, s.SetEndOfDocument("|"))
	require.NoError(t, wait(t, s.PrintToHost("10.0.0.5", 0)))

	jobs := d.all()
	require.Len(t, jobs, 3)
	assert.Equal(t, sent{sink: SinkFile, target: path, doc: transport.Document{Data: []byte("A|B|")}}, jobs[0])
	assert.Equal(t, "A|", string(jobs[1].doc.Data))
	assert.Equal(t, "B|", string(jobs[2].doc.Data))
	assert.Equal(t, "10.0.0.5", jobs[2].target)

	info, err := s.JobInfo(0)
	require.NoError(t, err)
	assert.Equal(t, path, info.Printer)
	assert.Equal(t, 4, info.Bytes)

	_, err = s.JobInfo(3)
	assert.ErrorIs(t, err, ErrNoSuchJob)
}

func TestPrintStopsAtFirstFailure(t *testing.T) {
	s, d := newTestSession(t)
	d.failAt = 2
	findPrinter(t, s, "zebra")

	require.NoError(t, s.AppendText("1;2;3;"))
	require.NoError(t, s.SetEndOfDocument(";"))

	assert.ErrorContains(t, wait(t, s.Print()), "printer offline")

	states := []JobState{}
	for _, job := range s.QueueInfo() {
		states = append(states, job.State)
	}
	assert.Equal(t, []JobState{JobComplete, JobFailed, JobFailed}, states)
	assert.Len(t, d.all(), 1)

	exc := s.Exception(status.KindPrinting)
	require.NotNil(t, exc)
	assert.Contains(t, exc.Message, "printer offline")
}

func TestSelectPrinter(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.SelectPrinter("Office")
	assert.ErrorIs(t, err, printer.ErrDiscoveryPending)

	findPrinter(t, s, "")
	assert.Equal(t, "Office", s.Printer().Name)

	_, err = s.SelectPrinter("nope")
	assert.ErrorIs(t, err, printer.ErrPrinterNotFound)
	assert.Equal(t, "Office", s.Printer().Name)

	p, err := s.SelectPrinter("Zebra")
	require.NoError(t, err)
	assert.Equal(t, p.ID, s.Printer().ID)

	printers, err := s.Printers()
	require.NoError(t, err)
	assert.Len(t, printers, 2)

	// a failed lookup keeps the selection and fills the exception slot
	assert.ErrorIs(t, wait(t, s.FindPrinter("missing")), printer.ErrPrinterNotFound)
	assert.Equal(t, "Zebra", s.Printer().Name)
	assert.NotNil(t, s.Exception(status.KindFinding))
}

func TestNotifications(t *testing.T) {
	s, _ := newTestSession(t)
	events, cancel := s.Subscribe(16)
	defer cancel()

	var mu sync.Mutex
	fired := 0
	s.OnDone(status.KindFinding, func(op *status.Operation) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	findPrinter(t, s, "")
	findPrinter(t, s, "zebra")

	for _, want := range []string{"Office (system)", "Zebra (usb)"} {
		select {
		case e := <-events:
			assert.Equal(t, notify.EventDoneFinding, e.Name)
			assert.Equal(t, want, e.Payload)
			assert.Empty(t, e.Error)
		case <-time.After(2 * time.Second):
			t.Fatal("no done-finding event")
		}
	}

	mu.Lock()
	assert.Equal(t, 1, fired, "completion handlers fire once")
	mu.Unlock()
}

func TestAppendFailureException(t *testing.T) {
	s, _ := newTestSession(t)

	err := wait(t, s.AppendFile(filepath.Join(t.TempDir(), "missing.bin")))
	require.Error(t, err)

	exc := s.Exception(status.KindAppending)
	require.NotNil(t, exc)
	assert.Equal(t, exc.Message, s.LastException().Message)

	// the failed slot contributes nothing
	assert.Equal(t, 0, s.buf.Pending())
	assert.ErrorIs(t, wait(t, s.PrintToHost("h", 0)), ErrNoData)

	s.ClearException("")
	assert.Nil(t, s.LastException())
}

func TestClose(t *testing.T) {
	s, _ := newTestSession(t)
	events, _ := s.Subscribe(4)

	assert.NoError(t, s.Active())
	assert.Equal(t, "1.2.3", s.Version())

	s.Close()
	s.Close()

	assert.ErrorIs(t, s.Active(), ErrSessionClosed)
	assert.ErrorIs(t, s.AppendText("x"), ErrSessionClosed)
	assert.ErrorIs(t, wait(t, s.FindPrinter("")), ErrSessionClosed)
	assert.ErrorIs(t, wait(t, s.OpenPort("COM3")), ErrSessionClosed)

	_, open := <-events
	assert.False(t, open)
}

func TestWorkerFailsQueuedTasksOnStop(t *testing.T) {
	w := newWorker()
	tr := status.NewTracker(nil)

	started := make(chan struct{})
	first := tr.Begin(status.KindPrinting)
	w.submit(task{op: first, run: func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	aborted := false
	second := tr.Begin(status.KindPrinting)
	w.submit(task{op: second, run: func(context.Context) (any, error) { return "ran", nil }, abort: func() { aborted = true }})

	<-started
	w.stop()

	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.ErrorIs(t, second.Err(), ErrSessionClosed)
	assert.True(t, aborted)
}

func TestWorkerRecoversPanickingTask(t *testing.T) {
	w := newWorker()
	defer w.stop()
	tr := status.NewTracker(nil)

	first := tr.Begin(status.KindPrinting)
	w.submit(task{op: first, run: func(context.Context) (any, error) {
		var sizes []int
		return sizes[3], nil
	}})
	second := tr.Begin(status.KindPrinting)
	w.submit(task{op: second, run: func(context.Context) (any, error) { return "ran", nil }})

	require.NoError(t, wait(t, second))
	assert.Equal(t, "ran", second.Value())
	assert.ErrorIs(t, first.Err(), ErrTaskPanic)
	assert.Contains(t, first.Err().Error(), "index out of range")
}

func TestSetPaperSizeRejectsOversizedPage(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.SetPaperSize(1e6, 1e6, "in")
	assert.ErrorIs(t, err, paper.ErrInvalidSize)
}
