package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/spool-engine/internal/printer"
	"github.com/thereceipt/spool-engine/internal/registry"
	"github.com/thereceipt/spool-engine/internal/spool"
	"github.com/thereceipt/spool-engine/internal/transport"
)

type sink struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (k *sink) add(data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.jobs = append(k.jobs, string(data))
	return nil
}

func (k *sink) fail(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.err = err
}

func (k *sink) received() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.jobs...)
}

func (k *sink) Raw(_ context.Context, _ *printer.Printer, doc transport.Document) error {
	return k.add(doc.Data)
}

func (k *sink) Rendered(_ context.Context, _ *printer.Printer, doc transport.Document) error {
	return k.add(doc.Data)
}

func (k *sink) File(_ string, data []byte) error { return k.add(data) }

func (k *sink) Host(_ context.Context, _ string, _ int, data []byte) error { return k.add(data) }

type zebraSource struct{}

func (zebraSource) Kind() printer.Kind { return printer.KindUSB }

func (zebraSource) Discover(context.Context) ([]printer.Printer, error) {
	return []printer.Printer{
		{Name: "Zebra ZP450", Kind: printer.KindUSB, Capability: printer.Raw, VID: 0x0A5F, PID: 0x00D8},
	}, nil
}

func newTestServer(t *testing.T) (*Server, *sink) {
	t.Helper()
	reg, err := registry.New(filepath.Join(t.TempDir(), "printers.json"), zerolog.Nop())
	require.NoError(t, err)

	out := &sink{}
	srv := NewServer(Options{
		NewSession: func() *spool.Session {
			return spool.New(spool.Deps{
				Registry:   reg,
				Sources:    []printer.Source{zebraSource{}},
				Dispatcher: out,
				Log:        zerolog.Nop(),
				Version:    "test",
			})
		},
		Log:         zerolog.Nop(),
		Version:     "test",
		WaitTimeout: 5 * time.Second,
	})
	t.Cleanup(srv.Shutdown)
	return srv, out
}

func do(t *testing.T, srv *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	code, body := do(t, srv, "POST", "/sessions", "")
	require.Equal(t, 201, code)
	id, ok := body["session"].(string)
	require.True(t, ok)
	return "/sessions/" + id
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, srv, "GET", "/health", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", body["status"])

	code, body = do(t, srv, "GET", "/version", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "test", body["version"])
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	base := createSession(t, srv)

	code, body := do(t, srv, "GET", base+"/status", "")
	require.Equal(t, 200, code)
	assert.Equal(t, true, body["active"])

	code, _ = do(t, srv, "DELETE", base, "")
	assert.Equal(t, 204, code)

	code, body = do(t, srv, "GET", base+"/status", "")
	assert.Equal(t, 404, code)
	assert.Contains(t, body["error"], "unknown session")

	code, _ = do(t, srv, "DELETE", base, "")
	assert.Equal(t, 404, code)
}

func TestSegmentedPrint(t *testing.T) {
	srv, out := newTestServer(t)
	base := createSession(t, srv)

	code, body := do(t, srv, "POST", base+"/printers/find?wait=true", `{"filter":"zebra"}`)
	require.Equal(t, 200, code, body)
	assert.Equal(t, "Zebra ZP450", body["result"].(map[string]any)["name"])

	code, body = do(t, srv, "POST", base+"/append/text", `{"data":"A\nP1\nB\nP1\n"}`)
	require.Equal(t, 200, code, body)

	code, body = do(t, srv, "POST", base+"/settings", `{"end_of_document":"P1\n","documents_per_spool":1,"title":"labels"}`)
	require.Equal(t, 200, code, body)

	code, body = do(t, srv, "POST", base+"/print?wait=true", "")
	require.Equal(t, 200, code, body)
	assert.Equal(t, float64(2), body["result"].(map[string]any)["jobs"])
	assert.Equal(t, []string{"A\nP1\n", "B\nP1\n"}, out.received())

	code, body = do(t, srv, "GET", base+"/jobs", "")
	require.Equal(t, 200, code)
	assert.Len(t, body["jobs"], 2)

	code, body = do(t, srv, "GET", base+"/jobs/1", "")
	require.Equal(t, 200, code)
	assert.Equal(t, "complete", body["state"])
	assert.Equal(t, "labels", body["title"])

	code, _ = do(t, srv, "GET", base+"/jobs/9", "")
	assert.Equal(t, 404, code)
}

func TestAsyncOperationAccepted(t *testing.T) {
	srv, _ := newTestServer(t)
	base := createSession(t, srv)

	code, body := do(t, srv, "POST", base+"/printers/find", "")
	require.Equal(t, 202, code)
	assert.NotEmpty(t, body["operation"])
	assert.Equal(t, "finding", body["kind"])
}

func TestErrorStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	base := createSession(t, srv)

	tests := []struct {
		method, path, body string
		code               int
		contains           string
	}{
		{"POST", "/printers/select", `{"printer":"Zebra"}`, 409, "discovery has not completed"},
		{"POST", "/print", "", 400, "buffer is empty"},
		{"POST", "/print", `{"mode":"fax"}`, 400, "unknown print mode"},
		{"POST", "/append/sticker", `{"data":"x"}`, 404, "unknown append kind"},
		{"POST", "/append/hex", `{"data":"zz"}`, 400, "invalid hex"},
		{"POST", "/settings", `{"documents_per_spool":0}`, 400, "at least 1"},
		{"POST", "/serial/send", `{"port":"/dev/ttyUSB0","data":"W"}`, 409, "not open"},
		{"POST", "/serial/open", `{}`, 400, "port is required"},
		{"GET", "/serial", "", 400, "port is required"},
		{"GET", "/network", "", 404, "not resolved"},
		{"GET", "/jobs/x", "", 400, "invalid job index"},
	}

	for _, tt := range tests {
		code, body := do(t, srv, tt.method, base+tt.path, tt.body)
		assert.Equal(t, tt.code, code, tt.path)
		assert.Contains(t, body["error"], tt.contains, tt.path)
	}

	code, body := do(t, srv, "GET", base+"/exceptions?kind=printing", "")
	require.Equal(t, 200, code)
	assert.Contains(t, body["exception"].(map[string]any)["message"], "buffer is empty")

	code, _ = do(t, srv, "DELETE", base+"/exceptions", "")
	assert.Equal(t, 204, code)
	_, body = do(t, srv, "GET", base+"/exceptions", "")
	assert.Empty(t, body["exceptions"])
}

func TestDocumentEndpoint(t *testing.T) {
	srv, out := newTestServer(t)
	base := createSession(t, srv)

	doc := `{
		"version": "1.0",
		"name": "labels",
		"end_of_document": "^XZ",
		"documents_per_spool": 2,
		"elements": [
			{"type": "text", "data": "^XA^FDone^FS^XZ"},
			{"type": "hex", "data": "5e58415e464474776f5e46535e585a"},
			{"type": "text", "data": "^XA^FDthree^FS^XZ"}
		],
		"output": {"mode": "raw"}
	}`

	code, body := do(t, srv, "POST", base+"/documents?wait=true", doc)
	require.Equal(t, 200, code, body)
	assert.Equal(t, []string{"^XA^FDone^FS^XZ^XA^FDtwo^FS^XZ", "^XA^FDthree^FS^XZ"}, out.received())

	code, body = do(t, srv, "POST", base+"/documents", `{"version":"9"}`)
	assert.Equal(t, 400, code)
	assert.Contains(t, body["error"], "version")
}

func TestCommandEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	base := createSession(t, srv)

	code, body := do(t, srv, "POST", base+"/command", `{"command":"version"}`)
	require.Equal(t, 200, code)
	assert.Equal(t, "test", body["message"])

	code, body = do(t, srv, "POST", base+"/command", `{"command":"launch"}`)
	assert.Equal(t, 400, code)
	assert.Equal(t, false, body["success"])

	code, _ = do(t, srv, "POST", base+"/command", `{}`)
	assert.Equal(t, 400, code)
}

func TestWebSocketCommandsAndEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	base := createSession(t, srv)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + base + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{Event: EventCommand, Data: map[string]any{"command": "find"}}))

	var gotResponse, gotEvent bool
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !gotResponse || !gotEvent {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Event {
		case EventResponse:
			assert.Equal(t, true, msg.Data["success"])
			assert.Contains(t, msg.Data["message"], "Zebra ZP450")
			gotResponse = true
		case "done-finding":
			assert.Nil(t, msg.Data["error"])
			gotEvent = true
		}
	}

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "dance"}))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventError, msg.Event)
	assert.Contains(t, msg.Data["error"], "unknown event")

	// closing the session ends the socket
	code, _ := do(t, srv, "DELETE", base, "")
	require.Equal(t, 204, code)
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
	}
}

func TestDeliveryFailureIsBadGateway(t *testing.T) {
	srv, out := newTestServer(t)
	base := createSession(t, srv)
	out.fail(fmt.Errorf("%w: lp -d Zebra: exit status 1", transport.ErrDelivery))

	code, body := do(t, srv, "POST", base+"/printers/find?wait=true", "")
	require.Equal(t, 200, code, body)
	code, _ = do(t, srv, "POST", base+"/append/text", `{"data":"^XA^XZ"}`)
	require.Equal(t, 200, code)

	code, body = do(t, srv, "POST", base+"/print?wait=true", "")
	assert.Equal(t, 502, code)
	assert.Contains(t, body["error"], "exit status 1")
}

func TestKnownAndForgetPrinter(t *testing.T) {
	srv, _ := newTestServer(t)
	base := createSession(t, srv)

	code, body := do(t, srv, "POST", base+"/printers/find?wait=true", "")
	require.Equal(t, 200, code, body)
	id := body["result"].(map[string]any)["id"].(string)

	code, body = do(t, srv, "GET", base+"/printers/known", "")
	require.Equal(t, 200, code)
	assert.Len(t, body["printers"], 1)

	code, _ = do(t, srv, "DELETE", base+"/printers/"+id, "")
	assert.Equal(t, 204, code)

	_, body = do(t, srv, "GET", base+"/printers/known", "")
	assert.Empty(t, body["printers"])

	code, body = do(t, srv, "DELETE", base+"/printers/"+id, "")
	assert.Equal(t, 404, code)
	assert.Contains(t, body["error"], "unknown printer")
}
