package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thereceipt/spool-engine/internal/command"
	"github.com/thereceipt/spool-engine/internal/notify"
)

// WebSocket message types. Session notifications are forwarded under their
// own event names.
const (
	EventCommand  = "command"
	EventResponse = "response"
	EventError    = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// WSClient represents a connected WebSocket client of one session
type WSClient struct {
	conn     *websocket.Conn
	send     chan WSMessage
	executor *command.Executor
	log      zerolog.Logger

	// ctx is cancelled when the client goes away
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	e := current(c)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	client := &WSClient{
		conn:     conn,
		send:     make(chan WSMessage, 256),
		executor: e.executor,
		log:      s.log.With().Str("session", e.session.ID).Logger(),
		ctx:      ctx,
		cancel:   cancelCtx,
		done:     make(chan struct{}),
	}

	// subscribe before reading so no notification of a command sent over
	// this socket is missed
	events, cancel := e.session.Subscribe(256)

	client.log.Debug().Msg("websocket client connected")

	go client.forward(events, cancel)
	go client.readPump()
	go client.writePump()
}

func (c *WSClient) stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// forward relays session notifications until the session or the client
// goes away
func (c *WSClient) forward(events <-chan notify.Event, cancel func()) {
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.stop()
				return
			}
			c.enqueue(eventMessage(ev))
		case <-c.done:
			return
		}
	}
}

func eventMessage(ev notify.Event) WSMessage {
	data := map[string]any{"time": ev.Time}
	if ev.Operation != "" {
		data["operation"] = ev.Operation
	}
	if ev.Port != "" {
		data["port"] = ev.Port
	}
	if ev.Payload != "" {
		data["payload"] = ev.Payload
	}
	if ev.Error != "" {
		data["error"] = ev.Error
	}
	return WSMessage{Event: ev.Name, Data: data}
}

// enqueue drops the message when the client is not keeping up
func (c *WSClient) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn().Str("event", msg.Event).Msg("websocket client buffer full, dropping message")
	}
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write error")
				c.stop()
				return
			}
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.stop()
		c.log.Debug().Msg("websocket client disconnected")
	}()

	for {
		var msg WSMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket error")
			}
			break
		}

		c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *WSMessage) {
	switch msg.Event {
	case EventCommand:
		cmd, ok := msg.Data["command"].(string)
		if !ok {
			c.sendError("command is required")
			return
		}
		// commands run in arrival order; notifications keep flowing from
		// forward while one waits
		c.runCommand(cmd)
	default:
		c.sendError(fmt.Sprintf("unknown event: %s", msg.Event))
	}
}

func (c *WSClient) runCommand(cmd string) {
	result := c.executor.Execute(c.ctx, cmd)

	data := map[string]any{
		"command": cmd,
		"success": result.Success,
	}
	if result.Message != "" {
		data["message"] = result.Message
	}
	if result.Error != "" {
		data["error"] = result.Error
	}
	for k, v := range result.Data {
		data[k] = v
	}
	c.reply(WSMessage{Event: EventResponse, Data: data})
}

func (c *WSClient) sendError(message string) {
	c.reply(WSMessage{
		Event: EventError,
		Data: map[string]any{
			"error": message,
		},
	})
}

// reply queues a direct answer; unlike notifications it waits for room
func (c *WSClient) reply(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}
