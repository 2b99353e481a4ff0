// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thereceipt/spool-engine/internal/command"
	"github.com/thereceipt/spool-engine/internal/spool"
	"github.com/thereceipt/spool-engine/internal/status"
)

// Options configures a Server
type Options struct {
	// NewSession builds a fresh session for every POST /sessions
	NewSession func() *spool.Session
	Log        zerolog.Logger
	Version    string
	// WaitTimeout bounds ?wait=true requests and commands
	WaitTimeout time.Duration
}

// Server is the API server
type Server struct {
	router     *gin.Engine
	newSession func() *spool.Session
	log        zerolog.Logger
	version    string
	timeout    time.Duration
	upgrader   websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*entry
}

// entry is one live session and its command executor
type entry struct {
	session  *spool.Session
	executor *command.Executor
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Log), corsMiddleware())

	timeout := opts.WaitTimeout
	if timeout <= 0 {
		timeout = command.DefaultTimeout
	}

	server := &Server{
		router:     router,
		newSession: opts.NewSession,
		log:        opts.Log,
		version:    opts.Version,
		timeout:    timeout,
		sessions:   make(map[string]*entry),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.POST("/sessions", s.handleCreateSession)
	s.router.DELETE("/sessions/:id", s.handleDeleteSession)

	g := s.router.Group("/sessions/:id", s.sessionMiddleware)

	// WebSocket and command endpoint
	g.GET("/ws", s.handleWebSocket)
	g.POST("/command", s.handleCommand)

	// Job documents
	g.POST("/documents", s.handleDocument)

	// Printers
	g.GET("/printers", s.handleGetPrinters)
	g.GET("/printers/current", s.handleCurrentPrinter)
	g.POST("/printers/find", s.handleFindPrinter)
	g.POST("/printers/select", s.handleSelectPrinter)
	g.POST("/printers/network", s.handleAddNetworkPrinter)
	g.GET("/printers/known", s.handleKnownPrinters)
	g.POST("/printers/:printer/name", s.handleSetPrinterName)
	g.DELETE("/printers/:printer", s.handleForgetPrinter)

	// Buffer
	g.POST("/append/:kind", s.handleAppend)
	g.POST("/settings", s.handleSettings)
	g.POST("/clear", s.handleClear)
	g.POST("/print", s.handlePrint)

	// Serial ports; names are passed in the body or query since they
	// contain slashes
	g.GET("/ports", s.handleGetPorts)
	g.POST("/ports/find", s.handleFindPorts)
	g.GET("/serial", s.handleSerialState)
	g.POST("/serial/open", s.handleOpenPort)
	g.POST("/serial/close", s.handleClosePort)
	g.POST("/serial/send", s.handleSendSerial)
	g.POST("/serial/properties", s.handleSerialProperties)
	g.POST("/serial/framing", s.handleSerialFraming)

	// Network
	g.GET("/network", s.handleGetNetwork)
	g.POST("/network/find", s.handleFindNetwork)

	// State
	g.GET("/status", s.handleStatus)
	g.GET("/exceptions", s.handleGetExceptions)
	g.DELETE("/exceptions", s.handleClearExceptions)
	g.GET("/jobs", s.handleGetJobs)
	g.GET("/jobs/:index", s.handleGetJob)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "sessions": s.sessionCount()})
	})
	s.router.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{"version": s.version})
	})
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the API server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "command is required"})
		return
	}

	result := current(c).executor.Execute(c.Request.Context(), req.Command)

	if result.Success {
		response := gin.H{
			"success": true,
		}
		if result.Message != "" {
			response["message"] = result.Message
		}
		for k, v := range result.Data {
			response[k] = v
		}
		c.JSON(200, response)
	} else {
		c.JSON(400, gin.H{
			"success": false,
			"error":   result.Error,
		})
	}
}

// respondOp answers an asynchronous call. With ?wait=true it blocks until
// the operation finishes; otherwise it returns 202 with the operation id
// unless the call already failed.
func (s *Server) respondOp(c *gin.Context, op *status.Operation) {
	wait, _ := strconv.ParseBool(c.Query("wait"))

	if !wait {
		if op.IsDone() && op.Err() != nil {
			abortWithError(c, op.Err())
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"operation": op.ID, "kind": op.Kind})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	if err := op.Wait(ctx); err != nil {
		abortWithError(c, err)
		return
	}
	response := gin.H{"success": true, "operation": op.ID, "kind": op.Kind}
	if v := op.Value(); v != nil {
		response["result"] = v
	}
	c.JSON(200, response)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= 500 {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
