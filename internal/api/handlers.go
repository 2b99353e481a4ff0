package api

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thereceipt/spool-engine/internal/spool"
	"github.com/thereceipt/spool-engine/internal/status"
	"github.com/thereceipt/spool-engine/pkg/jobspec"
)

// handleDocument applies a JSON job document to the session
func (s *Server) handleDocument(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, err)
		return
	}

	doc, err := jobspec.Parse(data)
	if err != nil {
		abortWithError(c, err)
		return
	}

	op, err := current(c).session.Apply(c.Request.Context(), doc)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s.respondOp(c, op)
}

// handleGetPrinters returns the printers found by the last discovery
func (s *Server) handleGetPrinters(c *gin.Context) {
	printers, err := current(c).session.Printers()
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"printers": printers,
	})
}

func (s *Server) handleCurrentPrinter(c *gin.Context) {
	p := current(c).session.Printer()
	if p == nil {
		c.JSON(404, gin.H{"error": "no printer selected"})
		return
	}
	c.JSON(200, gin.H{"printer": p})
}

func (s *Server) handleFindPrinter(c *gin.Context) {
	var req struct {
		Filter string `json:"filter"`
	}
	if err := bindOptional(c, &req); err != nil {
		return
	}
	s.respondOp(c, current(c).session.FindPrinter(req.Filter))
}

func (s *Server) handleSelectPrinter(c *gin.Context) {
	var req struct {
		Printer string `json:"printer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "printer is required"})
		return
	}

	p, err := current(c).session.SelectPrinter(req.Printer)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true, "printer": p})
}

// handleSetPrinterName sets a custom name for a printer
func (s *Server) handleSetPrinterName(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "name is required"})
		return
	}

	if err := current(c).session.SetPrinterName(c.Param("printer"), req.Name); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handleKnownPrinters(c *gin.Context) {
	c.JSON(200, gin.H{"printers": current(c).session.KnownPrinters()})
}

// handleForgetPrinter drops a stored printer identity and its custom name
func (s *Server) handleForgetPrinter(c *gin.Context) {
	if err := current(c).session.ForgetPrinter(c.Param("printer")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(204)
}

// handleAddNetworkPrinter manually adds a network printer
func (s *Server) handleAddNetworkPrinter(c *gin.Context) {
	var req struct {
		Host        string `json:"host" binding:"required"`
		Port        int    `json:"port"`
		Description string `json:"description"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "host is required"})
		return
	}

	p, err := current(c).session.AddNetworkPrinter(req.Host, req.Port, req.Description)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":    true,
		"printer_id": p.ID,
		"printer":    p,
	})
}

// appendRequest carries every append kind. Data holds inline content and
// Src a path or URL.
type appendRequest struct {
	Data      string `json:"data"`
	Src       string `json:"src"`
	Tag       string `json:"tag"`
	Format    string `json:"format"`
	Level     string `json:"level"`
	Lang      string `json:"lang"`
	Density   string `json:"density"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Threshold int    `json:"threshold"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func (r appendRequest) source() string {
	if r.Src != "" {
		return r.Src
	}
	return r.Data
}

func (r appendRequest) imageOptions() spool.ImageOptions {
	return spool.ImageOptions{
		Lang:      r.Lang,
		Density:   r.Density,
		X:         r.X,
		Y:         r.Y,
		Threshold: r.Threshold,
		Width:     r.Width,
		Height:    r.Height,
	}
}

func (s *Server) handleAppend(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	sess := current(c).session
	kind := c.Param("kind")

	var err error
	switch kind {
	case jobspec.TypeText:
		err = sess.AppendText(req.Data)
	case jobspec.TypeHex:
		err = sess.AppendHex(req.Data)
	case jobspec.TypeBase64:
		err = sess.AppendBase64(req.Data)
	case jobspec.TypeHTML:
		err = sess.AppendHTML(req.Data)
	default:
		op, ok := appendAsync(sess, kind, req)
		if !ok {
			c.JSON(404, gin.H{"error": fmt.Sprintf("unknown append kind: %s", kind)})
			return
		}
		s.respondOp(c, op)
		return
	}

	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

func appendAsync(sess *spool.Session, kind string, req appendRequest) (*status.Operation, bool) {
	switch kind {
	case jobspec.TypeImage:
		return sess.AppendImage(req.source(), req.imageOptions()), true
	case jobspec.TypeFile:
		return sess.AppendFile(req.source()), true
	case jobspec.TypeXML:
		return sess.AppendXML(req.source(), req.Tag), true
	case jobspec.TypePDF:
		return sess.AppendPDF(req.source()), true
	case jobspec.TypeBarcode:
		return sess.AppendBarcode(req.Format, req.Data, req.imageOptions()), true
	case jobspec.TypeQRCode:
		return sess.AppendQRCode(req.Data, req.Level, req.imageOptions()), true
	}
	return nil, false
}

// handleSettings changes any subset of the buffer and segmentation settings
func (s *Server) handleSettings(c *gin.Context) {
	var req struct {
		Encoding          *string        `json:"encoding"`
		Paper             *jobspec.Paper `json:"paper"`
		EndOfDocument     *string        `json:"end_of_document"`
		DocumentsPerSpool *int           `json:"documents_per_spool"`
		Title             *string        `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	sess := current(c).session
	var steps []func() error

	if req.Encoding != nil {
		steps = append(steps, func() error { return sess.SetEncoding(*req.Encoding) })
	}
	if p := req.Paper; p != nil {
		steps = append(steps, func() error { return setPaper(sess, p) })
	}
	if req.EndOfDocument != nil {
		steps = append(steps, func() error { return sess.SetEndOfDocument(*req.EndOfDocument) })
	}
	if req.DocumentsPerSpool != nil {
		steps = append(steps, func() error { return sess.SetDocumentsPerSpool(*req.DocumentsPerSpool) })
	}
	if req.Title != nil {
		steps = append(steps, func() error { return sess.SetJobTitle(*req.Title) })
	}

	for _, step := range steps {
		if err := step(); err != nil {
			abortWithError(c, err)
			return
		}
	}
	c.JSON(200, gin.H{"success": true, "encoding": sess.Encoding()})
}

func setPaper(sess *spool.Session, p *jobspec.Paper) error {
	switch {
	case p.Size != "":
		if err := sess.SetPaperSizeNamed(p.Size); err != nil {
			return err
		}
	case p.Width > 0 || p.Height > 0:
		if err := sess.SetPaperSize(p.Width, p.Height, p.Units); err != nil {
			return err
		}
	}
	if p.Orientation != "" {
		if err := sess.SetOrientation(p.Orientation); err != nil {
			return err
		}
	}
	return sess.SetAutoSize(p.AutoSize)
}

func (s *Server) handleClear(c *gin.Context) {
	current(c).session.ClearBuffer()
	c.JSON(200, gin.H{"success": true})
}

// handlePrint submits the buffer through the requested sink
func (s *Server) handlePrint(c *gin.Context) {
	req := jobspec.Output{Mode: jobspec.OutputRaw}
	if err := bindOptional(c, &req); err != nil {
		return
	}

	sess := current(c).session

	var op *status.Operation
	switch req.Mode {
	case jobspec.OutputRaw:
		op = sess.Print()
	case jobspec.OutputPS:
		op = sess.PrintPS()
	case jobspec.OutputHTML:
		op = sess.PrintHTML()
	case jobspec.OutputFile:
		op = sess.PrintToFile(req.Path)
	case jobspec.OutputHost:
		op = sess.PrintToHost(req.Host, req.Port)
	default:
		c.JSON(400, gin.H{"error": fmt.Sprintf("unknown print mode: %s", req.Mode)})
		return
	}
	s.respondOp(c, op)
}

func (s *Server) handleGetPorts(c *gin.Context) {
	c.JSON(200, gin.H{"ports": current(c).session.Ports()})
}

func (s *Server) handleFindPorts(c *gin.Context) {
	s.respondOp(c, current(c).session.FindPorts())
}

type portRequest struct {
	Port string `json:"port" binding:"required"`
}

func (s *Server) handleSerialState(c *gin.Context) {
	name := c.Query("port")
	if name == "" {
		c.JSON(400, gin.H{"error": "port is required"})
		return
	}

	sess := current(c).session
	c.JSON(200, gin.H{
		"port":  name,
		"state": sess.SerialState(name).String(),
		"data":  sess.LastSerialData(name),
	})
}

func (s *Server) handleOpenPort(c *gin.Context) {
	var req portRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "port is required"})
		return
	}
	s.respondOp(c, current(c).session.OpenPort(req.Port))
}

func (s *Server) handleClosePort(c *gin.Context) {
	var req portRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "port is required"})
		return
	}
	s.respondOp(c, current(c).session.ClosePort(req.Port))
}

func (s *Server) handleSendSerial(c *gin.Context) {
	var req struct {
		Port string `json:"port" binding:"required"`
		Data string `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "port is required"})
		return
	}

	if err := current(c).session.SendSerial(req.Port, req.Data); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handleSerialProperties(c *gin.Context) {
	var req struct {
		Port     string `json:"port" binding:"required"`
		Baud     string `json:"baud"`
		DataBits string `json:"data_bits"`
		StopBits string `json:"stop_bits"`
		Parity   string `json:"parity"`
		Flow     string `json:"flow"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "port is required"})
		return
	}

	err := current(c).session.SetSerialProperties(req.Port, req.Baud, req.DataBits, req.StopBits, req.Parity, req.Flow)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handleSerialFraming(c *gin.Context) {
	var req struct {
		Port  string  `json:"port" binding:"required"`
		Begin *string `json:"begin"`
		End   *string `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "port is required"})
		return
	}

	sess := current(c).session
	if req.Begin != nil {
		if err := sess.SetSerialBegin(req.Port, *req.Begin); err != nil {
			abortWithError(c, err)
			return
		}
	}
	if req.End != nil {
		if err := sess.SetSerialEnd(req.Port, *req.End); err != nil {
			abortWithError(c, err)
			return
		}
	}
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) handleGetNetwork(c *gin.Context) {
	info := current(c).session.NetworkInfo()
	if info == nil {
		c.JSON(404, gin.H{"error": "network info not resolved"})
		return
	}
	c.JSON(200, info)
}

func (s *Server) handleFindNetwork(c *gin.Context) {
	s.respondOp(c, current(c).session.FindNetworkInfo())
}

func (s *Server) handleStatus(c *gin.Context) {
	sess := current(c).session

	done := make(map[string]bool, len(status.Kinds))
	for _, kind := range status.Kinds {
		done[string(kind)] = sess.IsDone(kind)
	}
	c.JSON(200, gin.H{
		"session":   sess.ID,
		"active":    sess.Active() == nil,
		"done":      done,
		"printer":   sess.Printer(),
		"encoding":  sess.Encoding(),
		"exception": sess.LastException(),
	})
}

func (s *Server) handleGetExceptions(c *gin.Context) {
	sess := current(c).session
	if kind := c.Query("kind"); kind != "" {
		c.JSON(200, gin.H{"exception": sess.Exception(status.Kind(kind))})
		return
	}
	c.JSON(200, gin.H{"exceptions": sess.Exceptions()})
}

func (s *Server) handleClearExceptions(c *gin.Context) {
	current(c).session.ClearException(status.Kind(c.Query("kind")))
	c.Status(204)
}

// handleGetJobs returns the job log
func (s *Server) handleGetJobs(c *gin.Context) {
	c.JSON(200, gin.H{"jobs": current(c).session.QueueInfo()})
}

// handleGetJob returns one job log entry
func (s *Server) handleGetJob(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid job index"})
		return
	}

	job, err := current(c).session.JobInfo(index)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(200, job)
}

// bindOptional binds a JSON body when one is present. It writes the error
// response itself.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 && !strings.Contains(c.GetHeader("Transfer-Encoding"), "chunked") {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return err
	}
	return nil
}
