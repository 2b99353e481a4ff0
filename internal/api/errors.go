package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereceipt/spool-engine/internal/buffer"
	"github.com/thereceipt/spool-engine/internal/printer"
	"github.com/thereceipt/spool-engine/internal/registry"
	"github.com/thereceipt/spool-engine/internal/serialport"
	"github.com/thereceipt/spool-engine/internal/spool"
	"github.com/thereceipt/spool-engine/internal/transport"
)

// statusFor maps an error to an HTTP status. Sink failures are 502 and
// everything unmapped is a rejected request.
func statusFor(err error) int {
	switch {
	case errors.Is(err, spool.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, ErrUnknownSession),
		errors.Is(err, printer.ErrPrinterNotFound),
		errors.Is(err, registry.ErrUnknownPrinter),
		errors.Is(err, spool.ErrNoSuchJob):
		return http.StatusNotFound
	case errors.Is(err, spool.ErrAppendPending),
		errors.Is(err, buffer.ErrPending),
		errors.Is(err, printer.ErrDiscoveryPending),
		errors.Is(err, serialport.ErrPortOpen),
		errors.Is(err, serialport.ErrPortNotOpen):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
}
