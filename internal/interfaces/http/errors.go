package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-matcher/internal/application/service"
)

// statusFor maps application errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyLinked),
		errors.Is(err, service.ErrNotLinkable),
		errors.Is(err, service.ErrExtractionBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrStorage), errors.Is(err, service.ErrExtractionTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends the mapped status. Server-side failures get a generic
// message; the detail goes to the log.
func (h *Handlers) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "status", status, "error", err)
		msg = http.StatusText(status)
	}

	c.JSON(status, Response{Success: false, Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}
