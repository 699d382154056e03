package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicfix/civicfix-api/internal/service"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
	"github.com/civicfix/civicfix-api/pkg/response"
)

// StreamHandler pushes live report events to admin dashboards over SSE.
type StreamHandler struct {
	events       *service.EventService
	pingInterval time.Duration
}

// NewStreamHandler constructs the handler.
func NewStreamHandler(events *service.EventService, pingInterval time.Duration) *StreamHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &StreamHandler{events: events, pingInterval: pingInterval}
}

// Reports godoc
// @Summary Live report event stream
// @Description Server-sent events for report create, update and delete
// @Tags Dashboard
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Router /admin/reports/stream [get]
func (h *StreamHandler) Reports(c *gin.Context) {
	if h.events == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "event stream not configured"))
		return
	}

	events, detach := h.events.Register()
	defer detach()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-store")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Kind), event)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
