package api

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/factoura_service/internal/service"
)

const eventStatus = "status"

// ArticleEvents: GET /api/articles/:id/events
// Streams "status" events until the article settles. If the stream times out
// first, a final event with state "unknown" is sent.
func (h *Handler) ArticleEvents(c *gin.Context) {
	id, ok := pathID(c, "article")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.EventsTimeout)
	defer cancel()

	updates, err := h.svc.WatchStatus(ctx, id, h.opts.EventsPollInterval)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	var last service.StatusView
	c.Stream(func(w io.Writer) bool {
		v, open := <-updates
		if open {
			last = v
			c.SSEvent(eventStatus, v)
			return v.State != service.StateSettled
		}
		// Closed before settling: only report a timeout, not a client disconnect.
		if last.State != service.StateSettled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			last.State = service.StateUnknown
			c.SSEvent(eventStatus, last)
		}
		return false
	})
}
