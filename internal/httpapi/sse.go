package httpapi

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// streamEvents serves the live plugin lifecycle event stream (C4) as
// server-sent events, optionally filtered to a single plugin id via the
// "plugin" query parameter. Grounded on the teacher's SSEBroker.ServeHTTP,
// adapted to gin and to internal/supervisor.Broker's event shape.
func (s *Server) streamEvents(c *gin.Context) {
	flusher, ok := c.Writer.(interface{ Flush() })
	if !ok {
		respondError(c, fmt.Errorf("streaming not supported"))
		return
	}

	filter := c.Query("plugin")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := s.sup.Broker().Subscribe()
	defer s.sup.Broker().Unsubscribe(ch)

	fmt.Fprint(c.Writer, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if filter != "" && filter != ev.PluginID {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: {\"plugin_id\":%q,\"type\":%q,\"details\":%q}\n\n",
				ev.Type, ev.PluginID, ev.Type, ev.Details)
			flusher.Flush()
		}
	}
}
