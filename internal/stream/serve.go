package stream

import (
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// Serve writes s to the client as Server-Sent Events until the terminal
// event or until the client goes away, in which case s is detached.
func Serve(c *gin.Context, s *Stream) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)
	c.Writer.Flush()

	ctx := c.Request.Context()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			s.Detach()
			return
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			if ev.Seq <= last {
				continue
			}
			last = ev.Seq
			if err := sse.Encode(c.Writer, sse.Event{
				Id:    strconv.FormatUint(ev.Seq, 10),
				Event: ev.Name,
				Data:  ev.Data,
			}); err != nil {
				s.Detach()
				return
			}
			c.Writer.Flush()
		}
	}
}

// Drain collects every event until the stream closes. Used by callers
// without a client connection.
func Drain(s *Stream) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}
