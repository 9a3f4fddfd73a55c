package rest

import (
	"io"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/internal/application/services"
)

// StreamOpenFrame is written once when a stream is established
const StreamOpenFrame = ":connected\n\n"

// EventHandler streams organization events over SSE
type EventHandler struct {
	svc *services.ServiceManager
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(svc *services.ServiceManager) *EventHandler {
	return &EventHandler{svc: svc}
}

// Stream handles GET /api/events/stream.
// The stream ends when the client goes away or the broadcaster stops.
func (h *EventHandler) Stream(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	sub := h.svc.Broadcaster.Subscribe(user.OrganizationID)
	defer h.svc.Broadcaster.Unsubscribe(sub)
	log.Printf("📡 SSE subscriber %s connected (org %s)", sub.ID, user.OrganizationID)

	// Set SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if _, err := io.WriteString(c.Writer, StreamOpenFrame); err != nil {
		return
	}
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return false
			}
			_, err := io.WriteString(w, frame)
			return err == nil
		case <-done:
			return false
		}
	})
	log.Printf("📡 SSE subscriber %s disconnected", sub.ID)
}
