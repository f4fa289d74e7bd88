package handler

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stemtranscriber/api/internal/jobstore"
	ws "github.com/stemtranscriber/api/internal/websocket"
)

type WSHandler struct {
	hub   *ws.Hub
	store jobstore.Store
}

func NewWSHandler(hub *ws.Hub, store jobstore.Store) *WSHandler {
	return &WSHandler{hub: hub, store: store}
}

// Upgrade rejects plain HTTP requests on WebSocket routes.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Jobs handles GET /ws/jobs/:jobId. The current job state is sent first so
// late subscribers do not wait for the next update.
func (h *WSHandler) Jobs() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")

		job, err := h.store.Get(context.Background(), jobID)
		if err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			log.Printf("Failed to load job %s for websocket: %v", jobID, err)
		}
		h.hub.HandleConnection(c, jobID, job)
	})
}
