package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stemtranscriber/api/internal/model"
	"github.com/stemtranscriber/api/pkg/response"
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub fans job events out to the WebSocket clients watching each job.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for job %s", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Printf("Client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Subscribers returns how many clients are watching jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JobUpdated turns a job snapshot into the matching event.
func (h *Hub) JobUpdated(job *model.Job) {
	h.send(job.ID, eventFor(job))
}

func eventFor(job *model.Job) interface{} {
	switch job.State {
	case model.JobStateSucceeded:
		return completeEvent(job)
	case model.JobStateFailed:
		return errorEvent(job.ID, response.JobFailureCode(job.Kind), job.Message)
	}
	return progressEvent(job.ID, job.Progress, job.State, job.Message)
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, state model.JobState, message string) {
	h.send(jobID, progressEvent(jobID, progress, state, message))
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(job *model.Job) {
	h.send(job.ID, completeEvent(job))
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.send(jobID, errorEvent(jobID, code, message))
}

func progressEvent(jobID string, progress int, state model.JobState, message string) model.WSProgressMessage {
	return model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    jobID,
		Progress: progress,
		State:    state,
		Message:  message,
	}
}

func completeEvent(job *model.Job) model.WSCompleteMessage {
	return model.WSCompleteMessage{
		Type:  model.WSMessageTypeComplete,
		JobID: job.ID,
		Job: model.JobStatusResponse{
			JobID:    job.ID,
			State:    job.State,
			Progress: job.Progress,
			Message:  job.Message,
		},
	}
}

func errorEvent(jobID, code, message string) model.WSErrorMessage {
	return model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	}
}

func (h *Hub) send(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		log.Printf("Dropping websocket event for job %s: broadcast queue full", jobID)
	}
}

// attach queues the initial snapshot on the client alone, then registers it
// so live events follow the snapshot.
func (h *Hub) attach(client *Client, initial *model.Job) {
	if initial != nil {
		data, err := json.Marshal(eventFor(initial))
		if err != nil {
			log.Printf("Failed to marshal websocket message: %v", err)
		} else {
			client.Send <- data
		}
	}
	h.Register(client)
}

// HandleConnection handles a WebSocket connection. initial, when non-nil, is
// sent before any live event.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, initial *model.Job) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.attach(client, initial)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			h.mu.RLock()
			if h.clients[jobID][client] {
				select {
				case client.Send <- data:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
