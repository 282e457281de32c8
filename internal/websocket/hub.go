package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/sirupsen/logrus"
)

// Client represents a WebSocket client
type Client struct {
	TaskID string
	Conn   *websocket.Conn
	Send   chan []byte
	pong   chan struct{}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by task ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to task subscribers
	broadcast chan *BroadcastMessage

	logger *logrus.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	TaskID  string `json:"taskId"`
	Message []byte `json:"message"`
}

// NewHub creates a new Hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		logger:     logger,
	}
}

// Run starts the hub's main loop. Client maps are only touched here.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.clients[client.TaskID] == nil {
				h.clients[client.TaskID] = make(map[*Client]bool)
			}
			h.clients[client.TaskID][client] = true
			h.logger.WithField("task_id", client.TaskID).Debug("Client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.logger.WithField("task_id", client.TaskID).Debug("Client unregistered")

		case msg := <-h.broadcast:
			for client := range h.clients[msg.TaskID] {
				select {
				case client.Send <- msg.Message:
				default:
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.TaskID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.clients, client.TaskID)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues a message for the subscribers of a task. Messages are
// dropped when the hub is saturated so pipeline work never blocks on clients.
func (h *Hub) Broadcast(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.WithField("task_id", msg.TaskID).Warn("Broadcast queue full, dropping message")
	}
}

// StepProgress sends a progress update to all task subscribers
func (h *Hub) StepProgress(taskID string, step model.StepKind, percent float64) {
	if msg := progressMessage(taskID, step, percent, h.logger); msg != nil {
		h.Broadcast(msg)
	}
}

// TaskFinished sends a completion or error message to all task subscribers
func (h *Hub) TaskFinished(task *model.Task, steps []model.StepResult) {
	if msg := finishedMessage(task, steps, h.logger); msg != nil {
		h.Broadcast(msg)
	}
}

func progressMessage(taskID string, step model.StepKind, percent float64, logger *logrus.Logger) *BroadcastMessage {
	return encode(taskID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		TaskID:   taskID,
		Step:     step,
		Progress: int(percent),
		Status:   model.TaskStatusRunning,
	}, logger)
}

func finishedMessage(task *model.Task, steps []model.StepResult, logger *logrus.Logger) *BroadcastMessage {
	if task.Status == model.TaskStatusFailed {
		return encode(task.ID, model.WSErrorMessage{
			Type:   model.WSMessageTypeError,
			TaskID: task.ID,
			Error: model.WSError{
				Code:    "TASK_FAILED",
				Message: task.Error,
			},
		}, logger)
	}
	return encode(task.ID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		TaskID: task.ID,
		Result: steps,
	}, logger)
}

func encode(taskID string, v interface{}, logger *logrus.Logger) *BroadcastMessage {
	data, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).Error("Failed to marshal websocket message")
		return nil
	}
	return &BroadcastMessage{TaskID: taskID, Message: data}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, taskID string) {
	client := &Client{
		TaskID: taskID,
		Conn:   c,
		Send:   make(chan []byte, 256),
		pong:   make(chan struct{}, 1),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.pong:
				data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
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
				h.logger.WithError(err).WithField("task_id", taskID).Warn("WebSocket error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			select {
			case client.pong <- struct{}{}:
			default:
			}
		}
	}
}
