package websocket

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/sirupsen/logrus"
)

// EventsChannel carries task events from workers to API processes.
const EventsChannel = "mediapipe:task-events"

// Publisher forwards task events over Redis pub/sub so that the hub of any
// API process can deliver them.
type Publisher struct {
	redis  *redis.Client
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{redis: client, logger: logger}
}

func (p *Publisher) StepProgress(taskID string, step model.StepKind, percent float64) {
	p.publish(progressMessage(taskID, step, percent, p.logger))
}

func (p *Publisher) TaskFinished(task *model.Task, steps []model.StepResult) {
	p.publish(finishedMessage(task, steps, p.logger))
}

func (p *Publisher) publish(msg *BroadcastMessage) {
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal task event")
		return
	}
	if err := p.redis.Publish(context.Background(), EventsChannel, data).Err(); err != nil {
		p.logger.WithError(err).WithField("task_id", msg.TaskID).Warn("Failed to publish task event")
	}
}

// Relay subscribes to published task events and broadcasts them to local
// clients until ctx is done.
func (h *Hub) Relay(ctx context.Context, client *redis.Client) {
	sub := client.Subscribe(ctx, EventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg BroadcastMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				h.logger.WithError(err).Warn("Dropping malformed task event")
				continue
			}
			h.Broadcast(&msg)
		}
	}
}
