package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemtranscriber/api/internal/model"
)

// EventsChannel is the Redis pub/sub channel job snapshots travel on.
const EventsChannel = "stemtranscriber:events"

// JobListener receives job snapshots. *Hub implements it.
type JobListener interface {
	JobUpdated(job *model.Job)
}

// Publisher forwards job snapshots from a worker process to whichever API
// process holds the WebSocket clients.
type Publisher struct {
	redis   *redis.Client
	channel string
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{redis: client, channel: EventsChannel}
}

// JobUpdated publishes job. Delivery is best effort.
func (p *Publisher) JobUpdated(job *model.Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("Failed to marshal job event %s: %v", job.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		log.Printf("Failed to publish job event %s: %v", job.ID, err)
	}
}

// Relay feeds published job snapshots into a local listener.
type Relay struct {
	redis    *redis.Client
	channel  string
	listener JobListener
}

func NewRelay(client *redis.Client, listener JobListener) *Relay {
	return &Relay{redis: client, channel: EventsChannel, listener: listener}
}

// Run subscribes and delivers events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.redis.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var job model.Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				log.Printf("Ignoring malformed job event: %v", err)
				continue
			}
			r.listener.JobUpdated(&job)
		}
	}
}
