package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// ChannelSyncCompleted carries a SyncCompletedEvent after every run.
const ChannelSyncCompleted = "events.sync.completed"

// SyncCompletedEvent is published when a sync run finishes.
type SyncCompletedEvent struct {
	EventType      string     `json:"event_type"`
	Timestamp      time.Time  `json:"timestamp"`
	RunID          string     `json:"run_id"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	Users          []string   `json:"users"`
	Inserted       int        `json:"inserted"`
	Updated        int        `json:"updated"`
	ReachedThrough *time.Time `json:"reached_through,omitempty"`
}

// Publisher publishes run events to Redis.
type Publisher struct {
	client redis.UniversalClient
	logger logging.Logger
}

// NewPublisher creates a Publisher on client.
func NewPublisher(client redis.UniversalClient, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// PublishSyncCompleted publishes ev on ChannelSyncCompleted.
func (p *Publisher) PublishSyncCompleted(ctx context.Context, ev SyncCompletedEvent) error {
	ev.EventType = "sync.completed"
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, ChannelSyncCompleted, data).Err(); err != nil {
		p.logger.Error("Failed to publish event", logging.Err(err), logging.F("channel", ChannelSyncCompleted))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("Published event", logging.F("channel", ChannelSyncCompleted), logging.F("run_id", ev.RunID))
	return nil
}

// SubscribeSyncCompleted calls fn for every sync.completed event until ctx
// is cancelled. Undecodable messages are logged and dropped.
func SubscribeSyncCompleted(ctx context.Context, client redis.UniversalClient, logger logging.Logger, fn func(SyncCompletedEvent)) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	sub := client.Subscribe(ctx, ChannelSyncCompleted)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribing to %s: %w", ChannelSyncCompleted, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev SyncCompletedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("dropping malformed event", logging.Err(err), logging.F("channel", msg.Channel))
					continue
				}
				fn(ev)
			}
		}
	}()
	return nil
}
