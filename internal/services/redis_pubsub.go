package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/models"
)

type pubsubEnvelope struct {
	Origin string           `json:"origin"`
	Event  models.GameEvent `json:"event"`
}

// RedisBroadcaster relays game events between API instances. Each instance
// publishes its own events and feeds the ones it receives from others into
// its local sinks.
type RedisBroadcaster struct {
	client  *redis.Client
	log     *slog.Logger
	origin  string
	channel string
}

func NewRedisBroadcaster(client *redis.Client, log *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:  client,
		log:     log,
		origin:  uuid.NewString(),
		channel: ChannelGameEvents,
	}
}

func (b *RedisBroadcaster) Broadcast(event models.GameEvent) {
	data, err := json.Marshal(pubsubEnvelope{Origin: b.origin, Event: event})
	if err != nil {
		b.log.Error("failed to encode game event", sl.Game(event.GameID), sl.Err(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
			b.log.Warn("failed to publish game event", sl.Game(event.GameID), sl.Err(err))
		}
	}()
}

// Subscribe blocks until ctx is done, handing events published by other
// instances to local.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, local Broadcaster) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
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
			var env pubsubEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("dropping malformed game event", sl.Err(err))
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			local.Broadcast(env.Event)
		}
	}
}
