package services

import (
	"context"

	"github.com/pusher/pusher-http-go/v5"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/config"
	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/models"
)

const (
	PusherLobbyChannel = "games"
	pusherQueueSize    = 256
)

func PusherGameChannel(gameID string) string {
	return "game-" + gameID
}

// PusherTrigger is the subset of *pusher.Client used here.
type PusherTrigger interface {
	Trigger(channel string, eventName string, data interface{}) error
}

// PusherBroadcaster forwards events to Pusher channels from a background
// goroutine so a slow API call never holds up a game transition.
type PusherBroadcaster struct {
	log    *slog.Logger
	client PusherTrigger
	queue  chan models.GameEvent
}

func NewPusherClient(cfg config.Pusher) *pusher.Client {
	return &pusher.Client{
		AppID:   cfg.AppID,
		Key:     cfg.Key,
		Secret:  cfg.Secret,
		Cluster: cfg.Cluster,
		Secure:  true,
	}
}

func NewPusherBroadcaster(log *slog.Logger, client PusherTrigger) *PusherBroadcaster {
	return &PusherBroadcaster{
		log:    log,
		client: client,
		queue:  make(chan models.GameEvent, pusherQueueSize),
	}
}

func (p *PusherBroadcaster) Broadcast(event models.GameEvent) {
	select {
	case p.queue <- event:
	default:
		p.log.Warn("pusher queue full, dropping event", sl.Game(event.GameID), slog.String("event", string(event.Type)))
	}
}

func (p *PusherBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.queue:
			p.trigger(event)
		}
	}
}

func (p *PusherBroadcaster) trigger(event models.GameEvent) {
	const op = "services.PusherBroadcaster.trigger"

	for _, channel := range []string{PusherGameChannel(event.GameID), PusherLobbyChannel} {
		if err := p.client.Trigger(channel, string(event.Type), event); err != nil {
			p.log.Error("failed to trigger pusher event",
				sl.Op(op), sl.Game(event.GameID), slog.String("channel", channel), sl.Err(err))
		}
	}
}
