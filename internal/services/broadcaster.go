package services

import "pvp-casino-backend/internal/models"

// Broadcaster publishes game lifecycle events. Implementations must not
// block the caller; delivery is best effort.
type Broadcaster interface {
	Broadcast(event models.GameEvent)
}

// MultiBroadcaster fans one event out to every configured sink.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Broadcast(event models.GameEvent) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(event)
		}
	}
}

type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(models.GameEvent) {}
