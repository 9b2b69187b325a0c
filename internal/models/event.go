package models

import "time"

type EventType string

const (
	EventGameCreated      EventType = "game_created"
	EventEntryAdded       EventType = "entry_added"
	EventCountdownStarted EventType = "countdown_started"
	EventGameLocked       EventType = "game_locked"
	EventGameResolved     EventType = "game_resolved"
	EventGameSettled      EventType = "game_settled"
	EventPayoutPending    EventType = "payout_pending"
	EventGameCancelled    EventType = "game_cancelled"
)

type GameEvent struct {
	Type   EventType   `json:"type"`
	GameID string      `json:"game_id"`
	Game   *PublicGame `json:"game,omitempty"`
	At     time.Time   `json:"at"`
}

// NewGameEvent snapshots g through its public view, so the secret appears in
// the payload only for a settled game.
func NewGameEvent(t EventType, g *Game, at time.Time) GameEvent {
	pub := g.Public()
	return GameEvent{Type: t, GameID: g.ID, Game: &pub, At: at}
}
