package models

import (
	"fmt"
	"time"

	"pvp-casino-backend/internal/provablyfair"
)

// NewGame is what the settlement engine needs to open a game. A positive
// Stake (or Tickets) places the creator's entry in the same call.
type NewGame struct {
	CreatorID  string
	Kind       provablyfair.Kind
	Side       provablyfair.Side
	Stake      int64
	Tickets    int
	Seed       string
	MaxEntries int
}

type NewEntry struct {
	ParticipantID string
	Side          provablyfair.Side
	Stake         int64
	Tickets       int
	Seed          string
}

// HTTP payloads.

type CreateGameRequest struct {
	Kind       string `json:"kind" binding:"required,oneof=binary weighted"`
	Side       string `json:"side" binding:"omitempty,oneof=heads tails"`
	Stake      string `json:"stake" binding:"omitempty,numeric"`
	Tickets    int    `json:"tickets" binding:"omitempty,min=1,max=1000"`
	Seed       string `json:"seed" binding:"omitempty,max=64,printascii"`
	MaxEntries int    `json:"max_entries" binding:"omitempty,min=2,max=500"`
}

func (r *CreateGameRequest) ToNewGame(creatorID string) (NewGame, error) {
	g := NewGame{
		CreatorID:  creatorID,
		Kind:       provablyfair.Kind(r.Kind),
		Side:       provablyfair.Side(r.Side),
		Tickets:    r.Tickets,
		Seed:       r.Seed,
		MaxEntries: r.MaxEntries,
	}
	if r.Stake != "" {
		stake, err := ParseAmount(r.Stake)
		if err != nil {
			return NewGame{}, err
		}
		g.Stake = stake
	}
	if g.Kind == provablyfair.KindBinary && (g.Stake == 0 || !g.Side.Valid()) {
		return NewGame{}, fmt.Errorf("%w: coinflip needs a side and a stake", ErrInvalidInput)
	}
	return g, nil
}

type AddEntryRequest struct {
	Stake   string `json:"stake" binding:"omitempty,numeric"`
	Tickets int    `json:"tickets" binding:"omitempty,min=1,max=1000"`
	Seed    string `json:"seed" binding:"omitempty,max=64,printascii"`
}

func (r *AddEntryRequest) ToNewEntry(participantID string) (NewEntry, error) {
	e := NewEntry{ParticipantID: participantID, Tickets: r.Tickets, Seed: r.Seed}
	if r.Stake != "" {
		stake, err := ParseAmount(r.Stake)
		if err != nil {
			return NewEntry{}, err
		}
		e.Stake = stake
	}
	if e.Stake == 0 && e.Tickets == 0 {
		return NewEntry{}, fmt.Errorf("%w: stake or tickets required", ErrInvalidInput)
	}
	return e, nil
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=200"`
}

// VerifyRequest lets anyone check arbitrary revealed values.
type VerifyRequest struct {
	Secret          string                `json:"secret" binding:"required"`
	ClientSeed      string                `json:"client_seed" binding:"required"`
	Commitment      string                `json:"secret_commitment" binding:"required,len=64,hexadecimal"`
	Kind            string                `json:"kind" binding:"required,oneof=binary weighted"`
	Weights         []provablyfair.Weight `json:"weights" binding:"omitempty,dive"`
	RecordedOutcome string                `json:"recorded_outcome" binding:"required"`
	RecordedHash    string                `json:"recorded_hash" binding:"omitempty,len=64,hexadecimal"`
}

func (r *VerifyRequest) Input() provablyfair.VerifyInput {
	return provablyfair.VerifyInput{
		Secret:          r.Secret,
		ClientSeed:      r.ClientSeed,
		Commitment:      r.Commitment,
		Kind:            provablyfair.Kind(r.Kind),
		Weights:         r.Weights,
		RecordedOutcome: r.RecordedOutcome,
		RecordedHash:    r.RecordedHash,
	}
}

// VerificationData is the provably-fair block of a game: the commitment is
// always present, the revealed values only after settlement.
type VerificationData struct {
	GameID           string                `json:"game_id"`
	State            GameState             `json:"state"`
	SecretCommitment string                `json:"secret_commitment"`
	Secret           string                `json:"secret,omitempty"`
	ClientSeed       string                `json:"client_seed,omitempty"`
	Weights          []provablyfair.Weight `json:"weights,omitempty"`
	Outcome          *OutcomeRecord        `json:"outcome,omitempty"`
	Revealed         bool                  `json:"revealed"`
}

type HistoryItem struct {
	ID        string            `json:"id"`
	Kind      provablyfair.Kind `json:"kind"`
	WinnerID  string            `json:"winner_id"`
	Result    string            `json:"result"`
	Pool      string            `json:"pool"`
	Players   int               `json:"players"`
	SettledAt *time.Time        `json:"settled_at"`
}

func (g *Game) HistoryItem() HistoryItem {
	item := HistoryItem{
		ID:        g.ID,
		Kind:      g.Kind,
		WinnerID:  g.WinnerID(),
		Pool:      FormatAmount(g.TotalStake),
		Players:   g.UniqueParticipants(),
		SettledAt: g.SettledAt,
	}
	if g.Outcome != nil {
		item.Result = g.Outcome.Result
	}
	return item
}

func (g *Game) Verification() VerificationData {
	v := VerificationData{
		GameID:           g.ID,
		State:            g.State,
		SecretCommitment: g.SecretCommitment,
	}
	if g.State != StateSettled {
		return v
	}
	v.Revealed = true
	v.Secret = g.Secret
	v.ClientSeed = g.ClientSeed
	v.Outcome = g.Outcome
	if g.Kind == provablyfair.KindWeighted {
		v.Weights = g.Stakes()
	}
	return v
}

// VerifyInput assembles the revealed record of a settled game for Verify.
func (g *Game) VerifyInput() provablyfair.VerifyInput {
	in := provablyfair.VerifyInput{
		GameID:     g.ID,
		Secret:     g.Secret,
		ClientSeed: g.ClientSeed,
		Commitment: g.SecretCommitment,
		Kind:       g.Kind,
	}
	if g.Kind == provablyfair.KindWeighted {
		in.Weights = g.Stakes()
	}
	if g.Outcome != nil {
		in.RecordedOutcome = g.Outcome.Result
		in.RecordedHash = g.Outcome.DerivationHash
	}
	return in
}
