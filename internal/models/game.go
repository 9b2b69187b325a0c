package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pvp-casino-backend/internal/provablyfair"
)

type GameState string

const (
	StateOpen      GameState = "open"
	StateLocked    GameState = "locked"
	StateResolved  GameState = "resolved"
	StateSettled   GameState = "settled"
	StateRefunding GameState = "refunding"
	StateCancelled GameState = "cancelled"
)

func (s GameState) Terminal() bool {
	return s == StateSettled || s == StateCancelled
}

// Cancellable states can still be unwound with refunds.
func (s GameState) Cancellable() bool {
	return s == StateOpen || s == StateLocked || s == StateRefunding
}

const (
	BinaryMaxEntries = 2
	MinParticipants  = 2
	BasisPoints      = 10_000
)

type Entry struct {
	ID            string    `json:"id"`
	GameID        string    `json:"game_id"`
	Seq           int       `json:"seq"`
	ParticipantID string    `json:"participant_id"`
	Choice        string    `json:"choice,omitempty"`
	Tickets       int       `json:"tickets,omitempty"`
	Amount        int64     `json:"amount"`
	PlayerSeed    string    `json:"player_seed,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type OutcomeRecord struct {
	Result         string    `json:"result"`
	WinnerID       string    `json:"winner_id"`
	WinnerIndex    int       `json:"winner_index"`
	DerivationHash string    `json:"derivation_hash"`
	Value          uint64    `json:"value"`
	Normalized     uint64    `json:"normalized,omitempty"`
	Draws          int       `json:"draws,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

type Game struct {
	ID               string            `json:"id"`
	Kind             provablyfair.Kind `json:"kind"`
	State            GameState         `json:"state"`
	CreatorID        string            `json:"creator_id"`
	SecretCommitment string            `json:"secret_commitment"`
	Secret           string            `json:"-"`
	ClientSeed       string            `json:"client_seed,omitempty"`

	TicketPrice int64 `json:"ticket_price,omitempty"`
	MaxEntries  int   `json:"max_entries,omitempty"`
	FeeBps      int   `json:"fee_bps"`

	TotalStake int64   `json:"total_stake"`
	EntryCount int     `json:"entry_count"`
	Entries    []Entry `json:"entries"`

	Outcome      *OutcomeRecord `json:"outcome,omitempty"`
	PayoutAmount int64          `json:"payout_amount,omitempty"`
	FeeAmount    int64          `json:"fee_amount,omitempty"`
	PayoutTxID   string         `json:"payout_tx_id,omitempty"`

	PayoutAttempts int    `json:"payout_attempts"`
	PayoutError    string `json:"-"`
	CancelReason   string `json:"cancel_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LockAt      *time.Time `json:"lock_at,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func (g *Game) UniqueParticipants() int {
	seen := make(map[string]struct{}, len(g.Entries))
	for _, e := range g.Entries {
		seen[e.ParticipantID] = struct{}{}
	}
	return len(seen)
}

func (g *Game) HasParticipant(participantID string) bool {
	for _, e := range g.Entries {
		if e.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// Full reports whether no further entry fits.
func (g *Game) Full() bool {
	return g.MaxEntries > 0 && g.EntryCount >= g.MaxEntries
}

func (g *Game) SeedEntries() []provablyfair.SeedEntry {
	out := make([]provablyfair.SeedEntry, 0, len(g.Entries))
	for _, e := range g.Entries {
		out = append(out, provablyfair.SeedEntry{
			ParticipantID: e.ParticipantID,
			Choice:        e.Choice,
			Amount:        e.Amount,
			Seed:          e.PlayerSeed,
		})
	}
	return out
}

// Stakes returns each participant's total stake in first-entry order.
func (g *Game) Stakes() []provablyfair.Weight {
	return provablyfair.Weights(g.SeedEntries())
}

// CheckStake verifies that the recorded total equals the sum of the entries.
func (g *Game) CheckStake() error {
	var sum int64
	for _, e := range g.Entries {
		sum += e.Amount
	}
	if sum != g.TotalStake || len(g.Entries) != g.EntryCount {
		return fmt.Errorf("game %s: stake %d over %d entries, entries sum to %d over %d",
			g.ID, g.TotalStake, g.EntryCount, sum, len(g.Entries))
	}
	return nil
}

// Payout splits the pool into the winner's credit and the house fee. The fee
// is rounded down so rounding always favours the player.
func (g *Game) Payout() (payout, fee int64) {
	pool := decimal.NewFromInt(g.TotalStake)
	fee = pool.Mul(decimal.NewFromInt(int64(g.FeeBps))).
		Div(decimal.NewFromInt(BasisPoints)).
		Floor().
		IntPart()
	return g.TotalStake - fee, fee
}

// WinnerID is empty until the game is resolved.
func (g *Game) WinnerID() string {
	if g.Outcome == nil {
		return ""
	}
	return g.Outcome.WinnerID
}

// CreatorSide is the side picked by the first entry of a binary game.
func (g *Game) CreatorSide() provablyfair.Side {
	if len(g.Entries) == 0 {
		return ""
	}
	return provablyfair.Side(g.Entries[0].Choice)
}

// PublicGame is the view served to players and observers. The secret is set
// only once the game is settled.
type PublicGame struct {
	ID               string            `json:"id"`
	Kind             provablyfair.Kind `json:"kind"`
	State            GameState         `json:"state"`
	Status           string            `json:"status"`
	CreatorID        string            `json:"creator_id"`
	SecretCommitment string            `json:"secret_commitment"`
	Secret           string            `json:"secret,omitempty"`
	ClientSeed       string            `json:"client_seed,omitempty"`
	TicketPrice      string            `json:"ticket_price,omitempty"`
	TotalStake       string            `json:"total_stake"`
	Entries          []Entry           `json:"entries"`
	Outcome          *OutcomeRecord    `json:"outcome,omitempty"`
	Payout           string            `json:"payout,omitempty"`
	Fee              string            `json:"fee,omitempty"`
	CancelReason     string            `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
	LockAt           *time.Time        `json:"lock_at,omitempty"`
	SettledAt        *time.Time        `json:"settled_at,omitempty"`
}

func (g *Game) Public() PublicGame {
	p := PublicGame{
		ID:               g.ID,
		Kind:             g.Kind,
		State:            g.State,
		Status:           g.displayStatus(),
		CreatorID:        g.CreatorID,
		SecretCommitment: g.SecretCommitment,
		ClientSeed:       g.ClientSeed,
		TotalStake:       FormatAmount(g.TotalStake),
		Entries:          g.Entries,
		CancelReason:     g.CancelReason,
		CreatedAt:        g.CreatedAt,
		ExpiresAt:        g.ExpiresAt,
		LockAt:           g.LockAt,
		SettledAt:        g.SettledAt,
	}
	if p.Entries == nil {
		p.Entries = []Entry{}
	}
	if g.TicketPrice > 0 {
		p.TicketPrice = FormatAmount(g.TicketPrice)
	}
	if g.State == StateResolved || g.State == StateSettled {
		p.Outcome = g.Outcome
	}
	if g.State == StateSettled {
		p.Secret = g.Secret
		p.Payout = FormatAmount(g.PayoutAmount)
		p.Fee = FormatAmount(g.FeeAmount)
	}
	return p
}

// displayStatus never leaks ledger detail: a resolved game is "processing"
// whether or not a payout attempt has failed.
func (g *Game) displayStatus() string {
	switch g.State {
	case StateOpen:
		if g.LockAt != nil {
			return "countdown"
		}
		return "waiting"
	case StateLocked:
		return "drawing"
	case StateResolved:
		return "processing"
	case StateSettled:
		return "completed"
	case StateRefunding, StateCancelled:
		return "cancelled"
	default:
		return string(g.State)
	}
}
