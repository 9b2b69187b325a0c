package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pvp-casino-backend/internal/models"
)

// MemoryStore keeps games in process. It backs development runs and tests
// and mirrors the conditional-update semantics of PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	games map[string]*models.Game
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]*models.Game)}
}

func (s *MemoryStore) CreateGame(_ context.Context, p models.CreateGameParams) (*models.Game, error) {
	const op = "store.MemoryStore.CreateGame"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[p.ID]; ok {
		return nil, fmt.Errorf("%s: %w: duplicate game id %s", op, models.ErrInvalidInput, p.ID)
	}

	g := &models.Game{
		ID:               p.ID,
		Kind:             p.Kind,
		State:            models.StateOpen,
		CreatorID:        p.CreatorID,
		SecretCommitment: p.SecretCommitment,
		Secret:           p.Secret,
		TicketPrice:      p.TicketPrice,
		MaxEntries:       p.MaxEntries,
		FeeBps:           p.FeeBps,
		CreatedAt:        p.CreatedAt,
		ExpiresAt:        p.ExpiresAt,
	}
	s.games[g.ID] = g

	return clone(g), nil
}

func (s *MemoryStore) AddEntry(_ context.Context, p models.AddEntryParams) (*models.Game, error) {
	const op = "store.MemoryStore.AddEntry"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(p.Entry.GameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if g.State != models.StateOpen {
		return nil, fmt.Errorf("%s: %w", op, models.ErrGameNotOpen)
	}
	if g.Full() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrGameFull)
	}
	if p.UniqueParticipant && g.HasParticipant(p.Entry.ParticipantID) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAlreadyEntered)
	}

	e := p.Entry
	e.Seq = g.EntryCount + 1
	g.Entries = append(g.Entries, e)
	g.EntryCount++
	g.TotalStake += e.Amount

	return clone(g), nil
}

func (s *MemoryStore) StartCountdown(_ context.Context, p models.StartCountdownParams) (*models.Game, bool, error) {
	const op = "store.MemoryStore.StartCountdown"

	if err := p.Validate(); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(p.GameID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if g.State != models.StateOpen || g.LockAt != nil {
		return clone(g), false, nil
	}

	at := p.LockAt
	g.LockAt = &at

	return clone(g), true, nil
}

func (s *MemoryStore) LockGame(_ context.Context, p models.LockGameParams) (*models.Game, error) {
	const op = "store.MemoryStore.LockGame"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.transition(op, p.GameID, func(g *models.Game) error {
		if g.State != models.StateOpen || g.EntryCount != p.ExpectedEntries {
			return models.ErrConcurrentTransition
		}
		at := p.LockedAt
		g.State = models.StateLocked
		g.ClientSeed = p.ClientSeed
		g.LockedAt = &at
		return nil
	})
}

func (s *MemoryStore) RecordOutcome(_ context.Context, p models.RecordOutcomeParams) (*models.Game, error) {
	const op = "store.MemoryStore.RecordOutcome"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.transition(op, p.GameID, func(g *models.Game) error {
		if g.State != models.StateLocked {
			return models.ErrConcurrentTransition
		}
		out := p.Outcome
		g.State = models.StateResolved
		g.Outcome = &out
		return nil
	})
}

func (s *MemoryStore) RecordPayoutFailure(_ context.Context, gameID, reason string) (*models.Game, error) {
	return s.transition("store.MemoryStore.RecordPayoutFailure", gameID, func(g *models.Game) error {
		if g.State != models.StateResolved {
			return models.ErrConcurrentTransition
		}
		g.PayoutAttempts++
		g.PayoutError = reason
		return nil
	})
}

func (s *MemoryStore) ResetPayoutAttempts(_ context.Context, gameID string) (*models.Game, error) {
	return s.transition("store.MemoryStore.ResetPayoutAttempts", gameID, func(g *models.Game) error {
		if g.State != models.StateResolved {
			return models.ErrConcurrentTransition
		}
		g.PayoutAttempts = 0
		g.PayoutError = ""
		return nil
	})
}

func (s *MemoryStore) MarkSettled(_ context.Context, p models.MarkSettledParams) (*models.Game, error) {
	const op = "store.MemoryStore.MarkSettled"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.transition(op, p.GameID, func(g *models.Game) error {
		if g.State != models.StateResolved {
			return models.ErrConcurrentTransition
		}
		at := p.SettledAt
		g.State = models.StateSettled
		g.PayoutAmount = p.PayoutAmount
		g.FeeAmount = p.FeeAmount
		g.PayoutTxID = p.PayoutTxID
		g.PayoutError = ""
		g.SettledAt = &at
		return nil
	})
}

func (s *MemoryStore) BeginCancel(_ context.Context, p models.BeginCancelParams) (*models.Game, error) {
	const op = "store.MemoryStore.BeginCancel"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.transition(op, p.GameID, func(g *models.Game) error {
		switch g.State {
		case models.StateRefunding:
			return nil
		case models.StateOpen, models.StateLocked:
			g.State = models.StateRefunding
			g.CancelReason = p.Reason
			return nil
		default:
			return models.ErrConcurrentTransition
		}
	})
}

func (s *MemoryStore) MarkCancelled(_ context.Context, gameID string, at time.Time) (*models.Game, error) {
	return s.transition("store.MemoryStore.MarkCancelled", gameID, func(g *models.Game) error {
		if g.State != models.StateRefunding {
			return models.ErrConcurrentTransition
		}
		g.State = models.StateCancelled
		g.CancelledAt = &at
		return nil
	})
}

func (s *MemoryStore) GetGame(_ context.Context, gameID string) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(gameID)
	if err != nil {
		return nil, fmt.Errorf("store.MemoryStore.GetGame: %w", err)
	}
	return clone(g), nil
}

func (s *MemoryStore) ListActiveGames(_ context.Context) ([]*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Game
	for _, g := range s.games {
		if !g.State.Terminal() {
			out = append(out, clone(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (s *MemoryStore) ListSettledGames(_ context.Context, limit int) ([]*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Game
	for _, g := range s.games {
		if g.State == models.StateSettled {
			out = append(out, clone(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.After(*out[j].SettledAt) })

	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) get(gameID string) (*models.Game, error) {
	g, ok := s.games[gameID]
	if !ok {
		return nil, models.ErrGameNotFound
	}
	return g, nil
}

// transition applies fn to the stored game under the lock. fn must leave the
// game untouched when it returns an error.
func (s *MemoryStore) transition(op, gameID string, fn func(g *models.Game) error) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.get(gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := fn(g); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return clone(g), nil
}

func clone(g *models.Game) *models.Game {
	c := *g
	c.Entries = append([]models.Entry(nil), g.Entries...)
	if g.Outcome != nil {
		out := *g.Outcome
		c.Outcome = &out
	}
	return &c
}
