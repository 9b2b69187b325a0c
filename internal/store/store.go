// Package store persists games and their entries. Every state transition is
// a conditional update on the expected prior state, so concurrent writers in
// different processes serialize on the row rather than on in-process locks.
package store

import (
	"context"
	"time"

	"pvp-casino-backend/internal/models"
)

type Store interface {
	CreateGame(ctx context.Context, p models.CreateGameParams) (*models.Game, error)
	// AddEntry appends an entry to an open game and bumps its stake total in
	// the same atomic step.
	AddEntry(ctx context.Context, p models.AddEntryParams) (*models.Game, error)
	// StartCountdown sets lock_at once. started is false when another writer
	// already set it; the returned game carries the winning value.
	StartCountdown(ctx context.Context, p models.StartCountdownParams) (g *models.Game, started bool, err error)
	LockGame(ctx context.Context, p models.LockGameParams) (*models.Game, error)
	RecordOutcome(ctx context.Context, p models.RecordOutcomeParams) (*models.Game, error)
	RecordPayoutFailure(ctx context.Context, gameID, reason string) (*models.Game, error)
	ResetPayoutAttempts(ctx context.Context, gameID string) (*models.Game, error)
	MarkSettled(ctx context.Context, p models.MarkSettledParams) (*models.Game, error)
	// BeginCancel moves open or locked games to refunding. Calling it on a
	// game that is already refunding is a no-op.
	BeginCancel(ctx context.Context, p models.BeginCancelParams) (*models.Game, error)
	MarkCancelled(ctx context.Context, gameID string, at time.Time) (*models.Game, error)

	GetGame(ctx context.Context, gameID string) (*models.Game, error)
	// ListActiveGames returns every game not yet settled or cancelled, oldest
	// first.
	ListActiveGames(ctx context.Context) ([]*models.Game, error)
	ListSettledGames(ctx context.Context, limit int) ([]*models.Game, error)

	Close() error
}

const DefaultHistoryLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return DefaultHistoryLimit
	}
	return limit
}
