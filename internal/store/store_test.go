package store_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/provablyfair"
	"pvp-casino-backend/internal/store"
)

func TestMemoryStore(t *testing.T) {
	runContract(t, func(t *testing.T) store.Store { return store.NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	runContract(t, func(t *testing.T) store.Store { return s })
}

func runContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, provablyfair.KindBinary, models.BinaryMaxEntries)

		got, err := s.GetGame(context.Background(), g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateOpen, got.State)
		assert.Equal(t, g.SecretCommitment, got.SecretCommitment)
		assert.Equal(t, provablyfair.HashSecret(got.Secret), got.SecretCommitment)
		assert.Empty(t, got.Entries)

		_, err = s.GetGame(context.Background(), "game_missing")
		assert.ErrorIs(t, err, models.ErrGameNotFound)
	})

	t.Run("entries accumulate stake", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, provablyfair.KindWeighted, 0)

		addEntry(t, s, g.ID, "alice", 300)
		addEntry(t, s, g.ID, "bob", 100)
		got := addEntry(t, s, g.ID, "alice", 200)

		assert.Equal(t, 3, got.EntryCount)
		assert.Equal(t, int64(600), got.TotalStake)
		require.Len(t, got.Entries, 3)
		for i, e := range got.Entries {
			assert.Equal(t, i+1, e.Seq)
		}
		assert.NoError(t, got.CheckStake())
	})

	t.Run("unique participant and capacity", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, provablyfair.KindBinary, models.BinaryMaxEntries)
		ctx := context.Background()

		addEntry(t, s, g.ID, "p1", 1000)

		_, err := s.AddEntry(ctx, entryParams(g.ID, "p1", 1000, true))
		assert.ErrorIs(t, err, models.ErrAlreadyEntered)

		addEntry(t, s, g.ID, "p2", 1000)

		_, err = s.AddEntry(ctx, entryParams(g.ID, "p3", 1000, true))
		assert.ErrorIs(t, err, models.ErrGameFull)
	})

	t.Run("lock freezes entries", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, provablyfair.KindBinary, models.BinaryMaxEntries)
		ctx := context.Background()

		addEntry(t, s, g.ID, "p1", 500)
		g = addEntry(t, s, g.ID, "p2", 500)
		seed := provablyfair.ClientSeed(g.ID, g.SeedEntries())

		_, err := s.LockGame(ctx, models.LockGameParams{
			GameID: g.ID, ExpectedEntries: 1, ClientSeed: seed, LockedAt: time.Now(),
		})
		assert.ErrorIs(t, err, models.ErrConcurrentTransition)

		locked, err := s.LockGame(ctx, models.LockGameParams{
			GameID: g.ID, ExpectedEntries: 2, ClientSeed: seed, LockedAt: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.StateLocked, locked.State)
		assert.Equal(t, seed, locked.ClientSeed)

		_, err = s.AddEntry(ctx, entryParams(g.ID, "p3", 500, false))
		assert.ErrorIs(t, err, models.ErrGameNotOpen)

		again, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, seed, provablyfair.ClientSeed(again.ID, again.SeedEntries()))
	})

	t.Run("countdown starts once", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, provablyfair.KindWeighted, 0)
		ctx := context.Background()
		first := time.Now().Add(45 * time.Second).UTC().Truncate(time.Second)

		got, started, err := s.StartCountdown(ctx, models.StartCountdownParams{GameID: g.ID, LockAt: first})
		require.NoError(t, err)
		assert.True(t, started)
		require.NotNil(t, got.LockAt)

		got, started, err = s.StartCountdown(ctx, models.StartCountdownParams{GameID: g.ID, LockAt: first.Add(time.Minute)})
		require.NoError(t, err)
		assert.False(t, started)
		assert.True(t, got.LockAt.Equal(first))
	})

	t.Run("outcome recorded exactly once", func(t *testing.T) {
		s := newStore(t)
		g := lockedGame(t, s)
		ctx := context.Background()

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.RecordOutcome(ctx, outcomeParams(g, i))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, models.ErrConcurrentTransition):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 7, conflicts)

		got, err := s.GetGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateResolved, got.State)
		require.NotNil(t, got.Outcome)
	})

	t.Run("payout failure then settle", func(t *testing.T) {
		s := newStore(t)
		g := lockedGame(t, s)
		ctx := context.Background()

		_, err := s.RecordOutcome(ctx, outcomeParams(g, 0))
		require.NoError(t, err)

		failed, err := s.RecordPayoutFailure(ctx, g.ID, "ledger down")
		require.NoError(t, err)
		assert.Equal(t, 1, failed.PayoutAttempts)
		assert.Equal(t, models.StateResolved, failed.State)

		reset, err := s.ResetPayoutAttempts(ctx, g.ID)
		require.NoError(t, err)
		assert.Zero(t, reset.PayoutAttempts)

		settled, err := s.MarkSettled(ctx, models.MarkSettledParams{
			GameID: g.ID, PayoutAmount: 1000, PayoutTxID: "tx_1", SettledAt: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.StateSettled, settled.State)
		assert.Empty(t, settled.PayoutError)

		_, err = s.MarkSettled(ctx, models.MarkSettledParams{
			GameID: g.ID, PayoutAmount: 1000, PayoutTxID: "tx_2", SettledAt: time.Now(),
		})
		assert.ErrorIs(t, err, models.ErrConcurrentTransition)

		_, err = s.BeginCancel(ctx, models.BeginCancelParams{GameID: g.ID, Reason: "late", At: time.Now()})
		assert.ErrorIs(t, err, models.ErrConcurrentTransition)

		history, err := s.ListSettledGames(ctx, 500)
		require.NoError(t, err)
		assert.True(t, containsGame(history, g.ID))
	})

	t.Run("cancel path", func(t *testing.T) {
		s := newStore(t)
		g := createGame(t, s, provablyfair.KindWeighted, 0)
		ctx := context.Background()
		addEntry(t, s, g.ID, "p1", 250)

		active, err := s.ListActiveGames(ctx)
		require.NoError(t, err)
		assert.True(t, containsGame(active, g.ID))

		_, err = s.MarkCancelled(ctx, g.ID, time.Now())
		assert.ErrorIs(t, err, models.ErrConcurrentTransition)

		refunding, err := s.BeginCancel(ctx, models.BeginCancelParams{GameID: g.ID, Reason: "timeout", At: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, models.StateRefunding, refunding.State)

		_, err = s.BeginCancel(ctx, models.BeginCancelParams{GameID: g.ID, Reason: "timeout", At: time.Now()})
		require.NoError(t, err)

		_, err = s.AddEntry(ctx, entryParams(g.ID, "p2", 250, false))
		assert.ErrorIs(t, err, models.ErrGameNotOpen)

		cancelled, err := s.MarkCancelled(ctx, g.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, models.StateCancelled, cancelled.State)
		assert.Equal(t, "timeout", cancelled.CancelReason)

		active, err = s.ListActiveGames(ctx)
		require.NoError(t, err)
		assert.False(t, containsGame(active, g.ID))
	})
}

func createGame(t *testing.T, s store.Store, kind provablyfair.Kind, maxEntries int) *models.Game {
	t.Helper()

	c, err := provablyfair.GenerateCommitment()
	require.NoError(t, err)
	now := time.Now()

	g, err := s.CreateGame(context.Background(), models.CreateGameParams{
		ID:               models.GenerateGameID(),
		Kind:             kind,
		CreatorID:        "creator",
		SecretCommitment: c.Hash,
		Secret:           c.Secret,
		MaxEntries:       maxEntries,
		CreatedAt:        now,
		ExpiresAt:        now.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	return g
}

func entryParams(gameID, participantID string, amount int64, unique bool) models.AddEntryParams {
	return models.AddEntryParams{
		Entry: models.Entry{
			ID:            models.GenerateEntryID(),
			GameID:        gameID,
			ParticipantID: participantID,
			Amount:        amount,
			CreatedAt:     time.Now(),
		},
		UniqueParticipant: unique,
	}
}

func addEntry(t *testing.T, s store.Store, gameID, participantID string, amount int64) *models.Game {
	t.Helper()

	g, err := s.AddEntry(context.Background(), entryParams(gameID, participantID, amount, false))
	require.NoError(t, err)
	return g
}

func lockedGame(t *testing.T, s store.Store) *models.Game {
	t.Helper()

	g := createGame(t, s, provablyfair.KindBinary, models.BinaryMaxEntries)
	addEntry(t, s, g.ID, "p1", 500)
	g = addEntry(t, s, g.ID, "p2", 500)

	g, err := s.LockGame(context.Background(), models.LockGameParams{
		GameID:          g.ID,
		ExpectedEntries: 2,
		ClientSeed:      provablyfair.ClientSeed(g.ID, g.SeedEntries()),
		LockedAt:        time.Now(),
	})
	require.NoError(t, err)
	return g
}

func outcomeParams(g *models.Game, i int) models.RecordOutcomeParams {
	out, _ := provablyfair.DeriveBinary(g.Secret, g.ClientSeed)
	return models.RecordOutcomeParams{
		GameID: g.ID,
		Outcome: models.OutcomeRecord{
			Result:         out.Result(),
			WinnerID:       g.Entries[out.WinnerIndex].ParticipantID,
			WinnerIndex:    out.WinnerIndex,
			DerivationHash: out.DerivationHash,
			Value:          out.Value,
			Draws:          i,
			ResolvedAt:     time.Now(),
		},
	}
}

func containsGame(games []*models.Game, id string) bool {
	for _, g := range games {
		if g.ID == id {
			return true
		}
	}
	return false
}
