package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/services"
)

func TestMemoryLedger(t *testing.T) {
	l := services.NewMemoryLedger(1000)
	ctx := context.Background()

	r, err := l.Debit(ctx, "alice", 400, models.StakeKey("entry_1"))
	require.NoError(t, err)
	assert.Equal(t, int64(600), r.BalanceAfter)
	assert.Equal(t, models.Debit, r.Direction)

	replay, err := l.Debit(ctx, "alice", 400, models.StakeKey("entry_1"))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, r.TxID, replay.TxID)
	assert.Equal(t, int64(600), l.Balance("alice"))

	_, err = l.Debit(ctx, "alice", 601, models.StakeKey("entry_2"))
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	_, err = l.Credit(ctx, "alice", 0, models.PayoutKey("game_1"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = l.Credit(ctx, "alice", 900, models.PayoutKey("game_1"))
	require.NoError(t, err)
	_, err = l.Credit(ctx, "bob", 50, models.RefundKey("game_2", "bob"))
	require.NoError(t, err)

	w, err := l.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), w.Balance)
	assert.Equal(t, int64(400), w.TotalWagered)
	assert.Equal(t, int64(900), w.TotalWon)
	assert.Equal(t, "15.00", w.Response().Balance)

	assert.Len(t, l.Journal(), 3)
	assert.Equal(t, int64(1050), l.Balance("bob"))
}
