package models_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/provablyfair"
)

func settledGame(t *testing.T) *models.Game {
	t.Helper()

	c, err := provablyfair.GenerateCommitment()
	require.NoError(t, err)
	now := time.Now()

	g := &models.Game{
		ID:               models.GenerateGameID(),
		Kind:             provablyfair.KindBinary,
		State:            models.StateSettled,
		CreatorID:        "p1",
		SecretCommitment: c.Hash,
		Secret:           c.Secret,
		TotalStake:       2000,
		EntryCount:       2,
		Entries: []models.Entry{
			{ID: "e1", ParticipantID: "p1", Choice: "heads", Amount: 1000},
			{ID: "e2", ParticipantID: "p2", Choice: "tails", Amount: 1000},
		},
		PayoutAmount: 2000,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		SettledAt:    &now,
	}
	g.ClientSeed = provablyfair.ClientSeed(g.ID, g.SeedEntries())
	out, err := provablyfair.DeriveBinary(g.Secret, g.ClientSeed)
	require.NoError(t, err)
	winner := "p1"
	if out.Side == provablyfair.SideTails {
		winner = "p2"
	}
	g.Outcome = &models.OutcomeRecord{
		Result:         out.Result(),
		WinnerID:       winner,
		WinnerIndex:    out.WinnerIndex,
		DerivationHash: out.DerivationHash,
		Value:          out.Value,
	}
	return g
}

func TestGame_PublicHidesSecretUntilSettled(t *testing.T) {
	g := settledGame(t)

	for _, state := range []models.GameState{
		models.StateOpen, models.StateLocked, models.StateResolved,
		models.StateRefunding, models.StateCancelled,
	} {
		g.State = state
		pub := g.Public()
		assert.Empty(t, pub.Secret, "state %s", state)

		raw, err := json.Marshal(pub)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), g.Secret, "state %s", state)
		assert.Contains(t, string(raw), g.SecretCommitment)

		assert.False(t, g.Verification().Revealed)
	}

	g.State = models.StateSettled
	assert.Equal(t, g.Secret, g.Public().Secret)
	assert.True(t, g.Verification().Revealed)
}

func TestGame_RawJSONNeverCarriesSecret(t *testing.T) {
	g := settledGame(t)
	g.PayoutError = "gateway said no"

	raw, err := json.Marshal(g)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), g.Secret)
	assert.NotContains(t, string(raw), "gateway said no")
}

func TestGame_ResolvedShowsProcessing(t *testing.T) {
	g := settledGame(t)
	g.State = models.StateResolved
	g.PayoutAttempts = 3
	g.PayoutError = "ledger timeout"

	pub := g.Public()
	assert.Equal(t, "processing", pub.Status)
	assert.NotNil(t, pub.Outcome)
}

func TestGame_VerifyInputRoundTrip(t *testing.T) {
	g := settledGame(t)

	res := provablyfair.Verify(g.VerifyInput())
	assert.True(t, res.Valid, "reason %s", res.Reason)
}

func TestGame_CheckStake(t *testing.T) {
	g := settledGame(t)
	require.NoError(t, g.CheckStake())

	g.TotalStake++
	assert.Error(t, g.CheckStake())
}

func TestGame_Payout(t *testing.T) {
	cases := []struct {
		name    string
		pool    int64
		feeBps  int
		wantPay int64
		wantFee int64
	}{
		{name: "no fee", pool: 2000, feeBps: 0, wantPay: 2000, wantFee: 0},
		{name: "five percent", pool: 2000, feeBps: 500, wantPay: 1900, wantFee: 100},
		{name: "fee rounds down", pool: 999, feeBps: 250, wantPay: 975, wantFee: 24},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := &models.Game{TotalStake: tc.pool, FeeBps: tc.feeBps}
			pay, fee := g.Payout()
			assert.Equal(t, tc.wantPay, pay)
			assert.Equal(t, tc.wantFee, fee)
			assert.Equal(t, tc.pool, pay+fee)
		})
	}
}

func TestGame_Stakes(t *testing.T) {
	g := &models.Game{Entries: []models.Entry{
		{ParticipantID: "a", Amount: 100},
		{ParticipantID: "b", Amount: 300},
		{ParticipantID: "a", Amount: 50},
	}}

	assert.Equal(t, []provablyfair.Weight{
		{ParticipantID: "a", Weight: 150},
		{ParticipantID: "b", Weight: 300},
	}, g.Stakes())
	assert.Equal(t, 2, g.UniqueParticipants())
	assert.True(t, g.HasParticipant("b"))
	assert.False(t, g.HasParticipant("c"))
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "10", want: 1000},
		{in: "0.5", want: 50},
		{in: "12.34", want: 1234},
		{in: "1.234", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "ten", wantErr: true},
		{in: "92233720368547758.07", want: math.MaxInt64},
		{in: "92233720368547758.08", wantErr: true},
		{in: "184467440737095517.16", wantErr: true},
		{in: "1e30", wantErr: true},
	}

	for _, tc := range cases {
		got, err := models.ParseAmount(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, models.ErrInvalidInput, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	assert.Equal(t, "12.34", models.FormatAmount(1234))
	assert.Equal(t, "0.05", models.FormatAmount(5))
	assert.Equal(t, "$100.00", models.FormatCurrency(10000))
}

func TestParams_Validate(t *testing.T) {
	c, err := provablyfair.GenerateCommitment()
	require.NoError(t, err)
	now := time.Now()

	good := models.CreateGameParams{
		ID:               models.GenerateGameID(),
		Kind:             provablyfair.KindBinary,
		CreatorID:        "p1",
		SecretCommitment: c.Hash,
		Secret:           c.Secret,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Minute),
	}
	require.NoError(t, good.Validate())

	bad := good
	bad.Secret = strings.Repeat("0", 64)
	assert.ErrorIs(t, bad.Validate(), models.ErrInvalidInput)

	bad = good
	bad.Kind = "poker"
	assert.ErrorIs(t, bad.Validate(), models.ErrInvalidInput)

	bad = good
	bad.ExpiresAt = now.Add(-time.Minute)
	assert.ErrorIs(t, bad.Validate(), models.ErrInvalidInput)

	assert.ErrorIs(t, models.LockGameParams{GameID: "g"}.Validate(), models.ErrInvalidInput)
	assert.ErrorIs(t, models.AddEntryParams{Entry: models.Entry{ID: "e", GameID: "g", ParticipantID: "p"}}.Validate(),
		models.ErrInvalidInput)
}

func TestIdempotencyKeys(t *testing.T) {
	assert.Equal(t, models.TransactionTypeStake, models.TransactionTypeForKey(models.StakeKey("e1")))
	assert.Equal(t, models.TransactionTypeReversal, models.TransactionTypeForKey(models.StakeReversalKey("e1")))
	assert.Equal(t, models.TransactionTypePayout, models.TransactionTypeForKey(models.PayoutKey("g1")))
	assert.Equal(t, models.TransactionTypeRefund, models.TransactionTypeForKey(models.RefundKey("g1", "p:1")))

	assert.Equal(t, "g1", models.GameIDForKey(models.PayoutKey("g1")))
	assert.Equal(t, "g1", models.GameIDForKey(models.RefundKey("g1", "p:1")))
	assert.Empty(t, models.GameIDForKey(models.StakeKey("e1")))
}

func TestRequests(t *testing.T) {
	_, err := (&models.CreateGameRequest{Kind: "binary", Stake: "5"}).ToNewGame("p1")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	g, err := (&models.CreateGameRequest{Kind: "binary", Side: "tails", Stake: "5"}).ToNewGame("p1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), g.Stake)
	assert.Equal(t, provablyfair.SideTails, g.Side)

	_, err = (&models.AddEntryRequest{}).ToNewEntry("p2")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = (&models.AddEntryRequest{Stake: "184467440737095517.16"}).ToNewEntry("p2")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = (&models.CreateGameRequest{Kind: "binary", Side: "heads", Stake: "92233720368547758.08"}).ToNewGame("p1")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
