package provablyfair_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvp-casino-backend/internal/provablyfair"
)

const vectorSecret = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

func TestDeriveBinary_MatchesReferenceVector(t *testing.T) {
	clientSeed := "playerXchoiceheads-playerYchoicetails"

	mac := hmac.New(sha256.New, []byte(vectorSecret))
	mac.Write([]byte(clientSeed))
	refHash := hex.EncodeToString(mac.Sum(nil))
	n, err := strconv.ParseUint(refHash[:8], 16, 64)
	require.NoError(t, err)
	want := provablyfair.SideTails
	if n%2 == 0 {
		want = provablyfair.SideHeads
	}

	out, err := provablyfair.DeriveBinary(vectorSecret, clientSeed)
	require.NoError(t, err)

	assert.Equal(t, refHash, out.DerivationHash)
	assert.Equal(t, n, out.Value)
	assert.Equal(t, want, out.Side)
	assert.Equal(t, string(want), out.Result())
}

func TestDerive_Deterministic(t *testing.T) {
	weights := []provablyfair.Weight{
		{ParticipantID: "alice", Weight: 250},
		{ParticipantID: "bob", Weight: 100},
		{ParticipantID: "carol", Weight: 650},
	}

	for i := 0; i < 200; i++ {
		c, err := provablyfair.GenerateCommitment()
		require.NoError(t, err)
		seed := fmt.Sprintf("seed-%d", i)

		b1, err := provablyfair.Derive(c.Secret, seed, provablyfair.KindBinary, nil)
		require.NoError(t, err)
		b2, err := provablyfair.Derive(c.Secret, seed, provablyfair.KindBinary, nil)
		require.NoError(t, err)
		assert.Equal(t, b1, b2)

		w1, err := provablyfair.Derive(c.Secret, seed, provablyfair.KindWeighted, weights)
		require.NoError(t, err)
		w2, err := provablyfair.Derive(c.Secret, seed, provablyfair.KindWeighted, weights)
		require.NoError(t, err)
		assert.Equal(t, w1, w2)
	}
}

func TestDeriveBinary_Uniform(t *testing.T) {
	const trials = 10_000
	heads := 0
	for i := 0; i < trials; i++ {
		c, err := provablyfair.GenerateCommitment()
		require.NoError(t, err)
		seed, err := provablyfair.GenerateCommitment()
		require.NoError(t, err)

		out, err := provablyfair.DeriveBinary(c.Secret, seed.Hash)
		require.NoError(t, err)
		if out.Side == provablyfair.SideHeads {
			heads++
		}
	}

	p := float64(heads) / trials
	if p < 0.47 || p > 0.53 {
		t.Errorf("heads proportion %.4f want ~0.50 (tol ±3%%)", p)
	}
}

func TestDeriveWeighted_ProportionalToWeight(t *testing.T) {
	weights := []provablyfair.Weight{
		{ParticipantID: "small", Weight: 1},
		{ParticipantID: "large", Weight: 3},
	}

	const trials = 10_000
	wins := map[string]int{}
	for i := 0; i < trials; i++ {
		c, err := provablyfair.GenerateCommitment()
		require.NoError(t, err)

		out, err := provablyfair.DeriveWeighted(c.Secret, fmt.Sprintf("round-%d", i), weights)
		require.NoError(t, err)
		wins[out.WinnerID]++
	}

	p := float64(wins["large"]) / trials
	if p < 0.72 || p > 0.78 {
		t.Errorf("weight-3 participant won %.4f of draws want ~0.75 (tol ±3%%)", p)
	}
}

func TestPickWeighted_CumulativeWalk(t *testing.T) {
	weights := []provablyfair.Weight{
		{ParticipantID: "p1", Weight: 10},
		{ParticipantID: "p2", Weight: 20},
		{ParticipantID: "p3", Weight: 70},
	}

	cases := []struct {
		name       string
		normalized uint64
		want       int
	}{
		{name: "first slot start", normalized: 0, want: 0},
		{name: "first slot end", normalized: 9, want: 0},
		{name: "second slot start", normalized: 10, want: 1},
		{name: "second slot end", normalized: 29, want: 1},
		{name: "third slot start", normalized: 30, want: 2},
		{name: "eighty five", normalized: 85, want: 2},
		{name: "last value", normalized: 99, want: 2},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := provablyfair.PickWeighted(weights, tc.normalized)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := provablyfair.PickWeighted(weights, 100)
	assert.ErrorIs(t, err, provablyfair.ErrInvalidInput)
}

func TestDeriveWeighted_WinnerMatchesNormalizedValue(t *testing.T) {
	weights := []provablyfair.Weight{
		{ParticipantID: "p1", Weight: 10},
		{ParticipantID: "p2", Weight: 20},
		{ParticipantID: "p3", Weight: 70},
	}

	out, err := provablyfair.DeriveWeighted(vectorSecret, "jackpot-round", weights)
	require.NoError(t, err)

	assert.Equal(t, out.Value%100, out.Normalized)
	idx, err := provablyfair.PickWeighted(weights, out.Normalized)
	require.NoError(t, err)
	assert.Equal(t, idx, out.WinnerIndex)
	assert.Equal(t, weights[idx].ParticipantID, out.WinnerID)
	assert.GreaterOrEqual(t, out.Draws, 1)
}

func TestDerive_InvalidInput(t *testing.T) {
	good := []provablyfair.Weight{{ParticipantID: "a", Weight: 1}}

	cases := []struct {
		name       string
		secret     string
		clientSeed string
		kind       provablyfair.Kind
		weights    []provablyfair.Weight
	}{
		{name: "empty secret", secret: "", clientSeed: "x", kind: provablyfair.KindBinary},
		{name: "empty client seed", secret: "s", clientSeed: "", kind: provablyfair.KindBinary},
		{name: "unknown kind", secret: "s", clientSeed: "x", kind: "roulette"},
		{name: "no participants", secret: "s", clientSeed: "x", kind: provablyfair.KindWeighted},
		{name: "zero weight", secret: "s", clientSeed: "x", kind: provablyfair.KindWeighted,
			weights: []provablyfair.Weight{{ParticipantID: "a", Weight: 0}}},
		{name: "negative weight", secret: "s", clientSeed: "x", kind: provablyfair.KindWeighted,
			weights: append(good, provablyfair.Weight{ParticipantID: "b", Weight: -5})},
		{name: "overflow", secret: "s", clientSeed: "x", kind: provablyfair.KindWeighted,
			weights: []provablyfair.Weight{
				{ParticipantID: "a", Weight: 1 << 62},
				{ParticipantID: "b", Weight: 1 << 62},
			}},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := provablyfair.Derive(tc.secret, tc.clientSeed, tc.kind, tc.weights)
			assert.ErrorIs(t, err, provablyfair.ErrInvalidInput)
		})
	}
}

func TestWeights_AggregatesByFirstEntry(t *testing.T) {
	entries := []provablyfair.SeedEntry{
		{ParticipantID: "bob", Amount: 5},
		{ParticipantID: "alice", Amount: 10},
		{ParticipantID: "bob", Amount: 15},
	}

	assert.Equal(t, []provablyfair.Weight{
		{ParticipantID: "bob", Weight: 20},
		{ParticipantID: "alice", Weight: 10},
	}, provablyfair.Weights(entries))
}

func TestClientSeed_Canonical(t *testing.T) {
	entries := []provablyfair.SeedEntry{
		{ParticipantID: "p1", Choice: "heads", Amount: 500, Seed: "lucky"},
		{ParticipantID: "p2", Choice: "tails", Amount: 500},
	}

	assert.Equal(t, "g1|p1:heads:500:lucky|p2:tails:500:", provablyfair.ClientSeed("g1", entries))
	assert.NotEqual(t,
		provablyfair.ClientSeed("g1", entries),
		provablyfair.ClientSeed("g1", []provablyfair.SeedEntry{entries[1], entries[0]}))
}

// referenceWeighted recomputes a weighted draw with big integers: accept the
// first word below floor(2^64/total)*total, trying seed, seed:1, seed:2, ...
func referenceWeighted(t *testing.T, secret, seed string, total uint64) (normalized uint64, draws int) {
	t.Helper()

	space := new(big.Int).Lsh(big.NewInt(1), 64)
	bigTotal := new(big.Int).SetUint64(total)
	limit := new(big.Int).Div(space, bigTotal)
	limit.Mul(limit, bigTotal)

	for k := 0; ; k++ {
		msg := seed
		if k > 0 {
			msg = seed + ":" + strconv.Itoa(k)
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(msg))
		word, err := strconv.ParseUint(hex.EncodeToString(mac.Sum(nil))[:16], 16, 64)
		require.NoError(t, err)

		n := new(big.Int).SetUint64(word)
		if n.Cmp(limit) < 0 {
			return n.Mod(n, bigTotal).Uint64(), k + 1
		}
	}
}

func TestDeriveWeighted_RedrawMatchesReference(t *testing.T) {
	weights := []provablyfair.Weight{
		{ParticipantID: "alice", Weight: 1 << 61},
		{ParticipantID: "bob", Weight: 1<<61 + 1},
	}
	total := uint64(1<<62 + 1)

	redrawn := 0
	for i := 0; i < 200; i++ {
		seed := fmt.Sprintf("g%d|alice::1:|bob::1:", i)

		out, err := provablyfair.DeriveWeighted(vectorSecret, seed, weights)
		require.NoError(t, err)

		wantNorm, wantDraws := referenceWeighted(t, vectorSecret, seed, total)
		assert.Equal(t, wantNorm, out.Normalized, seed)
		assert.Equal(t, wantDraws, out.Draws, seed)

		winner := "bob"
		if wantNorm < 1<<61 {
			winner = "alice"
		}
		assert.Equal(t, winner, out.WinnerID, seed)

		if out.Draws > 1 {
			redrawn++
		}
	}

	// About a quarter of the word space is rejected for this total.
	assert.Greater(t, redrawn, 10)
}
