package provablyfair

import (
	"strconv"
	"strings"
)

// SeedEntry is the part of a recorded entry that feeds the client seed.
type SeedEntry struct {
	ParticipantID string
	Choice        string
	Amount        int64
	Seed          string
}

// ClientSeed builds the canonical client seed for a frozen entry set:
// the game id followed by participant:choice:amount:seed for every entry in
// sequence order, joined with "|".
func ClientSeed(gameID string, entries []SeedEntry) string {
	var b strings.Builder
	b.WriteString(gameID)
	for _, e := range entries {
		b.WriteByte('|')
		b.WriteString(e.ParticipantID)
		b.WriteByte(':')
		b.WriteString(e.Choice)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(e.Amount, 10))
		b.WriteByte(':')
		b.WriteString(e.Seed)
	}
	return b.String()
}

// Weights collapses entries into one weight per participant, ordered by each
// participant's first entry.
func Weights(entries []SeedEntry) []Weight {
	index := make(map[string]int, len(entries))
	weights := make([]Weight, 0, len(entries))
	for _, e := range entries {
		if i, ok := index[e.ParticipantID]; ok {
			weights[i].Weight += e.Amount
			continue
		}
		index[e.ParticipantID] = len(weights)
		weights = append(weights, Weight{ParticipantID: e.ParticipantID, Weight: e.Amount})
	}
	return weights
}
