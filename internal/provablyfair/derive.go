package provablyfair

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
)

type Kind string

const (
	KindBinary   Kind = "binary"
	KindWeighted Kind = "weighted"
)

func (k Kind) Valid() bool {
	return k == KindBinary || k == KindWeighted
}

type Side string

const (
	SideHeads Side = "heads"
	SideTails Side = "tails"
)

func (s Side) Valid() bool {
	return s == SideHeads || s == SideTails
}

func (s Side) Opposite() Side {
	if s == SideHeads {
		return SideTails
	}
	return SideHeads
}

// Weight is one participant's share of a weighted draw. Order matters: the
// deriver and every verifier must walk the same list in the same order.
type Weight struct {
	ParticipantID string `json:"participant_id"`
	Weight        int64  `json:"weight"`
}

type Outcome struct {
	Kind           Kind   `json:"kind"`
	DerivationHash string `json:"derivation_hash"`
	// Value is the integer read from the hash: 32 bits for binary games,
	// the accepted 64-bit word for weighted games.
	Value       uint64 `json:"value"`
	Side        Side   `json:"side,omitempty"`
	Normalized  uint64 `json:"normalized,omitempty"`
	Draws       int    `json:"draws,omitempty"`
	WinnerIndex int    `json:"winner_index"`
	WinnerID    string `json:"winner_id,omitempty"`
}

// Result is the comparable form of the outcome: the coin side for binary
// games, the winning participant id for weighted games.
func (o Outcome) Result() string {
	if o.Kind == KindBinary {
		return string(o.Side)
	}
	return o.WinnerID
}

var ErrInvalidInput = errors.New("invalid input")

const (
	binaryPrefixLen = 8
	wordHexLen      = 16
)

func Derive(secret, clientSeed string, kind Kind, weights []Weight) (Outcome, error) {
	switch kind {
	case KindBinary:
		return DeriveBinary(secret, clientSeed)
	case KindWeighted:
		return DeriveWeighted(secret, clientSeed, weights)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown game kind %q", ErrInvalidInput, kind)
	}
}

func DeriveBinary(secret, clientSeed string) (Outcome, error) {
	if err := checkSeeds(secret, clientSeed); err != nil {
		return Outcome{}, err
	}

	hash := DerivationHash(secret, clientSeed)
	n, err := strconv.ParseUint(hash[:binaryPrefixLen], 16, 32)
	if err != nil {
		return Outcome{}, fmt.Errorf("parse derivation prefix: %w", err)
	}

	side, index := SideHeads, 0
	if n%2 != 0 {
		side, index = SideTails, 1
	}

	return Outcome{
		Kind:           KindBinary,
		DerivationHash: hash,
		Value:          n,
		Side:           side,
		WinnerIndex:    index,
	}, nil
}

// DeriveWeighted draws a winner with probability proportional to weight.
// Words that fall in the biased tail of the 64-bit range are rejected and
// replaced by HMAC(secret, clientSeed:k) for k = 1, 2, ...
func DeriveWeighted(secret, clientSeed string, weights []Weight) (Outcome, error) {
	if err := checkSeeds(secret, clientSeed); err != nil {
		return Outcome{}, err
	}

	total, err := TotalWeight(weights)
	if err != nil {
		return Outcome{}, err
	}

	hash := DerivationHash(secret, clientSeed)
	n, err := strconv.ParseUint(hash[:wordHexLen], 16, 64)
	if err != nil {
		return Outcome{}, fmt.Errorf("parse derivation word: %w", err)
	}

	draws := 1
	for !unbiased(n, total) {
		extra := DerivationHash(secret, clientSeed+":"+strconv.Itoa(draws))
		n, err = strconv.ParseUint(extra[:wordHexLen], 16, 64)
		if err != nil {
			return Outcome{}, fmt.Errorf("parse derivation word: %w", err)
		}
		draws++
	}

	normalized := n % total
	index, err := PickWeighted(weights, normalized)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Kind:           KindWeighted,
		DerivationHash: hash,
		Value:          n,
		Normalized:     normalized,
		Draws:          draws,
		WinnerIndex:    index,
		WinnerID:       weights[index].ParticipantID,
	}, nil
}

// PickWeighted returns the index of the first participant whose cumulative
// weight exceeds normalized.
func PickWeighted(weights []Weight, normalized uint64) (int, error) {
	total, err := TotalWeight(weights)
	if err != nil {
		return 0, err
	}
	if normalized >= total {
		return 0, fmt.Errorf("%w: normalized value %d outside [0, %d)", ErrInvalidInput, normalized, total)
	}

	var cum uint64
	for i, w := range weights {
		cum += uint64(w.Weight)
		if normalized < cum {
			return i, nil
		}
	}

	return len(weights) - 1, nil
}

func TotalWeight(weights []Weight) (uint64, error) {
	if len(weights) == 0 {
		return 0, fmt.Errorf("%w: no participants", ErrInvalidInput)
	}

	var total int64
	for _, w := range weights {
		if w.ParticipantID == "" {
			return 0, fmt.Errorf("%w: empty participant id", ErrInvalidInput)
		}
		if w.Weight <= 0 {
			return 0, fmt.Errorf("%w: non-positive weight for %s", ErrInvalidInput, w.ParticipantID)
		}
		if total > math.MaxInt64-w.Weight {
			return 0, fmt.Errorf("%w: total weight overflows", ErrInvalidInput)
		}
		total += w.Weight
	}

	return uint64(total), nil
}

// DerivationHash is hex(HMAC-SHA256(secret, message)). The key is the secret
// text as published, not its hex-decoded bytes.
func DerivationHash(secret, message string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func checkSeeds(secret, clientSeed string) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is empty", ErrInvalidInput)
	}
	if clientSeed == "" {
		return fmt.Errorf("%w: client seed is empty", ErrInvalidInput)
	}
	return nil
}

// unbiased reports whether n lies below the largest multiple of total that
// fits in 64 bits.
func unbiased(n, total uint64) bool {
	rem := (math.MaxUint64%total + 1) % total
	return rem == 0 || n <= math.MaxUint64-rem
}
