package models

import (
	"strings"
	"time"
)

type TransactionType string

const (
	TransactionTypeStake    TransactionType = "stake"
	TransactionTypeReversal TransactionType = "stake_reversal"
	TransactionTypePayout   TransactionType = "payout"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypeDeposit  TransactionType = "deposit"
)

type LedgerDirection string

const (
	Debit  LedgerDirection = "debit"
	Credit LedgerDirection = "credit"
)

// Idempotency keys. A key identifies one ledger movement for its lifetime.
func StakeKey(entryID string) string         { return "stake:" + entryID }
func StakeReversalKey(entryID string) string { return "stake-reversal:" + entryID }
func PayoutKey(gameID string) string         { return "payout:" + gameID }
func RefundKey(gameID, participantID string) string {
	return "refund:" + gameID + ":" + participantID
}

// TransactionTypeForKey recovers the movement type from an idempotency key.
func TransactionTypeForKey(key string) TransactionType {
	switch {
	case strings.HasPrefix(key, "stake-reversal:"):
		return TransactionTypeReversal
	case strings.HasPrefix(key, "stake:"):
		return TransactionTypeStake
	case strings.HasPrefix(key, "payout:"):
		return TransactionTypePayout
	case strings.HasPrefix(key, "refund:"):
		return TransactionTypeRefund
	default:
		return TransactionTypeDeposit
	}
}

// LedgerReceipt is returned by every ledger movement. Replayed is set when the
// idempotency key had already been applied and no money moved this time.
type LedgerReceipt struct {
	TxID           string          `json:"tx_id"`
	ParticipantID  string          `json:"participant_id"`
	Direction      LedgerDirection `json:"direction"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	IdempotencyKey string          `json:"idempotency_key"`
	Replayed       bool            `json:"replayed"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Transaction struct {
	ID             string          `json:"id" redis:"id"`
	UserID         string          `json:"user_id" redis:"user_id"`
	Type           TransactionType `json:"type" redis:"type"`
	Amount         int64           `json:"amount" redis:"amount"`
	BalanceBefore  int64           `json:"balance_before" redis:"balance_before"`
	BalanceAfter   int64           `json:"balance_after" redis:"balance_after"`
	GameID         string          `json:"game_id,omitempty" redis:"game_id"`
	IdempotencyKey string          `json:"idempotency_key" redis:"idempotency_key"`
	Description    string          `json:"description" redis:"description"`
	CreatedAt      int64           `json:"created_at" redis:"created_at"`
}

// GameIDForKey extracts the game id from payout and refund keys.
func GameIDForKey(key string) string {
	switch TransactionTypeForKey(key) {
	case TransactionTypePayout:
		return strings.TrimPrefix(key, "payout:")
	case TransactionTypeRefund:
		rest := strings.TrimPrefix(key, "refund:")
		if i := strings.Index(rest, ":"); i > 0 {
			return rest[:i]
		}
	}
	return ""
}
