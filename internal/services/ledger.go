package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pvp-casino-backend/internal/models"
)

// Ledger moves money for stakes, payouts and refunds. Both calls must be
// idempotent per key: replaying a key returns the original receipt with
// Replayed set and moves nothing.
type Ledger interface {
	Debit(ctx context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error)
	Credit(ctx context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error)
}

// MemoryLedger is an in-process wallet for local runs and tests. Unknown
// participants start with StartingBalance.
type MemoryLedger struct {
	mu              sync.Mutex
	StartingBalance int64
	balances        map[string]int64
	receipts        map[string]*models.LedgerReceipt
	journal         []models.LedgerReceipt
}

func NewMemoryLedger(startingBalance int64) *MemoryLedger {
	return &MemoryLedger{
		StartingBalance: startingBalance,
		balances:        make(map[string]int64),
		receipts:        make(map[string]*models.LedgerReceipt),
	}
}

func (l *MemoryLedger) Debit(_ context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error) {
	return l.apply(participantID, -amount, key)
}

func (l *MemoryLedger) Credit(_ context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error) {
	return l.apply(participantID, amount, key)
}

func (l *MemoryLedger) apply(participantID string, delta int64, key string) (*models.LedgerReceipt, error) {
	if delta == 0 || key == "" {
		return nil, fmt.Errorf("services.MemoryLedger: %w: amount and key are required", models.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.receipts[key]; ok {
		replay := *r
		replay.Replayed = true
		return &replay, nil
	}

	balance := l.balanceLocked(participantID)
	if balance+delta < 0 {
		return nil, fmt.Errorf("services.MemoryLedger: %w", models.ErrInsufficientFunds)
	}
	l.balances[participantID] = balance + delta

	dir, amount := models.Credit, delta
	if delta < 0 {
		dir, amount = models.Debit, -delta
	}
	r := &models.LedgerReceipt{
		TxID:           models.GenerateTransactionID(),
		ParticipantID:  participantID,
		Direction:      dir,
		Amount:         amount,
		BalanceAfter:   balance + delta,
		IdempotencyKey: key,
		CreatedAt:      time.Now(),
	}
	l.receipts[key] = r
	l.journal = append(l.journal, *r)

	out := *r
	return &out, nil
}

func (l *MemoryLedger) Balance(participantID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(participantID)
}

func (l *MemoryLedger) balanceLocked(participantID string) int64 {
	b, ok := l.balances[participantID]
	if !ok {
		return l.StartingBalance
	}
	return b
}

// Journal returns every applied (non-replayed) movement in order.
func (l *MemoryLedger) Journal() []models.LedgerReceipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.LedgerReceipt(nil), l.journal...)
}

func (l *MemoryLedger) GetWallet(_ context.Context, participantID string) (*models.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := &models.Wallet{UserID: participantID, Balance: l.balanceLocked(participantID)}
	for _, r := range l.journal {
		if r.ParticipantID != participantID {
			continue
		}
		switch models.TransactionTypeForKey(r.IdempotencyKey) {
		case models.TransactionTypeStake:
			w.TotalWagered += r.Amount
		case models.TransactionTypeRefund, models.TransactionTypeReversal:
			w.TotalWagered -= r.Amount
		case models.TransactionTypePayout:
			w.TotalWon += r.Amount
		}
	}
	return w, nil
}
