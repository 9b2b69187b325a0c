package models

import (
	"errors"

	"pvp-casino-backend/internal/provablyfair"
)

var (
	ErrGameNotOpen          = errors.New("game is not open for entries")
	ErrGameNotFound         = errors.New("game not found")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrConcurrentTransition = errors.New("concurrent transition conflict")
	ErrPayoutFailed         = errors.New("payout failed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAlreadyEntered       = errors.New("participant already entered this game")
	ErrGameFull             = errors.New("game has no free slots")
	// ErrEntriesChanged means the entry set no longer reproduces the client
	// seed fixed at lock time.
	ErrEntriesChanged = errors.New("entry set changed after lock")

	ErrInvalidInput      = provablyfair.ErrInvalidInput
	ErrRandomUnavailable = provablyfair.ErrRandomUnavailable
)

// IsBusiness reports whether err is a business-rule rejection that must not
// be retried.
func IsBusiness(err error) bool {
	for _, target := range []error{
		ErrGameNotOpen, ErrGameNotFound, ErrInvalidTransition, ErrInsufficientFunds,
		ErrAlreadyEntered, ErrGameFull, ErrEntriesChanged, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
