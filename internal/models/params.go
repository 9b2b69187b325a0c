package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"pvp-casino-backend/internal/provablyfair"
)

var validate = validator.New()

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Store RPC parameters. Each is validated before it reaches the store.

type CreateGameParams struct {
	ID               string            `validate:"required"`
	Kind             provablyfair.Kind `validate:"required,oneof=binary weighted"`
	CreatorID        string            `validate:"required"`
	SecretCommitment string            `validate:"required,len=64,hexadecimal"`
	Secret           string            `validate:"required"`
	TicketPrice      int64             `validate:"gte=0"`
	MaxEntries       int               `validate:"gte=0"`
	FeeBps           int               `validate:"gte=0,lte=10000"`
	CreatedAt        time.Time         `validate:"required"`
	ExpiresAt        time.Time         `validate:"required,gtfield=CreatedAt"`
}

func (p CreateGameParams) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}
	if provablyfair.HashSecret(p.Secret) != p.SecretCommitment {
		return fmt.Errorf("%w: commitment does not match secret", ErrInvalidInput)
	}
	return nil
}

type AddEntryParams struct {
	Entry Entry
	// UniqueParticipant rejects a second entry by the same participant.
	UniqueParticipant bool
}

func (p AddEntryParams) Validate() error {
	e := p.Entry
	switch {
	case e.ID == "" || e.GameID == "" || e.ParticipantID == "":
		return fmt.Errorf("%w: entry id, game id and participant id are required", ErrInvalidInput)
	case e.Amount <= 0:
		return fmt.Errorf("%w: stake must be positive", ErrInvalidInput)
	case e.Tickets < 0:
		return fmt.Errorf("%w: negative ticket count", ErrInvalidInput)
	case e.CreatedAt.IsZero():
		return fmt.Errorf("%w: entry time is required", ErrInvalidInput)
	}
	return nil
}

type StartCountdownParams struct {
	GameID string    `validate:"required"`
	LockAt time.Time `validate:"required"`
}

func (p StartCountdownParams) Validate() error { return validateStruct(p) }

type LockGameParams struct {
	GameID string `validate:"required"`
	// ExpectedEntries guards against an entry landing between the read that
	// computed ClientSeed and the lock itself.
	ExpectedEntries int       `validate:"gte=1"`
	ClientSeed      string    `validate:"required"`
	LockedAt        time.Time `validate:"required"`
}

func (p LockGameParams) Validate() error { return validateStruct(p) }

type RecordOutcomeParams struct {
	GameID  string `validate:"required"`
	Outcome OutcomeRecord
}

func (p RecordOutcomeParams) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}
	if p.Outcome.Result == "" || p.Outcome.WinnerID == "" || len(p.Outcome.DerivationHash) != 64 {
		return fmt.Errorf("%w: incomplete outcome record", ErrInvalidInput)
	}
	return nil
}

type MarkSettledParams struct {
	GameID       string    `validate:"required"`
	PayoutAmount int64     `validate:"gte=0"`
	FeeAmount    int64     `validate:"gte=0"`
	PayoutTxID   string    `validate:"required"`
	SettledAt    time.Time `validate:"required"`
}

func (p MarkSettledParams) Validate() error { return validateStruct(p) }

type BeginCancelParams struct {
	GameID string    `validate:"required"`
	Reason string    `validate:"required,max=200"`
	At     time.Time `validate:"required"`
}

func (p BeginCancelParams) Validate() error { return validateStruct(p) }
