package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/config"
	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/provablyfair"
	"pvp-casino-backend/internal/store"
)

const (
	CancelReasonTimeout      = "entry timeout"
	CancelReasonCreatorEntry = "creator entry failed"

	noPayoutTxID = "no-payout"
	maxAdvance   = 8
)

type EngineConfig struct {
	EntryTimeout      time.Duration
	Countdown         time.Duration
	TicketPrice       int64
	FeeBps            int
	PayoutMaxAttempts int
	Retry             RetryPolicy
}

func EngineConfigFrom(cfg config.Game) EngineConfig {
	return EngineConfig{
		EntryTimeout:      cfg.EntryTimeout.Duration,
		Countdown:         cfg.Countdown(),
		TicketPrice:       cfg.TicketPrice,
		FeeBps:            cfg.FeeBps,
		PayoutMaxAttempts: cfg.PayoutMaxAttempts,
		Retry:             DefaultRetryPolicy(),
	}
}

// Timers arranges for a game to be advanced again at a given time.
type Timers interface {
	Schedule(gameID string, at time.Time)
}

type nopTimers struct{}

func (nopTimers) Schedule(string, time.Time) {}

// GameEngine drives games through open, locked, resolved and settled, or
// through refunding to cancelled. All state lives in the store; the engine
// holds no per-game memory, so any number of instances can run against the
// same database.
type GameEngine struct {
	log         *slog.Logger
	store       store.Store
	ledger      Ledger
	broadcaster Broadcaster
	errors      *ErrorLog
	metrics     *Metrics
	timers      Timers
	cfg         EngineConfig
	now         func() time.Time
	random      io.Reader
}

type EngineOption func(*GameEngine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *GameEngine) { e.now = now }
}

// WithRandom replaces crypto/rand as the source of game secrets.
func WithRandom(r io.Reader) EngineOption {
	return func(e *GameEngine) { e.random = r }
}

func WithBroadcaster(b Broadcaster) EngineOption {
	return func(e *GameEngine) { e.broadcaster = b }
}

func WithErrorLog(l *ErrorLog) EngineOption {
	return func(e *GameEngine) { e.errors = l }
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *GameEngine) { e.metrics = m }
}

func NewGameEngine(log *slog.Logger, st store.Store, ledger Ledger, cfg EngineConfig, opts ...EngineOption) *GameEngine {
	if cfg.PayoutMaxAttempts < 1 {
		cfg.PayoutMaxAttempts = 1
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}

	e := &GameEngine{
		log:         log,
		store:       st,
		ledger:      ledger,
		broadcaster: NopBroadcaster{},
		timers:      nopTimers{},
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.errors == nil {
		e.errors = NewErrorLog(log, DefaultErrorLogSize)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// SetTimers wires the scheduler after construction; the scheduler itself
// needs the engine.
func (e *GameEngine) SetTimers(t Timers) {
	if t == nil {
		t = nopTimers{}
	}
	e.timers = t
}

// SetBroadcaster replaces the event sink. Call it before the engine serves
// traffic; hubs that read games back through the engine are built after it.
func (e *GameEngine) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = NopBroadcaster{}
	}
	e.broadcaster = b
}

func (e *GameEngine) ErrorLog() *ErrorLog { return e.errors }
func (e *GameEngine) Metrics() *Metrics   { return e.metrics }

// CreateGame commits to a fresh secret before anything else happens, then
// places the creator's entry when the request carries a stake.
func (e *GameEngine) CreateGame(ctx context.Context, req models.NewGame) (*models.Game, error) {
	const op = "services.GameEngine.CreateGame"

	if req.CreatorID == "" || !req.Kind.Valid() {
		return nil, fmt.Errorf("%s: %w: creator and a known kind are required", op, models.ErrInvalidInput)
	}

	maxEntries := req.MaxEntries
	var creator *models.NewEntry
	switch req.Kind {
	case provablyfair.KindBinary:
		if !req.Side.Valid() || req.Stake <= 0 {
			return nil, fmt.Errorf("%s: %w: coinflip needs a side and a positive stake", op, models.ErrInvalidInput)
		}
		maxEntries = models.BinaryMaxEntries
		creator = &models.NewEntry{ParticipantID: req.CreatorID, Side: req.Side, Stake: req.Stake, Seed: req.Seed}
	case provablyfair.KindWeighted:
		if maxEntries != 0 && maxEntries < models.MinParticipants {
			return nil, fmt.Errorf("%s: %w: max entries below %d", op, models.ErrInvalidInput, models.MinParticipants)
		}
		if req.Stake > 0 || req.Tickets > 0 {
			creator = &models.NewEntry{ParticipantID: req.CreatorID, Stake: req.Stake, Tickets: req.Tickets, Seed: req.Seed}
		}
	}

	var (
		commitment provablyfair.Commitment
		err        error
	)
	if e.random != nil {
		commitment, err = provablyfair.GenerateCommitmentFrom(e.random)
	} else {
		commitment, err = provablyfair.GenerateCommitment()
	}
	if err != nil {
		e.errors.Record(op, "", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := e.now()
	params := models.CreateGameParams{
		ID:               models.GenerateGameID(),
		Kind:             req.Kind,
		CreatorID:        req.CreatorID,
		SecretCommitment: commitment.Hash,
		Secret:           commitment.Secret,
		MaxEntries:       maxEntries,
		FeeBps:           e.cfg.FeeBps,
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.cfg.EntryTimeout),
	}
	if req.Kind == provablyfair.KindWeighted {
		params.TicketPrice = e.cfg.TicketPrice
	}

	g, err := e.store.CreateGame(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.metrics.GamesCreated.Inc(1)
	e.publish(models.EventGameCreated, g)
	e.timers.Schedule(g.ID, g.ExpiresAt)

	e.log.Info("game created", sl.Op(op), sl.Game(g.ID),
		slog.String("kind", string(g.Kind)), slog.String("commitment", g.SecretCommitment))

	if creator == nil {
		return g, nil
	}

	g, err = e.AddEntry(ctx, g.ID, *creator)
	if err != nil {
		if _, cerr := e.Cancel(ctx, params.ID, CancelReasonCreatorEntry); cerr != nil {
			e.errors.Record(op, params.ID, cerr)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return g, nil
}

// AddEntry collects the stake and records the entry. The debit happens
// first; if the store then refuses the entry the stake is credited back.
func (e *GameEngine) AddEntry(ctx context.Context, gameID string, in models.NewEntry) (*models.Game, error) {
	const op = "services.GameEngine.AddEntry"

	if in.ParticipantID == "" {
		return nil, fmt.Errorf("%s: %w: participant is required", op, models.ErrInvalidInput)
	}

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if g.State != models.StateOpen {
		return nil, fmt.Errorf("%s: %w", op, models.ErrGameNotOpen)
	}

	entry := models.Entry{
		ID:            models.GenerateEntryID(),
		GameID:        g.ID,
		ParticipantID: in.ParticipantID,
		PlayerSeed:    in.Seed,
		CreatedAt:     e.now(),
	}

	switch g.Kind {
	case provablyfair.KindBinary:
		if err := e.binaryEntry(g, in, &entry); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case provablyfair.KindWeighted:
		if err := e.weightedEntry(g, in, &entry); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	g, err = e.placeEntry(ctx, g, entry)
	if err != nil {
		e.metrics.EntriesRefused.Inc(1)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// The entry stands even if the game cannot move on yet; the sweeper or a
	// payout retry picks it up from the stored state.
	advanced, err := e.Advance(ctx, g.ID)
	if err != nil {
		e.log.Warn("advance after entry failed", sl.Op(op), sl.Game(g.ID), sl.Err(err))
		if current, gerr := e.store.GetGame(ctx, g.ID); gerr == nil {
			return current, nil
		}
		return g, nil
	}
	return advanced, nil
}

func (e *GameEngine) binaryEntry(g *models.Game, in models.NewEntry, entry *models.Entry) error {
	if len(g.Entries) == 0 {
		if in.ParticipantID != g.CreatorID || !in.Side.Valid() || in.Stake <= 0 {
			return fmt.Errorf("%w: the creator opens a coinflip with a side and a stake", models.ErrInvalidInput)
		}
		entry.Choice = string(in.Side)
		entry.Amount = in.Stake
		return nil
	}

	if g.HasParticipant(in.ParticipantID) {
		return models.ErrAlreadyEntered
	}
	if g.Full() {
		return models.ErrGameFull
	}

	creator := g.Entries[0]
	side := provablyfair.Side(creator.Choice).Opposite()
	if in.Side != "" && in.Side != side {
		return fmt.Errorf("%w: side %s is taken", models.ErrInvalidInput, in.Side)
	}
	if in.Stake != 0 && in.Stake != creator.Amount {
		return fmt.Errorf("%w: stake must match %s", models.ErrInvalidInput, models.FormatCurrency(creator.Amount))
	}

	entry.Choice = string(side)
	entry.Amount = creator.Amount
	return nil
}

func (e *GameEngine) weightedEntry(g *models.Game, in models.NewEntry, entry *models.Entry) error {
	if g.Full() {
		return models.ErrGameFull
	}

	switch {
	case g.TicketPrice > 0 && in.Tickets > 0:
		entry.Tickets = in.Tickets
		entry.Amount = int64(in.Tickets) * g.TicketPrice
		if in.Stake != 0 && in.Stake != entry.Amount {
			return fmt.Errorf("%w: stake does not match %d tickets", models.ErrInvalidInput, in.Tickets)
		}
	case g.TicketPrice > 0 && in.Stake > 0:
		if in.Stake%g.TicketPrice != 0 {
			return fmt.Errorf("%w: stake must be a multiple of the ticket price %s",
				models.ErrInvalidInput, models.FormatCurrency(g.TicketPrice))
		}
		entry.Tickets = int(in.Stake / g.TicketPrice)
		entry.Amount = in.Stake
	case g.TicketPrice == 0 && in.Stake > 0:
		entry.Amount = in.Stake
	default:
		return fmt.Errorf("%w: a positive stake or ticket count is required", models.ErrInvalidInput)
	}
	return nil
}

func (e *GameEngine) placeEntry(ctx context.Context, g *models.Game, entry models.Entry) (*models.Game, error) {
	const op = "services.GameEngine.placeEntry"

	log := e.log.With(sl.Op(op), sl.Game(g.ID), sl.Participant(entry.ParticipantID))

	err := Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		_, err := e.ledger.Debit(ctx, entry.ParticipantID, entry.Amount, models.StakeKey(entry.ID))
		return err
	})
	if err != nil {
		return nil, err
	}

	updated, err := e.store.AddEntry(ctx, models.AddEntryParams{
		Entry:             entry,
		UniqueParticipant: g.Kind == provablyfair.KindBinary,
	})
	if err != nil {
		rerr := Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
			_, err := e.ledger.Credit(ctx, entry.ParticipantID, entry.Amount, models.StakeReversalKey(entry.ID))
			return err
		})
		if rerr != nil {
			e.errors.Record(op, g.ID, fmt.Errorf("stake reversal for entry %s: %w", entry.ID, rerr))
		} else {
			log.Info("stake reversed", slog.String("entry_id", entry.ID), sl.Err(err))
		}
		return nil, err
	}

	e.metrics.EntriesAdded.Inc(1)
	e.publish(models.EventEntryAdded, updated)
	log.Info("entry placed", slog.String("entry_id", entry.ID), slog.Int64("amount", entry.Amount))

	return updated, nil
}

// Lock freezes the entry set and fixes the client seed. The store guards the
// transition with the entry count this call observed, so an entry landing in
// between makes the lock fail instead of being left out of the seed.
func (e *GameEngine) Lock(ctx context.Context, gameID string) (*models.Game, error) {
	const op = "services.GameEngine.Lock"

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch g.State {
	case models.StateOpen:
	case models.StateLocked, models.StateResolved, models.StateSettled:
		return g, nil
	default:
		return nil, fmt.Errorf("%s: %w: game is %s", op, models.ErrInvalidTransition, g.State)
	}
	if g.UniqueParticipants() < models.MinParticipants {
		return nil, fmt.Errorf("%s: %w: need %d participants", op, models.ErrInvalidTransition, models.MinParticipants)
	}

	locked, err := e.store.LockGame(ctx, models.LockGameParams{
		GameID:          g.ID,
		ExpectedEntries: g.EntryCount,
		ClientSeed:      provablyfair.ClientSeed(g.ID, g.SeedEntries()),
		LockedAt:        e.now(),
	})
	if errors.Is(err, models.ErrConcurrentTransition) {
		current, gerr := e.store.GetGame(ctx, gameID)
		if gerr == nil && current.State != models.StateOpen && current.State != models.StateRefunding &&
			current.State != models.StateCancelled {
			return current, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.metrics.GamesLocked.Inc(1)
	e.publish(models.EventGameLocked, locked)
	e.log.Info("game locked", sl.Op(op), sl.Game(g.ID), slog.Int("entries", locked.EntryCount))

	return locked, nil
}

// Resolve derives the outcome of a locked game exactly once. Callers that
// lose the race get the record written by the winner.
func (e *GameEngine) Resolve(ctx context.Context, gameID string) (*models.Game, error) {
	const op = "services.GameEngine.Resolve"

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch g.State {
	case models.StateLocked:
	case models.StateResolved, models.StateSettled:
		return g, nil
	default:
		return nil, fmt.Errorf("%s: %w: game is %s", op, models.ErrInvalidTransition, g.State)
	}

	if err := g.CheckStake(); err != nil {
		err = fmt.Errorf("%w: %v", models.ErrEntriesChanged, err)
		e.errors.Record(op, g.ID, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if seed := provablyfair.ClientSeed(g.ID, g.SeedEntries()); seed != g.ClientSeed {
		e.errors.Record(op, g.ID, models.ErrEntriesChanged)
		return nil, fmt.Errorf("%s: %w", op, models.ErrEntriesChanged)
	}

	out, err := provablyfair.Derive(g.Secret, g.ClientSeed, g.Kind, g.Stakes())
	if err != nil {
		e.errors.Record(op, g.ID, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	record := models.OutcomeRecord{
		Result:         out.Result(),
		WinnerID:       out.WinnerID,
		WinnerIndex:    out.WinnerIndex,
		DerivationHash: out.DerivationHash,
		Value:          out.Value,
		Normalized:     out.Normalized,
		Draws:          out.Draws,
		ResolvedAt:     e.now(),
	}
	if g.Kind == provablyfair.KindBinary {
		record.WinnerIndex = -1
		for i, entry := range g.Entries {
			if entry.Choice == string(out.Side) {
				record.WinnerIndex = i
				record.WinnerID = entry.ParticipantID
				break
			}
		}
		if record.WinnerIndex < 0 {
			err := fmt.Errorf("%w: no entry holds side %s", models.ErrInvalidTransition, out.Side)
			e.errors.Record(op, g.ID, err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	resolved, err := e.store.RecordOutcome(ctx, models.RecordOutcomeParams{GameID: g.ID, Outcome: record})
	if errors.Is(err, models.ErrConcurrentTransition) {
		current, gerr := e.store.GetGame(ctx, gameID)
		if gerr == nil && (current.State == models.StateResolved || current.State == models.StateSettled) {
			return current, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.metrics.GamesResolved.Inc(1)
	e.publish(models.EventGameResolved, resolved)
	e.log.Info("game resolved", sl.Op(op), sl.Game(g.ID),
		slog.String("result", record.Result), slog.String("winner", record.WinnerID))

	return resolved, nil
}

// Settle credits the pool less the fee to the winner. A failed payout is
// recorded on the game and leaves it resolved for a later retry.
func (e *GameEngine) Settle(ctx context.Context, gameID string) (*models.Game, error) {
	const op = "services.GameEngine.Settle"

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch g.State {
	case models.StateResolved:
	case models.StateSettled:
		return g, nil
	default:
		return nil, fmt.Errorf("%s: %w: game is %s", op, models.ErrInvalidTransition, g.State)
	}

	payout, fee := g.Payout()
	winner := g.WinnerID()
	txID := noPayoutTxID

	if payout > 0 {
		err = Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
			receipt, err := e.ledger.Credit(ctx, winner, payout, models.PayoutKey(g.ID))
			if err != nil {
				return err
			}
			txID = receipt.TxID
			return nil
		})
		if err != nil {
			return nil, e.payoutFailed(ctx, op, g, err)
		}
	}

	settled, err := e.store.MarkSettled(ctx, models.MarkSettledParams{
		GameID:       g.ID,
		PayoutAmount: payout,
		FeeAmount:    fee,
		PayoutTxID:   txID,
		SettledAt:    e.now(),
	})
	if errors.Is(err, models.ErrConcurrentTransition) {
		current, gerr := e.store.GetGame(ctx, gameID)
		if gerr == nil && current.State == models.StateSettled {
			return current, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.metrics.GamesSettled.Inc(1)
	e.metrics.Pool.Update(settled.TotalStake)
	if settled.Outcome != nil && settled.SettledAt != nil {
		e.metrics.SettleLatency.Update(settled.SettledAt.Sub(settled.Outcome.ResolvedAt))
	}
	e.publish(models.EventGameSettled, settled)
	e.log.Info("game settled", sl.Op(op), sl.Game(g.ID), sl.Participant(winner),
		slog.Int64("payout", payout), slog.Int64("fee", fee))

	return settled, nil
}

func (e *GameEngine) payoutFailed(ctx context.Context, op string, g *models.Game, cause error) error {
	e.metrics.PayoutFailures.Inc(1)
	e.errors.Record(op, g.ID, fmt.Errorf("payout to %s: %w", g.WinnerID(), cause))

	failed, err := e.store.RecordPayoutFailure(ctx, g.ID, cause.Error())
	if err != nil {
		e.log.Error("failed to record payout failure", sl.Op(op), sl.Game(g.ID), sl.Err(err))
		failed = g
	}
	e.publish(models.EventPayoutPending, failed)

	return fmt.Errorf("%s: %w", op, models.ErrPayoutFailed)
}

// RetryPayout clears the attempt counter of a game whose payout kept
// failing and tries to settle it again.
func (e *GameEngine) RetryPayout(ctx context.Context, gameID string) (*models.Game, error) {
	const op = "services.GameEngine.RetryPayout"

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if g.State == models.StateSettled {
		return g, nil
	}
	if g.State != models.StateResolved {
		return nil, fmt.Errorf("%s: %w: game is %s", op, models.ErrInvalidTransition, g.State)
	}

	if _, err := e.store.ResetPayoutAttempts(ctx, gameID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.log.Info("payout retry requested", sl.Op(op), sl.Game(gameID))

	return e.Settle(ctx, gameID)
}

// Cancel refunds every participant's stake once and then marks the game
// cancelled. A failed refund leaves the game refunding; calling Cancel
// again resumes with the remaining refunds.
func (e *GameEngine) Cancel(ctx context.Context, gameID, reason string) (*models.Game, error) {
	const op = "services.GameEngine.Cancel"

	if reason == "" {
		reason = "cancelled"
	}

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if g.State == models.StateCancelled {
		return g, nil
	}
	if !g.State.Cancellable() {
		return nil, fmt.Errorf("%s: %w: game is %s", op, models.ErrInvalidTransition, g.State)
	}

	g, err = e.store.BeginCancel(ctx, models.BeginCancelParams{GameID: gameID, Reason: reason, At: e.now()})
	if errors.Is(err, models.ErrConcurrentTransition) {
		current, gerr := e.store.GetGame(ctx, gameID)
		if gerr == nil && current.State == models.StateCancelled {
			return current, nil
		}
		return nil, fmt.Errorf("%s: %w: game moved on before cancel", op, models.ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, stake := range g.Stakes() {
		err := Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
			_, err := e.ledger.Credit(ctx, stake.ParticipantID, stake.Weight, models.RefundKey(g.ID, stake.ParticipantID))
			return err
		})
		if err != nil {
			err = fmt.Errorf("refund to %s: %w", stake.ParticipantID, err)
			e.errors.Record(op, g.ID, err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		e.metrics.Refunds.Inc(1)
	}

	cancelled, err := e.store.MarkCancelled(ctx, gameID, e.now())
	if errors.Is(err, models.ErrConcurrentTransition) {
		current, gerr := e.store.GetGame(ctx, gameID)
		if gerr == nil && current.State == models.StateCancelled {
			return current, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.metrics.GamesCancelled.Inc(1)
	e.publish(models.EventGameCancelled, cancelled)
	e.log.Info("game cancelled", sl.Op(op), sl.Game(gameID), slog.String("reason", cancelled.CancelReason))

	return cancelled, nil
}

// Advance moves a game as far as its current state and the clock allow.
// Request handlers, timers and the sweeper all go through here.
func (e *GameEngine) Advance(ctx context.Context, gameID string) (*models.Game, error) {
	const op = "services.GameEngine.Advance"

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for step := 0; step < maxAdvance; step++ {
		var next *models.Game

		switch g.State {
		case models.StateSettled, models.StateCancelled:
			return g, nil

		case models.StateOpen:
			var wait bool
			next, wait, err = e.advanceOpen(ctx, g)
			if wait {
				return next, err
			}

		case models.StateLocked:
			next, err = e.Resolve(ctx, gameID)

		case models.StateResolved:
			if g.PayoutAttempts >= e.cfg.PayoutMaxAttempts {
				return g, nil
			}
			next, err = e.Settle(ctx, gameID)

		case models.StateRefunding:
			next, err = e.Cancel(ctx, gameID, g.CancelReason)
		}

		if errors.Is(err, models.ErrConcurrentTransition) {
			next, err = e.store.GetGame(ctx, gameID)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		g = next
	}

	return g, nil
}

// advanceOpen applies the trigger conditions of an open game. wait is true
// when nothing more can happen until a later entry or timer.
func (e *GameEngine) advanceOpen(ctx context.Context, g *models.Game) (*models.Game, bool, error) {
	now := e.now()

	if g.UniqueParticipants() < models.MinParticipants {
		if now.Before(g.ExpiresAt) {
			return g, true, nil
		}
		next, err := e.Cancel(ctx, g.ID, CancelReasonTimeout)
		return next, err != nil, err
	}

	if g.Kind == provablyfair.KindWeighted && !g.Full() {
		if g.LockAt == nil {
			lockAt := now.Add(e.cfg.Countdown)
			next, started, err := e.store.StartCountdown(ctx, models.StartCountdownParams{GameID: g.ID, LockAt: lockAt})
			if err != nil {
				return nil, true, err
			}
			if started {
				e.publish(models.EventCountdownStarted, next)
				e.timers.Schedule(next.ID, *next.LockAt)
				e.log.Info("countdown started", sl.Game(next.ID), slog.Time("lock_at", *next.LockAt))
			}
			g = next
		}
		if g.State != models.StateOpen || g.LockAt == nil {
			return g, false, nil
		}
		if now.Before(*g.LockAt) {
			return g, true, nil
		}
	}

	next, err := e.Lock(ctx, g.ID)
	return next, false, err
}

// Sweep advances every unfinished game and reports how many it touched.
// Games whose payout attempts are exhausted wait for RetryPayout.
func (e *GameEngine) Sweep(ctx context.Context) (int, error) {
	const op = "services.GameEngine.Sweep"

	games, err := e.store.ListActiveGames(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var (
		errs     []error
		advanced int
	)
	for _, g := range games {
		if ctx.Err() != nil {
			break
		}
		if g.State == models.StateResolved && g.PayoutAttempts >= e.cfg.PayoutMaxAttempts {
			continue
		}
		if _, err := e.Advance(ctx, g.ID); err != nil {
			e.log.Warn("sweep could not advance game", sl.Op(op), sl.Game(g.ID), sl.Err(err))
			errs = append(errs, err)
			continue
		}
		advanced++
	}

	return advanced, errors.Join(errs...)
}

// VerifyGame checks a settled game against its own stored record.
func (e *GameEngine) VerifyGame(ctx context.Context, gameID string) (*provablyfair.VerificationResult, error) {
	const op = "services.GameEngine.VerifyGame"

	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if g.State != models.StateSettled {
		return nil, fmt.Errorf("%s: %w: game is not settled", op, models.ErrInvalidTransition)
	}

	res := provablyfair.Verify(g.VerifyInput())
	if !res.Valid {
		e.errors.Record(op, g.ID, fmt.Errorf("self-verification failed: %s %s", res.Reason, res.Detail))
	}
	return &res, nil
}

func (e *GameEngine) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("services.GameEngine.GetGame: %w", err)
	}
	return g, nil
}

func (e *GameEngine) ListActive(ctx context.Context) ([]*models.Game, error) {
	games, err := e.store.ListActiveGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("services.GameEngine.ListActive: %w", err)
	}
	return games, nil
}

func (e *GameEngine) History(ctx context.Context, limit int) ([]*models.Game, error) {
	games, err := e.store.ListSettledGames(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("services.GameEngine.History: %w", err)
	}
	return games, nil
}

func (e *GameEngine) publish(t models.EventType, g *models.Game) {
	if g == nil {
		return
	}
	e.broadcaster.Broadcast(models.NewGameEvent(t, g, e.now()))
}
