package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/provablyfair"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with the simple query protocol so the store also works
// behind PgBouncer or a Supabase pooler, which reject server-side prepared
// statements.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	const op = "store.OpenPostgres"

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	db := stdlib.OpenDB(*cfg)
	db.SetConnMaxIdleTime(4 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStore{db: db}, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store.PostgresStore.Migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateGame(ctx context.Context, p models.CreateGameParams) (*models.Game, error) {
	const op = "store.PostgresStore.CreateGame"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (id, kind, state, creator_id, secret_commitment, secret,
		                   ticket_price, max_entries, fee_bps, created_at, expires_at)
		VALUES ($1, $2, 'open', $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, string(p.Kind), p.CreatorID, p.SecretCommitment, p.Secret,
		p.TicketPrice, p.MaxEntries, p.FeeBps, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w: duplicate game id %s", op, models.ErrInvalidInput, p.ID)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetGame(ctx, p.ID)
}

func (s *PostgresStore) AddEntry(ctx context.Context, p models.AddEntryParams) (*models.Game, error) {
	const op = "store.PostgresStore.AddEntry"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e := p.Entry

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	var (
		state      string
		maxEntries int
		entryCount int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT state, max_entries, entry_count FROM games WHERE id = $1 FOR UPDATE`,
		e.GameID).Scan(&state, &maxEntries, &entryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrGameNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if models.GameState(state) != models.StateOpen {
		return nil, fmt.Errorf("%s: %w", op, models.ErrGameNotOpen)
	}
	if maxEntries > 0 && entryCount >= maxEntries {
		return nil, fmt.Errorf("%s: %w", op, models.ErrGameFull)
	}
	if p.UniqueParticipant {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM game_entries WHERE game_id = $1 AND participant_id = $2)`,
			e.GameID, e.ParticipantID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if exists {
			return nil, fmt.Errorf("%s: %w", op, models.ErrAlreadyEntered)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO game_entries (id, game_id, seq, participant_id, choice, tickets, amount, player_seed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.GameID, entryCount+1, e.ParticipantID, e.Choice, e.Tickets, e.Amount, e.PlayerSeed, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: insert entry: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE games SET entry_count = entry_count + 1, total_stake = total_stake + $2 WHERE id = $1`,
		e.GameID, e.Amount)
	if err != nil {
		return nil, fmt.Errorf("%s: bump totals: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return s.GetGame(ctx, e.GameID)
}

func (s *PostgresStore) StartCountdown(ctx context.Context, p models.StartCountdownParams) (*models.Game, bool, error) {
	const op = "store.PostgresStore.StartCountdown"

	if err := p.Validate(); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE games SET lock_at = $2 WHERE id = $1 AND state = 'open' AND lock_at IS NULL`,
		p.GameID, p.LockAt)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	g, err := s.GetGame(ctx, p.GameID)
	if err != nil {
		return nil, false, err
	}
	return g, n == 1, nil
}

func (s *PostgresStore) LockGame(ctx context.Context, p models.LockGameParams) (*models.Game, error) {
	const op = "store.PostgresStore.LockGame"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.conditional(ctx, op, p.GameID, `
		UPDATE games SET state = 'locked', client_seed = $2, locked_at = $3
		WHERE id = $1 AND state = 'open' AND entry_count = $4`,
		p.GameID, p.ClientSeed, p.LockedAt, p.ExpectedEntries)
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, p models.RecordOutcomeParams) (*models.Game, error) {
	const op = "store.PostgresStore.RecordOutcome"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := json.Marshal(p.Outcome)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.conditional(ctx, op, p.GameID, `
		UPDATE games SET state = 'resolved', outcome = $2::jsonb
		WHERE id = $1 AND state = 'locked' AND outcome IS NULL`,
		p.GameID, string(raw))
}

func (s *PostgresStore) RecordPayoutFailure(ctx context.Context, gameID, reason string) (*models.Game, error) {
	return s.conditional(ctx, "store.PostgresStore.RecordPayoutFailure", gameID, `
		UPDATE games SET payout_attempts = payout_attempts + 1, payout_error = $2
		WHERE id = $1 AND state = 'resolved'`,
		gameID, reason)
}

func (s *PostgresStore) ResetPayoutAttempts(ctx context.Context, gameID string) (*models.Game, error) {
	return s.conditional(ctx, "store.PostgresStore.ResetPayoutAttempts", gameID, `
		UPDATE games SET payout_attempts = 0, payout_error = ''
		WHERE id = $1 AND state = 'resolved'`,
		gameID)
}

func (s *PostgresStore) MarkSettled(ctx context.Context, p models.MarkSettledParams) (*models.Game, error) {
	const op = "store.PostgresStore.MarkSettled"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.conditional(ctx, op, p.GameID, `
		UPDATE games SET state = 'settled', payout_amount = $2, fee_amount = $3,
		                 payout_tx_id = $4, payout_error = '', settled_at = $5
		WHERE id = $1 AND state = 'resolved'`,
		p.GameID, p.PayoutAmount, p.FeeAmount, p.PayoutTxID, p.SettledAt)
}

func (s *PostgresStore) BeginCancel(ctx context.Context, p models.BeginCancelParams) (*models.Game, error) {
	const op = "store.PostgresStore.BeginCancel"

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	g, err := s.conditional(ctx, op, p.GameID, `
		UPDATE games SET state = 'refunding', cancel_reason = $2
		WHERE id = $1 AND state IN ('open', 'locked')`,
		p.GameID, p.Reason)
	if errors.Is(err, models.ErrConcurrentTransition) {
		current, getErr := s.GetGame(ctx, p.GameID)
		if getErr == nil && current.State == models.StateRefunding {
			return current, nil
		}
	}
	return g, err
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, gameID string, at time.Time) (*models.Game, error) {
	return s.conditional(ctx, "store.PostgresStore.MarkCancelled", gameID, `
		UPDATE games SET state = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND state = 'refunding'`,
		gameID, at)
}

const gameColumns = `id, kind, state, creator_id, secret_commitment, secret, client_seed,
	ticket_price, max_entries, fee_bps, total_stake, entry_count, outcome,
	payout_amount, fee_amount, payout_tx_id, payout_attempts, payout_error, cancel_reason,
	created_at, expires_at, lock_at, locked_at, settled_at, cancelled_at`

func (s *PostgresStore) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	const op = "store.PostgresStore.GetGame"

	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, gameID)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrGameNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if g.Entries, err = s.entries(ctx, gameID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}

func (s *PostgresStore) ListActiveGames(ctx context.Context) ([]*models.Game, error) {
	return s.list(ctx, "store.PostgresStore.ListActiveGames", `
		SELECT `+gameColumns+` FROM games
		WHERE state NOT IN ('settled', 'cancelled')
		ORDER BY created_at`)
}

func (s *PostgresStore) ListSettledGames(ctx context.Context, limit int) ([]*models.Game, error) {
	return s.list(ctx, "store.PostgresStore.ListSettledGames", `
		SELECT `+gameColumns+` FROM games
		WHERE state = 'settled'
		ORDER BY settled_at DESC
		LIMIT $1`, clampLimit(limit))
}

func (s *PostgresStore) list(ctx context.Context, op, query string, args ...any) ([]*models.Game, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rows.Close()

	for _, g := range games {
		if g.Entries, err = s.entries(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return games, nil
}

func (s *PostgresStore) entries(ctx context.Context, gameID string) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, game_id, seq, participant_id, choice, tickets, amount, player_seed, created_at
		FROM game_entries WHERE game_id = $1 ORDER BY seq`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.ID, &e.GameID, &e.Seq, &e.ParticipantID, &e.Choice,
			&e.Tickets, &e.Amount, &e.PlayerSeed, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// conditional runs a guarded UPDATE. Zero affected rows means the game is
// missing or another writer moved it first.
func (s *PostgresStore) conditional(ctx context.Context, op, gameID, query string, args ...any) (*models.Game, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, gameID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !exists {
			return nil, fmt.Errorf("%s: %w", op, models.ErrGameNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, models.ErrConcurrentTransition)
	}

	return s.GetGame(ctx, gameID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (*models.Game, error) {
	var (
		g        models.Game
		kind     string
		state    string
		outcome  []byte
		lockAt   sql.NullTime
		lockedAt sql.NullTime
		settled  sql.NullTime
		cancel   sql.NullTime
	)
	err := row.Scan(&g.ID, &kind, &state, &g.CreatorID, &g.SecretCommitment, &g.Secret, &g.ClientSeed,
		&g.TicketPrice, &g.MaxEntries, &g.FeeBps, &g.TotalStake, &g.EntryCount, &outcome,
		&g.PayoutAmount, &g.FeeAmount, &g.PayoutTxID, &g.PayoutAttempts, &g.PayoutError, &g.CancelReason,
		&g.CreatedAt, &g.ExpiresAt, &lockAt, &lockedAt, &settled, &cancel)
	if err != nil {
		return nil, err
	}

	g.Kind = provablyfair.Kind(kind)
	g.State = models.GameState(state)
	g.LockAt = nullTime(lockAt)
	g.LockedAt = nullTime(lockedAt)
	g.SettledAt = nullTime(settled)
	g.CancelledAt = nullTime(cancel)

	if len(outcome) > 0 {
		var out models.OutcomeRecord
		if err := json.Unmarshal(outcome, &out); err != nil {
			return nil, fmt.Errorf("decode outcome of %s: %w", g.ID, err)
		}
		g.Outcome = &out
	}
	return &g, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
