package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/config"
	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/models"
)

// RedisService is the Redis-backed wallet ledger. It also carries the
// per-user rate limits and the transaction journal.
type RedisService struct {
	client          *redis.Client
	log             *slog.Logger
	startingBalance int64
}

func NewRedisService(ctx context.Context, cfg *config.Config, log *slog.Logger) (*RedisService, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if strings.HasPrefix(cfg.RedisURL, "redis://") || strings.HasPrefix(cfg.RedisURL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = parsed
		if cfg.RedisPassword != "" {
			opts.Password = cfg.RedisPassword
		}
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisServiceFromClient(client, log), nil
}

func NewRedisServiceFromClient(client *redis.Client, log *slog.Logger) *RedisService {
	return &RedisService{
		client:          client,
		log:             log,
		startingBalance: DefaultStartingBalance,
	}
}

func (s *RedisService) Client() *redis.Client {
	return s.client
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

// ledgerScript applies one wallet movement and records its idempotency key
// in the same atomic step. A replayed key returns the stored receipt.
var ledgerScript = redis.NewScript(`
	local wallet = KEYS[1]
	local idem = KEYS[2]
	local direction = ARGV[1]
	local amount = tonumber(ARGV[2])
	local txid = ARGV[3]
	local starting = tonumber(ARGV[4])
	local ttl = tonumber(ARGV[5])
	local kind = ARGV[6]

	local prior = redis.call("HMGET", idem, "tx_id", "before", "after")
	if prior[1] then
		return {1, prior[1], tonumber(prior[2]), tonumber(prior[3])}
	end

	if redis.call("EXISTS", wallet) == 0 then
		redis.call("HSET", wallet, "balance", starting, "total_wagered", 0, "total_won", 0)
	end

	local before = tonumber(redis.call("HGET", wallet, "balance"))
	local after
	if direction == "debit" then
		if before < amount then
			return redis.error_reply("INSUFFICIENT_FUNDS")
		end
		after = redis.call("HINCRBY", wallet, "balance", -amount)
		if kind == "stake" then
			redis.call("HINCRBY", wallet, "total_wagered", amount)
		end
	else
		after = redis.call("HINCRBY", wallet, "balance", amount)
		if kind == "payout" then
			redis.call("HINCRBY", wallet, "total_won", amount)
		elseif kind == "refund" or kind == "stake_reversal" then
			redis.call("HINCRBY", wallet, "total_wagered", -amount)
		end
	end

	redis.call("HSET", idem, "tx_id", txid, "before", before, "after", after)
	redis.call("EXPIRE", idem, ttl)

	return {0, txid, before, after}
`)

func (s *RedisService) Debit(ctx context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error) {
	return s.move(ctx, "services.RedisService.Debit", models.Debit, participantID, amount, key)
}

func (s *RedisService) Credit(ctx context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error) {
	return s.move(ctx, "services.RedisService.Credit", models.Credit, participantID, amount, key)
}

func (s *RedisService) move(ctx context.Context, op string, dir models.LedgerDirection,
	participantID string, amount int64, key string) (*models.LedgerReceipt, error) {
	if participantID == "" || amount <= 0 || key == "" {
		return nil, fmt.Errorf("%s: %w: participant, positive amount and key are required", op, models.ErrInvalidInput)
	}

	txType := models.TransactionTypeForKey(key)
	res, err := ledgerScript.Run(ctx, s.client,
		[]string{fmt.Sprintf(KeyWallet, participantID), fmt.Sprintf(KeyLedgerIdempotent, key)},
		string(dir), amount, models.GenerateTransactionID(), s.startingBalance,
		int64(TTLIdempotency.Seconds()), string(txType),
	).Slice()
	if err != nil {
		if strings.Contains(err.Error(), "INSUFFICIENT_FUNDS") {
			return nil, fmt.Errorf("%s: %w", op, models.ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("%s: unexpected script reply %v", op, res)
	}

	replayed, _ := res[0].(int64)
	txID, _ := res[1].(string)
	before, _ := res[2].(int64)
	after, _ := res[3].(int64)

	receipt := &models.LedgerReceipt{
		TxID:           txID,
		ParticipantID:  participantID,
		Direction:      dir,
		Amount:         amount,
		BalanceAfter:   after,
		IdempotencyKey: key,
		Replayed:       replayed == 1,
		CreatedAt:      time.Now(),
	}

	if !receipt.Replayed {
		tx := &models.Transaction{
			ID:             txID,
			UserID:         participantID,
			Type:           txType,
			Amount:         amount,
			BalanceBefore:  before,
			BalanceAfter:   after,
			GameID:         models.GameIDForKey(key),
			IdempotencyKey: key,
			Description:    fmt.Sprintf("%s %s", dir, models.FormatCurrency(amount)),
			CreatedAt:      receipt.CreatedAt.Unix(),
		}
		if err := s.SaveTransaction(ctx, tx); err != nil {
			s.log.Warn("failed to journal transaction", sl.Op(op), slog.String("tx_id", txID), sl.Err(err))
		}
	}

	return receipt, nil
}

func (s *RedisService) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	key := fmt.Sprintf(KeyWallet, userID)

	cmd := s.client.HGetAll(ctx, key)
	fields, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	wallet := &models.Wallet{UserID: userID, Balance: s.startingBalance}
	if len(fields) == 0 {
		return wallet, nil
	}
	if err := cmd.Scan(wallet); err != nil {
		return nil, fmt.Errorf("failed to decode wallet: %w", err)
	}
	wallet.UserID = userID

	return wallet, nil
}

func (s *RedisService) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	userTxKey := fmt.Sprintf(KeyUserTransactions, tx.UserID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyTransaction, tx.ID), data, TTLTransaction)
	pipe.ZAdd(ctx, userTxKey, redis.Z{Score: float64(tx.CreatedAt), Member: tx.ID})
	pipe.ZRemRangeByRank(ctx, userTxKey, 0, -(MaxUserTransactions + 1))
	pipe.Expire(ctx, userTxKey, TTLTransaction)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *RedisService) GetUserTransactions(ctx context.Context, userID string, limit int64) ([]*models.Transaction, error) {
	if limit <= 0 || limit > MaxUserTransactions {
		limit = 50
	}

	txIDs, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserTransactions, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction IDs: %w", err)
	}
	if len(txIDs) == 0 {
		return []*models.Transaction{}, nil
	}

	keys := make([]string, len(txIDs))
	for i, id := range txIDs {
		keys[i] = fmt.Sprintf(KeyTransaction, id)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}

	transactions := make([]*models.Transaction, 0, len(raw))
	for _, v := range raw {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var tx models.Transaction
		if err := json.Unmarshal([]byte(data), &tx); err != nil {
			continue
		}
		transactions = append(transactions, &tx)
	}

	return transactions, nil
}

// CheckRateLimit is a fixed-window counter: the first hit in a window sets
// its expiry.
func (s *RedisService) CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

func (s *RedisService) ClearRateLimit(ctx context.Context, userID, action string) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyRateLimit, userID, action)).Err()
}

func (s *RedisService) DeleteWallet(ctx context.Context, userID string) error {
	err := s.client.Del(ctx, fmt.Sprintf(KeyWallet, userID), fmt.Sprintf(KeyUserTransactions, userID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
