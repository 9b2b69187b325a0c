package services

import "time"

const (
	KeyWallet           = "wallet:%s"
	KeyLedgerIdempotent = "ledger:idem:%s"
	KeyTransaction      = "transaction:%s"
	KeyUserTransactions = "user:%s:transactions"
	KeyRateLimit        = "ratelimit:%s:%s"

	ChannelGameEvents = "pvp:game_events"

	TTLTransaction = 30 * 24 * time.Hour // 30 days
	TTLIdempotency = 30 * 24 * time.Hour

	DefaultStartingBalance = 10000 // $100.00 in cents
	MaxUserTransactions    = 100

	ActionEntry             = "entry"
	ActionCreate            = "create"
	DefaultRateLimitEntries = 30 // per minute
)
