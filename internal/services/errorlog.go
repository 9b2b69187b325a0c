package services

import (
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/lib/logger/sl"
)

const DefaultErrorLogSize = 50

type ErrorRecord struct {
	Op      string    `json:"op"`
	GameID  string    `json:"game_id,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ErrorLog keeps the most recent operational failures for the admin
// endpoint. The oldest record is dropped once the buffer is full.
type ErrorLog struct {
	mu      sync.Mutex
	log     *slog.Logger
	records []ErrorRecord
	next    int
	full    bool
}

func NewErrorLog(log *slog.Logger, size int) *ErrorLog {
	if size <= 0 {
		size = DefaultErrorLogSize
	}
	return &ErrorLog{
		log:     log,
		records: make([]ErrorRecord, size),
	}
}

func (l *ErrorLog) Record(op, gameID string, err error) {
	if err == nil {
		return
	}

	l.log.Error("operation failed", sl.Op(op), sl.Game(gameID), sl.Err(err))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[l.next] = ErrorRecord{Op: op, GameID: gameID, Message: err.Error(), At: time.Now()}
	l.next = (l.next + 1) % len(l.records)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns the buffered records, newest first.
func (l *ErrorLog) Recent() []ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.records)
	}

	out := make([]ErrorRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.records)) % len(l.records)
		out = append(out, l.records[idx])
	}
	return out
}

func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.full {
		return len(l.records)
	}
	return l.next
}
