package sl

import (
	"context"

	"golang.org/x/exp/slog"
)

func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

func Op(op string) slog.Attr {
	return slog.String("op", op)
}

func Game(gameID string) slog.Attr {
	return slog.String("game_id", gameID)
}

func Participant(participantID string) slog.Attr {
	return slog.String("participant_id", participantID)
}

// Discard returns a logger that drops every record; tests use it when log
// output is irrelevant.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
