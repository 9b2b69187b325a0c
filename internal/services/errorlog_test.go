package services_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/services"
)

func TestErrorLog_KeepsNewest(t *testing.T) {
	l := services.NewErrorLog(sl.Discard(), 3)

	assert.Empty(t, l.Recent())
	l.Record("op", "game_0", nil)
	assert.Zero(t, l.Len())

	for i := 1; i <= 5; i++ {
		l.Record("services.test", fmt.Sprintf("game_%d", i), errors.New("boom"))
	}

	recent := l.Recent()
	assert.Equal(t, 3, l.Len())
	if assert.Len(t, recent, 3) {
		assert.Equal(t, "game_5", recent[0].GameID)
		assert.Equal(t, "game_4", recent[1].GameID)
		assert.Equal(t, "game_3", recent[2].GameID)
		assert.Equal(t, "boom", recent[0].Message)
	}
}

func TestErrorLog_DefaultSize(t *testing.T) {
	l := services.NewErrorLog(sl.Discard(), 0)
	for i := 0; i < services.DefaultErrorLogSize+10; i++ {
		l.Record("op", "", errors.New("x"))
	}
	assert.Equal(t, services.DefaultErrorLogSize, l.Len())
}
