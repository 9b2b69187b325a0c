package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/services"
)

type fakeTrigger struct {
	mu       sync.Mutex
	channels []string
	fail     bool
}

func (f *fakeTrigger) Trigger(channel string, eventName string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel+"/"+eventName)
	if f.fail {
		return errors.New("pusher down")
	}
	return nil
}

func (f *fakeTrigger) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.channels...)
}

func TestPusherBroadcaster(t *testing.T) {
	trigger := &fakeTrigger{}
	p := services.NewPusherBroadcaster(sl.Discard(), trigger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Broadcast(models.GameEvent{Type: models.EventGameCreated, GameID: "g1", At: time.Now()})

	require.Eventually(t, func() bool { return len(trigger.calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		services.PusherGameChannel("g1") + "/game_created",
		services.PusherLobbyChannel + "/game_created",
	}, trigger.calls())
}

func TestPusherBroadcaster_FailureDoesNotStopDelivery(t *testing.T) {
	trigger := &fakeTrigger{fail: true}
	p := services.NewPusherBroadcaster(sl.Discard(), trigger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Broadcast(models.GameEvent{Type: models.EventGameLocked, GameID: "g1"})
	p.Broadcast(models.GameEvent{Type: models.EventGameResolved, GameID: "g1"})

	require.Eventually(t, func() bool { return len(trigger.calls()) == 4 }, time.Second, 5*time.Millisecond)
}

func TestMultiBroadcaster(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := services.MultiBroadcaster{a, nil, b, services.NopBroadcaster{}}

	m.Broadcast(models.GameEvent{Type: models.EventGameSettled, GameID: "g1"})

	assert.Equal(t, []models.EventType{models.EventGameSettled}, a.types())
	assert.Equal(t, []models.EventType{models.EventGameSettled}, b.types())
}
