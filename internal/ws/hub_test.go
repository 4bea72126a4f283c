package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquacommander/CasinoGame/internal/game"
	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

func TestHubBroadcastFansOut(t *testing.T) {
	hub := NewHub("crash")
	a := &client{addr: "alice", send: make(chan []byte, sendBuffer)}
	b := &client{addr: "bob", send: make(chan []byte, sendBuffer)}
	hub.add(a)
	hub.add(b)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Broadcast(game.Event{
		Type:    game.EventTick,
		Game:    models.GameCrash,
		Payload: map[string]interface{}{"multiplier": 1.25},
	})

	for _, c := range []*client{a, b} {
		select {
		case payload := <-c.send:
			var ev game.Event
			require.NoError(t, json.Unmarshal(payload, &ev))
			assert.Equal(t, game.EventTick, ev.Type)
		default:
			t.Fatal("client did not receive broadcast")
		}
	}

	hub.remove(a)
	assert.Equal(t, 1, hub.ClientCount())
	hub.Broadcast(game.Event{Type: game.EventPhase, Game: models.GameCrash})
	assert.Empty(t, a.send)
	assert.Len(t, b.send, 2)
}

func TestClientErrorMapping(t *testing.T) {
	assert.Equal(t, "insufficient funds", clientError(store.ErrInsufficientFunds))
	assert.Equal(t, "round already resolved", clientError(game.ErrRoundResolved))
	assert.Equal(t, "bets not accepted in current phase", clientError(game.ErrInvalidPhase))
	assert.Equal(t, "no open bet", clientError(game.ErrNoOpenBet))
	assert.Equal(t, "invalid bet", clientError(game.ErrInvalidBet))
	assert.Equal(t, "internal error", clientError(assert.AnError))
}
