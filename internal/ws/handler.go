// internal/ws/handler.go
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/aquacommander/CasinoGame/internal/auth"
	"github.com/aquacommander/CasinoGame/internal/game"
	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

// RoundGame is the surface a continuous game exposes to its socket
// clients. Both the crash and slide schedulers satisfy it.
type RoundGame interface {
	Register(ctx context.Context, addr string, amount int64, target float64) (*models.Bet, error)
	Cashout(ctx context.Context, addr string) (*models.Bet, float64, error)
	History() []game.HistoryEntry
}

// clientMessage is what a connected player may send.
type clientMessage struct {
	Action string  `json:"action"` // "join" or "cashout"
	Amount int64   `json:"amount,omitempty"`
	Target float64 `json:"target,omitempty"`
}

// reply is a direct (non-broadcast) answer to a client message.
type reply struct {
	Type       string  `json:"type"`
	BetID      string  `json:"bet_id,omitempty"`
	Payout     int64   `json:"payout,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Handler upgrades HTTP requests into game sockets.
type Handler struct {
	hub       *Hub
	game      RoundGame
	jwtSecret string
}

// NewHandler wires a socket handler over a hub and its game.
func NewHandler(hub *Hub, g RoundGame, jwtSecret string) *Handler {
	return &Handler{hub: hub, game: g, jwtSecret: jwtSecret}
}

// ServeHTTP authenticates via the token query parameter, upgrades the
// connection and serves it until either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr, err := auth.VerifyToken(h.jwtSecret, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.hub.log.WithError(err).Warn("websocket accept failed")
		return
	}

	c := &client{conn: conn, addr: addr, send: make(chan []byte, sendBuffer)}
	h.hub.add(c)
	defer func() {
		h.hub.remove(c)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx)

	// New clients get the recent outcome history immediately.
	h.sendHistory(c)

	h.readLoop(ctx, c)
}

func (h *Handler) sendHistory(c *client) {
	payload, err := json.Marshal(game.Event{
		Type:    game.EventHistory,
		Payload: map[string]interface{}{"entries": h.game.History()},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readLoop processes client messages until the connection drops.
func (h *Handler) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, reply{Type: "error", Error: "malformed message"})
			continue
		}
		h.dispatch(ctx, c, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *client, msg clientMessage) {
	switch msg.Action {
	case "join":
		bet, err := h.game.Register(ctx, c.addr, msg.Amount, msg.Target)
		if err != nil {
			h.reply(c, reply{Type: "error", Error: clientError(err)})
			return
		}
		h.reply(c, reply{Type: "bet_accepted", BetID: bet.ID.String()})
	case "cashout":
		bet, mult, err := h.game.Cashout(ctx, c.addr)
		if err != nil {
			h.reply(c, reply{Type: "error", Error: clientError(err)})
			return
		}
		h.reply(c, reply{Type: "cashout_accepted", BetID: bet.ID.String(), Payout: bet.Payout, Multiplier: mult})
	default:
		h.reply(c, reply{Type: "error", Error: "unknown action"})
	}
}

func (h *Handler) reply(c *client, r reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// clientError maps internal errors to wire-safe strings.
func clientError(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, game.ErrInvalidPhase):
		return "bets not accepted in current phase"
	case errors.Is(err, game.ErrRoundResolved):
		return "round already resolved"
	case errors.Is(err, game.ErrNoOpenBet):
		return "no open bet"
	case errors.Is(err, game.ErrInvalidBet):
		return "invalid bet"
	default:
		return "internal error"
	}
}
