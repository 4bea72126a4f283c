// internal/api/api.go
//
// HTTP surface for account operations and the turn-based session games.
// The continuous games live on the WebSocket endpoints; everything here is
// plain request/response JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/auth"
	"github.com/aquacommander/CasinoGame/internal/cache"
	"github.com/aquacommander/CasinoGame/internal/game"
	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
	"github.com/aquacommander/CasinoGame/internal/verify"
	"github.com/aquacommander/CasinoGame/internal/ws"
)

const tokenTTL = 24 * time.Hour

// Server bundles the HTTP dependencies.
type Server struct {
	store     store.Store
	verifier  *verify.Verifier
	signer    verify.Signer
	crash     *game.CrashGame
	slide     *game.SlideGame
	mines     *game.MineSessions
	draw      *game.DrawSessions
	crashWS   http.Handler
	slideWS   http.Handler
	jwtSecret string
	houseAddr string
	log       *logrus.Entry
}

// Deps carries everything the router needs.
type Deps struct {
	Store        store.Store
	Verifier     *verify.Verifier
	Signer       verify.Signer // nil = no wallet adapter
	Crash        *game.CrashGame
	Slide        *game.SlideGame
	Mines        *game.MineSessions
	Draw         *game.DrawSessions
	CrashHub     *ws.Hub
	SlideHub     *ws.Hub
	JWTSecret    string
	HouseAddress string
}

// NewServer wires the HTTP layer.
func NewServer(d Deps) *Server {
	signer := d.Signer
	if signer == nil {
		signer = verify.NopSigner{}
	}
	return &Server{
		store:     d.Store,
		verifier:  d.Verifier,
		signer:    signer,
		crash:     d.Crash,
		slide:     d.Slide,
		mines:     d.Mines,
		draw:      d.Draw,
		crashWS:   ws.NewHandler(d.CrashHub, d.Crash, d.JWTSecret),
		slideWS:   ws.NewHandler(d.SlideHub, d.Slide, d.JWTSecret),
		jwtSecret: d.JWTSecret,
		houseAddr: d.HouseAddress,
		log:       logrus.WithField("component", "api"),
	}
}

// Router builds the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/token", s.handleToken)
	r.Handle("/metrics", promhttp.Handler())

	r.Handle("/ws/crash", s.crashWS)
	r.Handle("/ws/slide", s.slideWS)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/api/bet", s.handleBet)
		r.Post("/api/session/{id}/reveal", s.handleReveal)
		r.Post("/api/session/{id}/draw", s.handleDraw)
		r.Post("/api/session/{id}/cashout", s.handleSessionCashout)
		r.Post("/api/deposit", s.handleDeposit)
		r.Post("/api/withdraw", s.handleWithdraw)
		r.Get("/api/balance", s.handleBalance)
		r.Get("/api/history/{game}", s.handleHistory)
	})
	return r
}

type ctxKey int

const addrKey ctxKey = 0

// authenticate requires a bearer token and stashes the address in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		addr, err := auth.VerifyToken(s.jwtSecret, header[len(prefix):])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := contextWithAddr(r.Context(), addr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleToken mints a session token for an external address. Ownership of
// the address is proven later, by the deposit proofs it submits.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, "address required")
		return
	}
	token, err := auth.NewToken(s.jwtSecret, req.Address, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token mint failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleBet opens a bet in any of the four games. Crash and slide join the
// shared round; mines and draw open a private session.
func (s *Server) handleBet(w http.ResponseWriter, r *http.Request) {
	addr := addrFrom(r.Context())
	var req struct {
		Game      models.GameType `json:"game"`
		Amount    int64           `json:"amount"`
		Target    float64         `json:"target,omitempty"`
		MineCount int             `json:"mineCount,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	switch req.Game {
	case models.GameCrash:
		bet, err := s.crash.Register(r.Context(), addr, req.Amount, req.Target)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, bet)
	case models.GameSlide:
		bet, err := s.slide.Register(r.Context(), addr, req.Amount, req.Target)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, bet)
	case models.GameMines:
		bet, err := s.mines.Open(r.Context(), addr, req.Amount, req.MineCount)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, bet)
	case models.GameDraw:
		bet, deal, err := s.draw.Open(r.Context(), addr, req.Amount)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"bet": bet, "deal": deal})
	default:
		writeError(w, http.StatusBadRequest, "unknown game")
	}
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	bet, ok := s.sessionBet(w, r)
	if !ok {
		return
	}
	if bet.Game != models.GameMines {
		writeError(w, http.StatusBadRequest, "not a mines session")
		return
	}
	var req struct {
		Cell int `json:"cell"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	result, err := s.mines.Reveal(r.Context(), bet.ID, req.Cell)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	bet, ok := s.sessionBet(w, r)
	if !ok {
		return
	}
	if bet.Game != models.GameDraw {
		writeError(w, http.StatusBadRequest, "not a draw session")
		return
	}
	var req struct {
		Holds []bool `json:"holds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	result, err := s.draw.Draw(r.Context(), bet.ID, req.Holds)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionCashout(w http.ResponseWriter, r *http.Request) {
	bet, ok := s.sessionBet(w, r)
	if !ok {
		return
	}
	switch bet.Game {
	case models.GameMines:
		settled, err := s.mines.Cashout(r.Context(), bet.ID)
		if err != nil {
			writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settled)
	case models.GameDraw:
		writeError(w, http.StatusBadRequest, "draw sessions have no cashout; resolve with the draw action")
	default:
		writeError(w, http.StatusBadRequest, "not a session bet")
	}
}

// handleDeposit verifies the external payment proof and credits the
// account. A provisional verdict credits with the amount locked until the
// reconciler settles the proof.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr := addrFrom(r.Context())
	var req struct {
		Amount int64  `json:"amount"`
		Proof  string `json:"proof"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 || req.Proof == "" {
		writeError(w, http.StatusBadRequest, "amount and proof required")
		return
	}

	result, err := s.verifier.Submit(r.Context(), req.Proof, verify.Expected{
		From:   addr,
		To:     s.houseAddr,
		Amount: req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateProof):
			writeError(w, http.StatusConflict, "proof already used")
		case errors.Is(err, verify.ErrProofMismatch):
			writeError(w, http.StatusUnprocessableEntity, "proof does not match transfer")
		case errors.Is(err, verify.ErrVerificationFailed):
			writeError(w, http.StatusBadGateway, "verification unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "deposit failed")
		}
		return
	}

	tx, err := s.store.Deposit(r.Context(), addr, req.Amount, req.Proof, result == verify.Confirmed)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateProof) {
			writeError(w, http.StatusConflict, "proof already used")
			return
		}
		s.log.WithError(err).Error("deposit store failure")
		writeError(w, http.StatusInternalServerError, "deposit failed")
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// handleWithdraw locks the amount and records a pending withdrawal. The
// outgoing transfer is executed out of process; the reconciler finalizes
// the transaction once the proof lands on the external network.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr := addrFrom(r.Context())
	var req struct {
		Amount int64  `json:"amount"`
		Proof  string `json:"proof,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "positive amount required")
		return
	}

	tx, err := s.store.BeginWithdrawal(r.Context(), addr, req.Amount, req.Proof)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, http.StatusPaymentRequired, "insufficient available balance")
		case errors.Is(err, store.ErrDuplicateProof):
			writeError(w, http.StatusConflict, "proof already used")
		default:
			s.log.WithError(err).Error("withdrawal store failure")
			writeError(w, http.StatusInternalServerError, "withdrawal failed")
		}
		return
	}
	s.dispatchWithdrawal(r.Context(), tx)
	writeJSON(w, http.StatusAccepted, tx)
}

// dispatchWithdrawal hands the pending withdrawal to the wallet adapter.
// Without an adapter the transaction stays pending for manual transfer and
// later reconciliation.
func (s *Server) dispatchWithdrawal(_ context.Context, tx *models.Transaction) {
	raw, err := json.Marshal(map[string]interface{}{
		"from":   s.houseAddr,
		"to":     tx.UserAddress,
		"amount": tx.Amount,
		"ref":    tx.ID,
	})
	if err != nil {
		return
	}
	if _, err := s.signer.Sign(raw); err != nil {
		if errors.Is(err, verify.ErrNoSigner) {
			s.log.WithField("tx", tx.ID).Info("no wallet adapter; withdrawal left pending")
			return
		}
		s.log.WithError(err).WithField("tx", tx.ID).Error("signing withdrawal failed")
		return
	}
	// TODO: broadcast the signed bytes once the chain client grows a
	// submit endpoint.
	s.log.WithField("tx", tx.ID).Debug("withdrawal signed")
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := addrFrom(r.Context())
	u, err := s.store.GetUser(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":   u.Address,
		"balance":   u.Balance,
		"locked":    u.LockedBalance,
		"available": u.Available(),
	})
}

// handleHistory serves the recent outcomes of the shared-round games.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch g := models.GameType(chi.URLParam(r, "game")); g {
	case models.GameCrash:
		s.writeHistory(w, r, g, s.crash.History())
	case models.GameSlide:
		s.writeHistory(w, r, g, s.slide.History())
	default:
		writeError(w, http.StatusNotFound, "no history for game")
	}
}

// writeHistory serves the in-memory ring, falling back to the Redis mirror
// when the ring is empty (fresh process, rounds resolved before restart).
func (s *Server) writeHistory(w http.ResponseWriter, r *http.Request, g models.GameType, entries []game.HistoryEntry) {
	if len(entries) == 0 {
		if raw, err := cache.RecentHistory(r.Context(), string(g), 50); err == nil {
			for _, b := range raw {
				var e game.HistoryEntry
				if json.Unmarshal(b, &e) == nil {
					entries = append(entries, e)
				}
			}
		}
	}
	if entries == nil {
		entries = []game.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// sessionBet parses the session id and loads its bet. A session belonging
// to another address reads as not found, never as forbidden, so bet ids
// cannot be probed.
func (s *Server) sessionBet(w http.ResponseWriter, r *http.Request) (*models.Bet, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	bet, err := s.store.GetBet(r.Context(), id)
	if err != nil {
		writeGameError(w, err)
		return nil, false
	}
	if bet.UserAddress != addrFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return bet, true
}

// writeGameError maps engine errors to HTTP statuses.
func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient available balance")
	case errors.Is(err, game.ErrInvalidBet), errors.Is(err, game.ErrBadReveal), errors.Is(err, game.ErrDrawDone):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInvalidPhase):
		writeError(w, http.StatusConflict, "not valid in current phase")
	case errors.Is(err, game.ErrRoundResolved):
		writeError(w, http.StatusConflict, "round already resolved")
	case errors.Is(err, game.ErrNoOpenBet), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
