// internal/store/memory/memory.go
//
// In-memory Store implementation. One mutex guards the whole data set, so
// every method is trivially a single atomic unit. Used by the test suite
// and by dev mode when no DATABASE_URL is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

// Store holds all persisted state behind a single mutex.
type Store struct {
	mu       sync.Mutex
	users    map[string]*models.User
	bets     map[uuid.UUID]*models.Bet
	txs      map[uuid.UUID]*models.Transaction
	proofs   map[string]uuid.UUID // proof -> owning transaction
	sessions map[uuid.UUID]models.SessionState
	claimed  map[uuid.UUID]bool // pending txs held by a reconciler pass
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:    make(map[string]*models.User),
		bets:     make(map[uuid.UUID]*models.Bet),
		txs:      make(map[uuid.UUID]*models.Transaction),
		proofs:   make(map[string]uuid.UUID),
		sessions: make(map[uuid.UUID]models.SessionState),
		claimed:  make(map[uuid.UUID]bool),
	}
}

var _ store.Store = (*Store)(nil)

// getUserLocked fetches or creates the account for addr.
// Assumes lock is held by caller.
func (s *Store) getUserLocked(addr string) *models.User {
	u, ok := s.users[addr]
	if !ok {
		u = &models.User{Address: addr, CreatedAt: time.Now()}
		s.users[addr] = u
	}
	return u
}

func (s *Store) GetUser(_ context.Context, addr string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.getUserLocked(addr)
	cp := *u
	return &cp, nil
}

func (s *Store) Lock(_ context.Context, addr string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLocked(addr, amount)
}

// lockLocked reserves amount against the available balance.
// Assumes lock is held by caller.
func (s *Store) lockLocked(addr string, amount int64) error {
	u := s.getUserLocked(addr)
	if u.Balance-u.LockedBalance < amount {
		return store.ErrInsufficientFunds
	}
	u.LockedBalance += amount
	return nil
}

func (s *Store) Unlock(_ context.Context, addr string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlockLocked(addr, amount)
}

// unlockLocked releases a previously taken lock.
// Assumes lock is held by caller.
func (s *Store) unlockLocked(addr string, amount int64) error {
	u := s.getUserLocked(addr)
	if u.LockedBalance < amount {
		return fmt.Errorf("%w: unlock %d exceeds locked %d for %s", store.ErrStore, amount, u.LockedBalance, addr)
	}
	u.LockedBalance -= amount
	return nil
}

func (s *Store) Credit(_ context.Context, addr string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getUserLocked(addr).Balance += amount
	return nil
}

func (s *Store) Debit(_ context.Context, addr string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(addr, amount)
}

// debitLocked removes amount from the balance, refusing to break the
// locked <= balance invariant.
// Assumes lock is held by caller.
func (s *Store) debitLocked(addr string, amount int64) error {
	u := s.getUserLocked(addr)
	if u.Balance-amount < u.LockedBalance {
		return fmt.Errorf("%w: debit %d would break invariant for %s", store.ErrStore, amount, addr)
	}
	u.Balance -= amount
	return nil
}

func (s *Store) PlaceBet(_ context.Context, addr string, roundID uuid.UUID, game models.GameType, amount int64, target float64) (*models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lockLocked(addr, amount); err != nil {
		return nil, err
	}
	bet := &models.Bet{
		ID:          uuid.New(),
		UserAddress: addr,
		RoundID:     roundID,
		Game:        game,
		Amount:      amount,
		Target:      target,
		Status:      models.BetOpen,
		PlacedAt:    time.Now(),
	}
	s.bets[bet.ID] = bet
	betID := bet.ID
	tx := &models.Transaction{
		ID:          uuid.New(),
		UserAddress: addr,
		Type:        models.TxBet,
		Amount:      amount,
		Status:      models.TxConfirmed,
		BetID:       &betID,
		CreatedAt:   time.Now(),
	}
	s.txs[tx.ID] = tx
	cp := *bet
	return &cp, nil
}

func (s *Store) SettleBet(_ context.Context, betID uuid.UUID, out store.SettleOutcome) (*models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet, ok := s.bets[betID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if bet.Status != models.BetOpen {
		return nil, store.ErrBetSettled
	}

	u := s.getUserLocked(bet.UserAddress)
	// The stake is consumed and the lock released in the same step; any
	// payout lands on top. Applied together so the invariant never wobbles.
	u.Balance += out.Payout - bet.Amount
	u.LockedBalance -= bet.Amount

	now := time.Now()
	bet.Status = out.Status
	bet.Payout = out.Payout
	bet.SettledAt = &now

	if out.Payout > 0 {
		id := bet.ID
		tx := &models.Transaction{
			ID:          uuid.New(),
			UserAddress: bet.UserAddress,
			Type:        models.TxCashout,
			Amount:      out.Payout,
			Status:      models.TxConfirmed,
			BetID:       &id,
			CreatedAt:   now,
		}
		s.txs[tx.ID] = tx
	}
	cp := *bet
	return &cp, nil
}

func (s *Store) GetBet(_ context.Context, betID uuid.UUID) (*models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[betID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *bet
	return &cp, nil
}

func (s *Store) Deposit(_ context.Context, addr string, amount int64, proof string, confirmed bool) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.proofs[proof]; dup {
		return nil, store.ErrDuplicateProof
	}
	u := s.getUserLocked(addr)
	u.Balance += amount
	status := models.TxConfirmed
	if !confirmed {
		// Provisional: the credit exists but stays locked until the
		// reconciler confirms or expires the proof.
		u.LockedBalance += amount
		status = models.TxPending
	}
	tx := &models.Transaction{
		ID:          uuid.New(),
		UserAddress: addr,
		Type:        models.TxDeposit,
		Amount:      amount,
		Proof:       proof,
		Status:      status,
		CreatedAt:   time.Now(),
	}
	s.txs[tx.ID] = tx
	s.proofs[proof] = tx.ID
	cp := *tx
	return &cp, nil
}

func (s *Store) BeginWithdrawal(_ context.Context, addr string, amount int64, proof string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if proof != "" {
		if _, dup := s.proofs[proof]; dup {
			return nil, store.ErrDuplicateProof
		}
	}
	if err := s.lockLocked(addr, amount); err != nil {
		return nil, err
	}
	tx := &models.Transaction{
		ID:          uuid.New(),
		UserAddress: addr,
		Type:        models.TxWithdrawal,
		Amount:      amount,
		Proof:       proof,
		Status:      models.TxPending,
		CreatedAt:   time.Now(),
	}
	s.txs[tx.ID] = tx
	if proof != "" {
		s.proofs[proof] = tx.ID
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) FinishWithdrawal(_ context.Context, txID uuid.UUID, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishWithdrawalLocked(txID, confirmed)
}

// finishWithdrawalLocked resolves a pending withdrawal.
// Assumes lock is held by caller.
func (s *Store) finishWithdrawalLocked(txID uuid.UUID, confirmed bool) error {
	tx, ok := s.txs[txID]
	if !ok || tx.Type != models.TxWithdrawal {
		return store.ErrNotFound
	}
	if tx.Status != models.TxPending {
		return nil // already resolved; idempotent
	}
	u := s.getUserLocked(tx.UserAddress)
	if confirmed {
		u.Balance -= tx.Amount
		u.LockedBalance -= tx.Amount
		tx.Status = models.TxConfirmed
	} else {
		u.LockedBalance -= tx.Amount
		tx.Status = models.TxFailed
	}
	delete(s.claimed, txID)
	return nil
}

func (s *Store) HasConfirmedProof(_ context.Context, proof string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.proofs[proof]
	if !ok {
		return false, nil
	}
	tx := s.txs[id]
	return tx != nil && tx.Status == models.TxConfirmed, nil
}

func (s *Store) ClaimPendingProofs(_ context.Context, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.Status != models.TxPending || s.claimed[tx.ID] {
			continue
		}
		// Proof-less pending rows are withdrawals whose outgoing transfer
		// never produced a proof; they are claimed so the reconciler can
		// expire them and release the lock.
		if tx.Proof == "" && tx.Type != models.TxWithdrawal {
			continue
		}
		s.claimed[tx.ID] = true
		out = append(out, *tx)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ConfirmProof(_ context.Context, txID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != models.TxPending {
		return nil
	}
	switch tx.Type {
	case models.TxDeposit:
		// Provisional credit becomes spendable.
		if err := s.unlockLocked(tx.UserAddress, tx.Amount); err != nil {
			return err
		}
		tx.Status = models.TxConfirmed
	case models.TxWithdrawal:
		return s.finishWithdrawalLocked(txID, true)
	default:
		tx.Status = models.TxConfirmed
	}
	delete(s.claimed, txID)
	return nil
}

func (s *Store) FailProof(_ context.Context, txID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != models.TxPending {
		return nil
	}
	switch tx.Type {
	case models.TxDeposit:
		// Claw back the provisional credit and release its lock together.
		u := s.getUserLocked(tx.UserAddress)
		u.Balance -= tx.Amount
		u.LockedBalance -= tx.Amount
		tx.Status = models.TxFailed
	case models.TxWithdrawal:
		return s.finishWithdrawalLocked(txID, false)
	default:
		tx.Status = models.TxFailed
	}
	delete(s.claimed, txID)
	return nil
}

func (s *Store) ReleaseProofClaim(_ context.Context, txID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, txID)
	return nil
}

func (s *Store) SaveSession(_ context.Context, betID uuid.UUID, st models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[betID] = st
	return nil
}

func (s *Store) GetSession(_ context.Context, betID uuid.UUID) (models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[betID]
	if !ok {
		return models.SessionState{}, store.ErrNotFound
	}
	return st, nil
}

func (s *Store) Users(_ context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) OpenBets(_ context.Context) ([]models.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Bet
	for _, b := range s.bets {
		if b.Status == models.BetOpen {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (s *Store) Transactions(_ context.Context, addr string, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.UserAddress == addr {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
