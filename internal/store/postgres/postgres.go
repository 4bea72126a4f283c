// internal/store/postgres/postgres.go
//
// Postgres-backed Store using pgx. Composite operations run inside a
// single database transaction with the affected user row locked
// (SELECT ... FOR UPDATE), which makes the store the serialization point
// the rest of the engine relies on. The unique index on transactions.proof
// is the double-spend barrier.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    address        TEXT PRIMARY KEY,
    balance        BIGINT NOT NULL DEFAULT 0,
    locked_balance BIGINT NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK (locked_balance >= 0 AND locked_balance <= balance)
);

CREATE TABLE IF NOT EXISTS bets (
    id           UUID PRIMARY KEY,
    user_address TEXT NOT NULL REFERENCES users(address),
    round_id     UUID NOT NULL,
    game         TEXT NOT NULL,
    amount       BIGINT NOT NULL,
    target       DOUBLE PRECISION NOT NULL DEFAULT 0,
    status       TEXT NOT NULL DEFAULT 'open',
    payout       BIGINT NOT NULL DEFAULT 0,
    placed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    settled_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS transactions (
    id           UUID PRIMARY KEY,
    user_address TEXT NOT NULL REFERENCES users(address),
    type         TEXT NOT NULL,
    amount       BIGINT NOT NULL,
    proof        TEXT,
    status       TEXT NOT NULL DEFAULT 'pending',
    bet_id       UUID,
    claimed      BOOLEAN NOT NULL DEFAULT false,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS transactions_proof_uniq
    ON transactions (proof) WHERE proof IS NOT NULL AND proof <> '';

CREATE TABLE IF NOT EXISTS sessions (
    bet_id UUID PRIMARY KEY REFERENCES bets(id),
    state  JSONB NOT NULL
);
`

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

var _ store.Store = (*Store)(nil)

// Connect opens the pool and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", store.ErrStore, err)
	}
	s := &Store{pool: pool, log: logrus.WithField("component", "postgres")}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: schema: %v", store.ErrStore, err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrStore, err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrStore, err)
	}
	return nil
}

// lockUserRow ensures the user exists and returns its balances with the
// row locked for the remainder of the transaction.
func lockUserRow(ctx context.Context, tx pgx.Tx, addr string) (balance, locked int64, err error) {
	_, err = tx.Exec(ctx, `INSERT INTO users (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, addr)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: upsert user: %v", store.ErrStore, err)
	}
	err = tx.QueryRow(ctx, `SELECT balance, locked_balance FROM users WHERE address = $1 FOR UPDATE`, addr).
		Scan(&balance, &locked)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lock user row: %v", store.ErrStore, err)
	}
	return balance, locked, nil
}

func (s *Store) GetUser(ctx context.Context, addr string) (*models.User, error) {
	var u models.User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, _, err := lockUserRow(ctx, tx, addr); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SELECT address, balance, locked_balance, created_at FROM users WHERE address = $1`, addr).
			Scan(&u.Address, &u.Balance, &u.LockedBalance, &u.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) Lock(ctx context.Context, addr string, amount int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		balance, locked, err := lockUserRow(ctx, tx, addr)
		if err != nil {
			return err
		}
		if balance-locked < amount {
			return store.ErrInsufficientFunds
		}
		_, err = tx.Exec(ctx, `UPDATE users SET locked_balance = locked_balance + $1 WHERE address = $2`, amount, addr)
		return wrapExec(err)
	})
}

func (s *Store) Unlock(ctx context.Context, addr string, amount int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE users SET locked_balance = locked_balance - $1 WHERE address = $2`, amount, addr)
		return wrapExec(err)
	})
}

func (s *Store) Credit(ctx context.Context, addr string, amount int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, _, err := lockUserRow(ctx, tx, addr); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE users SET balance = balance + $1 WHERE address = $2`, amount, addr)
		return wrapExec(err)
	})
}

func (s *Store) Debit(ctx context.Context, addr string, amount int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE users SET balance = balance - $1 WHERE address = $2`, amount, addr)
		return wrapExec(err)
	})
}

func (s *Store) PlaceBet(ctx context.Context, addr string, roundID uuid.UUID, game models.GameType, amount int64, target float64) (*models.Bet, error) {
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
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		balance, locked, err := lockUserRow(ctx, tx, addr)
		if err != nil {
			return err
		}
		if balance-locked < amount {
			return store.ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET locked_balance = locked_balance + $1 WHERE address = $2`, amount, addr); err != nil {
			return wrapExec(err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO bets (id, user_address, round_id, game, amount, target, status, placed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,'open',$7)`,
			bet.ID, addr, roundID, string(game), amount, target, bet.PlacedAt); err != nil {
			return wrapExec(err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, user_address, type, amount, status, bet_id)
			 VALUES ($1,$2,'bet',$3,'confirmed',$4)`,
			uuid.New(), addr, amount, bet.ID)
		return wrapExec(err)
	})
	if err != nil {
		return nil, err
	}
	return bet, nil
}

func (s *Store) SettleBet(ctx context.Context, betID uuid.UUID, out store.SettleOutcome) (*models.Bet, error) {
	var bet models.Bet
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var settledAt *time.Time
		err := tx.QueryRow(ctx,
			`SELECT id, user_address, round_id, game, amount, target, status, payout, placed_at, settled_at
			 FROM bets WHERE id = $1 FOR UPDATE`, betID).
			Scan(&bet.ID, &bet.UserAddress, &bet.RoundID, &bet.Game, &bet.Amount, &bet.Target,
				&bet.Status, &bet.Payout, &bet.PlacedAt, &settledAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return wrapExec(err)
		}
		if bet.Status != models.BetOpen {
			return store.ErrBetSettled
		}
		if _, _, err := lockUserRow(ctx, tx, bet.UserAddress); err != nil {
			return err
		}

		now := time.Now()
		if _, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance + $1, locked_balance = locked_balance - $2 WHERE address = $3`,
			out.Payout-bet.Amount, bet.Amount, bet.UserAddress); err != nil {
			return wrapExec(err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE bets SET status = $1, payout = $2, settled_at = $3 WHERE id = $4`,
			string(out.Status), out.Payout, now, betID); err != nil {
			return wrapExec(err)
		}
		if out.Payout > 0 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO transactions (id, user_address, type, amount, status, bet_id)
				 VALUES ($1,$2,'cashout',$3,'confirmed',$4)`,
				uuid.New(), bet.UserAddress, out.Payout, betID); err != nil {
				return wrapExec(err)
			}
		}
		bet.Status = out.Status
		bet.Payout = out.Payout
		bet.SettledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bet, nil
}

func (s *Store) GetBet(ctx context.Context, betID uuid.UUID) (*models.Bet, error) {
	var bet models.Bet
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_address, round_id, game, amount, target, status, payout, placed_at, settled_at
		 FROM bets WHERE id = $1`, betID).
		Scan(&bet.ID, &bet.UserAddress, &bet.RoundID, &bet.Game, &bet.Amount, &bet.Target,
			&bet.Status, &bet.Payout, &bet.PlacedAt, &bet.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapExec(err)
	}
	return &bet, nil
}

func (s *Store) Deposit(ctx context.Context, addr string, amount int64, proof string, confirmed bool) (*models.Transaction, error) {
	txRec := &models.Transaction{
		ID:          uuid.New(),
		UserAddress: addr,
		Type:        models.TxDeposit,
		Amount:      amount,
		Proof:       proof,
		Status:      models.TxConfirmed,
		CreatedAt:   time.Now(),
	}
	if !confirmed {
		txRec.Status = models.TxPending
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, _, err := lockUserRow(ctx, tx, addr); err != nil {
			return err
		}
		lockDelta := int64(0)
		if !confirmed {
			lockDelta = amount
		}
		if _, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance + $1, locked_balance = locked_balance + $2 WHERE address = $3`,
			amount, lockDelta, addr); err != nil {
			return wrapExec(err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, user_address, type, amount, proof, status, created_at)
			 VALUES ($1,$2,'deposit',$3,$4,$5,$6)`,
			txRec.ID, addr, amount, proof, string(txRec.Status), txRec.CreatedAt)
		if isUniqueViolation(err) {
			return store.ErrDuplicateProof
		}
		return wrapExec(err)
	})
	if err != nil {
		return nil, err
	}
	return txRec, nil
}

func (s *Store) BeginWithdrawal(ctx context.Context, addr string, amount int64, proof string) (*models.Transaction, error) {
	txRec := &models.Transaction{
		ID:          uuid.New(),
		UserAddress: addr,
		Type:        models.TxWithdrawal,
		Amount:      amount,
		Proof:       proof,
		Status:      models.TxPending,
		CreatedAt:   time.Now(),
	}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		balance, locked, err := lockUserRow(ctx, tx, addr)
		if err != nil {
			return err
		}
		if balance-locked < amount {
			return store.ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET locked_balance = locked_balance + $1 WHERE address = $2`, amount, addr); err != nil {
			return wrapExec(err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, user_address, type, amount, proof, status, created_at)
			 VALUES ($1,$2,'withdrawal',$3,$4,'pending',$5)`,
			txRec.ID, addr, amount, proof, txRec.CreatedAt)
		if isUniqueViolation(err) {
			return store.ErrDuplicateProof
		}
		return wrapExec(err)
	})
	if err != nil {
		return nil, err
	}
	return txRec, nil
}

func (s *Store) FinishWithdrawal(ctx context.Context, txID uuid.UUID, confirmed bool) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.finishWithdrawalTx(ctx, tx, txID, confirmed)
	})
}

func (s *Store) finishWithdrawalTx(ctx context.Context, tx pgx.Tx, txID uuid.UUID, confirmed bool) error {
	var addr string
	var amount int64
	var status string
	err := tx.QueryRow(ctx,
		`SELECT user_address, amount, status FROM transactions WHERE id = $1 AND type = 'withdrawal' FOR UPDATE`, txID).
		Scan(&addr, &amount, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return wrapExec(err)
	}
	if models.TxStatus(status) != models.TxPending {
		return nil
	}
	if _, _, err := lockUserRow(ctx, tx, addr); err != nil {
		return err
	}
	balanceDelta := int64(0)
	newStatus := models.TxFailed
	if confirmed {
		balanceDelta = -amount
		newStatus = models.TxConfirmed
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance + $1, locked_balance = locked_balance - $2 WHERE address = $3`,
		balanceDelta, amount, addr); err != nil {
		return wrapExec(err)
	}
	_, err = tx.Exec(ctx, `UPDATE transactions SET status = $1, claimed = false WHERE id = $2`, string(newStatus), txID)
	return wrapExec(err)
}

func (s *Store) HasConfirmedProof(ctx context.Context, proof string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE proof = $1 AND status = 'confirmed')`, proof).
		Scan(&exists)
	if err != nil {
		return false, wrapExec(err)
	}
	return exists, nil
}

func (s *Store) ClaimPendingProofs(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// Proof-less pending rows are withdrawals whose outgoing transfer
		// never produced a proof; claimed so the reconciler can expire them.
		rows, err := tx.Query(ctx,
			`UPDATE transactions SET claimed = true
			 WHERE id IN (
			     SELECT id FROM transactions
			     WHERE status = 'pending' AND NOT claimed
			       AND (COALESCE(proof, '') <> '' OR type = 'withdrawal')
			     ORDER BY created_at
			     LIMIT $1
			     FOR UPDATE SKIP LOCKED
			 )
			 RETURNING id, user_address, type, amount, COALESCE(proof, ''), status, bet_id, created_at`, limit)
		if err != nil {
			return wrapExec(err)
		}
		defer rows.Close()
		for rows.Next() {
			var rec models.Transaction
			if err := rows.Scan(&rec.ID, &rec.UserAddress, &rec.Type, &rec.Amount, &rec.Proof, &rec.Status, &rec.BetID, &rec.CreatedAt); err != nil {
				return wrapExec(err)
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ConfirmProof(ctx context.Context, txID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var addr, typ, status string
		var amount int64
		err := tx.QueryRow(ctx, `SELECT user_address, type, amount, status FROM transactions WHERE id = $1 FOR UPDATE`, txID).
			Scan(&addr, &typ, &amount, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return wrapExec(err)
		}
		if models.TxStatus(status) != models.TxPending {
			return nil
		}
		switch models.TxType(typ) {
		case models.TxDeposit:
			if _, _, err := lockUserRow(ctx, tx, addr); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE users SET locked_balance = locked_balance - $1 WHERE address = $2`, amount, addr); err != nil {
				return wrapExec(err)
			}
		case models.TxWithdrawal:
			return s.finishWithdrawalTx(ctx, tx, txID, true)
		}
		_, err = tx.Exec(ctx, `UPDATE transactions SET status = 'confirmed', claimed = false WHERE id = $1`, txID)
		return wrapExec(err)
	})
}

func (s *Store) FailProof(ctx context.Context, txID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var addr, typ, status string
		var amount int64
		err := tx.QueryRow(ctx, `SELECT user_address, type, amount, status FROM transactions WHERE id = $1 FOR UPDATE`, txID).
			Scan(&addr, &typ, &amount, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return wrapExec(err)
		}
		if models.TxStatus(status) != models.TxPending {
			return nil
		}
		switch models.TxType(typ) {
		case models.TxDeposit:
			if _, _, err := lockUserRow(ctx, tx, addr); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`UPDATE users SET balance = balance - $1, locked_balance = locked_balance - $1 WHERE address = $2`,
				amount, addr); err != nil {
				return wrapExec(err)
			}
		case models.TxWithdrawal:
			return s.finishWithdrawalTx(ctx, tx, txID, false)
		}
		_, err = tx.Exec(ctx, `UPDATE transactions SET status = 'failed', claimed = false WHERE id = $1`, txID)
		return wrapExec(err)
	})
}

func (s *Store) ReleaseProofClaim(ctx context.Context, txID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE transactions SET claimed = false WHERE id = $1`, txID)
	return wrapExec(err)
}

func (s *Store) SaveSession(ctx context.Context, betID uuid.UUID, st models.SessionState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (bet_id, state) VALUES ($1, $2)
		 ON CONFLICT (bet_id) DO UPDATE SET state = EXCLUDED.state`, betID, st)
	return wrapExec(err)
}

func (s *Store) GetSession(ctx context.Context, betID uuid.UUID) (models.SessionState, error) {
	var st models.SessionState
	err := s.pool.QueryRow(ctx, `SELECT state FROM sessions WHERE bet_id = $1`, betID).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, store.ErrNotFound
	}
	return st, wrapExec(err)
}

func (s *Store) Users(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, balance, locked_balance, created_at FROM users ORDER BY address`)
	if err != nil {
		return nil, wrapExec(err)
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.Address, &u.Balance, &u.LockedBalance, &u.CreatedAt); err != nil {
			return nil, wrapExec(err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) OpenBets(ctx context.Context) ([]models.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_address, round_id, game, amount, target, status, payout, placed_at, settled_at
		 FROM bets WHERE status = 'open' ORDER BY placed_at`)
	if err != nil {
		return nil, wrapExec(err)
	}
	defer rows.Close()
	var out []models.Bet
	for rows.Next() {
		var b models.Bet
		if err := rows.Scan(&b.ID, &b.UserAddress, &b.RoundID, &b.Game, &b.Amount, &b.Target, &b.Status, &b.Payout, &b.PlacedAt, &b.SettledAt); err != nil {
			return nil, wrapExec(err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) Transactions(ctx context.Context, addr string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_address, type, amount, COALESCE(proof, ''), status, bet_id, created_at
		 FROM transactions WHERE user_address = $1 ORDER BY created_at DESC LIMIT $2`, addr, limit)
	if err != nil {
		return nil, wrapExec(err)
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var rec models.Transaction
		if err := rows.Scan(&rec.ID, &rec.UserAddress, &rec.Type, &rec.Amount, &rec.Proof, &rec.Status, &rec.BetID, &rec.CreatedAt); err != nil {
			return nil, wrapExec(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// wrapExec tags driver errors as store failures.
func wrapExec(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrStore, err)
}

// isUniqueViolation matches the Postgres unique_violation code (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
