package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed usage store.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db}
}

func (s *pgStore) Get(ctx context.Context, userID, plan string) (Usage, error) {
	return s.ensure(ctx, userID, plan)
}

func (s *pgStore) Consume(ctx context.Context, userID, plan string, n int) (Usage, error) {
	if n <= 0 {
		return s.ensure(ctx, userID, plan)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Usage{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	u, err := s.lockAndEnsure(ctx, tx, userID, plan)
	if err != nil {
		return Usage{}, err
	}

	if u.Used+n > u.Limit {
		err = ErrLimitReached
		return Usage{}, err
	}
	u.Used += n
	if _, err = tx.ExecContext(ctx, `
UPDATE usage_counters SET used = $1 WHERE user_id = $2`, u.Used, userID); err != nil {
		return Usage{}, err
	}
	if err = tx.Commit(); err != nil {
		return Usage{}, err
	}
	return u, nil
}

func (s *pgStore) Reset(ctx context.Context, userID, plan string) (Usage, error) {
	u := newUsage(plan, time.Now().UTC())
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO usage_counters (user_id, plan, limit_amount, used, resets_at)
VALUES ($1, $2, $3, 0, $4)
ON CONFLICT (user_id) DO UPDATE
SET plan = EXCLUDED.plan, limit_amount = EXCLUDED.limit_amount, used = 0, resets_at = EXCLUDED.resets_at`,
		userID, u.Plan, u.Limit, u.ResetsAt)
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}

func (s *pgStore) ensure(ctx context.Context, userID, plan string) (Usage, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Usage{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	u, err := s.lockAndEnsure(ctx, tx, userID, plan)
	if err != nil {
		return Usage{}, err
	}
	if err = tx.Commit(); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// lockAndEnsure loads the counter under FOR UPDATE, inserting a fresh window
// for first-time users and reconciling plan changes and lapsed windows.
func (s *pgStore) lockAndEnsure(ctx context.Context, tx *sql.Tx, userID, plan string) (Usage, error) {
	var u Usage
	row := tx.QueryRowContext(ctx, `
SELECT plan, limit_amount, used, resets_at FROM usage_counters WHERE user_id = $1 FOR UPDATE`, userID)
	err := row.Scan(&u.Plan, &u.Limit, &u.Used, &u.ResetsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			u = newUsage(plan, time.Now().UTC())
			if _, err = tx.ExecContext(ctx, `
INSERT INTO usage_counters (user_id, plan, limit_amount, used, resets_at) VALUES ($1, $2, $3, $4, $5)`,
				userID, u.Plan, u.Limit, u.Used, u.ResetsAt); err != nil {
				return Usage{}, err
			}
			return u, nil
		}
		return Usage{}, err
	}

	u, changed := reconcile(u, plan, time.Now().UTC())
	if changed {
		if _, err = tx.ExecContext(ctx, `
UPDATE usage_counters SET plan = $1, limit_amount = $2, used = $3, resets_at = $4 WHERE user_id = $5`,
			u.Plan, u.Limit, u.Used, u.ResetsAt, userID); err != nil {
			return Usage{}, err
		}
	}
	return u, nil
}
