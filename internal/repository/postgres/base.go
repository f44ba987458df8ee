package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nutricoach/scheduling-api/internal/repository"
)

// exclusion_violation, raised by appointments_no_overlap
const pgExclusionViolation = "23P01"

type txKey struct{}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// conn returns the transaction carried by ctx, or the pool.
func (r *BaseRepository) conn(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type transactor struct {
	BaseRepository
}

func NewTransactor(base BaseRepository) repository.Transactor {
	return &transactor{base}
}

// WithinTx joins a transaction already in ctx instead of nesting.
func (t *transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	return t.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (t *transactor) WithinNutritionistTx(ctx context.Context, nutritionistID uuid.UUID, fn func(ctx context.Context) error) error {
	return t.WithinTx(ctx, func(ctx context.Context) error {
		// released on commit or rollback
		if _, err := t.conn(ctx).ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, nutritionistID.String()); err != nil {
			return fmt.Errorf("failed to lock nutritionist calendar: %w", err)
		}
		return fn(ctx)
	})
}

func (t *transactor) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// translateError maps constraint violations onto repository sentinels.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgExclusionViolation {
		return fmt.Errorf("%w: %s", repository.ErrOverlap, pqErr.Constraint)
	}
	return err
}
