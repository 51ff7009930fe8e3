package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"forwardgate/internal/types"
)

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Registry binds both repositories to the same DBTX.
type Registry struct {
	verifications *VerificationRepository
	channels      *ChannelRepository
}

func NewRegistry(db DBTX) *Registry {
	return &Registry{
		verifications: NewVerificationRepository(db),
		channels:      NewChannelRepository(db),
	}
}

func (r *Registry) Verifications() types.VerificationRepository { return r.verifications }
func (r *Registry) Channels() types.ChannelRepository           { return r.channels }

// TxManager implements types.TransactionManager on PostgreSQL. Each
// transaction first takes a transaction-scoped advisory lock derived from the
// lock key, so concurrent work on the same key queues behind it and the lock
// is released by commit or rollback.
type TxManager struct {
	pool Beginner
}

func NewTxManager(pool Beginner) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) RunInTx(ctx context.Context, lockKey string, fn func(ctx context.Context, repos types.RepositoryRegistry) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if lockKey != "" {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to acquire pair lock", err)
		}
	}

	if err := fn(ctx, NewRegistry(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}
