// Package postgres is a storage.Engine on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyp0633/calstore/server/storage"
)

// Pool is the subset of pgxpool.Pool the engine needs.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Engine implements storage.Engine.
type Engine struct {
	pool   Pool
	logger *slog.Logger
}

// New creates an engine on pool. A nil logger means slog.Default().
func New(pool Pool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{pool: pool, logger: logger}
}

// Open connects a pool to dsn and checks that the server answers.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// WithTx runs fn in a read-committed transaction. Row locks taken by the
// token bump serialize concurrent writers of one calendar.
func (e *Engine) WithTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	pgtx, err := e.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := pgtx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.logger.Error("rollback failed", "error", rbErr)
		}
	}()

	if err = fn(&tx{db: pgtx}); err != nil {
		return err
	}
	if err = pgtx.Commit(ctx); err != nil {
		return mapError(err, "committing transaction")
	}
	return nil
}

// mapError translates driver errors into storage errors.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.NotFound("%s: not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return storage.NotFound("%s: container not found", what)
	}
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case "calendar_objects_uid_key":
			return storage.Conflict(storage.MsgDuplicateUID, err)
		case "calendar_objects_uri_key":
			return storage.Conflict("object uri already in use", err)
		default:
			return storage.Conflict(what+": already exists", err)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
