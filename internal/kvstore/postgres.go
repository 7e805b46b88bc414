package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a PostgreSQL table. Write transactions run
// at READ COMMITTED: a concurrent insert of the same key waits on the
// primary key and then reports ErrKeyExists.
type Postgres struct {
	DB    *pgxpool.Pool
	table string
}

// ConnectPostgres opens a pool for dsn and ensures the table exists.
func ConnectPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p, err := NewPostgres(ctx, pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, table string) (*Postgres, error) {
	if table == "" {
		table = "notary_kv"
	}
	p := &Postgres{DB: pool, table: pgx.Identifier{table}.Sanitize()}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
		key BYTEA PRIMARY KEY,
		value BYTEA NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return p, nil
}

func (p *Postgres) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin view: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(&pgTxn{ctx: ctx, tx: tx, table: p.table})
}

func (p *Postgres) Update(ctx context.Context, fn func(Txn) error) error {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	if err := fn(&pgTxn{ctx: ctx, tx: tx, table: p.table, writable: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.DB.Close()
	return nil
}

type pgTxn struct {
	ctx      context.Context
	tx       pgx.Tx
	table    string
	writable bool
}

func (t *pgTxn) Get(key []byte) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(t.ctx, `SELECT value FROM `+t.table+` WHERE key=$1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get key: %w", err)
	}
	return value, nil
}

func (t *pgTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows pgx.Rows
		err  error
	)
	if end := prefixEnd(prefix); end != nil {
		rows, err = t.tx.Query(t.ctx, `SELECT key, value FROM `+t.table+` WHERE key >= $1 AND key < $2 ORDER BY key`, prefix, end)
	} else {
		rows, err = t.tx.Query(t.ctx, `SELECT key, value FROM `+t.table+` WHERE key >= $1 ORDER BY key`, prefix)
	}
	if err != nil {
		return fmt.Errorf("scan prefix: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *pgTxn) InsertIfAbsent(key, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	tag, err := t.tx.Exec(t.ctx, `INSERT INTO `+t.table+` (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyExists
	}
	return nil
}
