// Package postgres provides the "postgres" store.Driver built on sqlx with
// OTel instrumentation via otelsql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/config"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

func init() {
	store.Register("postgres", openPostgres)
}

// openPostgres is the store.Driver for the "postgres" backend.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return New(db, clk).Repositories(), nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	sqlDB, err := otelsql.Open("postgres", cfg.DSN(),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := sqlx.NewDb(sqlDB, "postgres")
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// DB binds repositories to a connection pool.
type DB struct {
	db    *sqlx.DB
	clock clock.Clock
}

// New returns a DB using db for all queries.
func New(db *sqlx.DB, clk clock.Clock) *DB {
	return &DB{db: db, clock: clk}
}

// Repositories returns repositories that run outside any transaction, plus
// a Transactor for atomic units.
func (d *DB) Repositories() *store.Repositories {
	return &store.Repositories{
		Unit:   d.unit(d.db),
		Tx:     d,
		Closer: d.db,
		Ping:   d.db.PingContext,
	}
}

func (d *DB) unit(ext sqlx.ExtContext) store.Unit {
	return store.Unit{
		Players: NewPlayerRepo(ext, d.clock),
		Bidders: NewBidderRepo(ext, d.clock),
		Bids:    NewBidRepo(ext, d.clock),
		Events:  NewEventStore(ext, d.clock),
	}
}

// WithinTx implements store.Transactor.
func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, d.unit(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// notFound maps sql.ErrNoRows to store.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
