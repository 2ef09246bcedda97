package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq"
)

// PostgresOptions configures the ride and profile database pool.
type PostgresOptions struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Migrate applies the schema after the first ping.
	Migrate bool
}

type PostgresDB struct {
	*sqlx.DB
}

// NewPostgres opens the pool through the nrpostgres driver, which wraps
// lib/pq with New Relic datastore segments.
func NewPostgres(ctx context.Context, opts PostgresOptions) (*PostgresDB, error) {
	db, err := sqlx.Open("nrpostgres", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if opts.Migrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &PostgresDB{DB: db}, nil
}

func (p *PostgresDB) Health(ctx context.Context) error {
	return p.PingContext(ctx)
}
