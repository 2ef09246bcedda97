package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL CHECK (role IN ('student', 'driver')),
	is_verified   BOOLEAN NOT NULL DEFAULT FALSE,
	vehicle       TEXT,
	phone         TEXT,
	rating        DOUBLE PRECISION NOT NULL DEFAULT 5.0,
	password_hash TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_profiles_verified_drivers ON profiles(role, is_verified);

CREATE TABLE IF NOT EXISTS rides (
	id                  UUID PRIMARY KEY,
	requester_id        UUID NOT NULL,
	requester_name      TEXT NOT NULL DEFAULT '',
	provider_id         UUID,
	provider_hint       TEXT,
	pickup              TEXT NOT NULL,
	dropoff             TEXT NOT NULL,
	requested_time      TEXT NOT NULL,
	status              TEXT NOT NULL CHECK (status IN ('open', 'negotiating', 'locked', 'completed', 'cancelled')),
	requester_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	provider_confirmed  BOOLEAN NOT NULL DEFAULT FALSE,
	requester_arrived   BOOLEAN NOT NULL DEFAULT FALSE,
	provider_arrived    BOOLEAN NOT NULL DEFAULT FALSE,
	cancelled_by        TEXT,
	version             BIGINT NOT NULL DEFAULT 1,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_rides_status_created ON rides(status, created_at);
CREATE INDEX IF NOT EXISTS idx_rides_requester_status ON rides(requester_id, status);
CREATE INDEX IF NOT EXISTS idx_rides_provider_status ON rides(provider_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_rides_requester_active ON rides(requester_id)
	WHERE status IN ('open', 'negotiating', 'locked');
CREATE UNIQUE INDEX IF NOT EXISTS uq_rides_provider_active ON rides(provider_id)
	WHERE provider_id IS NOT NULL AND status IN ('open', 'negotiating', 'locked');
`

// Migrate creates the tables and indexes the repositories expect. It is
// safe to run on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
