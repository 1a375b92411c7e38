package store

import (
	"context"
	"database/sql"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS defcon_audit (
		sequence BIGINT PRIMARY KEY,
		entry_id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		actor TEXT NOT NULL,
		ts_unix_nano BIGINT NOT NULL,
		payload TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);`, `
	CREATE TABLE IF NOT EXISTS defcon_genesis (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL,
		oracle TEXT NOT NULL,
		timelock_seconds BIGINT NOT NULL,
		created_unix_nano BIGINT NOT NULL
	);`,
	},
	insertEntry: `INSERT INTO defcon_audit (
		sequence, entry_id, kind, actor, ts_unix_nano, payload, payload_hash, previous_hash, entry_hash
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	selectEntries: `
		SELECT sequence, entry_id, kind, actor, ts_unix_nano, payload, payload_hash, previous_hash, entry_hash
		FROM defcon_audit
		ORDER BY sequence ASC`,
	selectGenesis: `SELECT owner, oracle, timelock_seconds, created_unix_nano FROM defcon_genesis WHERE id = 1`,
	insertGenesis: `INSERT INTO defcon_genesis (id, owner, oracle, timelock_seconds, created_unix_nano) VALUES (1, $1, $2, $3, $4)`,
}

// PostgresStore is the store for replicated deployments.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore migrates the schema on db and returns the store. The
// sequence primary key rejects a second writer racing on the same log.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{s}, nil
}
