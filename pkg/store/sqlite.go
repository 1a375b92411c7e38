package store

import (
	"context"
	"database/sql"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS defcon_audit (
		sequence INTEGER PRIMARY KEY,
		entry_id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		actor TEXT NOT NULL,
		ts_unix_nano INTEGER NOT NULL,
		payload TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);`, `
	CREATE TABLE IF NOT EXISTS defcon_genesis (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL,
		oracle TEXT NOT NULL,
		timelock_seconds INTEGER NOT NULL,
		created_unix_nano INTEGER NOT NULL
	);`,
	},
	insertEntry: `INSERT INTO defcon_audit (
		sequence, entry_id, kind, actor, ts_unix_nano, payload, payload_hash, previous_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	selectEntries: `
		SELECT sequence, entry_id, kind, actor, ts_unix_nano, payload, payload_hash, previous_hash, entry_hash
		FROM defcon_audit
		ORDER BY sequence ASC`,
	selectGenesis: `SELECT owner, oracle, timelock_seconds, created_unix_nano FROM defcon_genesis WHERE id = 1`,
	insertGenesis: `INSERT INTO defcon_genesis (id, owner, oracle, timelock_seconds, created_unix_nano) VALUES (1, ?, ?, ?, ?)`,
}

// SQLiteStore is the single-node store backed by modernc.org/sqlite.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore migrates the schema on db and returns the store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{s}, nil
}
