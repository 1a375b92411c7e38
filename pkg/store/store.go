// Package store provides durable sinks for the governance audit trail.
//
// Every store persists entries before the state machine commits a
// transition and returns them, in order, when the daemon restarts. Stores
// also pin the genesis configuration so a restart under different role
// holders is refused instead of replaying history against the wrong roles.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// Store is a durable audit sink.
type Store interface {
	auditlog.Sink
	auditlog.Loader
	// EnsureGenesis records g on first use. Afterwards it returns the
	// persisted genesis, or auditlog.ErrGenesisMismatch if g differs.
	EnsureGenesis(ctx context.Context, g auditlog.Genesis) (auditlog.Genesis, error)
	Close() error
}

// Open constructs a store for driver. dsn is ignored by the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverMemory:
		return NewMemoryStore(), nil

	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite store: dsn is required")
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		// Writes are serialized by the state machine; one connection avoids
		// SQLITE_BUSY between the writer and readers.
		db.SetMaxOpenConns(1)
		s, err := NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil

	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres store: ping: %w", err)
		}
		s, err := NewPostgresStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}

// OpenLog opens an audit log that persists to and is restored from st.
func OpenLog(ctx context.Context, st Store) (*auditlog.Log, error) {
	return auditlog.Open(ctx, st, st)
}
