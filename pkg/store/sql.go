package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name          string
	schema        []string
	insertEntry   string
	selectEntries string
	selectGenesis string
	insertGenesis string
}

// sqlStore implements Store over database/sql. Timestamps are stored as
// unix nanoseconds because the entry hash commits to nanosecond precision.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s store: migrate: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) Persist(ctx context.Context, e *auditlog.Entry) error {
	_, err := s.db.ExecContext(ctx, s.d.insertEntry,
		int64(e.Sequence),
		e.EntryID,
		string(e.Kind),
		e.Actor,
		e.Timestamp.UnixNano(),
		string(e.Payload),
		e.PayloadHash,
		e.PreviousHash,
		e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("%s store: insert entry %d: %w", s.d.name, e.Sequence, err)
	}
	return nil
}

func (s *sqlStore) Load(ctx context.Context) ([]*auditlog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.d.selectEntries)
	if err != nil {
		return nil, fmt.Errorf("%s store: query entries: %w", s.d.name, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*auditlog.Entry
	for rows.Next() {
		var (
			e       auditlog.Entry
			seq     int64
			kind    string
			ts      int64
			payload string
		)
		if err := rows.Scan(&seq, &e.EntryID, &kind, &e.Actor, &ts, &payload,
			&e.PayloadHash, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("%s store: scan entry: %w", s.d.name, err)
		}
		e.Sequence = uint64(seq)
		e.Kind = auditlog.Kind(kind)
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Payload = []byte(payload)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s store: %w", s.d.name, err)
	}
	return entries, nil
}

func (s *sqlStore) EnsureGenesis(ctx context.Context, g auditlog.Genesis) (auditlog.Genesis, error) {
	var (
		stored  auditlog.Genesis
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.d.selectGenesis).
		Scan(&stored.Owner, &stored.Oracle, &stored.TimelockSeconds, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if g.CreatedAt.IsZero() {
			g.CreatedAt = time.Now().UTC()
		}
		if _, err := s.db.ExecContext(ctx, s.d.insertGenesis,
			g.Owner, g.Oracle, g.TimelockSeconds, g.CreatedAt.UnixNano()); err != nil {
			return auditlog.Genesis{}, fmt.Errorf("%s store: insert genesis: %w", s.d.name, err)
		}
		return g, nil
	case err != nil:
		return auditlog.Genesis{}, fmt.Errorf("%s store: query genesis: %w", s.d.name, err)
	}

	stored.CreatedAt = time.Unix(0, created).UTC()
	if !stored.Matches(g) {
		return stored, mismatch(stored, g)
	}
	return stored, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
