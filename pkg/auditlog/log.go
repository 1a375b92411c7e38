// Package auditlog implements the append-only, hash-chained record of every
// accepted governance transition.
//
// Entries are numbered from 1 with no gaps. Each entry commits to its
// predecessor through PreviousHash, so an exported range can be verified
// independently of the process that produced it.
package auditlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

const genesisHash = "genesis"

var (
	ErrChainBroken     = errors.New("hash chain is broken")
	ErrSequenceGap     = errors.New("audit sequence is not contiguous")
	ErrInvalidKind     = errors.New("invalid event kind")
	ErrGenesisMismatch = errors.New("persisted genesis does not match configuration")
)

// Kind identifies the transition an entry records.
type Kind string

const (
	KindActivated             Kind = "ACTIVATED"
	KindDeactivationRequested Kind = "DEACTIVATION_REQUESTED"
	KindDeactivationFinalized Kind = "DEACTIVATION_FINALIZED"
	KindDeactivationCancelled Kind = "DEACTIVATION_CANCELLED"
	KindOracleUpdated         Kind = "ORACLE_UPDATED"
)

func (k Kind) Valid() bool {
	switch k {
	case KindActivated, KindDeactivationRequested, KindDeactivationFinalized,
		KindDeactivationCancelled, KindOracleUpdated:
		return true
	}
	return false
}

// Entry is a single immutable audit record.
type Entry struct {
	Sequence     uint64          `json:"sequence"`
	EntryID      string          `json:"entry_id"`
	Kind         Kind            `json:"kind"`
	Actor        string          `json:"actor"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Record is what a caller hands to Append. Timestamp is supplied by the
// caller so that the entry carries the same "now" used for validation.
type Record struct {
	Kind      Kind
	Actor     string
	Timestamp time.Time
	Payload   any
}

// Sink persists an entry before it becomes visible. A Sink error aborts the
// append.
type Sink interface {
	Persist(ctx context.Context, e *Entry) error
}

// Loader returns previously persisted entries in sequence order.
type Loader interface {
	Load(ctx context.Context) ([]*Entry, error)
}

// Log is the in-memory view of the audit trail.
type Log struct {
	mu        sync.RWMutex
	entries   []*Entry
	sequence  uint64
	chainHead string
	sink      Sink
	subs      map[*Subscription]struct{}
	logger    *slog.Logger
}

// New creates an empty log. A nil sink keeps entries in memory only.
func New(sink Sink) *Log {
	return &Log{
		entries:   make([]*Entry, 0),
		chainHead: genesisHash,
		sink:      sink,
		subs:      make(map[*Subscription]struct{}),
		logger:    slog.Default().With("component", "auditlog"),
	}
}

// Open creates a log backed by sink and preloaded from loader. The loaded
// chain is verified before it is accepted.
func Open(ctx context.Context, sink Sink, loader Loader) (*Log, error) {
	l := New(sink)
	if loader == nil {
		return l, nil
	}
	entries, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	if err := verifyEntries(entries); err != nil {
		return nil, err
	}
	l.entries = append(l.entries, entries...)
	if n := len(entries); n > 0 {
		l.sequence = entries[n-1].Sequence
		l.chainHead = entries[n-1].EntryHash
	}
	return l, nil
}

// Append assigns the next sequence number, persists the entry and publishes
// it to subscribers.
func (l *Log) Append(ctx context.Context, rec Record) (*Entry, error) {
	if !rec.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, rec.Kind)
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}
	payloadHash, err := canonicalHash(payload)
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &Entry{
		Sequence:     l.sequence + 1,
		EntryID:      uuid.New().String(),
		Kind:         rec.Kind,
		Actor:        rec.Actor,
		Timestamp:    rec.Timestamp.UTC(),
		Payload:      payload,
		PayloadHash:  payloadHash,
		PreviousHash: l.chainHead,
	}
	entry.EntryHash, err = computeEntryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("hash entry: %w", err)
	}

	if l.sink != nil {
		if err := l.sink.Persist(ctx, entry); err != nil {
			return nil, fmt.Errorf("persist audit entry %d: %w", entry.Sequence, err)
		}
	}

	l.sequence = entry.Sequence
	l.chainHead = entry.EntryHash
	l.entries = append(l.entries, entry)
	l.publish(entry)

	return entry, nil
}

// Entries returns a copy of the full trail.
func (l *Log) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Query returns entries matching the filter in insertion order.
func (l *Log) Query(filter Filter) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range l.entries {
		if !filter.matches(e) {
			continue
		}
		results = append(results, e)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}

// Head returns the hash of the last entry, or "genesis" for an empty log.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

// Sequence returns the last assigned sequence number.
func (l *Log) Sequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// VerifyChain recomputes every hash and checks sequence contiguity.
func (l *Log) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEntries(l.entries)
}

// Filter selects entries for Query. Zero fields match everything.
type Filter struct {
	FromSeq uint64
	ToSeq   uint64
	Kind    Kind
	Limit   int
}

func (f Filter) matches(e *Entry) bool {
	if f.FromSeq > 0 && e.Sequence < f.FromSeq {
		return false
	}
	if f.ToSeq > 0 && e.Sequence > f.ToSeq {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}

func verifyEntries(entries []*Entry) error {
	expectedPrev := genesisHash
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: position %d holds sequence %d", ErrSequenceGap, i, e.Sequence)
		}
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, e.Sequence, e.PreviousHash, expectedPrev)
		}
		payloadHash, err := canonicalHash(e.Payload)
		if err != nil {
			return fmt.Errorf("%w: entry %d payload: %w", ErrChainBroken, e.Sequence, err)
		}
		if payloadHash != e.PayloadHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch", ErrChainBroken, e.Sequence)
		}
		computed, err := computeEntryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, e.Sequence, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, e.Sequence, computed, e.EntryHash)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

func computeEntryHash(e *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64 `json:"sequence"`
		Kind         Kind   `json:"kind"`
		Actor        string `json:"actor"`
		Timestamp    int64  `json:"timestamp_unix_nano"`
		PayloadHash  string `json:"payload_hash"`
		PreviousHash string `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		Kind:         e.Kind,
		Actor:        e.Actor,
		Timestamp:    e.Timestamp.UnixNano(),
		PayloadHash:  e.PayloadHash,
		PreviousHash: e.PreviousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", err
	}
	return canonicalHash(data)
}

// canonicalHash hashes the RFC 8785 form of a JSON document so that
// re-encoding by a store does not change the digest.
func canonicalHash(doc []byte) (string, error) {
	canon, err := jcs.Transform(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
