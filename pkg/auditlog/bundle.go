package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyBundle = errors.New("no entries match filter")

// Genesis fixes the initial role holders a log was created with. Replay
// starts from it, so a store refuses to reopen under a different genesis.
type Genesis struct {
	Owner           string    `json:"owner"`
	Oracle          string    `json:"oracle"`
	TimelockSeconds int64     `json:"timelock_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// Matches compares the role-bearing fields, ignoring CreatedAt.
func (g Genesis) Matches(other Genesis) bool {
	return g.Owner == other.Owner &&
		g.Oracle == other.Oracle &&
		g.TimelockSeconds == other.TimelockSeconds
}

// Bundle is an exportable, self-verifying range of the audit trail.
type Bundle struct {
	BundleID   string    `json:"bundle_id"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Genesis    *Genesis  `json:"genesis,omitempty"`
	StartSeq   uint64    `json:"start_sequence"`
	EndSeq     uint64    `json:"end_sequence"`
	EntryCount int       `json:"entry_count"`
	Entries    []*Entry  `json:"entries"`
	ChainHead  string    `json:"chain_head"`
	BundleHash string    `json:"bundle_hash"`
}

// ExportBundle packages the entries selected by filter.
func (l *Log) ExportBundle(filter Filter, genesis *Genesis) (*Bundle, error) {
	entries := l.Query(filter)
	if len(entries) == 0 {
		return nil, ErrEmptyBundle
	}

	bundle := &Bundle{
		BundleID:   uuid.New().String(),
		Version:    "1.0.0",
		CreatedAt:  time.Now().UTC(),
		Genesis:    genesis,
		StartSeq:   entries[0].Sequence,
		EndSeq:     entries[len(entries)-1].Sequence,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  entries[len(entries)-1].EntryHash,
	}
	hash, err := bundleHash(bundle)
	if err != nil {
		return nil, err
	}
	bundle.BundleHash = hash
	return bundle, nil
}

// VerifyBundle checks the bundle hash, which covers the genesis and the
// entries, and every payload and link inside it. A bundle that starts at
// sequence 1 is verified against the genesis marker too.
func VerifyBundle(b *Bundle) error {
	if b == nil || len(b.Entries) == 0 {
		return ErrEmptyBundle
	}
	hash, err := bundleHash(b)
	if err != nil {
		return err
	}
	if hash != b.BundleHash {
		return fmt.Errorf("%w: bundle hash mismatch", ErrChainBroken)
	}
	if b.EntryCount != len(b.Entries) {
		return fmt.Errorf("%w: entry_count %d but %d entries", ErrChainBroken, b.EntryCount, len(b.Entries))
	}

	for i, e := range b.Entries {
		if i > 0 {
			prev := b.Entries[i-1]
			if e.Sequence != prev.Sequence+1 {
				return fmt.Errorf("%w: %d follows %d", ErrSequenceGap, e.Sequence, prev.Sequence)
			}
			if e.PreviousHash != prev.EntryHash {
				return fmt.Errorf("%w: link broken at sequence %d", ErrChainBroken, e.Sequence)
			}
		} else if e.Sequence == 1 && e.PreviousHash != genesisHash {
			return fmt.Errorf("%w: first entry does not start from genesis", ErrChainBroken)
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
			return err
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Sequence)
		}
	}
	if b.ChainHead != b.Entries[len(b.Entries)-1].EntryHash {
		return fmt.Errorf("%w: chain head mismatch", ErrChainBroken)
	}
	return nil
}

func bundleHash(b *Bundle) (string, error) {
	data, err := json.Marshal(struct {
		Genesis *Genesis `json:"genesis"`
		Entries []*Entry `json:"entries"`
	}{b.Genesis, b.Entries})
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}
	return canonicalHash(data)
}
