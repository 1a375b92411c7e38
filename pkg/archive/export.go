package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
)

// Receipt identifies an archived bundle.
type Receipt struct {
	Hash       string `json:"hash"`
	BundleID   string `json:"bundle_id"`
	StartSeq   uint64 `json:"start_sequence"`
	EndSeq     uint64 `json:"end_sequence"`
	EntryCount int    `json:"entry_count"`
	ChainHead  string `json:"chain_head"`
}

// Export packages a contiguous range of log into a bundle, verifies it and
// writes it to store. Kind filtering is ignored because a bundle must be
// contiguous to verify.
func Export(ctx context.Context, log *auditlog.Log, genesis *auditlog.Genesis, store Store, filter auditlog.Filter) (*Receipt, error) {
	filter.Kind = ""
	bundle, err := log.ExportBundle(filter, genesis)
	if err != nil {
		return nil, fmt.Errorf("export bundle: %w", err)
	}
	if err := auditlog.VerifyBundle(bundle); err != nil {
		return nil, fmt.Errorf("refusing to archive unverifiable bundle: %w", err)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	hash, err := store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("archive bundle: %w", err)
	}

	return &Receipt{
		Hash:       hash,
		BundleID:   bundle.BundleID,
		StartSeq:   bundle.StartSeq,
		EndSeq:     bundle.EndSeq,
		EntryCount: bundle.EntryCount,
		ChainHead:  bundle.ChainHead,
	}, nil
}

// Fetch reads a bundle back from store and verifies both its content
// address and the bundle itself.
func Fetch(ctx context.Context, store Store, hash string) (*auditlog.Bundle, error) {
	data, err := store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if got, _ := contentHash(data); got != hash {
		return nil, fmt.Errorf("%w: %s holds %s", ErrContentMismatch, hash, got)
	}
	var b auditlog.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", hash, err)
	}
	if err := auditlog.VerifyBundle(&b); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", hash, err)
	}
	return &b, nil
}
