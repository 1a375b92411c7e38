// Package archive stores exported audit bundles in content-addressed blob
// storage so they can be handed to auditors and verified offline.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const hashPrefix = "sha256:"

var (
	ErrNotFound        = errors.New("archive object not found")
	ErrInvalidHash     = errors.New("invalid content hash")
	ErrContentMismatch = errors.New("archive content does not match its hash")
)

// Store is write-once content-addressed storage. Archived audit bundles are
// never deleted or overwritten, so there is no Delete.
type Store interface {
	// Put persists data and returns its "sha256:<hex>" content hash.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// contentHash returns the prefixed hash and the object name for data.
func contentHash(data []byte) (hash, object string) {
	sum := sha256.Sum256(data)
	raw := hex.EncodeToString(sum[:])
	return hashPrefix + raw, raw + ".json"
}

// objectName validates hash and maps it to the stored object name.
func objectName(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, hashPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return raw + ".json", nil
}

// FileStore keeps bundles as files under a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	//nolint:gosec // G301: archive directory is shared with auditors
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	hash, name := contentHash(data)
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create archive temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit archive: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	name, err := objectName(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name)) //nolint:gosec // name is validated hex
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", hash, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	name, err := objectName(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.dir, name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, fmt.Errorf("stat archive %s: %w", hash, err)
}
