package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// FileBackend stores records on the local file system, one JSON file per
// user per record kind under the base directory.
type FileBackend struct {
	baseDir string
	log     *slog.Logger
}

// NewFileBackend creates a file backend rooted at baseDir, creating the
// per-kind subdirectories if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, kind := range []RecordKind{ShareRecordKind, VaultRecordKind} {
		if err := os.MkdirAll(filepath.Join(baseDir, kind.String()), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", kind, err)
		}
	}
	return &FileBackend{baseDir: baseDir, log: log}, nil
}

func (b *FileBackend) path(user interfaces.UserID, kind RecordKind) string {
	return filepath.Join(b.baseDir, kind.String(), user.String()+".json")
}

// Fetch reads the record file. Returns interfaces.ErrShareNotFound if it
// does not exist.
func (b *FileBackend) Fetch(_ context.Context, user interfaces.UserID, kind RecordKind) ([]byte, error) {
	path := b.path(user, kind)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	b.log.Debug("Fetched record from file", slog.String("path", path), slog.Int("size", len(data)))
	return data, nil
}

// Store writes the record file with owner-only permissions. The write
// goes through a temp file and rename so readers never observe a partial
// record.
func (b *FileBackend) Store(_ context.Context, user interfaces.UserID, kind RecordKind, data []byte) error {
	path := b.path(user, kind)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize record file: %w", err)
	}
	b.log.Debug("Stored record in file", slog.String("path", path))
	return nil
}

// Name identifies the backend in logs.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}
