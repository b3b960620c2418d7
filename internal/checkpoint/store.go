package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spacesedan/sentibatch/internal/models"
)

// ErrCorrupt is returned by Load when the checkpoint file exists but does
// not hold a valid sentiment record. The file is left untouched.
var ErrCorrupt = errors.New("checkpoint is not a valid sentiment record")

// Store persists a SentimentRecord as one indented JSON object.
//
// Saves go through a temporary file in the same directory followed by a
// rename, so a reader never observes a partially written checkpoint.
// Only one process may use a given path at a time; there is no locking.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the saved record, or an empty record and found=false when no
// checkpoint exists yet.
func (s *Store) Load() (rec *models.SentimentRecord, found bool, err error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.NewSentimentRecord(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}

	rec = models.NewSentimentRecord()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, true, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return rec, true, nil
}

// Save replaces the checkpoint with rec.
func (s *Store) Save(rec *models.SentimentRecord) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("[Checkpoint] Failed to remove temp file",
				slog.String("file", tmpName),
				slog.String("error", rmErr.Error()))
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	syncDir(dir)
	return nil
}

// syncDir makes the rename durable on filesystems that need it. Failure is
// not fatal: the new file is already in place.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
