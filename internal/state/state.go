// Package state persists ledger snapshots on disk between node restarts.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// File is a snapshot file. Writes go to a temporary sibling first and are
// renamed into place, so a crash never leaves a truncated snapshot.
type File struct {
	path string
	log  logrus.FieldLogger
}

// NewFile returns a store for path. A nil logger uses the standard logger.
func NewFile(path string, log logrus.FieldLogger) (*File, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &File{path: path, log: log.WithField("stateFile", path)}, nil
}

func (f *File) Path() string { return f.path }

// Load returns the stored snapshot. A missing file is reported with
// exists=false and no error.
func (f *File) Load() (data []byte, exists bool, err error) {
	data, err = os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.log.Info("No state file, starting from an empty ledger")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("state file %s is empty", f.path)
	}
	return data, true, nil
}

// Save atomically replaces the stored snapshot with data.
func (f *File) Save(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	f.log.WithFields(logrus.Fields{
		"bytes": len(data),
		"at":    time.Now().UTC().Format(time.RFC3339),
	}).Debug("Snapshot saved")
	return nil
}
