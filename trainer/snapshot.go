package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotTimeFormat is the UTC timestamp layout of snapshot file names.
const SnapshotTimeFormat = "2006-01-02_15-04-05"

// SnapshotFileName returns "<name>_<UTC timestamp>".
func SnapshotFileName(name string, at time.Time) string {
	return name + "_" + at.UTC().Format(SnapshotTimeFormat)
}

// writeSnapshot serializes the whole model into the snapshot directory.
// Snapshots are never rotated.
func (t *Trainer) writeSnapshot() (string, error) {
	path := filepath.Join(t.config.SnapshotPath, SnapshotFileName(t.config.SnapshotName, t.now()))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := t.model.Save(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
