// Package persist saves and restores the counter state as a small JSON file.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/color-tally/backend/internal/counter"
)

// Snapshot is the on-disk representation of the counters and the cumulative
// session count.
type Snapshot struct {
	TotalUsers uint64 `json:"total_users"`
	Red        uint64 `json:"red"`
	Green      uint64 `json:"green"`
	Blue       uint64 `json:"blue"`
	Purple     uint64 `json:"purple"`
	Total      uint64 `json:"total"`
}

// Capture reads the live state into a Snapshot. Fields are read one by one,
// so a save racing an increment may be off by the in-flight vote.
func Capture(store *counter.Store, presence *counter.Presence) Snapshot {
	c := store.Snapshot()
	return Snapshot{
		TotalUsers: presence.Total(),
		Red:        c.Red,
		Green:      c.Green,
		Blue:       c.Blue,
		Purple:     c.Purple,
		Total:      c.Total,
	}
}

// Apply overwrites the live state with the snapshot values.
func (s Snapshot) Apply(store *counter.Store, presence *counter.Presence) {
	store.Restore(counter.Counts{
		Red:    s.Red,
		Green:  s.Green,
		Blue:   s.Blue,
		Purple: s.Purple,
		Total:  s.Total,
	})
	presence.RestoreTotal(s.TotalUsers)
}

// Read parses the snapshot at path. A missing file returns an error wrapping
// os.ErrNotExist.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &snap, nil
}

// Write stores snap at path using a temp-file-then-rename so a crash mid-write
// leaves the previous file intact. The directory is created if needed.
func Write(path string, snap Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	committed = true

	return nil
}

// Load seeds store and presence from the snapshot at path. Any failure is
// logged and the zero state is kept; it never stops startup. It reports
// whether a snapshot was applied.
func Load(path string, store *counter.Store, presence *counter.Presence, log zerolog.Logger) bool {
	snap, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("snapshot not found, starting from zero")
		} else {
			log.Error().Err(err).Str("path", path).Msg("snapshot unreadable, starting from zero")
		}
		return false
	}

	snap.Apply(store, presence)
	log.Info().
		Str("path", path).
		Uint64("total", snap.Total).
		Uint64("total_users", snap.TotalUsers).
		Msg("snapshot loaded")
	return true
}

// Save captures the live state and writes it to path.
func Save(path string, store *counter.Store, presence *counter.Presence) error {
	return Write(path, Capture(store, presence))
}
