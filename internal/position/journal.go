// Package position tracks open positions, detects exits on the private
// stream, and turns them into journaled trade results.
package position

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jwdevries/snipebot/internal/domain"
)

// Journal persists the completed-trade history as one JSON document. It is
// loaded once at startup and rewritten whole on every exit; trade frequency
// is far too low for that to matter, and the file stays hand-inspectable.
type Journal struct {
	path   string
	logger *slog.Logger

	// mu serializes rewrites; concurrent exits must not interleave renames.
	mu sync.Mutex
}

func NewJournal(path string, logger *slog.Logger) *Journal {
	return &Journal{
		path:   path,
		logger: logger.With(slog.String("component", "journal")),
	}
}

// Load reads the journal. A missing file is an empty history. A corrupt file
// is logged and treated as empty rather than blocking startup; the next
// rewrite replaces it.
func (j *Journal) Load() ([]domain.TradeResult, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: read %s: %w", j.path, err)
	}

	var trades []domain.TradeResult
	if err := json.Unmarshal(data, &trades); err != nil {
		j.logger.Warn("journal unreadable, starting empty",
			slog.String("path", j.path),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return trades, nil
}

// Rewrite replaces the journal with the given history. The write goes to a
// temp file first and lands via rename, so a crash mid-write never leaves a
// torn journal behind.
func (j *Journal) Rewrite(trades []domain.TradeResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("journal: create dir %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("journal: rename %s: %w", j.path, err)
	}
	return nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}
